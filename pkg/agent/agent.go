// Package agent implements the orchestrator: the turn loop that pulls user
// input off the message queue, streams model rounds, extracts and dispatches
// tool calls, splices results, and seals turns. It also owns the context
// compressor, token estimation, the system prompt, and runtime config.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/writeflow-dev/writeflow/pkg/ai"
	"github.com/writeflow-dev/writeflow/pkg/ai/models"
	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/queue"
	"github.com/writeflow-dev/writeflow/pkg/session"
	"github.com/writeflow-dev/writeflow/pkg/stream"
	"github.com/writeflow-dev/writeflow/pkg/todo"
	"github.com/writeflow-dev/writeflow/pkg/tools"
	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

// Queue priorities. Higher drains earlier.
const (
	PriorityNormal     = 0
	PriorityUser       = 5
	PriorityPermission = 8
	PriorityCancel     = 10
)

// PermissionReply is the tagged user_input payload answering a permission
// prompt for the named tool.
type PermissionReply struct {
	Tool   string
	Choice tools.Choice
}

// PermissionRequest is the system-event detail emitted when a tool call
// needs user confirmation.
type PermissionRequest struct {
	Tool   string
	Input  map[string]any
	Reason string
}

// Options configures a Runtime.
type Options struct {
	Config   *Config
	Provider ai.Provider
	Logger   *slog.Logger

	// Session is optional; with one, turns and compressions persist.
	Session *session.Session
	// Todos is optional; with one, TodoWrite is registered and the task
	// list feeds the system prompt.
	Todos *todo.Store
	// Registry is optional; without one, the writing preset is registered.
	Registry *tools.Registry
	// CWD is the working directory for file tools and the prompt.
	CWD string
}

// Runtime wires the queue, pipeline, registry, gate, dispatcher, plan
// controller, compressor, and session into one agent. Exactly one goroutine
// runs Run; producers feed it through Submit, Cancel, AnswerPermission, and
// ResolvePlan.
type Runtime struct {
	cfg      *Config
	logger   *slog.Logger
	provider ai.Provider
	cwd      string

	queue *queue.Queue
	pipe  *stream.Pipeline
	reg   *tools.Registry
	gate  *tools.Gate
	disp  *tools.Dispatcher
	plans *plan.Controller
	comp  *Compressor
	est   *Estimator
	sess  *session.Session
	todos *todo.Store

	mu       sync.Mutex
	messages []ai.Message
	entryIDs []string // transcript entry per message; "" when not persisted
	steering []string // user text stashed while a prompt is pending
	turnSeq  int

	cancelMu   sync.Mutex
	cancelTurn context.CancelFunc
}

// New builds a runtime. Config and Provider are required.
func New(opts Options) (*Runtime, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("agent: config is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rt := &Runtime{
		cfg:      opts.Config,
		logger:   logger,
		provider: opts.Provider,
		cwd:      opts.CWD,
		sess:     opts.Session,
		todos:    opts.Todos,
	}

	rt.queue = queue.New(queue.WithCapacity(opts.Config.Queue.Capacity, opts.Config.Queue.HighWater))
	rt.pipe = stream.New(0)
	rt.gate = tools.NewGate(opts.Config.ModePolicies())
	rt.plans = plan.NewController(rt.gate.ClearNonPermanent)

	rt.reg = opts.Registry
	if rt.reg == nil {
		rt.reg = tools.NewRegistry()
		builtin.Register(rt.reg, builtin.PresetWriting, builtin.Deps{
			Cwd:   opts.CWD,
			Todos: opts.Todos,
			Plans: rt.plans,
		})
	}

	rt.disp = tools.NewDispatcher(rt.reg, rt.gate,
		tools.WithPoolSize(opts.Config.Dispatcher.PoolSize),
		tools.WithConfirm(rt.confirmTool),
		tools.WithLogger(logger),
	)

	mainModel := opts.Config.Models.Main
	rt.est = NewEstimator(mainModel)

	window := opts.Config.ContextWindow
	if window == 0 {
		window = models.ContextWindowFor(mainModel)
	}
	rt.comp = NewCompressor(
		CompressorConfig{
			Trigger:       opts.Config.Compression.Trigger,
			Target:        opts.Config.Compression.Target,
			KeepTurns:     opts.Config.Compression.KeepTurns,
			ContextWindow: window,
		},
		opts.Provider,
		opts.Config.Models.ForRole("quick"),
		rt.streamOpts(),
		rt.est,
		logger,
	)

	if rt.sess != nil {
		if err := rt.restoreSession(); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// restoreSession loads prior messages and the persisted state blob.
func (rt *Runtime) restoreSession() error {
	msgs, err := rt.sess.Messages()
	if err != nil {
		return fmt.Errorf("agent: restore session: %w", err)
	}
	rt.messages = msgs
	rt.entryIDs = make([]string, len(msgs))

	st, err := session.LoadState(sessionDir(rt.sess), rt.sess.ID())
	if err != nil {
		rt.logger.Warn("session state unreadable", "error", err)
		return nil
	}
	rt.gate.LoadPermanentGrants(st.PermanentGrants)
	return nil
}

func sessionDir(s *session.Session) string {
	return filepath.Dir(s.FilePath())
}

// Events is the UI-facing event stream.
func (rt *Runtime) Events() <-chan stream.Event { return rt.pipe.Events() }

// Submit enqueues user text. Returns false when the queue rejects it.
func (rt *Runtime) Submit(text string) bool {
	return rt.queue.Enqueue(queue.NewMessage(queue.TypeUserInput, text, PriorityUser, "user"))
}

// AnswerPermission enqueues the user's answer to a pending permission
// prompt.
func (rt *Runtime) AnswerPermission(tool string, choice tools.Choice) bool {
	return rt.queue.Enqueue(queue.NewMessage(
		queue.TypeUserInput, PermissionReply{Tool: tool, Choice: choice}, PriorityPermission, "user"))
}

// Cancel aborts the active turn. A cancel with no active turn is a no-op.
func (rt *Runtime) Cancel() {
	rt.queue.Enqueue(queue.NewMessage(queue.TypeCancel, nil, PriorityCancel, "user"))
	rt.cancelActive()
}

func (rt *Runtime) cancelActive() {
	rt.cancelMu.Lock()
	cancel := rt.cancelTurn
	rt.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (rt *Runtime) setCancel(cancel context.CancelFunc) {
	rt.cancelMu.Lock()
	rt.cancelTurn = cancel
	rt.cancelMu.Unlock()
}

// Busy reports whether a turn is currently running.
func (rt *Runtime) Busy() bool {
	rt.cancelMu.Lock()
	defer rt.cancelMu.Unlock()
	return rt.cancelTurn != nil
}

// TogglePlanMode flips into plan mode (leaving requires a confirmed plan or
// Reset). Reports whether the mode changed.
func (rt *Runtime) TogglePlanMode() bool {
	if !rt.plans.Toggle() {
		return false
	}
	rt.gate.ModeChanged(plan.ModePlan)
	rt.pipe.System("entered plan mode", nil)
	return true
}

// Mode returns the current operating mode.
func (rt *Runtime) Mode() plan.Mode { return rt.plans.Mode() }

// PendingPlan returns the plan awaiting the user's decision, if any.
func (rt *Runtime) PendingPlan() (string, bool) { return rt.plans.Pending() }

// ResolvePlan applies the user's decision to the pending plan. Acceptance
// with execution seeds the next turn with the plan; rejection keeps plan
// mode and seeds it with the feedback.
func (rt *Runtime) ResolvePlan(d plan.Decision, feedback string) error {
	seed, err := rt.plans.Resolve(d, feedback)
	if err != nil {
		return err
	}
	rt.gate.ModeChanged(rt.plans.Mode())
	switch d {
	case plan.AcceptAndExecute:
		rt.pipe.System("plan accepted, executing", nil)
		rt.Submit("Proceed with the accepted plan:\n\n" + seed)
	case plan.AcceptPlanOnly:
		rt.pipe.System("plan accepted", nil)
	case plan.Reject:
		rt.pipe.System("plan rejected", nil)
		if seed != "" {
			rt.Submit("The plan was rejected with this feedback:\n\n" + seed)
		}
	}
	rt.persistState()
	return nil
}

// Run consumes the queue until ctx is done or the queue closes. It is the
// single queue consumer.
func (rt *Runtime) Run(ctx context.Context) error {
	defer rt.pipe.Close()
	for {
		msg, ok := rt.queue.Next(ctx.Done())
		if !ok {
			return ctx.Err()
		}
		switch msg.Type {
		case queue.TypeUserInput:
			switch p := msg.Payload.(type) {
			case string:
				rt.runTurn(ctx, p)
			case PermissionReply:
				// A reply with no prompt pending is stale; drop it.
			}
		case queue.TypeCancel:
			// No active turn; nothing to abort.
		case queue.TypeSystem:
			if s, ok := msg.Payload.(string); ok {
				rt.pipe.System(s, nil)
			}
		}
	}
}

// Close shuts the intake down and flushes the pipeline.
func (rt *Runtime) Close() {
	rt.persistState()
	rt.queue.Close()
	rt.pipe.Close()
	if rt.sess != nil {
		rt.sess.Close()
	}
}

// Messages returns a snapshot of the live conversation.
func (rt *Runtime) Messages() []ai.Message {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]ai.Message, len(rt.messages))
	copy(out, rt.messages)
	return out
}

// QueueMetrics returns a snapshot of queue health.
func (rt *Runtime) QueueMetrics() queue.Metrics { return rt.queue.Metrics() }

// CompressorMetrics returns a snapshot of compressor state.
func (rt *Runtime) CompressorMetrics() CompressorMetrics { return rt.comp.Metrics() }

// GateStats returns per-tool usage and grant counts.
func (rt *Runtime) GateStats() tools.GateStats { return rt.gate.Stats() }

// KillBackground stops a detached background call by its handle.
func (rt *Runtime) KillBackground(handle string) bool { return rt.disp.Kill(handle) }

// appendMessage records a message in the live conversation and, when a
// session is open, the transcript.
func (rt *Runtime) appendMessage(msg ai.Message) {
	entryID := ""
	if rt.sess != nil {
		id, err := rt.sess.AppendMessage(msg)
		if err != nil {
			rt.logger.Warn("transcript append failed", "error", err)
		} else {
			entryID = id
		}
	}
	rt.mu.Lock()
	rt.messages = append(rt.messages, msg)
	rt.entryIDs = append(rt.entryIDs, entryID)
	rt.mu.Unlock()
}

// persistState writes the cross-turn state blob.
func (rt *Runtime) persistState() {
	if rt.sess == nil {
		return
	}
	st := session.State{
		PermanentGrants: rt.gate.PermanentGrants(),
		Model:           rt.cfg.Models.Main,
	}
	for _, rec := range rt.plans.History() {
		st.PlanHistory = append(st.PlanHistory, rec.Plan)
	}
	if err := session.SaveState(sessionDir(rt.sess), rt.sess.ID(), st); err != nil {
		rt.logger.Warn("state save failed", "error", err)
	}
}

func (rt *Runtime) streamOpts() ai.StreamOptions {
	return ai.StreamOptions{
		APIKey:        rt.cfg.APIKey,
		BaseURL:       rt.cfg.BaseURL,
		MaxTokens:     rt.cfg.MaxTokens,
		Temperature:   rt.cfg.Temperature,
		ThinkingLevel: rt.cfg.ThinkingLevel,
	}
}

// confirmTool is the dispatcher's permission-prompt callback. It surfaces a
// system event and parks on the queue until the tagged reply arrives. Plain
// user text arriving meanwhile is stashed as steering for the current turn.
func (rt *Runtime) confirmTool(ctx context.Context, meta tools.Meta, input map[string]any, reason string) (tools.Choice, error) {
	rt.pipe.System("permission required: "+meta.Name,
		PermissionRequest{Tool: meta.Name, Input: input, Reason: reason})

	for {
		msg, ok := rt.queue.Next(ctx.Done())
		if !ok {
			return tools.ChoiceDeny, ctx.Err()
		}
		switch msg.Type {
		case queue.TypeUserInput:
			switch p := msg.Payload.(type) {
			case PermissionReply:
				if p.Tool == meta.Name {
					return p.Choice, nil
				}
			case string:
				rt.mu.Lock()
				rt.steering = append(rt.steering, p)
				rt.mu.Unlock()
			}
		case queue.TypeCancel:
			rt.cancelActive()
			return tools.ChoiceDeny, context.Canceled
		}
	}
}

// drainSteering empties the stash plus any queued user text, without
// blocking. Cancels encountered here abort the turn.
func (rt *Runtime) drainSteering() []string {
	rt.mu.Lock()
	out := rt.steering
	rt.steering = nil
	rt.mu.Unlock()

	for {
		msg, ok := rt.queue.TryNext()
		if !ok {
			return out
		}
		switch msg.Type {
		case queue.TypeUserInput:
			if s, ok := msg.Payload.(string); ok {
				out = append(out, s)
			}
		case queue.TypeCancel:
			rt.cancelActive()
			return out
		}
	}
}

func (rt *Runtime) nextTurnID() string {
	rt.mu.Lock()
	rt.turnSeq++
	n := rt.turnSeq
	rt.mu.Unlock()
	return fmt.Sprintf("turn-%03d", n)
}

func userMessage(text string) ai.UserMessage {
	return ai.UserMessage{
		Role:      ai.RoleUser,
		Content:   []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
		Timestamp: time.Now().UnixMilli(),
	}
}
