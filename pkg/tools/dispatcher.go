// The concurrency-aware tool dispatcher.
//
// Every dispatched call produces a bounded stream of lifecycle events with
// exactly one terminal (result or error). Validation and permission failures
// never invoke the tool; tool panics never escape the dispatcher.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/writeflow-dev/writeflow/pkg/plan"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	ErrValidation       ErrorKind = "validation"
	ErrPermissionDenied ErrorKind = "permission_denied"
	ErrTimeout          ErrorKind = "timeout"
	ErrCancelled        ErrorKind = "cancelled"
	ErrInternal         ErrorKind = "internal"
)

// CallError is the error terminal of a call.
type CallError struct {
	Kind    ErrorKind
	Message string
}

func (e *CallError) Error() string { return string(e.Kind) + ": " + e.Message }

// EventKind identifies a call lifecycle event.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
)

// CallEvent is one element of a call's lifecycle stream.
type CallEvent struct {
	Kind   EventKind
	CallID string
	Tool   string

	// Set on progress events.
	Progress Progress

	// Set on the result terminal.
	Result     Result
	ResultText string // rendered for splicing into the conversation

	// Set on the error terminal.
	Err *CallError

	// Set on started for background calls.
	Handle string
}

// Call is one tool invocation request.
type Call struct {
	CallID  string
	Tool    string
	Input   map[string]any
	Timeout time.Duration // 0 = default
	// Background runs the call detached: started carries a handle, the
	// stream keeps emitting progress until the call ends or Kill is called.
	Background bool
}

// ExecState carries the per-turn execution context the gate needs.
type ExecState struct {
	Mode     plan.Mode
	SafeMode bool
	Verbose  bool
}

// ConfirmFn asks the user to resolve a permission prompt. The orchestrator
// supplies one that surfaces a system event and waits for the tagged reply.
type ConfirmFn func(ctx context.Context, meta Meta, input map[string]any, reason string) (Choice, error)

const (
	// DefaultPoolSize bounds concurrently executing calls.
	DefaultPoolSize = 10
	// DefaultCallTimeout applies when Call.Timeout is zero.
	DefaultCallTimeout = 120 * time.Second
	// MaxCallTimeout caps per-call overrides.
	MaxCallTimeout = 600 * time.Second
	// killGrace is how long a timed-out or cancelled tool gets to return
	// after its context is tripped before the terminal is emitted anyway.
	killGrace = 5 * time.Second
)

// Dispatcher executes tool calls against a registry under the permission
// gate's verdicts.
type Dispatcher struct {
	registry *Registry
	gate     *Gate
	confirm  ConfirmFn
	logger   *slog.Logger

	sem chan struct{} // worker-pool admission

	lockMu    sync.Mutex
	nameLocks map[string]*sync.Mutex
	pathLocks map[string]*sync.Mutex

	bgMu sync.Mutex
	bg   map[string]context.CancelFunc
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPoolSize overrides the worker-pool size.
func WithPoolSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithConfirm installs the permission-prompt callback. Without one, prompts
// resolve to deny.
func WithConfirm(fn ConfirmFn) DispatcherOption {
	return func(d *Dispatcher) { d.confirm = fn }
}

// WithLogger installs a logger. Default discards.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher builds a dispatcher over the given registry and gate.
func NewDispatcher(reg *Registry, gate *Gate, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		gate:      gate,
		logger:    slog.New(slog.DiscardHandler),
		sem:       make(chan struct{}, DefaultPoolSize),
		nameLocks: make(map[string]*sync.Mutex),
		pathLocks: make(map[string]*sync.Mutex),
		bg:        make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch runs one call. The returned channel yields started, zero or more
// progress events, and exactly one terminal, then closes. ctx is the turn's
// cancellation handle; tripping it cancels the call cooperatively.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, st ExecState) <-chan CallEvent {
	events := make(chan CallEvent, 16)
	go d.run(ctx, call, st, events)
	return events
}

func (d *Dispatcher) run(ctx context.Context, call Call, st ExecState, events chan<- CallEvent) {
	defer close(events)

	terminalErr := func(kind ErrorKind, msg string) {
		events <- CallEvent{
			Kind: EventError, CallID: call.CallID, Tool: call.Tool,
			Err: &CallError{Kind: kind, Message: msg},
		}
	}

	tool := d.registry.Get(call.Tool)
	if tool == nil {
		events <- CallEvent{Kind: EventStarted, CallID: call.CallID, Tool: call.Tool}
		terminalErr(ErrValidation, fmt.Sprintf("unknown tool %q", call.Tool))
		return
	}
	meta := tool.Meta()

	started := CallEvent{Kind: EventStarted, CallID: call.CallID, Tool: call.Tool}
	var bgCancel context.CancelFunc
	if call.Background {
		handle := uuid.NewString()[:8]
		started.Handle = handle
		var bgCtx context.Context
		bgCtx, bgCancel = context.WithCancel(ctx)
		ctx = bgCtx
		d.bgMu.Lock()
		d.bg[handle] = bgCancel
		d.bgMu.Unlock()
		defer func() {
			d.bgMu.Lock()
			delete(d.bg, handle)
			d.bgMu.Unlock()
		}()
	}
	events <- started

	params, err := ValidateAndCoerce(meta, call.Input)
	if err != nil {
		terminalErr(ErrValidation, err.Error())
		return
	}

	if dec := d.checkPermission(ctx, meta, params, st); dec.Verdict != VerdictAllow {
		terminalErr(ErrPermissionDenied, dec.Reason)
		return
	}

	// Worker-pool admission.
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		terminalErr(ErrCancelled, "cancelled while waiting for a worker slot")
		return
	}

	// Serialization: non-concurrency-safe tools serialize by name; writes
	// serialize by path key.
	if !meta.ConcurrencySafe {
		mu := d.lock(d.nameLocks, meta.Name)
		mu.Lock()
		defer mu.Unlock()
	}
	if key := pathKey(meta, params); key != "" {
		mu := d.lock(d.pathLocks, key)
		mu.Lock()
		defer mu.Unlock()
	}

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if timeout > MaxCallTimeout {
		timeout = MaxCallTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	onUpdate := func(p Progress) {
		select {
		case events <- CallEvent{Kind: EventProgress, CallID: call.CallID, Tool: call.Tool, Progress: p}:
		default:
			// Progress is loss-tolerant; never block a running tool on a
			// slow consumer.
		}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panic: %v", r)}
			}
		}()
		res, err := tool.Execute(execCtx, call.CallID, params, onUpdate)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-execCtx.Done():
		// Cooperative stop first; force the terminal after the grace period.
		select {
		case out = <-done:
		case <-time.After(killGrace):
			d.logger.Warn("tool did not stop within grace period", "tool", call.Tool, "call_id", call.CallID)
			if ctx.Err() != nil {
				terminalErr(ErrCancelled, "cancelled")
			} else {
				terminalErr(ErrTimeout, fmt.Sprintf("tool %q exceeded %s", call.Tool, timeout))
			}
			return
		}
	}

	if out.err != nil {
		switch {
		case ctx.Err() != nil:
			terminalErr(ErrCancelled, "cancelled")
		case execCtx.Err() == context.DeadlineExceeded:
			terminalErr(ErrTimeout, fmt.Sprintf("tool %q exceeded %s", call.Tool, timeout))
		default:
			terminalErr(ErrInternal, out.err.Error())
		}
		return
	}

	d.gate.RecordUse(meta.Name)
	events <- CallEvent{
		Kind: EventResult, CallID: call.CallID, Tool: call.Tool,
		Result: out.result, ResultText: out.result.Text(),
	}
}

// checkPermission runs the gate, surfacing at most one prompt to the user.
func (d *Dispatcher) checkPermission(ctx context.Context, meta Meta, input map[string]any, st ExecState) Decision {
	dec := d.gate.Check(meta, input, st.Mode, st.SafeMode)
	if dec.Verdict != VerdictPrompt {
		return dec
	}
	if d.confirm == nil {
		return Decision{VerdictDeny, dec.Reason}
	}
	choice, err := d.confirm(ctx, meta, input, dec.Reason)
	if err != nil || choice == ChoiceDeny {
		return Decision{VerdictDeny, "denied by user"}
	}
	d.gate.ApplyChoice(meta.Name, choice)
	return d.gate.Check(meta, input, st.Mode, st.SafeMode)
}

// Kill stops a background call by handle. Returns false for unknown handles.
func (d *Dispatcher) Kill(handle string) bool {
	d.bgMu.Lock()
	cancel, ok := d.bg[handle]
	d.bgMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (d *Dispatcher) lock(m map[string]*sync.Mutex, key string) *sync.Mutex {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	mu, ok := m[key]
	if !ok {
		mu = &sync.Mutex{}
		m[key] = mu
	}
	return mu
}

// pathKey returns the serialization key for tools that write a file path.
// Read-only tools never serialize by path.
func pathKey(meta Meta, params map[string]any) string {
	if meta.ReadOnly {
		return ""
	}
	for _, k := range []string{"file_path", "path"} {
		if s, ok := params[k].(string); ok && s != "" {
			if abs, err := filepath.Abs(filepath.Clean(s)); err == nil {
				return abs
			}
			return filepath.Clean(s)
		}
	}
	return ""
}
