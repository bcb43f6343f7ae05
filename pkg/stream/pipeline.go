// Package stream carries the agent's output to the UI as a single ordered
// stream of typed events.
//
// The pipeline never blocks its producers. When the consumer falls behind,
// pending text deltas for the same logical stream are coalesced in place and
// superseded progress updates are replaced, so a slow terminal sees fewer,
// larger events rather than a growing backlog. Final and terminal events are
// never coalesced away.
package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the event type.
type Kind string

const (
	// KindAIResponse is assistant-visible text, streamed as deltas.
	KindAIResponse Kind = "ai_response"
	// KindThinking is reasoning text, streamed separately from the response.
	KindThinking Kind = "thinking"
	// KindToolExecution reports tool call lifecycle transitions.
	KindToolExecution Kind = "tool_execution"
	// KindProgress is a loss-tolerant progress update (percent, message).
	KindProgress Kind = "progress"
	// KindSystem is an out-of-band notice (mode change, compression,
	// permission prompt).
	KindSystem Kind = "system"
	// KindError reports a turn- or call-level failure.
	KindError Kind = "error"
)

// Tool call phases carried by KindToolExecution events.
const (
	PhaseStarted = "started"
	PhaseResult  = "result"
	PhaseError   = "error"
)

// Severity levels carried by KindSystem and KindError events.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one element of the output stream.
type Event struct {
	Kind Kind
	Seq  uint64
	At   time.Time

	// TurnID groups events belonging to one user turn.
	TurnID string

	// Text is the delta for ai_response and thinking, or the message body
	// for system and error events.
	Text string
	// Final marks the last event of a logical sub-stream (end of a response
	// or thinking block, terminal of a tool call).
	Final bool

	// Tool call fields (tool_execution and progress).
	CallID  string
	Tool    string
	Phase   string
	Percent *float64

	// Stage names an orchestrator-level phase on progress events that are
	// not tied to a tool call ("compressing").
	Stage string

	// Level is the severity of system and error events.
	Level string
	// Detail carries structured payloads for system/error events.
	Detail any
}

// Metrics is a snapshot of pipeline counters.
type Metrics struct {
	Emitted   uint64
	Delivered uint64
	Coalesced uint64
	Replaced  uint64
}

// staleProgress is how long a queued progress event stays authoritative; a
// newer update for the same call replaces anything older than this.
const staleProgress = 250 * time.Millisecond

// Pipeline is a non-blocking, coalescing fan-in to a single consumer.
type Pipeline struct {
	mu      sync.Mutex
	pending []Event
	closed  bool
	notify  chan struct{}
	out     chan Event
	seq     atomic.Uint64

	emitted   atomic.Uint64
	delivered atomic.Uint64
	coalesced atomic.Uint64
	replaced  atomic.Uint64
}

// New builds a pipeline and starts its pump. buffer is the consumer-side
// channel depth; 0 picks a sensible default.
func New(buffer int) *Pipeline {
	if buffer <= 0 {
		buffer = 64
	}
	p := &Pipeline{
		notify: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
	}
	go p.pump()
	return p
}

// Events is the consumer side. It closes after Close once every pending
// event has been delivered.
func (p *Pipeline) Events() <-chan Event { return p.out }

// Emit enqueues an event. It never blocks and is safe for concurrent use.
// Events emitted after Close are dropped.
func (p *Pipeline) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.Seq = p.seq.Add(1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.emitted.Add(1)
	p.enqueueLocked(e)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// enqueueLocked applies the coalescing rules before appending.
func (p *Pipeline) enqueueLocked(e Event) {
	// Non-final text deltas merge into a pending delta of the same kind and
	// turn. A pending delta means the consumer has not caught up yet, which
	// is exactly the back-pressure condition.
	if (e.Kind == KindAIResponse || e.Kind == KindThinking) && !e.Final {
		if n := len(p.pending); n > 0 {
			last := &p.pending[n-1]
			if last.Kind == e.Kind && !last.Final && last.TurnID == e.TurnID {
				last.Text += e.Text
				last.At = e.At
				last.Seq = e.Seq
				p.coalesced.Add(1)
				return
			}
		}
	}

	// A progress update supersedes a stale pending update for the same call
	// or stage.
	if e.Kind == KindProgress {
		for i := len(p.pending) - 1; i >= 0; i-- {
			q := &p.pending[i]
			if q.Kind == KindProgress && q.CallID == e.CallID && q.Tool == e.Tool && q.Stage == e.Stage {
				if e.At.Sub(q.At) > staleProgress || len(p.pending) >= cap(p.out) {
					*q = e
					p.replaced.Add(1)
					return
				}
				break
			}
		}
	}

	p.pending = append(p.pending, e)
}

func (p *Pipeline) pump() {
	for {
		p.mu.Lock()
		for len(p.pending) == 0 {
			if p.closed {
				p.mu.Unlock()
				close(p.out)
				return
			}
			p.mu.Unlock()
			<-p.notify
			p.mu.Lock()
		}
		e := p.pending[0]
		copy(p.pending, p.pending[1:])
		p.pending = p.pending[:len(p.pending)-1]
		p.mu.Unlock()

		p.out <- e
		p.delivered.Add(1)
	}
}

// Close stops intake. Pending events are still delivered, then Events closes.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Metrics returns a counter snapshot.
func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		Emitted:   p.emitted.Load(),
		Delivered: p.delivered.Load(),
		Coalesced: p.coalesced.Load(),
		Replaced:  p.replaced.Load(),
	}
}

// ---------------------------------------------------------------------------
// Emit helpers
// ---------------------------------------------------------------------------

// Text emits an ai_response delta.
func (p *Pipeline) Text(turnID, delta string) {
	p.Emit(Event{Kind: KindAIResponse, TurnID: turnID, Text: delta})
}

// TextDone seals the response stream for a turn.
func (p *Pipeline) TextDone(turnID string) {
	p.Emit(Event{Kind: KindAIResponse, TurnID: turnID, Final: true})
}

// Thinking emits a reasoning delta.
func (p *Pipeline) Thinking(turnID, delta string) {
	p.Emit(Event{Kind: KindThinking, TurnID: turnID, Text: delta})
}

// ThinkingDone seals the thinking stream for a turn.
func (p *Pipeline) ThinkingDone(turnID string) {
	p.Emit(Event{Kind: KindThinking, TurnID: turnID, Final: true})
}

// ToolPhase emits a tool_execution lifecycle event. Terminal phases are
// marked Final so the coalescer never touches them.
func (p *Pipeline) ToolPhase(turnID, callID, tool, phase, text string) {
	p.Emit(Event{
		Kind: KindToolExecution, TurnID: turnID, CallID: callID, Tool: tool,
		Phase: phase, Text: text,
		Final: phase == PhaseResult || phase == PhaseError,
	})
}

// ToolProgress emits a loss-tolerant progress update for a running call.
func (p *Pipeline) ToolProgress(turnID, callID, tool string, percent *float64, msg string) {
	p.Emit(Event{Kind: KindProgress, TurnID: turnID, CallID: callID, Tool: tool, Percent: percent, Text: msg})
}

// StageProgress emits an orchestrator-level staging update that is not tied
// to a tool call.
func (p *Pipeline) StageProgress(turnID, stage, msg string) {
	p.Emit(Event{Kind: KindProgress, TurnID: turnID, Stage: stage, Text: msg})
}

// System emits an informational out-of-band notice.
func (p *Pipeline) System(text string, detail any) {
	p.SystemLevel(LevelInfo, text, detail)
}

// SystemLevel emits an out-of-band notice with an explicit severity.
func (p *Pipeline) SystemLevel(level, text string, detail any) {
	p.Emit(Event{Kind: KindSystem, Level: level, Text: text, Detail: detail, Final: true})
}

// Error emits a failure notice.
func (p *Pipeline) Error(turnID, text string, detail any) {
	p.Emit(Event{Kind: KindError, TurnID: turnID, Level: LevelError, Text: text, Detail: detail, Final: true})
}
