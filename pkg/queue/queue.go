// Package queue implements the asynchronous message queue at the heart of the
// runtime: a double-buffered, priority-ordered, single-consumer event channel
// between producers (REPL, tools, providers) and the agent loop.
//
// Two goals drive the design:
//
//   - Zero-latency hand-off: when the consumer is parked in Next and both
//     buffers are empty, an Enqueue delivers the message directly to the
//     parked reader without touching the buffers.
//   - Graceful back-pressure: when producers outpace the reader, the primary
//     buffer spills half of its tail into a secondary buffer and the
//     back-pressure flag turns on; at hard capacity Enqueue rejects.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed set of message kinds carried by the queue.
// Unknown kinds at decode time are a contract violation.
type MessageType string

const (
	TypeUserInput    MessageType = "user_input"
	TypeAIChunk      MessageType = "ai_chunk"
	TypeAIComplete   MessageType = "ai_complete"
	TypeToolRequest  MessageType = "tool_request"
	TypeToolProgress MessageType = "tool_progress"
	TypeToolResult   MessageType = "tool_result"
	TypeProgress     MessageType = "progress"
	TypeSystem       MessageType = "system"
	TypeError        MessageType = "error"
	TypeCancel       MessageType = "cancel"
)

// Message is the queue element. Higher Priority drains earlier; equal
// priorities drain FIFO.
type Message struct {
	ID        string
	Type      MessageType
	Payload   any
	Priority  int
	Timestamp time.Time
	Source    string
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(t MessageType, payload any, priority int, source string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Priority:  priority,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// Metrics is a point-in-time snapshot of queue health.
type Metrics struct {
	Depth        int           // primary + secondary
	Enqueued     uint64        // total accepted
	Consumed     uint64        // total delivered
	Rejected     uint64        // total rejected at capacity or after close
	Throughput   float64       // consumed msg/sec over the last rolling second
	AvgLatency   time.Duration // mean enqueue→consume latency
	BackPressure bool
}

type entry struct {
	msg        Message
	enqueuedAt time.Time
}

// Queue is a single-consumer prioritized queue. Any number of goroutines may
// Enqueue; exactly one goroutine may call Next.
type Queue struct {
	mu        sync.Mutex
	primary   []entry
	secondary []entry
	waiter    chan entry // non-nil while a reader is parked
	closed    bool

	capacity  int
	highWater int

	// metrics
	enqueued     uint64
	consumed     uint64
	rejected     uint64
	latencySum   time.Duration
	backPressure bool
	windowStart  time.Time
	windowCount  int
	lastRate     float64
}

const (
	// DefaultCapacity is the hard rejection limit.
	DefaultCapacity = 10000
	// DefaultHighWater is the back-pressure threshold at which the primary
	// buffer spills into the secondary.
	DefaultHighWater = 8000
)

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity overrides the hard capacity and back-pressure threshold.
// highWater must be below capacity.
func WithCapacity(capacity, highWater int) Option {
	return func(q *Queue) {
		if capacity > 0 {
			q.capacity = capacity
		}
		if highWater > 0 && highWater < q.capacity {
			q.highWater = highWater
		}
	}
}

// New returns an empty open queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		capacity:    DefaultCapacity,
		highWater:   DefaultHighWater,
		windowStart: time.Now(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue inserts a message. It returns false when the queue is closed or at
// hard capacity; the producer decides whether to retry or drop.
func (q *Queue) Enqueue(msg Message) bool {
	now := time.Now()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	e := entry{msg: msg, enqueuedAt: now}

	q.mu.Lock()
	if q.closed {
		q.rejected++
		q.mu.Unlock()
		return false
	}

	// Fast path: a parked reader and nothing buffered, hand off directly.
	if q.waiter != nil && len(q.primary) == 0 && len(q.secondary) == 0 {
		w := q.waiter
		q.waiter = nil
		q.enqueued++
		q.noteConsumed(now, now)
		q.mu.Unlock()
		w <- e
		return true
	}

	if len(q.primary)+len(q.secondary) >= q.capacity {
		q.rejected++
		q.mu.Unlock()
		return false
	}

	q.insertByPriority(e)
	q.enqueued++

	// Spill: migrate half of the primary tail to the secondary buffer and
	// signal back-pressure upstream.
	if len(q.primary) > q.highWater {
		cut := len(q.primary) - len(q.primary)/2
		q.secondary = append(q.secondary, q.primary[cut:]...)
		q.primary = q.primary[:cut:cut]
		q.backPressure = true
	}

	var w chan entry
	var next entry
	if q.waiter != nil {
		w = q.waiter
		q.waiter = nil
		next = q.pop()
	}
	q.mu.Unlock()

	if w != nil {
		w <- next
	}
	return true
}

// insertByPriority places e into the logically sorted primary+secondary
// sequence: non-increasing priority, FIFO within equal priority (stable
// insert). The secondary buffer holds the spilled tail, so a message whose
// priority does not beat the secondary's head belongs in the secondary;
// otherwise it would drain ahead of earlier equal-priority messages.
func (q *Queue) insertByPriority(e entry) {
	buf := &q.primary
	if len(q.secondary) > 0 && e.msg.Priority <= q.secondary[0].msg.Priority {
		buf = &q.secondary
	}
	i := len(*buf)
	for i > 0 && (*buf)[i-1].msg.Priority < e.msg.Priority {
		i--
	}
	*buf = append(*buf, entry{})
	copy((*buf)[i+1:], (*buf)[i:])
	(*buf)[i] = e
}

// pop removes the head message, promoting the secondary buffer when the
// primary drains. Caller holds q.mu and has verified the queue is non-empty.
func (q *Queue) pop() entry {
	if len(q.primary) == 0 {
		q.primary, q.secondary = q.secondary, nil
	}
	e := q.primary[0]
	q.primary = q.primary[1:]
	if q.backPressure && len(q.primary)+len(q.secondary) < q.highWater/2 {
		q.backPressure = false
	}
	now := time.Now()
	q.noteConsumed(e.enqueuedAt, now)
	return e
}

func (q *Queue) noteConsumed(enqueuedAt, now time.Time) {
	q.consumed++
	q.latencySum += now.Sub(enqueuedAt)
	if now.Sub(q.windowStart) >= time.Second {
		q.lastRate = float64(q.windowCount) / now.Sub(q.windowStart).Seconds()
		q.windowStart = now
		q.windowCount = 0
	}
	q.windowCount++
}

// Next returns the next message in priority order, blocking until one is
// available, the queue is closed (ok=false), or done is closed.
//
// Only one goroutine may call Next at a time.
func (q *Queue) Next(done <-chan struct{}) (Message, bool) {
	q.mu.Lock()
	if len(q.primary) > 0 || len(q.secondary) > 0 {
		e := q.pop()
		q.mu.Unlock()
		return e.msg, true
	}
	if q.closed {
		q.mu.Unlock()
		return Message{}, false
	}

	w := make(chan entry, 1)
	q.waiter = w
	q.mu.Unlock()

	select {
	case e, ok := <-w:
		if !ok {
			return Message{}, false
		}
		return e.msg, true
	case <-done:
		q.mu.Lock()
		if q.waiter == w {
			q.waiter = nil
			q.mu.Unlock()
			return Message{}, false
		}
		q.mu.Unlock()
		// An enqueue won the race; the hand-off is already in flight.
		e, ok := <-w
		if !ok {
			return Message{}, false
		}
		return e.msg, true
	}
}

// TryNext returns the next message without blocking.
func (q *Queue) TryNext() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.primary) == 0 && len(q.secondary) == 0 {
		return Message{}, false
	}
	e := q.pop()
	return e.msg, true
}

// Drain pops every buffered message in delivery order without blocking.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Message
	for len(q.primary) > 0 || len(q.secondary) > 0 {
		out = append(out, q.pop().msg)
	}
	return out
}

// Close resumes any parked reader with end-of-stream. Subsequent Enqueue
// calls fail fast. Closing with messages still buffered is a caller bug; the
// remaining messages are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	w := q.waiter
	q.waiter = nil
	q.primary = nil
	q.secondary = nil
	q.mu.Unlock()
	if w != nil {
		close(w)
	}
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.primary) + len(q.secondary)
}

// Metrics returns a snapshot of queue statistics.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := Metrics{
		Depth:        len(q.primary) + len(q.secondary),
		Enqueued:     q.enqueued,
		Consumed:     q.consumed,
		Rejected:     q.rejected,
		Throughput:   q.lastRate,
		BackPressure: q.backPressure,
	}
	if q.consumed > 0 {
		m.AvgLatency = q.latencySum / time.Duration(q.consumed)
	}
	return m
}
