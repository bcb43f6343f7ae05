// Package plan implements the plan-mode state machine. In plan mode the
// agent may only observe (read-only tools); the single escape hatch is the
// ExitPlanMode tool, whose proposed plan must be confirmed by the user before
// the mode transitions back to default.
package plan

import (
	"errors"
	"sync"
	"time"
)

// Mode is the agent's operating mode.
type Mode string

const (
	ModeDefault Mode = "default"
	ModePlan    Mode = "plan"
)

// ExitPlanModeTool is the name of the only non-read-only tool permitted in
// plan mode.
const ExitPlanModeTool = "ExitPlanMode"

// Decision is the user's verdict on a proposed plan.
type Decision string

const (
	AcceptAndExecute Decision = "accept_and_execute"
	AcceptPlanOnly   Decision = "accept_plan_only"
	Reject           Decision = "reject"
)

// Record is one entry in the append-only plan history.
type Record struct {
	Plan     string
	Outcome  Decision
	Feedback string // user feedback, set on rejection
	At       time.Time
}

var (
	// ErrNoPendingPlan is returned by Resolve when no plan awaits confirmation.
	ErrNoPendingPlan = errors.New("plan: no pending plan to resolve")
	// ErrNotActive is returned by SubmitPlan outside plan mode.
	ErrNotActive = errors.New("plan: not in plan mode")
)

// Controller tracks the mode, the pending plan, and the plan history.
// It is safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	mode      Mode
	enteredAt time.Time
	history   []Record
	pending   string
	hasPlan   bool

	// onEnter runs on every transition into plan mode (used to clear
	// non-permanent permission grants).
	onEnter func()
}

// NewController starts in ModeDefault. onEnter may be nil.
func NewController(onEnter func()) *Controller {
	return &Controller{mode: ModeDefault, onEnter: onEnter}
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Active reports whether plan mode is on.
func (c *Controller) Active() bool {
	return c.Mode() == ModePlan
}

// Enter switches to plan mode. Re-entering while active is a no-op.
func (c *Controller) Enter() {
	c.mu.Lock()
	if c.mode == ModePlan {
		c.mu.Unlock()
		return
	}
	c.mode = ModePlan
	c.enteredAt = time.Now()
	hook := c.onEnter
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Toggle cycles the mode (the REPL's shift-tab binding). Leaving plan mode
// this way is not permitted; the only exits are a confirmed ExitPlanMode or
// Reset. Toggling while active is a no-op and returns false.
func (c *Controller) Toggle() bool {
	c.mu.Lock()
	active := c.mode == ModePlan
	c.mu.Unlock()
	if active {
		return false
	}
	c.Enter()
	return true
}

// SubmitPlan records the plan text proposed by an ExitPlanMode call and
// parks it pending user confirmation.
func (c *Controller) SubmitPlan(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModePlan {
		return ErrNotActive
	}
	c.pending = text
	c.hasPlan = true
	return nil
}

// Pending returns the plan awaiting confirmation, if any.
func (c *Controller) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending, c.hasPlan
}

// Resolve applies the user's decision to the pending plan.
//
// On accept (either kind) the mode transitions to ModeDefault and the
// returned seed is the plan text, to become the first instruction of the
// next turn. On reject the mode stays active, the plan is recorded with the
// user's feedback, and the seed is the feedback for the next agent turn.
func (c *Controller) Resolve(d Decision, feedback string) (seed string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasPlan {
		return "", ErrNoPendingPlan
	}
	rec := Record{Plan: c.pending, Outcome: d, At: time.Now()}
	switch d {
	case AcceptAndExecute, AcceptPlanOnly:
		seed = c.pending
		c.mode = ModeDefault
	case Reject:
		rec.Feedback = feedback
		seed = feedback
	default:
		return "", errors.New("plan: unknown decision " + string(d))
	}
	c.history = append(c.history, rec)
	c.pending = ""
	c.hasPlan = false
	return seed, nil
}

// Reset forces the controller back to ModeDefault, discarding any pending
// plan. History is preserved (append-only).
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeDefault
	c.pending = ""
	c.hasPlan = false
}

// History returns a copy of the plan history.
func (c *Controller) History() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.history))
	copy(out, c.history)
	return out
}

// EnteredAt returns when plan mode was last entered.
func (c *Controller) EnteredAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enteredAt
}
