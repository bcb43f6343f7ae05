// The multi-mode permission gate.
//
// For every (tool, input, mode, safe-mode) tuple the gate returns allow,
// deny, or prompt. Resolution order is fixed: plan-mode restriction, then
// safe-mode restriction, then the mode's always-deny list, then session
// grants, then the mode's always-allow list; everything else prompts.

package tools

import (
	"sync"
	"time"

	"github.com/writeflow-dev/writeflow/pkg/plan"
)

// Verdict is the gate's answer for one tool call.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictDeny
	VerdictPrompt
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	default:
		return "prompt"
	}
}

// Deny reasons surfaced to the model and the UI.
const (
	ReasonPlanModeRestriction = "plan_mode_restriction"
	ReasonSafeModeRestriction = "safe_mode_restriction"
	ReasonPolicyDeny          = "policy_deny"
	ReasonNeedsConfirmation   = "needs_confirmation"
)

// Decision is a verdict plus its reason.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// GrantKind is the lifetime of a permission grant.
type GrantKind string

const (
	GrantOneTime   GrantKind = "one_time"
	GrantSession   GrantKind = "session"
	GrantPermanent GrantKind = "permanent"
)

// Predicate optionally narrows a grant to matching inputs. nil matches all.
type Predicate func(input map[string]any) bool

type grant struct {
	kind GrantKind
	pred Predicate
}

// Choice is the user's answer to a permission prompt.
type Choice string

const (
	ChoiceAllowOnce    Choice = "allow_once"
	ChoiceAllowSession Choice = "allow_session"
	ChoiceAllowAlways  Choice = "allow_always"
	ChoiceDeny         Choice = "deny"
)

// ModePolicy is the per-mode allow/deny configuration. Tools in neither set
// prompt.
type ModePolicy struct {
	AlwaysAllow []string
	AlwaysDeny  []string
}

func (p ModePolicy) allows(name string) bool { return contains(p.AlwaysAllow, name) }
func (p ModePolicy) denies(name string) bool { return contains(p.AlwaysDeny, name) }

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// ToolStats is per-tool usage bookkeeping.
type ToolStats struct {
	Count    int
	LastUsed time.Time
}

// GateStats is a snapshot of session statistics.
type GateStats struct {
	PerTool map[string]ToolStats
	Grants  map[GrantKind]int
}

// Gate evaluates permission for tool calls. Safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	policies map[plan.Mode]ModePolicy
	grants   map[string][]grant
	usage    map[string]ToolStats
}

// NewGate builds a gate from per-mode policies. Missing modes behave as an
// empty policy (everything prompts).
func NewGate(policies map[plan.Mode]ModePolicy) *Gate {
	if policies == nil {
		policies = map[plan.Mode]ModePolicy{}
	}
	return &Gate{
		policies: policies,
		grants:   make(map[string][]grant),
		usage:    make(map[string]ToolStats),
	}
}

// Check resolves the verdict for one call. A matching one_time grant is
// consumed by the call it authorizes.
func (g *Gate) Check(meta Meta, input map[string]any, mode plan.Mode, safeMode bool) Decision {
	// 1. Plan mode forbids every non-read-only tool except ExitPlanMode.
	if mode == plan.ModePlan && !meta.ReadOnly && meta.Name != plan.ExitPlanModeTool {
		return Decision{VerdictDeny, ReasonPlanModeRestriction}
	}
	// 2. Safe mode forbids every non-read-only tool.
	if safeMode && !meta.ReadOnly {
		return Decision{VerdictDeny, ReasonSafeModeRestriction}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	policy := g.policies[mode]

	// 3. Mode deny list.
	if policy.denies(meta.Name) {
		return Decision{VerdictDeny, ReasonPolicyDeny}
	}

	// 4. Session grants (any kind, predicate must match the input).
	for i, gr := range g.grants[meta.Name] {
		if gr.pred != nil && !gr.pred(input) {
			continue
		}
		if gr.kind == GrantOneTime {
			g.grants[meta.Name] = append(g.grants[meta.Name][:i], g.grants[meta.Name][i+1:]...)
		}
		return Decision{VerdictAllow, string(gr.kind)}
	}

	// 5. Mode allow list.
	if policy.allows(meta.Name) {
		return Decision{VerdictAllow, "policy_allow"}
	}

	// 6. Everything else asks the user. NeedsPermission tools land here
	// whenever no grant or allow-list entry covers them.
	return Decision{VerdictPrompt, ReasonNeedsConfirmation}
}

// Grant records a grant for tool. pred may be nil.
func (g *Gate) Grant(tool string, kind GrantKind, pred Predicate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[tool] = append(g.grants[tool], grant{kind: kind, pred: pred})
}

// ApplyChoice converts a prompt answer into a grant. Deny records nothing.
func (g *Gate) ApplyChoice(tool string, c Choice) {
	switch c {
	case ChoiceAllowOnce:
		g.Grant(tool, GrantOneTime, nil)
	case ChoiceAllowSession:
		g.Grant(tool, GrantSession, nil)
	case ChoiceAllowAlways:
		g.Grant(tool, GrantPermanent, nil)
	}
}

// ModeChanged applies grant expiry on a mode transition: one_time grants are
// erased on every transition; session grants are erased on transition to
// plan mode.
func (g *Gate) ModeChanged(to plan.Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for tool, gs := range g.grants {
		kept := gs[:0]
		for _, gr := range gs {
			if gr.kind == GrantOneTime {
				continue
			}
			if gr.kind == GrantSession && to == plan.ModePlan {
				continue
			}
			kept = append(kept, gr)
		}
		g.grants[tool] = kept
	}
}

// ClearNonPermanent erases one_time and session grants (entering plan mode,
// or an explicit clear).
func (g *Gate) ClearNonPermanent() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for tool, gs := range g.grants {
		kept := gs[:0]
		for _, gr := range gs {
			if gr.kind == GrantPermanent {
				kept = append(kept, gr)
			}
		}
		g.grants[tool] = kept
	}
}

// RecordUse updates per-tool usage statistics after a call executes.
func (g *Gate) RecordUse(tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.usage[tool]
	st.Count++
	st.LastUsed = time.Now()
	g.usage[tool] = st
}

// Stats returns a snapshot of usage counts and grant counts by kind.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := GateStats{
		PerTool: make(map[string]ToolStats, len(g.usage)),
		Grants:  map[GrantKind]int{},
	}
	for k, v := range g.usage {
		out.PerTool[k] = v
	}
	for _, gs := range g.grants {
		for _, gr := range gs {
			out.Grants[gr.kind]++
		}
	}
	return out
}

// PermanentGrants lists tools with a permanent grant, for persistence.
func (g *Gate) PermanentGrants() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for tool, gs := range g.grants {
		for _, gr := range gs {
			if gr.kind == GrantPermanent {
				out = append(out, tool)
				break
			}
		}
	}
	return out
}

// LoadPermanentGrants restores persisted permanent grants at startup.
func (g *Gate) LoadPermanentGrants(tools []string) {
	for _, t := range tools {
		g.Grant(t, GrantPermanent, nil)
	}
}
