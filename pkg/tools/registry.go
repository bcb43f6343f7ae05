package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

// Registry holds all registered tools, keyed by name. Tools are registered
// at startup (or added at runtime) and never removed; lookup is O(1).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string // registration order, for deterministic views
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics if a tool with the same name is already
// registered; duplicate names are a startup bug, not a runtime condition.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Meta().Name
	if name == "" {
		panic("tools: tool with empty name")
	}
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: tool %q already registered", name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Get retrieves a tool by name. Returns nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	return r.filter(func(Meta) bool { return true })
}

// ReadOnly returns the tools marked read-only.
func (r *Registry) ReadOnly() []Tool {
	return r.filter(func(m Meta) bool { return m.ReadOnly })
}

// ConcurrencySafe returns the tools that may run in parallel.
func (r *Registry) ConcurrencySafe() []Tool {
	return r.filter(func(m Meta) bool { return m.ConcurrencySafe })
}

// ByCategory returns the tools in the given category.
func (r *Registry) ByCategory(cat string) []Tool {
	return r.filter(func(m Meta) bool { return m.Category == cat })
}

func (r *Registry) filter(keep func(Meta) bool) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if t := r.tools[name]; keep(t.Meta()) {
			out = append(out, t)
		}
	}
	return out
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the LLM-facing schemas for the given tools.
func Definitions(ts []Tool) []ai.ToolDefinition {
	defs := make([]ai.ToolDefinition, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, t.Meta().Definition())
	}
	return defs
}
