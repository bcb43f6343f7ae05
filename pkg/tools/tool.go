// Package tools defines the Tool interface and metadata, the registry, JSON
// Schema validation of tool arguments, the multi-mode permission gate, and
// the concurrency-aware dispatcher.
package tools

import (
	"context"
	"encoding/json"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

// Meta describes a tool to the registry, the permission gate, and the LLM.
type Meta struct {
	// Name is the dispatch key; the model calls the tool by this string.
	Name string
	// Description is handed to the LLM verbatim.
	Description string
	// Parameters is the JSON Schema for the tool's input.
	Parameters json.RawMessage

	// ReadOnly tools must not mutate observable external state. Only
	// read-only tools (plus ExitPlanMode) run in plan mode or safe mode.
	ReadOnly bool
	// ConcurrencySafe tools may run in parallel with other such tools
	// against the same filesystem.
	ConcurrencySafe bool
	// NeedsPermission flags tools whose default disposition is a user
	// prompt. A grant or a mode allow-list entry still admits them; the
	// flag keeps them out of the default allow lists.
	NeedsPermission bool
	// Category groups tools for registry views ("filesystem", "shell",
	// "web", "task", ...).
	Category string
}

// Definition returns the schema handed to the LLM.
func (m Meta) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{Name: m.Name, Description: m.Description, Parameters: m.Parameters}
}

// Result is the output of a tool execution.
type Result struct {
	// Content is sent back to the LLM.
	Content []ai.ContentBlock
	// Details is arbitrary structured data for UIs/logging (not sent to LLM).
	Details any
}

// Text flattens the result content to a single string, the form spliced into
// the conversation as a tool_result block.
func (r Result) Text() string {
	out := ""
	for _, b := range r.Content {
		if tc, ok := b.(ai.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

// Progress is a partial update streamed by a running tool.
type Progress struct {
	Percent *float64
	Message string
}

// UpdateFn is an optional callback for streaming progress to the dispatcher.
type UpdateFn func(Progress)

// Tool is the interface every tool must implement. The dispatcher validates
// input against Meta().Parameters before Execute is called, so Execute may
// assume schema-valid params.
type Tool interface {
	// Meta returns the tool's static metadata.
	Meta() Meta
	// Execute runs the tool. ctx carries the call's cancel signal and
	// timeout. onUpdate may be nil; implementations must guard before
	// calling it. Execute must return exactly once (the terminal event).
	Execute(ctx context.Context, callID string, params map[string]any, onUpdate UpdateFn) (Result, error)
}

// ---------------------------------------------------------------------------
// Convenience constructors for Result content
// ---------------------------------------------------------------------------

func TextResult(text string) Result {
	return Result{Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}}}
}

func ErrorResult(err error) Result {
	return TextResult("error: " + err.Error())
}

// ---------------------------------------------------------------------------
// SimpleSchema is a helper for building JSON Schema objects inline.
// ---------------------------------------------------------------------------

type SimpleSchema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// MustSchema returns a JSON Schema for the given SimpleSchema.
func MustSchema(s SimpleSchema) json.RawMessage {
	s2 := map[string]any{
		"type":       "object",
		"properties": s.Properties,
	}
	if len(s.Required) > 0 {
		s2["required"] = s.Required
	}
	b, err := json.Marshal(s2)
	if err != nil {
		panic("tools.MustSchema: " + err.Error())
	}
	return b
}
