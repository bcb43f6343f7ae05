package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/writeflow-dev/writeflow/pkg/todo"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// todoWriteSchema is hand-written because SimpleSchema cannot express the
// nested array-of-objects shape.
var todoWriteSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"todos": {
			"type": "array",
			"description": "The complete task list. Replaces the previous list.",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "Stable item ID"},
					"content": {"type": "string", "description": "Imperative description, e.g. 'Draft the intro'"},
					"activeForm": {"type": "string", "description": "Present-continuous form shown while in progress"},
					"status": {"type": "string", "enum": ["pending", "in_progress", "completed"]},
					"priority": {"type": "string", "enum": ["high", "medium", "low"]}
				},
				"required": ["id", "content", "status"]
			}
		}
	},
	"required": ["todos"]
}`)

// TodoWriteTool replaces the session task list with a new one.
type TodoWriteTool struct {
	store *todo.Store
}

func NewTodoWriteTool(store *todo.Store) *TodoWriteTool {
	return &TodoWriteTool{store: store}
}

func (t *TodoWriteTool) Meta() tools.Meta {
	return tools.Meta{
		Name: "TodoWrite",
		Description: "Update the session task list. Pass the complete list every time; it " +
			"replaces the previous one. Keep exactly one item in_progress while working.",
		Parameters: todoWriteSchema,
		// Mutates only session-internal state, so it stays usable in plan
		// mode and safe mode.
		ReadOnly:        true,
		ConcurrencySafe: true,
		Category:        CategoryTask,
	}
}

func (t *TodoWriteTool) Execute(_ context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	raw, err := json.Marshal(params["todos"])
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("invalid todos: %w", err)), nil
	}
	var items []todo.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return tools.ErrorResult(fmt.Errorf("invalid todos: %w", err)), nil
	}

	if err := t.store.Replace(items); err != nil {
		return tools.ErrorResult(err), nil
	}

	done := 0
	for _, it := range items {
		if it.Status == todo.StatusCompleted {
			done++
		}
	}
	res := tools.TextResult(fmt.Sprintf("Task list updated: %d items, %d completed.\n%s", len(items), done, t.store.Summary()))
	res.Details = items
	return res, nil
}
