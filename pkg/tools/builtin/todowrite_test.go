package builtin_test

import (
	"context"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/todo"
	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func todoItems(items ...map[string]any) map[string]any {
	list := make([]any, 0, len(items))
	for _, it := range items {
		list = append(list, it)
	}
	return map[string]any{"todos": list}
}

func TestTodoWriteTool_ReplacesList(t *testing.T) {
	store, _ := todo.NewStore("", "sess")
	tool := builtin.NewTodoWriteTool(store)

	result, err := tool.Execute(context.Background(), "c1", todoItems(
		map[string]any{"id": "1", "content": "outline the essay", "status": "completed"},
		map[string]any{"id": "2", "content": "draft the intro", "status": "in_progress", "activeForm": "Drafting the intro"},
	), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(resultText(result), "2 items, 1 completed") {
		t.Errorf("out = %q", resultText(result))
	}

	items := store.Items()
	if len(items) != 2 {
		t.Fatalf("len = %d", len(items))
	}
	if items[1].ActiveForm != "Drafting the intro" {
		t.Errorf("activeForm = %q", items[1].ActiveForm)
	}
}

func TestTodoWriteTool_RejectsTwoInProgress(t *testing.T) {
	store, _ := todo.NewStore("", "sess")
	tool := builtin.NewTodoWriteTool(store)

	result, _ := tool.Execute(context.Background(), "c1", todoItems(
		map[string]any{"id": "1", "content": "a", "status": "in_progress"},
		map[string]any{"id": "2", "content": "b", "status": "in_progress"},
	), nil)
	if !strings.Contains(strings.ToLower(resultText(result)), "in_progress") {
		t.Errorf("out = %q", resultText(result))
	}
	if len(store.Items()) != 0 {
		t.Error("invalid list must not be installed")
	}
}

func TestTodoWriteTool_Meta(t *testing.T) {
	store, _ := todo.NewStore("", "sess")
	m := builtin.NewTodoWriteTool(store).Meta()
	if m.Name != "TodoWrite" {
		t.Errorf("name = %q", m.Name)
	}
	if !m.ReadOnly {
		t.Error("TodoWrite must stay usable in plan mode")
	}
}
