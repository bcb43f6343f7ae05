// Package builtin provides the standard tool set: file access (read, write,
// edit, ls, find, grep), shell execution, web fetch, the session task list,
// and plan-mode exit.
package builtin

import (
	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/todo"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// Tool categories used for registry views.
const (
	CategoryFilesystem = "filesystem"
	CategoryShell      = "shell"
	CategoryWeb        = "web"
	CategoryTask       = "task"
)

// Preset selects which built-in tools are registered.
type Preset string

const (
	// PresetWriting registers everything a writing session needs: file
	// tools, shell, web fetch, the task list, and plan-mode exit.
	PresetWriting Preset = "writing"

	// PresetReadOnly registers read, grep, find, ls, safe for exploration.
	PresetReadOnly Preset = "readonly"

	// PresetNone registers nothing.
	PresetNone Preset = "none"
)

// Deps carries the runtime collaborators some tools need.
type Deps struct {
	// Cwd is the working directory all file tools resolve against.
	Cwd string
	// Todos is the session task list, required by TodoWrite.
	Todos *todo.Store
	// Plans receives submitted plans from ExitPlanMode.
	Plans *plan.Controller
}

// Register adds the tools for the given preset to the registry.
func Register(reg *tools.Registry, preset Preset, deps Deps) {
	cwd := deps.Cwd
	if cwd == "" {
		cwd = "."
	}

	switch preset {
	case PresetWriting:
		reg.Register(NewReadTool(cwd))
		reg.Register(NewWriteTool(cwd))
		reg.Register(NewEditTool(cwd))
		reg.Register(NewLsTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewBashTool(cwd))
		reg.Register(NewWebFetchTool())
		if deps.Todos != nil {
			reg.Register(NewTodoWriteTool(deps.Todos))
		}
		if deps.Plans != nil {
			reg.Register(NewExitPlanModeTool(deps.Plans))
		}

	case PresetReadOnly:
		reg.Register(NewReadTool(cwd))
		reg.Register(NewGrepTool(cwd))
		reg.Register(NewFindTool(cwd))
		reg.Register(NewLsTool(cwd))

	case PresetNone:
	}
}

// ---------------------------------------------------------------------------
// Param helpers tolerate the numeric forms JSON decoding produces.
// ---------------------------------------------------------------------------

func strParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func intParam(params map[string]any, key string, def int) int {
	switch n := params[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return def
}

func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}
