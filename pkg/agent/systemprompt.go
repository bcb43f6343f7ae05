package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// contextFileNames are project instruction files loaded into the prompt
// when present in the working directory, first match wins.
var contextFileNames = []string{"WRITEFLOW.md", "AGENTS.md"}

// PromptInput carries everything the system prompt depends on.
type PromptInput struct {
	CWD   string
	Mode  plan.Mode
	Tools []tools.Tool
	// TodoSummary is the current task list, rendered by the todo store.
	TodoSummary string
}

// BuildSystemPrompt assembles the mode-aware system prompt.
func BuildSystemPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("You are WriteFlow, an interactive writing assistant. You help with drafting, ")
	sb.WriteString("revising, and researching long-form writing projects: articles, documentation, ")
	sb.WriteString("essays, and books. You work inside the user's project directory using tools.\n\n")

	if len(in.Tools) > 0 {
		sb.WriteString("## Tools\n\n")
		for _, t := range in.Tools {
			m := t.Meta()
			sb.WriteString(fmt.Sprintf("- %s: %s\n", m.Name, firstLine(m.Description)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Guidelines\n\n")
	sb.WriteString("- Read before you write: inspect existing files before editing them.\n")
	sb.WriteString("- Match the project's voice and formatting conventions.\n")
	sb.WriteString("- Cite sources when research tools supply facts.\n")
	sb.WriteString("- Keep the task list current when the work has more than one step.\n\n")

	if in.Mode == plan.ModePlan {
		sb.WriteString("## Plan mode\n\n")
		sb.WriteString("You are in plan mode. Research with read-only tools and produce a plan; ")
		sb.WriteString("do not modify any files or run commands with side effects. When the plan ")
		sb.WriteString("is complete, present it with the " + plan.ExitPlanModeTool + " tool and ")
		sb.WriteString("wait for the user's decision.\n\n")
	}

	if ctxFiles := loadContextFile(in.CWD); ctxFiles != "" {
		sb.WriteString("## Project instructions\n\n")
		sb.WriteString(ctxFiles)
		sb.WriteString("\n\n")
	}

	if in.TodoSummary != "" {
		sb.WriteString("## Current tasks\n\n")
		sb.WriteString(in.TodoSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString(fmt.Sprintf("Today's date: %s\n", time.Now().Format("2006-01-02")))
	if in.CWD != "" {
		sb.WriteString(fmt.Sprintf("Working directory: %s\n", in.CWD))
	}
	return sb.String()
}

func loadContextFile(cwd string) string {
	if cwd == "" {
		return ""
	}
	for _, name := range contextFileNames {
		data, err := os.ReadFile(filepath.Join(cwd, name))
		if err != nil {
			continue
		}
		return strings.TrimSpace(string(data))
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
