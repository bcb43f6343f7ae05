// Binary writeflow is the interactive writing-assistant REPL.
//
// Usage:
//
//	writeflow [flags]
//
// Flags:
//
//	-config   path to YAML config file (default: writeflow.yaml)
//	-prompt   one-shot prompt (skips interactive mode)
//	-cwd      override the working directory for file tools
//	-session  session ID to resume (prefix match)
//	-sessions list recent sessions and exit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"log/slog"

	"github.com/writeflow-dev/writeflow/pkg/agent"
	"github.com/writeflow-dev/writeflow/pkg/ai"
	"github.com/writeflow-dev/writeflow/pkg/ai/models"
	"github.com/writeflow-dev/writeflow/pkg/ai/providers/anthropic"
	"github.com/writeflow-dev/writeflow/pkg/ai/providers/bedrock"
	"github.com/writeflow-dev/writeflow/pkg/ai/providers/openai"
	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/session"
	"github.com/writeflow-dev/writeflow/pkg/stream"
	"github.com/writeflow-dev/writeflow/pkg/todo"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

func main() {
	configPath := flag.String("config", "writeflow.yaml", "path to config file")
	oneShot := flag.String("prompt", "", "one-shot prompt (non-interactive)")
	cwdFlag := flag.String("cwd", "", "override working directory for file tools")
	sessionFlag := flag.String("session", "", "session ID to resume (prefix match)")
	listSessions := flag.Bool("sessions", false, "list recent sessions and exit")
	flag.Parse()

	cfg, err := agent.LoadConfig(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}

	cwd := *cwdFlag
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			fatalf("getwd: %v", err)
		}
	}

	sessDir := cfg.SessionsDir
	if sessDir == "" {
		sessDir = session.DefaultSessionsDir()
	}

	if *listSessions {
		printSessions(sessDir, 0)
		return
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		fatalf("provider: %v", err)
	}

	var sess *session.Session
	if *sessionFlag != "" {
		sess, err = session.Load(sessDir, *sessionFlag)
		if err != nil {
			fatalf("session resume: %v", err)
		}
		fmt.Printf("[writeflow] resumed session %s\n", sess.ID()[:8])
	} else {
		sess, err = session.Create(sessDir, cwd)
		if err != nil {
			// Non-fatal: the agent works without persistence.
			fmt.Fprintf(os.Stderr, "[warn] could not create session: %v\n", err)
			sess = nil
		} else {
			fmt.Printf("[writeflow] session %s\n", sess.ID()[:8])
		}
	}

	var todos *todo.Store
	if sess != nil {
		todos, err = todo.NewStore(sessDir, sess.ID())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[warn] todo store: %v\n", err)
		}
	}

	rt, err := agent.New(agent.Options{
		Config:   cfg,
		Provider: provider,
		Logger:   buildLogger(cfg.LogLevel),
		Session:  sess,
		Todos:    todos,
		CWD:      cwd,
	})
	if err != nil {
		fatalf("agent: %v", err)
	}
	defer rt.Close()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rt.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		printEvents(rt.Events())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			rt.Cancel()
		}
	}()

	if *oneShot != "" {
		rt.Submit(*oneShot)
		// One turn, then drain: close intake once the queue is idle.
		waitIdle(rt)
		stopRun()
		wg.Wait()
		return
	}

	fmt.Printf("[writeflow] provider=%s model=%s\n", provider.Name(), cfg.Models.Main)
	fmt.Println("[writeflow] commands: /plan /accept /accept-plan /reject <feedback> /allow <tool> [once|session|always] /deny <tool> /kill <handle> /state /sessions exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if handleCommand(rt, cfg, sessDir, line) {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}
		if !rt.Submit(line) {
			fmt.Fprintln(os.Stderr, "[warn] input rejected (queue at capacity)")
		}
	}

	stopRun()
	wg.Wait()
}

// handleCommand processes slash commands; returns false for plain prompts.
func handleCommand(rt *agent.Runtime, cfg *agent.Config, sessDir, line string) bool {
	if !strings.HasPrefix(line, "/") {
		return false
	}
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/plan":
		if rt.TogglePlanMode() {
			fmt.Println("[plan] plan mode on: read-only research until a plan is accepted")
		} else {
			fmt.Println("[plan] already in plan mode; accept or reject the plan to leave")
		}

	case "/accept":
		if err := rt.ResolvePlan(plan.AcceptAndExecute, ""); err != nil {
			fmt.Fprintf(os.Stderr, "accept: %v\n", err)
		}

	case "/accept-plan":
		if err := rt.ResolvePlan(plan.AcceptPlanOnly, ""); err != nil {
			fmt.Fprintf(os.Stderr, "accept: %v\n", err)
		}

	case "/reject":
		feedback := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		if err := rt.ResolvePlan(plan.Reject, feedback); err != nil {
			fmt.Fprintf(os.Stderr, "reject: %v\n", err)
		}

	case "/allow":
		if len(fields) < 2 {
			fmt.Println("usage: /allow <tool> [once|session|always]")
			break
		}
		choice := tools.ChoiceAllowOnce
		if len(fields) > 2 {
			switch fields[2] {
			case "session":
				choice = tools.ChoiceAllowSession
			case "always":
				choice = tools.ChoiceAllowAlways
			}
		}
		rt.AnswerPermission(fields[1], choice)

	case "/deny":
		if len(fields) < 2 {
			fmt.Println("usage: /deny <tool>")
			break
		}
		rt.AnswerPermission(fields[1], tools.ChoiceDeny)

	case "/state":
		qm := rt.QueueMetrics()
		cm := rt.CompressorMetrics()
		fmt.Printf("[state] mode=%s messages=%d queue(depth=%d backpressure=%v) context(estimate=%d level=%.0f%%)\n",
			rt.Mode(), len(rt.Messages()), qm.Depth, qm.BackPressure, cm.Estimate, cm.Level*100)

	case "/tools":
		for tool, st := range rt.GateStats().PerTool {
			fmt.Printf("  %-16s calls=%d\n", tool, st.Count)
		}

	case "/model":
		info := models.Lookup(cfg.Models.Main)
		if info == nil {
			fmt.Printf("[model] %s (not in registry)\n", cfg.Models.Main)
		} else {
			fmt.Printf("[model] %s context=%d out=%d thinking=%v\n",
				info.DisplayName, info.ContextWindow, info.MaxOutputTokens, info.Thinking)
		}

	case "/sessions":
		printSessions(sessDir, 10)

	case "/kill":
		if len(fields) < 2 {
			fmt.Println("usage: /kill <handle>")
			break
		}
		if rt.KillBackground(fields[1]) {
			fmt.Printf("[kill] stopped %s\n", fields[1])
		} else {
			fmt.Printf("[kill] no background call with handle %s\n", fields[1])
		}

	case "/cancel":
		rt.Cancel()

	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	return true
}

// waitIdle blocks until the queue drains and no turn is running. Used only
// for one-shot mode; it polls because the runtime has no completion hook.
// Two consecutive idle observations guard against the window between a
// message being consumed and its turn starting.
func waitIdle(rt *agent.Runtime) {
	idle := 0
	for idle < 2 {
		m := rt.QueueMetrics()
		if m.Depth == 0 && m.Enqueued == m.Consumed && !rt.Busy() {
			idle++
		} else {
			idle = 0
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildProvider(cfg *agent.Config) (ai.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.BaseURL), nil
	case "openai":
		return openai.New(cfg.BaseURL), nil
	case "bedrock":
		return bedrock.New(cfg.Region, cfg.Profile), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func buildLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// printEvents renders the pipeline to the terminal.
func printEvents(events <-chan stream.Event) {
	inResponse := false
	for ev := range events {
		switch ev.Kind {
		case stream.KindAIResponse:
			if ev.Final {
				if inResponse {
					fmt.Println()
					inResponse = false
				}
				continue
			}
			fmt.Print(ev.Text)
			inResponse = true

		case stream.KindThinking:
			// Reasoning is kept off the main response stream.
			if !ev.Final && ev.Text != "" {
				fmt.Printf("\x1b[2m%s\x1b[0m", ev.Text)
			}

		case stream.KindToolExecution:
			switch ev.Phase {
			case stream.PhaseStarted:
				fmt.Printf("\n[tool] %s started\n", ev.Tool)
			case stream.PhaseResult:
				fmt.Printf("[tool] %s → %s\n", ev.Tool, firstLine(ev.Text))
			case stream.PhaseError:
				fmt.Printf("[tool] %s → error: %s\n", ev.Tool, firstLine(ev.Text))
			}

		case stream.KindProgress:
			switch {
			case ev.Stage != "":
				fmt.Printf("[%s] %s\n", ev.Stage, ev.Text)
			case ev.Percent != nil:
				fmt.Printf("[%s] %.0f%% %s\n", ev.Tool, *ev.Percent, ev.Text)
			}

		case stream.KindSystem:
			if ev.Level == stream.LevelWarn {
				fmt.Printf("\n[system:warn] %s\n", ev.Text)
			} else {
				fmt.Printf("\n[system] %s\n", ev.Text)
			}
			if req, ok := ev.Detail.(agent.PermissionRequest); ok {
				fmt.Printf("[system] answer with: /allow %s [once|session|always]  or  /deny %s\n",
					req.Tool, req.Tool)
			}

		case stream.KindError:
			fmt.Printf("\n[error] %s\n", ev.Text)
		}
	}
}

func printSessions(dir string, limit int) {
	infos, err := session.List(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessions: %v\n", err)
		return
	}
	if len(infos) == 0 {
		fmt.Println("[no sessions]")
		return
	}
	for i, info := range infos {
		if limit > 0 && i >= limit {
			fmt.Printf("  ... (%d more)\n", len(infos)-limit)
			break
		}
		fmt.Printf("  %s  %-30s  msgs=%-3d  %s  %s\n",
			info.ID[:8],
			truncate(info.CWD, 30),
			info.MessageCount,
			info.Created.Format("01-02 15:04"),
			truncate(info.FirstMessage, 40),
		)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(1)
}
