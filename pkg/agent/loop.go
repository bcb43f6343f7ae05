package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/writeflow-dev/writeflow/pkg/ai"
	"github.com/writeflow-dev/writeflow/pkg/extract"
	"github.com/writeflow-dev/writeflow/pkg/plan"
	"github.com/writeflow-dev/writeflow/pkg/stream"
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// runTurn drives one user turn: model rounds with inline extraction, tool
// dispatch in emission order, result splicing, and re-invocation, up to the
// round limit.
func (rt *Runtime) runTurn(parent context.Context, input string) {
	turnID := rt.nextTurnID()
	ctx, cancel := context.WithCancel(parent)
	rt.setCancel(cancel)
	defer func() {
		rt.setCancel(nil)
		cancel()
		rt.persistState()
	}()

	rt.appendMessage(userMessage(input))
	rt.logger.Info("turn started", "turn", turnID)

	for round := 1; round <= rt.cfg.MaxRounds; round++ {
		rt.maybeCompress(ctx, turnID, false)

		final, calls, err := rt.streamRound(ctx, turnID)
		if err != nil {
			if ctx.Err() != nil {
				rt.sealAborted(turnID, final, "aborted")
				return
			}
			rt.pipe.Error(turnID, "model unavailable: "+err.Error(),
				map[string]any{"kind": "provider_unavailable", "recoverable": false})
			rt.pipe.TextDone(turnID)
			return
		}

		rt.appendMessage(*final)
		if len(calls) == 0 {
			rt.pipe.TextDone(turnID)
			rt.logger.Info("turn sealed", "turn", turnID, "rounds", round)
			return
		}

		planPending := rt.executeCalls(ctx, turnID, calls)
		if ctx.Err() != nil {
			// A cancel that lands while tools run aborts the whole turn.
			rt.sealAborted(turnID, nil, "cancelled")
			return
		}
		if planPending {
			rt.pipe.TextDone(turnID)
			if text, ok := rt.plans.Pending(); ok {
				rt.pipe.System("plan ready for review", map[string]any{"plan": text})
			}
			return
		}
	}

	rt.pipe.Error(turnID, fmt.Sprintf("round limit reached after %d rounds", rt.cfg.MaxRounds),
		map[string]any{"kind": "max_rounds", "rounds": rt.cfg.MaxRounds})
	rt.pipe.TextDone(turnID)
}

// sealAborted closes a cancelled turn: the partial response (if any) is kept
// with an aborted stop reason. notice is "cancelled" for a cancel tripped
// mid-tool and "aborted" otherwise.
func (rt *Runtime) sealAborted(turnID string, partial *ai.AssistantMessage, notice string) {
	if partial != nil && len(partial.Content) > 0 {
		partial.StopReason = ai.StopReasonAborted
		rt.appendMessage(*partial)
	}
	rt.pipe.TextDone(turnID)
	rt.pipe.SystemLevel(stream.LevelWarn, notice, map[string]any{"turn": turnID})
	rt.logger.Warn("turn "+notice, "turn", turnID)
}

// streamRound runs one model call with retry, backoff, and overflow-forced
// compression. It returns the rebuilt assistant message and the tool calls
// in emission order.
func (rt *Runtime) streamRound(ctx context.Context, turnID string) (*ai.AssistantMessage, []ai.ToolCall, error) {
	mode := rt.plans.Mode()
	toolset := rt.reg.All()
	if mode == plan.ModePlan {
		toolset = rt.reg.ReadOnly()
	}

	llmCtx := ai.Context{
		SystemPrompt: BuildSystemPrompt(PromptInput{
			CWD: rt.cwd, Mode: mode, Tools: toolset, TodoSummary: rt.todoSummary(),
		}),
		Messages: rt.Messages(),
		Tools:    tools.Definitions(toolset),
	}
	opts := rt.streamOpts()
	model := rt.cfg.Models.Main

	for attempt := 0; ; attempt++ {
		final, calls, err := rt.streamOnce(ctx, turnID, model, llmCtx, opts)
		if err == nil {
			return final, calls, nil
		}
		if ctx.Err() != nil {
			return final, nil, err
		}

		probe := &ai.AssistantMessage{StopReason: ai.StopReasonError, ErrorMessage: err.Error()}
		if ai.IsContextOverflow(probe, 0) {
			rt.logger.Warn("context overflow, forcing compression", "turn", turnID)
			if rt.maybeCompress(ctx, turnID, true) && attempt < rt.cfg.MaxRetries {
				llmCtx.Messages = rt.Messages()
				continue
			}
		}

		if attempt < rt.cfg.MaxRetries && ai.IsRetryable(err.Error()) {
			delay := ai.RetryDelay(attempt, time.Second)
			rt.logger.Warn("model call failed, retrying",
				"turn", turnID, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		return nil, nil, err
	}
}

// streamOnce consumes one provider stream, emitting clean display events as
// chunks arrive. Inline spans are extracted for display here and extracted
// again from the final message to build the canonical content blocks, so
// call IDs are assigned exactly once.
func (rt *Runtime) streamOnce(ctx context.Context, turnID, model string, llmCtx ai.Context, opts ai.StreamOptions) (*ai.AssistantMessage, []ai.ToolCall, error) {
	events, wait := rt.provider.Stream(ctx, model, llmCtx, opts)

	carry := ""
	for ev := range events {
		switch ev.Type {
		case ai.StreamEventTextDelta:
			carry += ev.Delta
			res := extract.Extract(carry)
			if res.Text != "" {
				rt.pipe.Text(turnID, res.Text)
			}
			for _, th := range res.Thinking {
				rt.pipe.Thinking(turnID, th)
				rt.pipe.ThinkingDone(turnID)
			}
			carry = res.Rest
		case ai.StreamEventThinkingDelta:
			rt.pipe.Thinking(turnID, ev.Delta)
		}
	}
	if carry != "" {
		// An unclosed span at end of stream surfaces as plain text.
		rt.pipe.Text(turnID, carry)
	}

	final, err := wait()
	if err != nil {
		return final, nil, err
	}
	rebuilt, calls := rebuildAssistant(final)
	return rebuilt, calls, nil
}

// rebuildAssistant strips inline spans out of the final message's text,
// converting them to thinking blocks and tool calls with fresh call IDs.
// Native blocks pass through; the returned calls are in emission order.
func rebuildAssistant(final *ai.AssistantMessage) (*ai.AssistantMessage, []ai.ToolCall) {
	var content []ai.ContentBlock
	var calls []ai.ToolCall

	for _, b := range final.Content {
		switch blk := b.(type) {
		case ai.TextContent:
			res := extract.Extract(blk.Text)
			if text := res.Text + res.Rest; strings.TrimSpace(text) != "" {
				content = append(content, ai.TextContent{Type: "text", Text: text})
			}
			for _, th := range res.Thinking {
				content = append(content, ai.ThinkingContent{Type: "thinking", Thinking: th})
			}
			for _, c := range res.Calls {
				tc := ai.ToolCall{
					Type:      "tool_call",
					ID:        "call_" + uuid.NewString()[:8],
					Name:      c.Name,
					Arguments: c.Args(),
				}
				content = append(content, tc)
				calls = append(calls, tc)
			}
		case ai.ToolCall:
			content = append(content, blk)
			calls = append(calls, blk)
		default:
			content = append(content, b)
		}
	}

	rebuilt := *final
	rebuilt.Content = content
	return &rebuilt, calls
}

// executeCalls dispatches the round's tool calls in emission order and
// splices a result for every call. Steering input or a submitted plan skips
// the remaining calls with placeholder results.
func (rt *Runtime) executeCalls(ctx context.Context, turnID string, calls []ai.ToolCall) (planPending bool) {
	skipReason := ""
	var steering []string

	for _, call := range calls {
		if ctx.Err() != nil && skipReason == "" {
			skipReason = "Skipped: turn cancelled."
		}
		if skipReason != "" {
			rt.appendMessage(skippedResult(call, skipReason))
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseError, skipReason)
			continue
		}

		result := rt.dispatchOne(ctx, turnID, call)
		rt.appendMessage(result)

		if call.Name == plan.ExitPlanModeTool && !result.IsError {
			if _, ok := rt.plans.Pending(); ok {
				planPending = true
				skipReason = "Skipped: plan submitted for review."
				continue
			}
		}

		if len(steering) == 0 {
			if steering = rt.drainSteering(); len(steering) > 0 {
				skipReason = "Skipped due to user interrupt."
			}
		}
	}

	for _, s := range steering {
		rt.appendMessage(userMessage(s))
	}
	return planPending
}

// dispatchOne runs a single call through the dispatcher, forwarding its
// lifecycle to the pipeline, and renders the spliced result. Calls asking
// for background execution detach after started and splice a handle the
// model can report.
func (rt *Runtime) dispatchOne(ctx context.Context, turnID string, call ai.ToolCall) ai.ToolResultMessage {
	st := tools.ExecState{Mode: rt.plans.Mode(), SafeMode: rt.cfg.SafeMode}
	req := tools.Call{
		CallID:  call.ID,
		Tool:    call.Name,
		Input:   call.Arguments,
		Timeout: rt.cfg.CallTimeout(),
	}
	if bg, ok := call.Arguments["run_in_background"].(bool); ok && bg {
		req.Background = true
	}

	result := ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Timestamp:  time.Now().UnixMilli(),
	}

	if req.Background {
		// The call outlives the turn; only Kill or its timeout stops it.
		events := rt.disp.Dispatch(context.WithoutCancel(ctx), req, st)
		for ev := range events {
			if ev.Kind != tools.EventStarted {
				continue
			}
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseStarted, "")
			go rt.forwardBackground(turnID, call, events)
			result.Content = []ai.ContentBlock{ai.TextContent{Type: "text", Text: fmt.Sprintf(
				"Started in background with handle %s. Output streams as progress until it finishes or is killed.",
				ev.Handle)}}
			return result
		}
		result.IsError = true
		result.Content = []ai.ContentBlock{ai.TextContent{Type: "text", Text: "background call never started"}}
		return result
	}

	for ev := range rt.disp.Dispatch(ctx, req, st) {
		switch ev.Kind {
		case tools.EventStarted:
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseStarted, "")
		case tools.EventProgress:
			rt.pipe.ToolProgress(turnID, call.ID, call.Name, ev.Progress.Percent, ev.Progress.Message)
		case tools.EventResult:
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseResult, truncate(ev.ResultText, 200))
			result.Content = ev.Result.Content
			result.Details = ev.Result.Details
			if len(result.Content) == 0 {
				result.Content = []ai.ContentBlock{ai.TextContent{Type: "text", Text: ev.ResultText}}
			}
		case tools.EventError:
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseError, ev.Err.Message)
			result.IsError = true
			result.Content = []ai.ContentBlock{ai.TextContent{Type: "text", Text: ev.Err.Error()}}
		}
	}
	return result
}

// forwardBackground keeps relaying a detached call's events after the turn
// has moved on.
func (rt *Runtime) forwardBackground(turnID string, call ai.ToolCall, events <-chan tools.CallEvent) {
	for ev := range events {
		switch ev.Kind {
		case tools.EventProgress:
			rt.pipe.ToolProgress(turnID, call.ID, call.Name, ev.Progress.Percent, ev.Progress.Message)
		case tools.EventResult:
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseResult, truncate(ev.ResultText, 200))
		case tools.EventError:
			rt.pipe.ToolPhase(turnID, call.ID, call.Name, stream.PhaseError, ev.Err.Message)
		}
	}
}

func skippedResult(call ai.ToolCall, reason string) ai.ToolResultMessage {
	return ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Content:    []ai.ContentBlock{ai.TextContent{Type: "text", Text: reason}},
		IsError:    true,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// maybeCompress runs the compressor when the estimate crosses the trigger,
// or unconditionally when force is set (context overflow). The last resort
// for a forced run with nothing compressible is dropping the oldest turn.
func (rt *Runtime) maybeCompress(ctx context.Context, turnID string, force bool) bool {
	msgs := rt.Messages()
	if !force && !rt.comp.ShouldCompress(msgs) {
		return false
	}

	rt.pipe.StageProgress(turnID, "compressing", "compressing context")
	res, err := rt.comp.Compress(ctx, msgs)
	if err != nil {
		if errors.Is(err, ErrNothingToCompress) && force {
			return rt.dropOldestTurn(turnID)
		}
		if !errors.Is(err, ErrNothingToCompress) {
			rt.pipe.Error(turnID, "compression failed: "+err.Error(),
				map[string]any{"kind": "compression_failed"})
		}
		return false
	}

	rt.replaceMessages(res)
	rt.pipe.System("context compressed", map[string]any{
		"tokens_before": res.TokensBefore,
		"tokens_after":  res.TokensAfter,
		"fallback":      res.Fallback,
	})
	return true
}

// replaceMessages swaps the live conversation for the compressed form and
// records the compaction in the transcript.
func (rt *Runtime) replaceMessages(res *CompressResult) {
	rt.mu.Lock()
	firstKept := ""
	if res.FirstKeptIndex < len(rt.entryIDs) {
		firstKept = rt.entryIDs[res.FirstKeptIndex]
	}
	ids := make([]string, 0, len(res.Messages))
	ids = append(ids, "") // the injected summary has no transcript entry
	ids = append(ids, rt.entryIDs[min(res.FirstKeptIndex, len(rt.entryIDs)):]...)
	rt.messages = res.Messages
	rt.entryIDs = ids
	rt.mu.Unlock()

	if rt.sess != nil && firstKept != "" {
		if err := rt.sess.AppendCompaction(res.Summary, firstKept, res.TokensBefore, res.TokensAfter); err != nil {
			rt.logger.Warn("compaction record failed", "error", err)
		}
	}
}

// dropOldestTurn removes everything before the second user message. It is
// the final overflow fallback and always emits an error event.
func (rt *Runtime) dropOldestTurn(turnID string) bool {
	rt.mu.Lock()
	cut := -1
	seen := 0
	for i, m := range rt.messages {
		if _, ok := m.(ai.UserMessage); ok {
			seen++
			if seen == 2 {
				cut = i
				break
			}
		}
	}
	if cut <= 0 {
		rt.mu.Unlock()
		return false
	}
	rt.messages = append([]ai.Message(nil), rt.messages[cut:]...)
	rt.entryIDs = append([]string(nil), rt.entryIDs[cut:]...)
	rt.mu.Unlock()

	rt.pipe.Error(turnID, "context overflow: dropped the oldest turn",
		map[string]any{"kind": "context_overflow"})
	return true
}

func (rt *Runtime) todoSummary() string {
	if rt.todos == nil {
		return ""
	}
	return rt.todos.Summary()
}
