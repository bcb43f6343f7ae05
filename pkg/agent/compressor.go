package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

// ErrNothingToCompress is returned when the conversation has no replaceable
// prefix: everything falls inside the protected newest turns.
var ErrNothingToCompress = errors.New("agent: nothing to compress")

// CompressorConfig tunes the compressor. Zero values pick the defaults:
// trigger 0.85, target 0.6, keep 3 turns, 30s summary timeout.
type CompressorConfig struct {
	Trigger       float64
	Target        float64
	KeepTurns     int
	ContextWindow int
	Timeout       time.Duration
}

func (c *CompressorConfig) applyDefaults() {
	if c.Trigger == 0 {
		c.Trigger = 0.85
	}
	if c.Target == 0 {
		c.Target = 0.6
	}
	if c.KeepTurns == 0 {
		c.KeepTurns = 3
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// CompressorMetrics is a snapshot of compressor state.
type CompressorMetrics struct {
	// Estimate is the token estimate from the last ShouldCompress check.
	Estimate int
	// Level is Estimate over the context window.
	Level float64
	// Runs counts completed compressions.
	Runs int
	// LastRun is when the last compression finished.
	LastRun time.Time
	// LastRatio is serialized bytes after / before for the last run.
	LastRatio float64
	// LastFallback reports whether the last run used the local summary.
	LastFallback bool
}

// CompressResult is the outcome of one compression.
type CompressResult struct {
	// Messages is the new conversation: summary message plus kept suffix.
	Messages []ai.Message
	// Summary is the checkpoint text.
	Summary string
	// FirstKeptIndex is the index into the input slice of the first kept
	// message.
	FirstKeptIndex int
	TokensBefore   int
	TokensAfter    int
	// Fallback reports that the summary was produced locally.
	Fallback bool
}

// Compressor shrinks the live conversation when it approaches the model's
// context window. The replaced prefix becomes a structured checkpoint
// summary produced by a dedicated model call; when that call fails, a
// deterministic local summary takes its place.
type Compressor struct {
	cfg      CompressorConfig
	provider ai.Provider
	model    string
	opts     ai.StreamOptions
	est      *Estimator
	logger   *slog.Logger

	mu      sync.Mutex
	summary string // last checkpoint, folded into the next run
	metrics CompressorMetrics
}

// NewCompressor builds a compressor. provider may be nil, in which case
// every run uses the local fallback summary.
func NewCompressor(cfg CompressorConfig, provider ai.Provider, model string, opts ai.StreamOptions, est *Estimator, logger *slog.Logger) *Compressor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if est == nil {
		est = NewEstimator(model)
	}
	return &Compressor{cfg: cfg, provider: provider, model: model, opts: opts, est: est, logger: logger}
}

// ShouldCompress reports whether the conversation estimate crossed the
// trigger fraction of the context window.
func (c *Compressor) ShouldCompress(msgs []ai.Message) bool {
	if c.cfg.ContextWindow <= 0 {
		return false
	}
	estimate := c.est.EstimateContext(msgs).Tokens

	c.mu.Lock()
	c.metrics.Estimate = estimate
	c.metrics.Level = float64(estimate) / float64(c.cfg.ContextWindow)
	c.mu.Unlock()

	return float64(estimate) >= c.cfg.Trigger*float64(c.cfg.ContextWindow)
}

// Metrics returns a snapshot.
func (c *Compressor) Metrics() CompressorMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Compress replaces the oldest turns with a checkpoint summary, keeping at
// least the newest KeepTurns turns untouched and aiming for the target
// fraction of the window.
func (c *Compressor) Compress(ctx context.Context, msgs []ai.Message) (*CompressResult, error) {
	cut := c.cutPoint(msgs)
	if cut <= 0 {
		return nil, ErrNothingToCompress
	}
	replaced, kept := msgs[:cut], msgs[cut:]
	tokensBefore := c.est.EstimateContext(msgs).Tokens

	c.mu.Lock()
	prev := c.summary
	c.mu.Unlock()

	summary, fallback := c.summarize(ctx, replaced, prev)
	summary = c.fitSummary(ctx, summary)

	res := &CompressResult{
		Summary:        summary,
		FirstKeptIndex: cut,
		TokensBefore:   tokensBefore,
		Fallback:       fallback,
	}
	res.Messages = append([]ai.Message{summaryMessage(summary)}, kept...)
	res.TokensAfter = c.est.EstimateContext(res.Messages).Tokens

	c.mu.Lock()
	c.summary = summary
	c.metrics.Runs++
	c.metrics.LastRun = time.Now()
	c.metrics.LastFallback = fallback
	before := len(serializeConversation(msgs))
	if before > 0 {
		c.metrics.LastRatio = float64(len(serializeConversation(res.Messages))) / float64(before)
	}
	c.mu.Unlock()

	c.logger.Info("context compressed",
		"replaced", len(replaced), "kept", len(kept),
		"tokens_before", res.TokensBefore, "tokens_after", res.TokensAfter,
		"fallback", fallback)
	return res, nil
}

// cutPoint returns the index of the first kept message. Turns start at user
// messages, so the cut always lands on a user boundary and a tool call is
// never separated from its result. The kept suffix grows backwards by whole
// turns while it fits the target budget, but the newest KeepTurns turns are
// kept regardless.
func (c *Compressor) cutPoint(msgs []ai.Message) int {
	var userIdx []int
	for i, m := range msgs {
		if _, ok := m.(ai.UserMessage); ok {
			userIdx = append(userIdx, i)
		}
	}
	if len(userIdx) <= c.cfg.KeepTurns {
		return 0
	}

	cut := userIdx[len(userIdx)-c.cfg.KeepTurns]
	budget := int(c.cfg.Target * float64(c.cfg.ContextWindow))
	kept := 0
	for _, m := range msgs[cut:] {
		kept += c.est.MessageTokens(m)
	}
	for t := len(userIdx) - c.cfg.KeepTurns - 1; t >= 1; t-- {
		start := userIdx[t]
		add := 0
		for _, m := range msgs[start:cut] {
			add += c.est.MessageTokens(m)
		}
		if kept+add > budget {
			break
		}
		cut = start
		kept += add
	}
	return cut
}

// summarize produces the checkpoint text, preferring the model and falling
// back to the deterministic local summary.
func (c *Compressor) summarize(ctx context.Context, replaced []ai.Message, prevSummary string) (string, bool) {
	if c.provider == nil {
		return localSummary(replaced, prevSummary), true
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	llmCtx := ai.Context{
		SystemPrompt: checkpointSystemPrompt,
		Messages: []ai.Message{ai.UserMessage{
			Role: ai.RoleUser,
			Content: []ai.ContentBlock{ai.TextContent{
				Type: "text",
				Text: checkpointUserPrompt(serializeConversation(replaced), prevSummary),
			}},
			Timestamp: time.Now().UnixMilli(),
		}},
	}

	events, wait := c.provider.Stream(callCtx, c.model, llmCtx, c.opts)
	for range events {
	}
	final, err := wait()
	if err != nil {
		c.logger.Warn("summary call failed, using local summary", "error", err)
		return localSummary(replaced, prevSummary), true
	}
	text := messageText(final)
	if strings.TrimSpace(text) == "" {
		return localSummary(replaced, prevSummary), true
	}
	return text, false
}

// fitSummary re-summarizes the summary when it overruns its own budget
// (an eighth of the window); the last resort is truncation.
func (c *Compressor) fitSummary(ctx context.Context, summary string) string {
	if c.cfg.ContextWindow <= 0 {
		return summary
	}
	budget := c.cfg.ContextWindow / 8
	if c.est.Count(summary) <= budget {
		return summary
	}

	if c.provider != nil {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		llmCtx := ai.Context{
			SystemPrompt: checkpointSystemPrompt,
			Messages: []ai.Message{ai.UserMessage{
				Role: ai.RoleUser,
				Content: []ai.ContentBlock{ai.TextContent{
					Type: "text",
					Text: "Condense this checkpoint summary to half its length, keeping the same section structure:\n\n" + summary,
				}},
				Timestamp: time.Now().UnixMilli(),
			}},
		}
		events, wait := c.provider.Stream(callCtx, c.model, llmCtx, c.opts)
		for range events {
		}
		if final, err := wait(); err == nil {
			if text := messageText(final); strings.TrimSpace(text) != "" && c.est.Count(text) < c.est.Count(summary) {
				return text
			}
		}
	}

	// Truncate at a line boundary near the budget.
	limit := budget * 4 // chars/4 inverse
	if limit >= len(summary) {
		return summary
	}
	if nl := strings.LastIndexByte(summary[:limit], '\n'); nl > 0 {
		return summary[:nl]
	}
	return summary[:limit]
}

const checkpointSystemPrompt = `You compress a writing assistant's conversation into a checkpoint summary. Preserve everything needed to continue the work: the goal, decisions made, facts and citations gathered, and what is still open. Be specific; drop pleasantries and dead ends.`

func checkpointUserPrompt(conversation, prevSummary string) string {
	var sb strings.Builder
	if prevSummary != "" {
		sb.WriteString("An earlier checkpoint summary covers the conversation before this excerpt. Merge it with the new content:\n\n")
		sb.WriteString(prevSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Summarize the following conversation using exactly these sections:\n\n")
	sb.WriteString("## Goal\n## Decisions\n## Facts & Citations\n## Open Questions\n\n")
	sb.WriteString("Conversation:\n\n")
	sb.WriteString(conversation)
	return sb.String()
}

// localSummary is the deterministic fallback: the first sentence of each
// replaced user turn plus tool one-liners, under the same section headings.
func localSummary(replaced []ai.Message, prevSummary string) string {
	var goals, facts []string
	calls := map[string]ai.ToolCall{}
	for _, m := range replaced {
		switch msg := m.(type) {
		case ai.UserMessage:
			if s := firstSentence(messageText(msg)); s != "" {
				goals = append(goals, "- "+s)
			}
		case ai.AssistantMessage:
			for _, b := range msg.Content {
				if tc, ok := b.(ai.ToolCall); ok {
					calls[tc.ID] = tc
				}
			}
		case ai.ToolResultMessage:
			var args map[string]any
			if tc, ok := calls[msg.ToolCallID]; ok {
				args = tc.Arguments
			}
			facts = append(facts, "- "+toolOneLiner(msg.ToolName, args, resultText(msg)))
		}
	}

	var sb strings.Builder
	sb.WriteString("## Goal\n")
	if prevSummary != "" {
		sb.WriteString("- (continues an earlier compressed conversation)\n")
	}
	for _, g := range goals {
		sb.WriteString(g)
		sb.WriteString("\n")
	}
	sb.WriteString("\n## Decisions\n- (not recorded; summary produced without the model)\n")
	sb.WriteString("\n## Facts & Citations\n")
	if len(facts) == 0 {
		sb.WriteString("- none\n")
	}
	for _, f := range facts {
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString("\n## Open Questions\n- none recorded\n")
	return sb.String()
}

// serializeConversation renders messages for the summary prompt. Tool calls
// and results collapse to one-liners.
func serializeConversation(msgs []ai.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch msg := m.(type) {
		case ai.UserMessage:
			sb.WriteString("[USER] ")
			sb.WriteString(messageText(msg))
			sb.WriteString("\n")
		case ai.AssistantMessage:
			if text := messageText(msg); text != "" {
				sb.WriteString("[ASSISTANT] ")
				sb.WriteString(text)
				sb.WriteString("\n")
			}
			for _, b := range msg.Content {
				if tc, ok := b.(ai.ToolCall); ok {
					sb.WriteString("[TOOL] ")
					sb.WriteString(toolOneLiner(tc.Name, tc.Arguments, ""))
					sb.WriteString("\n")
				}
			}
		case ai.ToolResultMessage:
			sb.WriteString("[TOOL] ")
			sb.WriteString(toolOneLiner(msg.ToolName, nil, resultText(msg)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// toolOneLiner renders "used <tool> with <salient input> → <short result>".
func toolOneLiner(name string, args map[string]any, result string) string {
	line := "used " + name
	if salient := salientInput(args); salient != "" {
		line += " with " + salient
	}
	if result != "" {
		line += " → " + truncate(result, 120)
	}
	return line
}

// salientInput picks the most identifying argument of a tool call.
func salientInput(args map[string]any) string {
	for _, key := range []string{"file_path", "path", "pattern", "command", "url", "query"} {
		if s, ok := args[key].(string); ok && s != "" {
			return truncate(s, 80)
		}
	}
	for _, v := range args {
		if s, ok := v.(string); ok && s != "" {
			return truncate(s, 80)
		}
	}
	return ""
}

func summaryMessage(summary string) ai.UserMessage {
	return ai.UserMessage{
		Role: ai.RoleUser,
		Content: []ai.ContentBlock{ai.TextContent{
			Type: "text",
			Text: fmt.Sprintf("The conversation before this point was compressed into the following summary:\n\n<summary>\n%s\n</summary>", summary),
		}},
		Timestamp: time.Now().UnixMilli(),
	}
}

func messageText(m ai.Message) string {
	var blocks []ai.ContentBlock
	switch msg := m.(type) {
	case ai.UserMessage:
		blocks = msg.Content
	case ai.AssistantMessage:
		blocks = msg.Content
	case *ai.AssistantMessage:
		if msg != nil {
			blocks = msg.Content
		}
	case ai.ToolResultMessage:
		blocks = msg.Content
	}
	var sb strings.Builder
	for _, b := range blocks {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func resultText(m ai.ToolResultMessage) string {
	var sb strings.Builder
	for _, b := range m.Content {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, sep := range []string{". ", "!\n", "?\n", ".\n"} {
		if i := strings.Index(s, sep); i >= 0 {
			return s[:i+1]
		}
	}
	return truncate(s, 200)
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
