package agent

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

// Estimator counts tokens for context-budget decisions. When a tiktoken
// encoding can be loaded for the configured model it is used; otherwise the
// chars/4 heuristic applies. The encoding loads lazily on first use so a
// missing BPE cache never blocks startup.
type Estimator struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator builds an estimator for the given model ID.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		if enc, err := tiktoken.EncodingForModel(e.model); err == nil {
			e.enc = enc
			return
		}
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// Count returns the token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// MessageTokens estimates one message, including tool-call arguments and
// tool-result payloads, plus a small per-message framing overhead.
func (e *Estimator) MessageTokens(msg ai.Message) int {
	const framing = 4

	total := framing
	switch m := msg.(type) {
	case ai.UserMessage:
		total += e.blocksTokens(m.Content)
	case ai.AssistantMessage:
		total += e.blocksTokens(m.Content)
	case ai.ToolResultMessage:
		total += e.Count(m.ToolName)
		total += e.blocksTokens(m.Content)
	}
	return total
}

func (e *Estimator) blocksTokens(blocks []ai.ContentBlock) int {
	total := 0
	for _, b := range blocks {
		switch blk := b.(type) {
		case ai.TextContent:
			total += e.Count(blk.Text)
		case ai.ThinkingContent:
			total += e.Count(blk.Thinking)
		case ai.ToolCall:
			total += e.Count(blk.Name)
			if args, err := json.Marshal(blk.Arguments); err == nil {
				total += e.Count(string(args))
			}
		}
	}
	return total
}

// ContextUsage describes the estimated input size of the next model call.
type ContextUsage struct {
	// Tokens is the best overall estimate: the last reported usage plus an
	// estimate of everything after it.
	Tokens int
	// UsageTokens is the token count reported by the most recent assistant
	// message, when one exists.
	UsageTokens int
	// TrailingTokens is the estimate for messages after that assistant
	// message.
	TrailingTokens int
}

// EstimateContext sizes the live conversation. Provider-reported usage is
// authoritative for everything up to the last assistant message; only the
// trailing messages are estimated. Without any usage the whole conversation
// is estimated.
func (e *Estimator) EstimateContext(msgs []ai.Message) ContextUsage {
	lastAssistant := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if am, ok := msgs[i].(ai.AssistantMessage); ok && usageTotal(am.Usage) > 0 {
			lastAssistant = i
			break
		}
	}

	var u ContextUsage
	start := 0
	if lastAssistant >= 0 {
		u.UsageTokens = usageTotal(msgs[lastAssistant].(ai.AssistantMessage).Usage)
		start = lastAssistant + 1
	}
	for _, m := range msgs[start:] {
		u.TrailingTokens += e.MessageTokens(m)
	}
	u.Tokens = u.UsageTokens + u.TrailingTokens
	return u
}

func usageTotal(u ai.Usage) int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.Input + u.CacheRead + u.Output
}
