// Package anthropic implements ai.Provider for the Anthropic Messages API,
// streaming over SSE.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/writeflow-dev/writeflow/pkg/ai"
	"github.com/writeflow-dev/writeflow/pkg/ai/sse"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 8192
)

// Provider streams from the Anthropic Messages API.
type Provider struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Provider. Pass "" to use the public endpoint.
func New(baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (p *Provider) Name() string { return "anthropic" }

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// tool_use (assistant side)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// tool_result (user side)
	ToolUseID string        `json:"tool_use_id,omitempty"`
	Content   []wireContent `json:"content,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`

	CacheControl *wireCacheCtrl `json:"cache_control,omitempty"`
}

type wireCacheCtrl struct {
	Type string `json:"type"` // "ephemeral"
}

type wireSystemBlock struct {
	Type         string         `json:"type"` // "text"
	Text         string         `json:"text"`
	CacheControl *wireCacheCtrl `json:"cache_control,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireThinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type wireRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      any             `json:"system,omitempty"` // []wireSystemBlock
	Messages    []wireMessage   `json:"messages"`
	Tools       []wireTool      `json:"tools,omitempty"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	Thinking    *wireThinking   `json:"thinking,omitempty"`
}

// SSE payloads.
type evMessageStart struct {
	Message struct {
		Usage struct {
			InputTokens              int `json:"input_tokens"`
			OutputTokens             int `json:"output_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type evBlockStart struct {
	Index        int         `json:"index"`
	ContentBlock wireContent `json:"content_block"`
}

type evBlockDelta struct {
	Index int `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type evMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type evError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// thinkingBudget maps a thinking level to a token budget for models that
// use budget-based extended thinking.
func thinkingBudget(level string) int {
	switch level {
	case "low":
		return 4096
	case "medium":
		return 12288
	case "high":
		return 24576
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func (p *Provider) Stream(
	ctx context.Context,
	model string,
	llmCtx ai.Context,
	opts ai.StreamOptions,
) (<-chan ai.StreamEvent, func() (*ai.AssistantMessage, error)) {
	events := make(chan ai.StreamEvent, 64)
	var finalMsg *ai.AssistantMessage
	var finalErr error
	done := make(chan struct{})

	go func() {
		defer close(events)
		defer close(done)
		finalMsg, finalErr = p.stream(ctx, model, llmCtx, opts, events)
		if finalErr != nil {
			events <- ai.StreamEvent{Type: ai.StreamEventError, Error: finalErr}
		}
	}()

	return events, func() (*ai.AssistantMessage, error) {
		<-done
		return finalMsg, finalErr
	}
}

func (p *Provider) stream(
	ctx context.Context,
	model string,
	llmCtx ai.Context,
	opts ai.StreamOptions,
	events chan<- ai.StreamEvent,
) (*ai.AssistantMessage, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	req := wireRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Stream:      true,
		Temperature: opts.Temperature,
	}

	if llmCtx.SystemPrompt != "" {
		// Cache breakpoint on the system prompt: it is the stable prefix
		// of every turn.
		req.System = []wireSystemBlock{{
			Type:         "text",
			Text:         llmCtx.SystemPrompt,
			CacheControl: &wireCacheCtrl{Type: "ephemeral"},
		}}
	}

	if budget := thinkingBudget(opts.ThinkingLevel); budget > 0 {
		req.Thinking = &wireThinking{Type: "enabled", BudgetTokens: budget}
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + defaultMaxTokens
		}
	}

	for _, m := range llmCtx.Messages {
		wm, err := convertMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, wm)
	}
	for _, t := range llmCtx.Tools {
		req.Tools = append(req.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", opts.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &ai.APIError{Provider: "anthropic", StatusCode: resp.StatusCode, Body: string(b)}
	}

	partial := &ai.AssistantMessage{
		Role:      ai.RoleAssistant,
		Model:     model,
		Provider:  "anthropic",
		Timestamp: time.Now().UnixMilli(),
	}

	// Per-index state for open content blocks.
	type blockState struct {
		kind    string // "text" | "thinking" | "tool_use"
		id      string
		name    string
		args    string
		content int // index into partial.Content for text/thinking
	}
	blocks := map[int]*blockState{}

	send := func(t ai.StreamEventType, delta, callID string) {
		events <- ai.StreamEvent{Type: t, Partial: snapshot(partial), Delta: delta, CallID: callID}
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("anthropic: sse read: %w", err)
		}
		if ev.Data == "" {
			continue
		}

		switch ev.Type {
		case "message_start":
			var ms evMessageStart
			if json.Unmarshal([]byte(ev.Data), &ms) == nil {
				partial.Usage.Input = ms.Message.Usage.InputTokens
				partial.Usage.CacheRead = ms.Message.Usage.CacheReadInputTokens
				partial.Usage.CacheWrite = ms.Message.Usage.CacheCreationInputTokens
			}
			send(ai.StreamEventStart, "", "")

		case "content_block_start":
			var bs evBlockStart
			if json.Unmarshal([]byte(ev.Data), &bs) != nil {
				continue
			}
			st := &blockState{kind: bs.ContentBlock.Type}
			blocks[bs.Index] = st
			switch st.kind {
			case "text":
				partial.Content = append(partial.Content, ai.TextContent{Type: "text"})
				st.content = len(partial.Content) - 1
			case "thinking":
				partial.Content = append(partial.Content, ai.ThinkingContent{Type: "thinking"})
				st.content = len(partial.Content) - 1
			case "tool_use":
				st.id = bs.ContentBlock.ID
				if st.id == "" {
					st.id = "call_" + uuid.NewString()[:8]
				}
				st.name = bs.ContentBlock.Name
				send(ai.StreamEventToolCallStart, st.name, st.id)
			}

		case "content_block_delta":
			var bd evBlockDelta
			if json.Unmarshal([]byte(ev.Data), &bd) != nil {
				continue
			}
			st := blocks[bd.Index]
			if st == nil {
				continue
			}
			switch bd.Delta.Type {
			case "text_delta":
				tb := partial.Content[st.content].(ai.TextContent)
				tb.Text += bd.Delta.Text
				partial.Content[st.content] = tb
				send(ai.StreamEventTextDelta, bd.Delta.Text, "")
			case "thinking_delta":
				tb := partial.Content[st.content].(ai.ThinkingContent)
				tb.Thinking += bd.Delta.Thinking
				partial.Content[st.content] = tb
				send(ai.StreamEventThinkingDelta, bd.Delta.Thinking, "")
			case "input_json_delta":
				st.args += bd.Delta.PartialJSON
				send(ai.StreamEventToolCallDelta, bd.Delta.PartialJSON, st.id)
			}

		case "content_block_stop":
			var idx struct {
				Index int `json:"index"`
			}
			if json.Unmarshal([]byte(ev.Data), &idx) != nil {
				continue
			}
			st := blocks[idx.Index]
			if st == nil || st.kind != "tool_use" {
				continue
			}
			var args map[string]any
			_ = json.Unmarshal([]byte(st.args), &args)
			partial.Content = append(partial.Content, ai.ToolCall{
				Type:      "tool_call",
				ID:        st.id,
				Name:      st.name,
				Arguments: args,
			})
			send(ai.StreamEventToolCallEnd, "", st.id)

		case "message_delta":
			var md evMessageDelta
			if json.Unmarshal([]byte(ev.Data), &md) == nil {
				partial.StopReason = mapStopReason(md.Delta.StopReason)
				partial.Usage.Output = md.Usage.OutputTokens
				partial.Usage.TotalTokens = partial.Usage.Input + partial.Usage.Output +
					partial.Usage.CacheRead + partial.Usage.CacheWrite
			}

		case "message_stop":
			send(ai.StreamEventDone, "", "")

		case "error":
			var ee evError
			_ = json.Unmarshal([]byte(ev.Data), &ee)
			return nil, fmt.Errorf("anthropic: %s: %s", ee.Error.Type, ee.Error.Message)
		}
	}

	if partial.StopReason == "" {
		partial.StopReason = ai.StopReasonStop
	}
	return partial, nil
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func convertMessage(m ai.Message) (wireMessage, error) {
	switch msg := m.(type) {
	case ai.UserMessage:
		var content []wireContent
		for _, c := range msg.Content {
			if tc, ok := c.(ai.TextContent); ok {
				content = append(content, wireContent{Type: "text", Text: tc.Text})
			}
		}
		return wireMessage{Role: "user", Content: content}, nil

	case ai.AssistantMessage:
		var content []wireContent
		for _, c := range msg.Content {
			switch blk := c.(type) {
			case ai.TextContent:
				content = append(content, wireContent{Type: "text", Text: blk.Text})
			case ai.ToolCall:
				content = append(content, wireContent{
					Type:  "tool_use",
					ID:    blk.ID,
					Name:  blk.Name,
					Input: blk.Arguments,
				})
			}
			// Thinking blocks are not replayed to the API.
		}
		return wireMessage{Role: "assistant", Content: content}, nil

	case ai.ToolResultMessage:
		var inner []wireContent
		for _, c := range msg.Content {
			if tc, ok := c.(ai.TextContent); ok {
				inner = append(inner, wireContent{Type: "text", Text: tc.Text})
			}
		}
		return wireMessage{
			Role: "user",
			Content: []wireContent{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   inner,
				IsError:   msg.IsError,
			}},
		}, nil
	}
	return wireMessage{}, fmt.Errorf("anthropic: unsupported message type %T", m)
}

func snapshot(msg *ai.AssistantMessage) *ai.AssistantMessage {
	cp := *msg
	cp.Content = make([]ai.ContentBlock, len(msg.Content))
	copy(cp.Content, msg.Content)
	return &cp
}

func mapStopReason(s string) ai.StopReason {
	switch s {
	case "end_turn":
		return ai.StopReasonStop
	case "max_tokens":
		return ai.StopReasonLength
	case "tool_use":
		return ai.StopReasonTool
	default:
		return ai.StopReason(s)
	}
}
