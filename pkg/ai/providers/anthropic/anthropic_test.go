package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

func serveSSE(t *testing.T, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body))
	}))
}

func sseLines(events ...[2]string) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("event: " + ev[0] + "\n")
		b.WriteString("data: " + ev[1] + "\n\n")
	}
	return b.String()
}

func runStream(t *testing.T, srv *httptest.Server, llmCtx ai.Context) ([]ai.StreamEvent, *ai.AssistantMessage, error) {
	t.Helper()
	p := New(srv.URL)
	ch, wait := p.Stream(context.Background(), "claude-test", llmCtx, ai.StreamOptions{APIKey: "k"})
	var evs []ai.StreamEvent
	for ev := range ch {
		evs = append(evs, ev)
	}
	msg, err := wait()
	return evs, msg, err
}

func TestStream_TextMessage(t *testing.T) {
	srv := serveSSE(t, sseLines(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":10,"cache_read_input_tokens":4}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"text"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"Hello "}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"text_delta","text":"world"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`},
		[2]string{"message_stop", `{}`},
	), nil)
	defer srv.Close()

	evs, msg, err := runStream(t, srv, ai.Context{Messages: []ai.Message{
		ai.UserMessage{Role: ai.RoleUser, Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: "hi"}}},
	}})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if msg.StopReason != ai.StopReasonStop {
		t.Errorf("stop = %v", msg.StopReason)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("content = %+v", msg.Content)
	}
	if txt := msg.Content[0].(ai.TextContent).Text; txt != "Hello world" {
		t.Errorf("text = %q", txt)
	}
	if msg.Usage.Input != 10 || msg.Usage.Output != 5 || msg.Usage.CacheRead != 4 {
		t.Errorf("usage = %+v", msg.Usage)
	}

	var deltas string
	for _, ev := range evs {
		if ev.Type == ai.StreamEventTextDelta {
			deltas += ev.Delta
		}
	}
	if deltas != "Hello world" {
		t.Errorf("deltas = %q", deltas)
	}
}

func TestStream_ToolCall(t *testing.T) {
	srv := serveSSE(t, sseLines(
		[2]string{"message_start", `{"message":{"usage":{"input_tokens":1}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"read"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":2}}`},
		[2]string{"message_stop", `{}`},
	), nil)
	defer srv.Close()

	_, msg, err := runStream(t, srv, ai.Context{})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if msg.StopReason != ai.StopReasonTool {
		t.Errorf("stop = %v", msg.StopReason)
	}
	tc, ok := msg.Content[0].(ai.ToolCall)
	if !ok {
		t.Fatalf("content[0] = %T", msg.Content[0])
	}
	if tc.ID != "toolu_1" || tc.Name != "read" {
		t.Errorf("call = %+v", tc)
	}
	if tc.Arguments["path"] != "a.txt" {
		t.Errorf("args = %+v", tc.Arguments)
	}
}

func TestStream_ThinkingDeltas(t *testing.T) {
	srv := serveSSE(t, sseLines(
		[2]string{"message_start", `{"message":{"usage":{}}}`},
		[2]string{"content_block_start", `{"index":0,"content_block":{"type":"thinking"}}`},
		[2]string{"content_block_delta", `{"index":0,"delta":{"type":"thinking_delta","thinking":"let me see"}}`},
		[2]string{"content_block_stop", `{"index":0}`},
		[2]string{"content_block_start", `{"index":1,"content_block":{"type":"text"}}`},
		[2]string{"content_block_delta", `{"index":1,"delta":{"type":"text_delta","text":"answer"}}`},
		[2]string{"content_block_stop", `{"index":1}`},
		[2]string{"message_delta", `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`},
		[2]string{"message_stop", `{}`},
	), nil)
	defer srv.Close()

	evs, msg, err := runStream(t, srv, ai.Context{})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if th := msg.Content[0].(ai.ThinkingContent).Thinking; th != "let me see" {
		t.Errorf("thinking = %q", th)
	}
	var sawThinking bool
	for _, ev := range evs {
		if ev.Type == ai.StreamEventThinkingDelta {
			sawThinking = true
		}
	}
	if !sawThinking {
		t.Error("no thinking_delta event")
	}
}

func TestStream_HTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	evs, _, err := runStream(t, srv, ai.Context{})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*ai.APIError)
	if !ok || apiErr.StatusCode != 503 {
		t.Errorf("err = %v", err)
	}
	if !apiErr.Retryable() {
		t.Error("503 should be retryable")
	}
	last := evs[len(evs)-1]
	if last.Type != ai.StreamEventError || last.Error == nil {
		t.Errorf("last event = %+v", last)
	}
}

func TestStream_RequestHeadersAndBody(t *testing.T) {
	var gotKey, gotVersion string
	srv := serveSSE(t, sseLines([2]string{"message_stop", `{}`}), func(r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
	})
	defer srv.Close()

	p := New(srv.URL)
	ch, wait := p.Stream(context.Background(), "m", ai.Context{SystemPrompt: "sys"}, ai.StreamOptions{APIKey: "secret"})
	for range ch {
	}
	if _, err := wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotVersion != apiVersion {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
}

func TestThinkingBudget(t *testing.T) {
	if thinkingBudget("off") != 0 || thinkingBudget("") != 0 {
		t.Error("off/empty must disable thinking")
	}
	if !(thinkingBudget("low") < thinkingBudget("medium") && thinkingBudget("medium") < thinkingBudget("high")) {
		t.Error("budgets must increase with level")
	}
}

func TestConvertMessage_ToolResult(t *testing.T) {
	wm, err := convertMessage(ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: "toolu_9",
		Content:    []ai.ContentBlock{ai.TextContent{Type: "text", Text: "done"}},
		IsError:    true,
	})
	if err != nil {
		t.Fatalf("convertMessage: %v", err)
	}
	if wm.Role != "user" || len(wm.Content) != 1 {
		t.Fatalf("wm = %+v", wm)
	}
	blk := wm.Content[0]
	if blk.Type != "tool_result" || blk.ToolUseID != "toolu_9" || !blk.IsError {
		t.Errorf("blk = %+v", blk)
	}
}
