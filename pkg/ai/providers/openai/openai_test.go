package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

func serveChunks(t *testing.T, chunks []string, capture *wireRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		var b strings.Builder
		for _, c := range chunks {
			b.WriteString("data: " + c + "\n\n")
		}
		b.WriteString("data: [DONE]\n\n")
		w.Write([]byte(b.String()))
	}))
}

func runStream(t *testing.T, srv *httptest.Server, llmCtx ai.Context, opts ai.StreamOptions) ([]ai.StreamEvent, *ai.AssistantMessage, error) {
	t.Helper()
	p := New(srv.URL)
	ch, wait := p.Stream(context.Background(), "gpt-test", llmCtx, opts)
	var evs []ai.StreamEvent
	for ev := range ch {
		evs = append(evs, ev)
	}
	msg, err := wait()
	return evs, msg, err
}

func TestStream_Text(t *testing.T) {
	srv := serveChunks(t, []string{
		`{"choices":[{"delta":{"content":"Hi "}}]}`,
		`{"choices":[{"delta":{"content":"there"},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16,"prompt_tokens_details":{"cached_tokens":8}}}`,
	}, nil)
	defer srv.Close()

	evs, msg, err := runStream(t, srv, ai.Context{}, ai.StreamOptions{})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if txt := msg.Content[0].(ai.TextContent).Text; txt != "Hi there" {
		t.Errorf("text = %q", txt)
	}
	if msg.StopReason != ai.StopReasonStop {
		t.Errorf("stop = %v", msg.StopReason)
	}
	if msg.Usage.Input != 12 || msg.Usage.Output != 4 || msg.Usage.CacheRead != 8 {
		t.Errorf("usage = %+v", msg.Usage)
	}
	if evs[0].Type != ai.StreamEventStart {
		t.Errorf("first event = %v", evs[0].Type)
	}
	if evs[len(evs)-1].Type != ai.StreamEventDone {
		t.Errorf("last event = %v", evs[len(evs)-1].Type)
	}
}

func TestStream_ToolCallAccumulation(t *testing.T) {
	srv := serveChunks(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"grep"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"pattern\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"foo\"}"}}]},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer srv.Close()

	_, msg, err := runStream(t, srv, ai.Context{}, ai.StreamOptions{})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if msg.StopReason != ai.StopReasonTool {
		t.Errorf("stop = %v", msg.StopReason)
	}
	tc := msg.Content[0].(ai.ToolCall)
	if tc.ID != "call_1" || tc.Name != "grep" || tc.Arguments["pattern"] != "foo" {
		t.Errorf("call = %+v", tc)
	}
}

func TestStream_RequestShape(t *testing.T) {
	var req wireRequest
	srv := serveChunks(t, nil, &req)
	defer srv.Close()

	llmCtx := ai.Context{
		SystemPrompt: "be brief",
		Messages: []ai.Message{
			ai.UserMessage{Role: ai.RoleUser, Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: "q"}}},
			ai.ToolResultMessage{Role: ai.RoleToolResult, ToolCallID: "call_9", Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: "out"}}},
		},
		Tools: []ai.ToolDefinition{{Name: "read", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}
	_, _, err := runStream(t, srv, llmCtx, ai.StreamOptions{MaxTokens: 100, ThinkingLevel: "high"})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(req.Messages) != 3 || req.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.Messages[2].Role != "tool" || req.Messages[2].ToolCallID != "call_9" {
		t.Errorf("tool msg = %+v", req.Messages[2])
	}
	if req.MaxCompletionTokens != 100 || req.ReasoningEffort != "high" {
		t.Errorf("req = %+v", req)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "read" {
		t.Errorf("tools = %+v", req.Tools)
	}
	if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
		t.Error("usage reporting must be requested")
	}
}

func TestStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, _, err := runStream(t, srv, ai.Context{}, ai.StreamOptions{})
	apiErr, ok := err.(*ai.APIError)
	if !ok || apiErr.StatusCode != 401 {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Retryable() {
		t.Error("401 must not be retryable")
	}
}

func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	wm, err := convertMessage(ai.AssistantMessage{
		Role: ai.RoleAssistant,
		Content: []ai.ContentBlock{
			ai.TextContent{Type: "text", Text: "running"},
			ai.ToolCall{Type: "tool_call", ID: "call_2", Name: "bash", Arguments: map[string]any{"command": "ls"}},
		},
	})
	if err != nil {
		t.Fatalf("convertMessage: %v", err)
	}
	if wm.Content != "running" || len(wm.ToolCalls) != 1 {
		t.Fatalf("wm = %+v", wm)
	}
	if wm.ToolCalls[0].Function.Name != "bash" || !strings.Contains(wm.ToolCalls[0].Function.Arguments, "ls") {
		t.Errorf("tc = %+v", wm.ToolCalls[0])
	}
}
