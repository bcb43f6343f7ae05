package session

import (
	"os"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

func userMsg(text string) ai.UserMessage {
	return ai.UserMessage{
		Role:    ai.RoleUser,
		Content: []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
	}
}

func assistantMsg(text string) ai.AssistantMessage {
	return ai.AssistantMessage{
		Role:       ai.RoleAssistant,
		Content:    []ai.ContentBlock{ai.TextContent{Type: "text", Text: text}},
		Model:      "test-model",
		Provider:   "test",
		StopReason: ai.StopReasonStop,
	}
}

func TestCreateAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	s, err := Create(dir, "/work")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.AppendMessage(userMsg("draft an intro")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(assistantMsg("Here is an intro.")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	am, ok := msgs[1].(ai.AssistantMessage)
	if !ok {
		t.Fatalf("msgs[1] = %T", msgs[1])
	}
	if am.Model != "test-model" || am.StopReason != ai.StopReasonStop {
		t.Errorf("assistant = %+v", am)
	}
	s.Close()
}

func TestLoad_RestoresLeafAndCWD(t *testing.T) {
	dir := t.TempDir()
	s, _ := Create(dir, "/work")
	id := s.ID()
	lastID, _ := s.AppendMessage(userMsg("one"))
	s.Close()

	re, err := Load(dir, id[:8])
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer re.Close()
	if re.ID() != id {
		t.Errorf("id = %q, want %q", re.ID(), id)
	}
	if re.CWD() != "/work" {
		t.Errorf("cwd = %q", re.CWD())
	}
	if re.LeafID() != lastID {
		t.Errorf("leaf = %q, want %q", re.LeafID(), lastID)
	}

	// Appends after resume land in the same file.
	if _, err := re.AppendMessage(userMsg("two")); err != nil {
		t.Fatalf("append after resume: %v", err)
	}
	msgs, _ := re.Messages()
	if len(msgs) != 2 {
		t.Errorf("len = %d", len(msgs))
	}
}

func TestLoad_UnknownPrefix(t *testing.T) {
	if _, err := Load(t.TempDir(), "deadbeef"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCompaction_ReplacesPrefixOnLoad(t *testing.T) {
	dir := t.TempDir()
	s, _ := Create(dir, ".")

	s.AppendMessage(userMsg("old question"))
	s.AppendMessage(assistantMsg("old answer"))
	keptID, _ := s.AppendMessage(userMsg("recent question"))
	s.AppendMessage(assistantMsg("recent answer"))

	if err := s.AppendCompaction("User asked an old question and got an answer.", keptID, 9000, 3000); err != nil {
		t.Fatalf("AppendCompaction: %v", err)
	}
	s.AppendMessage(userMsg("after compaction"))

	msgs, err := s.Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	// summary + 2 kept + 1 post-compaction
	if len(msgs) != 4 {
		t.Fatalf("len = %d: %+v", len(msgs), msgs)
	}
	first := msgs[0].(ai.UserMessage).Content[0].(ai.TextContent).Text
	if !strings.Contains(first, "<summary>") || !strings.Contains(first, "old question") {
		t.Errorf("summary = %q", first)
	}
	second := msgs[1].(ai.UserMessage).Content[0].(ai.TextContent).Text
	if second != "recent question" {
		t.Errorf("first kept = %q", second)
	}
	s.Close()
}

func TestParseMessages_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s, _ := Create(dir, ".")
	s.AppendMessage(userMsg("good"))
	path := s.FilePath()
	s.Close()

	f, _ := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	f.WriteString("not json at all\n")
	f.Close()

	data, _ := os.ReadFile(path)
	msgs, err := ParseMessages(data)
	if err != nil {
		t.Fatalf("ParseMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("len = %d", len(msgs))
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, _ := Create(dir, ".")
	defer s.Close()

	s.AppendMessage(ai.ToolResultMessage{
		Role:       ai.RoleToolResult,
		ToolCallID: "call_1",
		ToolName:   "read",
		Content:    []ai.ContentBlock{ai.TextContent{Type: "text", Text: "file body"}},
		IsError:    true,
	})

	msgs, _ := s.Messages()
	tr, ok := msgs[0].(ai.ToolResultMessage)
	if !ok {
		t.Fatalf("msgs[0] = %T", msgs[0])
	}
	if tr.ToolCallID != "call_1" || tr.ToolName != "read" || !tr.IsError {
		t.Errorf("tr = %+v", tr)
	}
}

func TestToolCallBlockRoundTrip(t *testing.T) {
	raw, err := MarshalMessage(ai.AssistantMessage{
		Role: ai.RoleAssistant,
		Content: []ai.ContentBlock{
			ai.ThinkingContent{Type: "thinking", Thinking: "hmm"},
			ai.ToolCall{Type: "tool_call", ID: "c1", Name: "grep", Arguments: map[string]any{"pattern": "x"}},
		},
	})
	if err != nil {
		t.Fatalf("MarshalMessage: %v", err)
	}
	m, err := UnmarshalMessage("assistant", raw)
	if err != nil {
		t.Fatalf("UnmarshalMessage: %v", err)
	}
	am := m.(ai.AssistantMessage)
	if th := am.Content[0].(ai.ThinkingContent).Thinking; th != "hmm" {
		t.Errorf("thinking = %q", th)
	}
	tc := am.Content[1].(ai.ToolCall)
	if tc.Name != "grep" || tc.Arguments["pattern"] != "x" {
		t.Errorf("tc = %+v", tc)
	}
}

func TestState_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	id := "0123456789abcdef"

	st, err := LoadState(dir, id)
	if err != nil {
		t.Fatalf("LoadState empty: %v", err)
	}
	if len(st.PermanentGrants) != 0 {
		t.Errorf("st = %+v", st)
	}

	want := State{PermanentGrants: []string{"bash", "write"}, Model: "claude-sonnet-4-5"}
	if err := SaveState(dir, id, want); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := LoadState(dir, id)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if len(got.PermanentGrants) != 2 || got.Model != want.Model {
		t.Errorf("got = %+v", got)
	}
}
