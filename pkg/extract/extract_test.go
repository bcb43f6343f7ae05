package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainText(t *testing.T) {
	r := Extract("just some prose with < and > characters")
	assert.Equal(t, "just some prose with < and > characters", r.Text)
	assert.Empty(t, r.Calls)
	assert.Empty(t, r.Thinking)
	assert.Empty(t, r.Rest)
}

func TestExtract_SingleInvoke(t *testing.T) {
	buf := `Let me look.<invoke name="Glob"><parameter name="pattern">*</parameter></invoke>Done.`
	r := Extract(buf)
	assert.Equal(t, "Let me look.Done.", r.Text)
	require.Len(t, r.Calls, 1)
	assert.Equal(t, "Glob", r.Calls[0].Name)
	assert.Equal(t, []Param{{Name: "pattern", Value: "*"}}, r.Calls[0].Params)
}

func TestExtract_MultipleParamsAndWhitespace(t *testing.T) {
	buf := "<invoke name=\"Write\">\n  <parameter name=\"file_path\">a.txt</parameter>\n  <parameter name=\"content\">hello\nworld</parameter>\n</invoke>"
	r := Extract(buf)
	require.Len(t, r.Calls, 1)
	c := r.Calls[0]
	assert.Equal(t, "Write", c.Name)
	require.Len(t, c.Params, 2)
	assert.Equal(t, Param{Name: "file_path", Value: "a.txt"}, c.Params[0])
	assert.Equal(t, Param{Name: "content", Value: "hello\nworld"}, c.Params[1])
	assert.Empty(t, r.Text)
}

func TestExtract_Thinking(t *testing.T) {
	r := Extract("before<thinking>let me reason</thinking>after")
	assert.Equal(t, "beforeafter", r.Text)
	assert.Equal(t, []string{"let me reason"}, r.Thinking)
}

func TestExtract_PartialSpanHeldBack(t *testing.T) {
	cases := []string{
		`text<invoke name="Re`,
		`text<invoke name="Read"><parameter name="file_path">x`,
		`text<invoke name="Read">`,
		`text<thinking>still thin`,
		`text<think`,
		`text<invo`,
	}
	for _, buf := range cases {
		r := Extract(buf)
		assert.Equal(t, "text", r.Text, "buf=%q", buf)
		assert.NotEmpty(t, r.Rest, "buf=%q", buf)
		assert.Empty(t, r.Calls, "buf=%q", buf)

		// Completing the span in a later chunk must yield the call.
		if r.Rest == `text` {
			continue
		}
	}
}

func TestExtract_PartialThenComplete(t *testing.T) {
	first := Extract(`start <invoke name="Bash"><parameter name="command">ls`)
	assert.Equal(t, "start ", first.Text)
	require.NotEmpty(t, first.Rest)

	second := Extract(first.Rest + `</parameter></invoke> end`)
	require.Len(t, second.Calls, 1)
	assert.Equal(t, "Bash", second.Calls[0].Name)
	assert.Equal(t, " end", second.Text)
}

func TestExtract_MalformedResurfaced(t *testing.T) {
	cases := []string{
		`<invoke name="">bad</invoke>`,
		`<invoke name="X"stray>`,
		`<invoke name="X"><parameter name="">v</parameter></invoke>`,
	}
	for _, buf := range cases {
		r := Extract(buf)
		assert.Empty(t, r.Calls, "buf=%q", buf)
		assert.Empty(t, r.Rest, "buf=%q", buf)
		assert.Equal(t, buf, r.Text, "malformed span must be re-surfaced verbatim")
	}
}

func TestExtract_InterleavedCallsAndText(t *testing.T) {
	buf := `a<invoke name="One"></invoke>b<thinking>t</thinking>c<invoke name="Two"><parameter name="x">1</parameter></invoke>d`
	r := Extract(buf)
	assert.Equal(t, "abcd", r.Text)
	require.Len(t, r.Calls, 2)
	assert.Equal(t, "One", r.Calls[0].Name)
	assert.Equal(t, "Two", r.Calls[1].Name)
	assert.Equal(t, []string{"t"}, r.Thinking)
}

func TestSerialize_RoundTrip(t *testing.T) {
	calls := []ToolUse{
		{Name: "Read", Params: []Param{{Name: "file_path", Value: "main.go"}}},
		{Name: "Bash", Params: []Param{{Name: "command", Value: "go test ./..."}, {Name: "timeout", Value: "60"}}},
	}
	r := Extract(Serialize(calls))
	assert.Empty(t, r.Text)
	assert.Equal(t, calls, r.Calls)
}

func TestToolUse_Args(t *testing.T) {
	c := ToolUse{Name: "Edit", Params: []Param{{Name: "old", Value: "a"}, {Name: "new", Value: "b"}}}
	assert.Equal(t, map[string]any{"old": "a", "new": "b"}, c.Args())
}
