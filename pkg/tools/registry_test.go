package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("read_file", Meta{ReadOnly: true, ConcurrencySafe: true, Category: "filesystem"}))
	r.Register(echoTool("write_file", Meta{Category: "filesystem"}))
	r.Register(echoTool("run_shell", Meta{NeedsPermission: true, Category: "shell"}))

	require.NotNil(t, r.Get("read_file"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, []string{"read_file", "run_shell", "write_file"}, r.Names())
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("read_file", Meta{}))
	assert.Panics(t, func() { r.Register(echoTool("read_file", Meta{})) })
	assert.Panics(t, func() { r.Register(echoTool("", Meta{})) })
}

func TestRegistryViews(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("read_file", Meta{ReadOnly: true, ConcurrencySafe: true, Category: "filesystem"}))
	r.Register(echoTool("grep", Meta{ReadOnly: true, ConcurrencySafe: true, Category: "filesystem"}))
	r.Register(echoTool("write_file", Meta{Category: "filesystem"}))
	r.Register(echoTool("fetch", Meta{ReadOnly: true, ConcurrencySafe: true, Category: "web"}))

	assert.Len(t, r.All(), 4)
	assert.Len(t, r.ReadOnly(), 3)
	assert.Len(t, r.ConcurrencySafe(), 3)
	assert.Len(t, r.ByCategory("filesystem"), 3)

	// Views preserve registration order.
	names := func(ts []Tool) []string {
		var out []string
		for _, tl := range ts {
			out = append(out, tl.Meta().Name)
		}
		return out
	}
	assert.Equal(t, []string{"read_file", "grep", "fetch"}, names(r.ReadOnly()))
}

func TestDefinitions(t *testing.T) {
	tool := echoTool("read_file", Meta{Description: "Read a file"})
	tool.meta.Parameters = MustSchema(SimpleSchema{
		Properties: map[string]Property{"file_path": {Type: "string"}},
		Required:   []string{"file_path"},
	})

	defs := Definitions([]Tool{tool})
	require.Len(t, defs, 1)
	assert.Equal(t, "read_file", defs[0].Name)
	assert.Equal(t, "Read a file", defs[0].Description)
	assert.NotEmpty(t, defs[0].Parameters)
}
