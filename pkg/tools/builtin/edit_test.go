package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func editFile(t *testing.T, cwd, path, oldText, newText string) string {
	t.Helper()
	tool := builtin.NewEditTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", map[string]any{
		"path":    path,
		"oldText": oldText,
		"newText": newText,
	}, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultText(result)
}

func TestEditTool_BasicReplace(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "draft.md")
	os.WriteFile(f, []byte("The quick brown fox.\n"), 0644)

	editFile(t, dir, "draft.md", "quick", "sly")

	data, _ := os.ReadFile(f)
	if !strings.Contains(string(data), "sly") {
		t.Errorf("replacement not applied, got: %s", data)
	}
	if strings.Contains(string(data), "quick") {
		t.Errorf("old text still present: %s", data)
	}
}

func TestEditTool_MultilineReplace(t *testing.T) {
	dir := t.TempDir()
	original := "line one\nline two\nline three\n"
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte(original), 0644)

	editFile(t, dir, "f.txt", "line one\nline two", "replaced")

	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if !strings.Contains(string(data), "replaced") {
		t.Errorf("multiline replace failed, got: %s", data)
	}
}

func TestEditTool_SmartQuoteFuzzyMatch(t *testing.T) {
	dir := t.TempDir()
	// File has curly quotes; the model asks with straight quotes.
	os.WriteFile(filepath.Join(dir, "f.md"), []byte("She said “hello” quietly.\n"), 0644)

	editFile(t, dir, "f.md", `She said "hello" quietly.`, `She said "goodbye" quietly.`)

	data, _ := os.ReadFile(filepath.Join(dir, "f.md"))
	if !strings.Contains(string(data), "goodbye") {
		t.Errorf("fuzzy replace failed, got: %s", data)
	}
}

func TestEditTool_NotFound(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0644)

	out := editFile(t, dir, "f.txt", "DOES_NOT_EXIST", "x")
	if !strings.Contains(strings.ToLower(out), "error") {
		t.Errorf("expected not-found error, got: %q", out)
	}
}

func TestEditTool_AmbiguousMatch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("foo\nfoo\n"), 0644)

	out := editFile(t, dir, "f.txt", "foo", "bar")
	if !strings.Contains(strings.ToLower(out), "error") {
		t.Errorf("expected ambiguity error, got: %q", out)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(data) != "foo\nfoo\n" {
		t.Errorf("file must be untouched on ambiguity, got: %s", data)
	}
}

func TestEditTool_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	out := editFile(t, dir, "missing.txt", "x", "y")
	if !strings.Contains(strings.ToLower(out), "error") {
		t.Errorf("expected error for missing file, got: %q", out)
	}
}

func TestEditTool_PreservesCRLF(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "win.txt"), []byte("alpha\r\nbeta\r\n"), 0644)

	editFile(t, dir, "win.txt", "beta", "gamma")

	data, _ := os.ReadFile(filepath.Join(dir, "win.txt"))
	if !strings.Contains(string(data), "gamma\r\n") {
		t.Errorf("CRLF not preserved, got: %q", data)
	}
}

func TestEditTool_Meta(t *testing.T) {
	m := builtin.NewEditTool(".").Meta()
	if m.Name != "edit" {
		t.Errorf("name = %q", m.Name)
	}
}
