package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func grepFiles(t *testing.T, cwd string, params map[string]any) string {
	t.Helper()
	tool := builtin.NewGrepTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", params, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultText(result)
}

func TestGrepTool_BasicSearch(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.md"), []byte("first line\nthe protagonist enters\nlast line"), 0644)
	os.WriteFile(filepath.Join(dir, "b.md"), []byte("nothing here"), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "protagonist"})
	if !strings.Contains(out, "a.md:2:") {
		t.Errorf("out = %q", out)
	}
	if strings.Contains(out, "b.md") {
		t.Errorf("unexpected file in results: %q", out)
	}
}

func TestGrepTool_IgnoreCase(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("Chapter One"), 0644)

	if out := grepFiles(t, dir, map[string]any{"pattern": "chapter"}); !strings.Contains(out, "No matches") {
		t.Errorf("case-sensitive search matched: %q", out)
	}
	out := grepFiles(t, dir, map[string]any{"pattern": "chapter", "ignoreCase": true})
	if !strings.Contains(out, "a.txt:1:") {
		t.Errorf("out = %q", out)
	}
}

func TestGrepTool_LiteralMode(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("price is $5.00 (draft)"), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "$5.00 (draft)", "literal": true})
	if !strings.Contains(out, "a.txt:1:") {
		t.Errorf("out = %q", out)
	}
}

func TestGrepTool_InvalidRegex(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "["})
	if !strings.Contains(strings.ToLower(out), "invalid pattern") {
		t.Errorf("out = %q", out)
	}
}

func TestGrepTool_ContextLines(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("before\nmatch here\nafter"), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "match", "context": float64(1)})
	if !strings.Contains(out, "a.txt-1- before") {
		t.Errorf("missing leading context: %q", out)
	}
	if !strings.Contains(out, "a.txt:2: match here") {
		t.Errorf("missing match line: %q", out)
	}
	if !strings.Contains(out, "a.txt-3- after") {
		t.Errorf("missing trailing context: %q", out)
	}
}

func TestGrepTool_MatchLimit(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString("needle\n")
	}
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte(sb.String()), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "needle", "limit": float64(3)})
	if !strings.Contains(out, "3 matches limit reached") {
		t.Errorf("expected limit notice, got: %q", out)
	}
}

func TestGrepTool_SingleFileTarget(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "only.txt"), []byte("alpha\nbeta"), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "beta", "path": "only.txt"})
	if !strings.Contains(out, ":2: beta") {
		t.Errorf("out = %q", out)
	}
}

func TestGrepTool_GlobFilter(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.md"), []byte("shared term"), 0644)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("shared term"), 0644)

	out := grepFiles(t, dir, map[string]any{"pattern": "shared", "glob": "*.md"})
	if !strings.Contains(out, "a.md") || strings.Contains(out, "a.txt") {
		t.Errorf("glob filter failed: %q", out)
	}
}
