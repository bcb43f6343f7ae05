package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func lsDir(t *testing.T, cwd string, params map[string]any) string {
	t.Helper()
	tool := builtin.NewLsTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", params, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultText(result)
}

func TestLsTool_ListsSorted(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "A.txt"), nil, 0644)
	os.Mkdir(filepath.Join(dir, "sub"), 0755)

	out := lsDir(t, dir, map[string]any{})
	want := "A.txt\nb.txt\nsub/"
	if out != want {
		t.Errorf("out = %q, want %q", out, want)
	}
}

func TestLsTool_IncludesDotfiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0644)

	out := lsDir(t, dir, map[string]any{})
	if !strings.Contains(out, ".hidden") {
		t.Errorf("dotfile missing: %q", out)
	}
}

func TestLsTool_EmptyDir(t *testing.T) {
	out := lsDir(t, t.TempDir(), map[string]any{})
	if out != "(empty directory)" {
		t.Errorf("out = %q", out)
	}
}

func TestLsTool_Limit(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a", "b", "c", "d"} {
		os.WriteFile(filepath.Join(dir, n), nil, 0644)
	}

	out := lsDir(t, dir, map[string]any{"limit": float64(2)})
	if !strings.Contains(out, "limit reached") {
		t.Errorf("expected limit notice, got: %q", out)
	}
}

func TestLsTool_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), nil, 0644)

	out := lsDir(t, dir, map[string]any{"path": "f.txt"})
	if !strings.Contains(strings.ToLower(out), "error") {
		t.Errorf("out = %q", out)
	}
}
