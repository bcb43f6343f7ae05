package builtin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func findFiles(t *testing.T, cwd string, params map[string]any) string {
	t.Helper()
	tool := builtin.NewFindTool(cwd)
	result, err := tool.Execute(context.Background(), "c1", params, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return resultText(result)
}

func seedTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "drafts", "deep"), 0755)
	os.WriteFile(filepath.Join(dir, "intro.md"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "drafts", "ch1.md"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "drafts", "deep", "ch2.md"), nil, 0644)
	return dir
}

func TestFindTool_SimpleGlob(t *testing.T) {
	dir := seedTree(t)
	out := findFiles(t, dir, map[string]any{"pattern": "*.md"})
	for _, want := range []string{"intro.md", "drafts/ch1.md", "drafts/deep/ch2.md"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in: %q", want, out)
		}
	}
	if strings.Contains(out, "notes.txt") {
		t.Errorf("unexpected match: %q", out)
	}
}

func TestFindTool_DoubleStarGlob(t *testing.T) {
	dir := seedTree(t)
	out := findFiles(t, dir, map[string]any{"pattern": "drafts/**/*.md"})
	if !strings.Contains(out, "drafts/deep/ch2.md") {
		t.Errorf("missing nested match: %q", out)
	}
	if strings.Contains(out, "intro.md") {
		t.Errorf("intro.md should not match drafts/**: %q", out)
	}
}

func TestFindTool_NoMatches(t *testing.T) {
	out := findFiles(t, seedTree(t), map[string]any{"pattern": "*.docx"})
	if !strings.Contains(out, "No files found") {
		t.Errorf("out = %q", out)
	}
}

func TestFindTool_RespectsGitignore(t *testing.T) {
	dir := seedTree(t)
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("notes.txt\n"), 0644)
	out := findFiles(t, dir, map[string]any{"pattern": "*"})
	if strings.Contains(out, "notes.txt") {
		t.Errorf("gitignored file returned: %q", out)
	}
}

func TestFindTool_SkipsVCSDirs(t *testing.T) {
	dir := seedTree(t)
	os.MkdirAll(filepath.Join(dir, ".git"), 0755)
	os.WriteFile(filepath.Join(dir, ".git", "config.md"), nil, 0644)
	out := findFiles(t, dir, map[string]any{"pattern": "*.md"})
	if strings.Contains(out, "config.md") {
		t.Errorf(".git contents returned: %q", out)
	}
}

func TestFindTool_MissingPattern(t *testing.T) {
	out := findFiles(t, t.TempDir(), map[string]any{})
	if !strings.Contains(strings.ToLower(out), "error") {
		t.Errorf("out = %q", out)
	}
}
