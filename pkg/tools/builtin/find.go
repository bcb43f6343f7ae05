package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/writeflow-dev/writeflow/pkg/tools"
)

const findDefaultLimit = 1000

// FindTool searches for files matching a glob pattern. Pure-Go walk;
// respects .gitignore (basic) and skips VCS directories.
type FindTool struct {
	cwd string
}

func NewFindTool(cwd string) *FindTool { return &FindTool{cwd: cwd} }

func (t *FindTool) Meta() tools.Meta {
	return tools.Meta{
		Name: "find",
		Description: fmt.Sprintf(
			"Search for files by glob pattern. Returns matching file paths relative to the "+
				"search directory. Respects .gitignore. Output is truncated to %d results or %s.",
			findDefaultLimit, FormatSize(DefaultMaxBytes),
		),
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Glob pattern to match files, e.g. '*.md', '**/*.txt', or 'drafts/**/*.md'"},
				"path":    {Type: "string", Description: "Directory to search in (default: current directory)"},
				"limit":   {Type: "integer", Description: fmt.Sprintf("Maximum number of results (default: %d)", findDefaultLimit)},
			},
			Required: []string{"pattern"},
		}),
		ReadOnly:        true,
		ConcurrencySafe: true,
		Category:        CategoryFilesystem,
	}
}

func (t *FindTool) Execute(ctx context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	pattern := strParam(params, "pattern")
	if pattern == "" {
		return tools.ErrorResult(fmt.Errorf("pattern is required")), nil
	}

	pathParam := strParam(params, "path")
	limit := intParam(params, "limit", findDefaultLimit)
	if limit <= 0 {
		limit = findDefaultLimit
	}

	searchRoot := t.cwd
	if pathParam != "" {
		searchRoot = resolvePath(pathParam, t.cwd)
	}

	info, err := os.Stat(searchRoot)
	if err != nil || !info.IsDir() {
		return tools.ErrorResult(fmt.Errorf("path not found or not a directory: %s", searchRoot)), nil
	}

	gitIgnore := loadGitignore(searchRoot)

	var results []string
	limitReached := false

	walkErr := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || ctx.Err() != nil {
			return walkErr
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" || name == ".hg" || name == ".svn" {
				return filepath.SkipDir
			}
			if gitIgnore.matchesDir(path, searchRoot) {
				return filepath.SkipDir
			}
			return nil
		}
		if gitIgnore.matchesFile(path, searchRoot) {
			return nil
		}

		matched, _ := matchGlob(pattern, d.Name(), path, searchRoot)
		if !matched {
			return nil
		}

		rel, _ := filepath.Rel(searchRoot, path)
		results = append(results, filepath.ToSlash(rel))
		if len(results) >= limit {
			limitReached = true
			return errLimitReached
		}
		return nil
	})
	if walkErr != nil && walkErr != errLimitReached {
		return tools.ErrorResult(walkErr), nil
	}

	if len(results) == 0 {
		return tools.TextResult("No files found matching pattern"), nil
	}

	tr := TruncateHead(strings.Join(results, "\n"), maxInt, DefaultMaxBytes)
	output := tr.Content

	var notices []string
	if limitReached {
		notices = append(notices, fmt.Sprintf("%d results limit reached. Use limit=%d for more, or refine pattern", limit, limit*2))
	}
	if tr.Truncated {
		notices = append(notices, fmt.Sprintf("%s limit reached", FormatSize(DefaultMaxBytes)))
	}
	if len(notices) > 0 {
		output += "\n\n[" + strings.Join(notices, ". ") + "]"
	}

	return tools.TextResult(output), nil
}
