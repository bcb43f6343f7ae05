package builtin

import (
	"context"
	"fmt"
	"os"

	"github.com/writeflow-dev/writeflow/pkg/tools"
)

// ReadTool reads text files with pagination and truncation.
type ReadTool struct {
	cwd string
}

func NewReadTool(cwd string) *ReadTool { return &ReadTool{cwd: cwd} }

func (t *ReadTool) Meta() tools.Meta {
	return tools.Meta{
		Name: "read",
		Description: fmt.Sprintf(
			"Read the contents of a text file. Output is truncated to %d lines or %s "+
				"(whichever is hit first). Use offset/limit for large files; continue "+
				"with offset until complete when you need the whole file.",
			DefaultMaxLines, FormatSize(DefaultMaxBytes),
		),
		Parameters: tools.MustSchema(tools.SimpleSchema{
			Properties: map[string]tools.Property{
				"path":   {Type: "string", Description: "Path to the file to read (relative or absolute)"},
				"offset": {Type: "integer", Description: "Line number to start reading from (1-indexed)"},
				"limit":  {Type: "integer", Description: "Maximum number of lines to read"},
			},
			Required: []string{"path"},
		}),
		ReadOnly:        true,
		ConcurrencySafe: true,
		Category:        CategoryFilesystem,
	}
}

func (t *ReadTool) Execute(_ context.Context, _ string, params map[string]any, _ tools.UpdateFn) (tools.Result, error) {
	pathParam := strParam(params, "path")
	if pathParam == "" {
		return tools.ErrorResult(fmt.Errorf("path is required")), nil
	}

	absPath := resolvePath(pathParam, t.cwd)
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return tools.ErrorResult(fmt.Errorf("cannot read %s: %w", pathParam, err)), nil
	}

	allLines := splitLines(normalizeToLF(string(raw)))
	totalFileLines := len(allLines)

	offset := intParam(params, "offset", 0)
	limit := intParam(params, "limit", 0)

	startLine := 0
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= totalFileLines {
		return tools.ErrorResult(fmt.Errorf("offset %d is beyond end of file (%d lines total)", offset, totalFileLines)), nil
	}

	var selected string
	var limitedLines int
	if limit > 0 {
		endLine := min(startLine+limit, totalFileLines)
		selected = joinLines(allLines[startLine:endLine])
		limitedLines = endLine - startLine
	} else {
		selected = joinLines(allLines[startLine:])
	}

	tr := TruncateHead(selected, DefaultMaxLines, DefaultMaxBytes)
	startDisplay := startLine + 1

	var out string
	switch {
	case tr.FirstLineExceedsLimit:
		out = fmt.Sprintf(
			"[Line %d is %s, exceeds %s limit. Use bash: sed -n '%dp' %s | head -c %d]",
			startDisplay, FormatSize(len(allLines[startLine])), FormatSize(DefaultMaxBytes),
			startDisplay, pathParam, DefaultMaxBytes,
		)

	case tr.Truncated:
		endDisplay := startDisplay + tr.OutputLines - 1
		out = tr.Content
		if tr.TruncatedBy == "lines" {
			out += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d. Use offset=%d to continue.]",
				startDisplay, endDisplay, totalFileLines, endDisplay+1,
			)
		} else {
			out += fmt.Sprintf(
				"\n\n[Showing lines %d-%d of %d (%s limit). Use offset=%d to continue.]",
				startDisplay, endDisplay, totalFileLines, FormatSize(DefaultMaxBytes), endDisplay+1,
			)
		}

	case limit > 0 && limitedLines > 0 && startLine+limitedLines < totalFileLines:
		remaining := totalFileLines - (startLine + limitedLines)
		out = tr.Content + fmt.Sprintf(
			"\n\n[%d more lines in file. Use offset=%d to continue.]",
			remaining, startLine+limitedLines+1,
		)

	default:
		out = tr.Content
	}

	return tools.TextResult(out), nil
}
