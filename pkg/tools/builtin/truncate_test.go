package builtin_test

import (
	"strings"
	"testing"

	"github.com/writeflow-dev/writeflow/pkg/tools/builtin"
)

func TestTruncateHead_NoTruncation(t *testing.T) {
	tr := builtin.TruncateHead("a\nb\nc", 10, 1000)
	if tr.Truncated {
		t.Error("should not truncate")
	}
	if tr.Content != "a\nb\nc" {
		t.Errorf("content = %q", tr.Content)
	}
	if tr.TotalLines != 3 || tr.OutputLines != 3 {
		t.Errorf("lines = %d/%d", tr.OutputLines, tr.TotalLines)
	}
}

func TestTruncateHead_ByLines(t *testing.T) {
	tr := builtin.TruncateHead("a\nb\nc\nd", 2, 1000)
	if !tr.Truncated || tr.TruncatedBy != "lines" {
		t.Errorf("truncated=%v by=%q", tr.Truncated, tr.TruncatedBy)
	}
	if tr.Content != "a\nb" {
		t.Errorf("content = %q", tr.Content)
	}
}

func TestTruncateHead_ByBytes(t *testing.T) {
	tr := builtin.TruncateHead("aaaa\nbbbb\ncccc", 10, 9)
	if !tr.Truncated || tr.TruncatedBy != "bytes" {
		t.Errorf("truncated=%v by=%q", tr.Truncated, tr.TruncatedBy)
	}
	if strings.Contains(tr.Content, "cccc") {
		t.Errorf("content = %q", tr.Content)
	}
}

func TestTruncateHead_FirstLineTooLong(t *testing.T) {
	tr := builtin.TruncateHead(strings.Repeat("x", 100), 10, 50)
	if !tr.FirstLineExceedsLimit {
		t.Error("expected FirstLineExceedsLimit")
	}
	if tr.Content != "" {
		t.Errorf("content = %q", tr.Content)
	}
}

func TestTruncateTail_KeepsEnd(t *testing.T) {
	tr := builtin.TruncateTail("a\nb\nc\nd", 2, 1000)
	if tr.Content != "c\nd" {
		t.Errorf("content = %q", tr.Content)
	}
}

func TestTruncateTail_PartialLastLine(t *testing.T) {
	tr := builtin.TruncateTail(strings.Repeat("x", 100), 10, 40)
	if !tr.LastLinePartial {
		t.Error("expected LastLinePartial")
	}
	if len(tr.Content) != 40 {
		t.Errorf("len = %d", len(tr.Content))
	}
}

func TestTruncateLine(t *testing.T) {
	line, truncated := builtin.TruncateLine("short", 10)
	if truncated || line != "short" {
		t.Errorf("line=%q truncated=%v", line, truncated)
	}
	line, truncated = builtin.TruncateLine(strings.Repeat("y", 20), 10)
	if !truncated || !strings.HasSuffix(line, "[truncated]") {
		t.Errorf("line=%q truncated=%v", line, truncated)
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[int]string{
		512:         "512B",
		2048:        "2.0KB",
		3 * 1048576: "3.0MB",
	}
	for in, want := range cases {
		if got := builtin.FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}
