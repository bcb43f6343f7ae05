// Package extract parses inline tool-use and thinking spans out of streamed
// model text. Some providers emit tool calls only as XML-like spans inside
// the text stream:
//
//	<invoke name="Read"><parameter name="file_path">x.go</parameter></invoke>
//
// Extract removes every *completed* span from the visible text and returns it
// as a structured call, holds a trailing partial span back for the next chunk,
// and re-surfaces malformed spans as plain text. Thinking spans
// (<thinking>...</thinking>) are extracted the same way.
//
// The parser is a hand-written scanner over an explicit grammar of
// balanced invoke/parameter/thinking tags, not a regex, so unbalanced spans are
// rejected deterministically.
package extract

import "strings"

// Param is one named argument of an inline tool call. Order is preserved so
// serialization round-trips exactly.
type Param struct {
	Name  string
	Value string
}

// ToolUse is a completed inline tool call.
type ToolUse struct {
	Name   string
	Params []Param
}

// Args converts the ordered params to the map form used by tool dispatch.
func (t ToolUse) Args() map[string]any {
	m := make(map[string]any, len(t.Params))
	for _, p := range t.Params {
		m[p.Name] = p.Value
	}
	return m
}

// Result is the outcome of one Extract pass over an accumulated text buffer.
type Result struct {
	// Text is the visible text with completed spans removed.
	Text string
	// Thinking holds extracted thinking spans, in order.
	Thinking []string
	// Calls holds extracted completed tool calls, in order.
	Calls []ToolUse
	// Rest is a trailing partial span (valid so far but not yet closed).
	// The caller prepends it to the next chunk and extracts again.
	Rest string
}

const (
	openThinking  = "<thinking>"
	closeThinking = "</thinking>"
	openInvoke    = `<invoke name="`
	closeInvoke   = "</invoke>"
	openParam     = `<parameter name="`
	closeParam    = "</parameter>"
)

// Extract scans buf once, splitting it into visible text, completed spans,
// and a retained tail.
func Extract(buf string) Result {
	var res Result
	var text strings.Builder

	i := 0
	for i < len(buf) {
		lt := strings.IndexByte(buf[i:], '<')
		if lt < 0 {
			text.WriteString(buf[i:])
			i = len(buf)
			break
		}
		text.WriteString(buf[i : i+lt])
		i += lt

		switch {
		case strings.HasPrefix(buf[i:], openThinking):
			end := strings.Index(buf[i+len(openThinking):], closeThinking)
			if end < 0 {
				// Still open: hold the whole span for the next chunk.
				res.Rest = buf[i:]
				res.Text = text.String()
				return res
			}
			res.Thinking = append(res.Thinking, buf[i+len(openThinking):i+len(openThinking)+end])
			i += len(openThinking) + end + len(closeThinking)

		case strings.HasPrefix(buf[i:], openInvoke):
			call, consumed, state := parseInvoke(buf[i:])
			switch state {
			case spanComplete:
				res.Calls = append(res.Calls, call)
				i += consumed
			case spanPartial:
				res.Rest = buf[i:]
				res.Text = text.String()
				return res
			default: // spanMalformed: re-surface the '<' and keep scanning.
				text.WriteByte('<')
				i++
			}

		case couldOpenSpan(buf[i:]):
			// A tag prefix truncated by the chunk boundary ("<invo", "<think").
			res.Rest = buf[i:]
			res.Text = text.String()
			return res

		default:
			text.WriteByte('<')
			i++
		}
	}

	res.Text = text.String()
	return res
}

type spanState int

const (
	spanComplete spanState = iota
	spanPartial
	spanMalformed
)

// parseInvoke parses one invoke span at the start of s. s is known to begin
// with openInvoke. Returns the call, the number of bytes consumed, and the
// parse state.
func parseInvoke(s string) (ToolUse, int, spanState) {
	var call ToolUse
	i := len(openInvoke)

	q := strings.IndexByte(s[i:], '"')
	if q < 0 {
		return call, 0, spanPartial
	}
	call.Name = s[i : i+q]
	if call.Name == "" {
		return call, 0, spanMalformed
	}
	i += q + 1

	if i >= len(s) {
		return call, 0, spanPartial
	}
	if s[i] != '>' {
		return call, 0, spanMalformed
	}
	i++

	for {
		// Inter-tag whitespace is part of the grammar, not of any value.
		j := i
		for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
			j++
		}
		if j >= len(s) {
			return call, 0, spanPartial
		}

		if strings.HasPrefix(s[j:], closeInvoke) {
			return call, j + len(closeInvoke), spanComplete
		}

		if !strings.HasPrefix(s[j:], openParam) {
			if isPrefixOfAt(s[j:], closeInvoke) || isPrefixOfAt(s[j:], openParam) {
				return call, 0, spanPartial
			}
			return call, 0, spanMalformed
		}
		j += len(openParam)

		q := strings.IndexByte(s[j:], '"')
		if q < 0 {
			return call, 0, spanPartial
		}
		name := s[j : j+q]
		if name == "" {
			return call, 0, spanMalformed
		}
		j += q + 1

		if j >= len(s) {
			return call, 0, spanPartial
		}
		if s[j] != '>' {
			return call, 0, spanMalformed
		}
		j++

		end := strings.Index(s[j:], closeParam)
		if end < 0 {
			return call, 0, spanPartial
		}
		call.Params = append(call.Params, Param{Name: name, Value: s[j : j+end]})
		i = j + end + len(closeParam)
	}
}

// isPrefixOfAt reports whether s is a (possibly truncated) prefix of tag.
func isPrefixOfAt(s, tag string) bool {
	if len(s) >= len(tag) {
		return strings.HasPrefix(s, tag)
	}
	return strings.HasPrefix(tag, s)
}

// couldOpenSpan reports whether s is a truncated prefix of one of the span
// openers, meaning the next chunk may complete it.
func couldOpenSpan(s string) bool {
	return isPrefixOfAt(s, openThinking) || isPrefixOfAt(s, openInvoke)
}

// Serialize renders calls back into the inline form. Extract(Serialize(c))
// yields c again (the round-trip law), provided names contain no '"'.
func Serialize(calls []ToolUse) string {
	var sb strings.Builder
	for _, c := range calls {
		sb.WriteString(openInvoke)
		sb.WriteString(c.Name)
		sb.WriteString(`">`)
		for _, p := range c.Params {
			sb.WriteString(openParam)
			sb.WriteString(p.Name)
			sb.WriteString(`">`)
			sb.WriteString(p.Value)
			sb.WriteString(closeParam)
		}
		sb.WriteString(closeInvoke)
	}
	return sb.String()
}
