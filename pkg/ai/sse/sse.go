// Package sse decodes Server-Sent Event streams into (event, data) pairs.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is one dispatched SSE event.
type Event struct {
	Type string // "event:" field, empty for unnamed events
	Data string // "data:" field(s) joined with "\n"
}

// Decoder reads events off an io.Reader. Not safe for concurrent use.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder wraps r. Lines up to 1 MB are supported; longer lines fail
// the scan and surface as an error from Next.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &Decoder{sc: sc}
}

// Next returns the next event, or io.EOF when the stream ends. Comment
// lines (leading ':') and the id/retry fields are skipped.
func (d *Decoder) Next() (Event, error) {
	var ev Event
	var data []string

	for d.sc.Scan() {
		line := strings.TrimSuffix(d.sc.Text(), "\r")

		if line == "" {
			// Blank line dispatches the accumulated event.
			if len(data) > 0 || ev.Type != "" {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // keepalive comment
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
		}
	}

	if err := d.sc.Err(); err != nil {
		return Event{}, err
	}
	// A stream that ends without a trailing blank line still dispatches
	// whatever was accumulated.
	if len(data) > 0 || ev.Type != "" {
		ev.Data = strings.Join(data, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}
