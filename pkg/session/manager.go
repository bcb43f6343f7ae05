package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultSessionsDir returns the platform directory for transcripts.
func DefaultSessionsDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "writeflow", "sessions")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "writeflow", "sessions")
}

// Info is a lightweight per-session summary for listings.
type Info struct {
	ID           string
	Path         string
	CWD          string
	Created      time.Time
	MessageCount int
	FirstMessage string // first user text, truncated to 80 chars
}

// List returns summaries for all transcripts in dir, newest first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session list: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := readInfo(filepath.Join(dir, e.Name()))
		if err != nil {
			continue // skip malformed files
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.After(infos[j].Created)
	})
	return infos, nil
}

func readInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}

	info := Info{Path: path}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		typ, raw, err := ParseLine([]byte(line))
		if err != nil {
			continue
		}
		switch typ {
		case EntryTypeSession:
			var h Header
			if json.Unmarshal(raw, &h) == nil {
				info.ID = h.ID
				info.CWD = h.CWD
				if t, err := time.Parse(time.RFC3339, h.Timestamp); err == nil {
					info.Created = t
				}
			}
		case EntryTypeMessage:
			info.MessageCount++
			if info.FirstMessage == "" {
				var e MessageEntry
				if json.Unmarshal(raw, &e) == nil && e.Role == "user" {
					info.FirstMessage = firstText(line)
				}
			}
		}
	}

	if info.ID == "" {
		return Info{}, fmt.Errorf("no session header in %s", path)
	}
	return info, nil
}

func firstText(line string) string {
	var probe struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if json.Unmarshal([]byte(line), &probe) != nil {
		return ""
	}
	for _, c := range probe.Message.Content {
		if c.Type == "text" && c.Text != "" {
			if len(c.Text) > 80 {
				return c.Text[:77] + "..."
			}
			return c.Text
		}
	}
	return ""
}
