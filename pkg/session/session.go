// Package session persists conversations as append-only JSONL transcripts.
//
// Each session is one file: a Header line, then MessageEntry and
// CompactionEntry lines. The parent_id chain reconstructs the conversation
// in order; the last compaction entry decides which prefix is replaced by
// its summary on load. Alongside the transcript, a small JSON state file
// holds cross-turn settings such as permanent permission grants.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

// Session is an open transcript. Writes are append-only; a mutex guards
// against accidental concurrent appenders.
type Session struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	id     string
	leafID string // ID of the last written entry
	cwd    string
	dir    string
}

func (s *Session) ID() string       { return s.id }
func (s *Session) CWD() string      { return s.cwd }
func (s *Session) FilePath() string { return s.f.Name() }

// LeafID returns the ID of the most recent entry.
func (s *Session) LeafID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leafID
}

// Create opens a new transcript in dir and writes the header.
func Create(dir, cwd string) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", dir, err)
	}

	id := uuid.NewString()
	name := fmt.Sprintf("%s-%s.jsonl", time.Now().UTC().Format("20060102-150405"), id[:8])
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", path, err)
	}

	s := &Session{f: f, w: bufio.NewWriter(f), id: id, cwd: cwd, dir: dir}
	header := Header{
		Type:      EntryTypeSession,
		ID:        id,
		Version:   currentVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		CWD:       cwd,
	}
	if err := s.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Load reopens an existing transcript by ID prefix for appending.
func Load(dir, idPrefix string) (*Session, error) {
	path, err := findTranscript(dir, idPrefix)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	var id, cwd, leafID string
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
				id = h.ID
				cwd = h.CWD
			}
		case EntryTypeMessage:
			var e MessageEntry
			if json.Unmarshal(raw, &e) == nil {
				leafID = e.ID
			}
		case EntryTypeCompaction:
			var e CompactionEntry
			if json.Unmarshal(raw, &e) == nil {
				leafID = e.ID
			}
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open %s for append: %w", path, err)
	}
	return &Session{f: f, w: bufio.NewWriter(f), id: id, cwd: cwd, dir: dir, leafID: leafID}, nil
}

// AppendMessage serializes msg and appends it. Returns the new entry ID.
func (s *Session) AppendMessage(msg ai.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := MarshalMessage(msg)
	if err != nil {
		return "", fmt.Errorf("session: marshal message: %w", err)
	}
	entry := newMessageEntry(s.leafID, string(msg.GetRole()), raw)
	if err := s.writeLine(entry); err != nil {
		return "", err
	}
	s.leafID = entry.ID
	return entry.ID, nil
}

// AppendCompaction records that summary superseded everything before
// firstKeptEntryID.
func (s *Session) AppendCompaction(summary, firstKeptEntryID string, tokensBefore, tokensAfter int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := newCompactionEntry(s.leafID, summary, firstKeptEntryID, tokensBefore, tokensAfter)
	if err := s.writeLine(entry); err != nil {
		return err
	}
	s.leafID = entry.ID
	return nil
}

// Close flushes and closes the transcript.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

// Messages reconstructs the conversation, applying the last compaction.
func (s *Session) Messages() ([]ai.Message, error) {
	s.mu.Lock()
	path := s.f.Name()
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	return ParseMessages(data)
}

// ParseMessages parses raw transcript bytes. When a compaction entry is
// present, messages before its firstKeptEntryID are replaced by the summary
// injected as a user message.
func ParseMessages(data []byte) ([]ai.Message, error) {
	type parsed struct {
		typ        EntryType
		messageID  string
		msg        ai.Message
		compaction *CompactionEntry
	}
	var entries []parsed

	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		typ, raw, err := ParseLine([]byte(line))
		if err != nil {
			continue
		}
		switch typ {
		case EntryTypeMessage:
			var e MessageEntry
			if json.Unmarshal(raw, &e) != nil {
				continue
			}
			msg, err := UnmarshalMessage(e.Role, e.Message)
			if err != nil {
				continue
			}
			entries = append(entries, parsed{typ: EntryTypeMessage, messageID: e.ID, msg: msg})
		case EntryTypeCompaction:
			var e CompactionEntry
			if json.Unmarshal(raw, &e) != nil {
				continue
			}
			entries = append(entries, parsed{typ: EntryTypeCompaction, compaction: &e})
		}
	}

	lastComp := -1
	for i, e := range entries {
		if e.typ == EntryTypeCompaction {
			lastComp = i
		}
	}

	if lastComp == -1 {
		msgs := make([]ai.Message, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, e.msg)
		}
		return msgs, nil
	}

	comp := entries[lastComp].compaction
	summary := ai.UserMessage{
		Role: ai.RoleUser,
		Content: []ai.ContentBlock{ai.TextContent{
			Type: "text",
			Text: fmt.Sprintf("The conversation before this point was compressed into the following summary:\n\n<summary>\n%s\n</summary>", comp.Summary),
		}},
		Timestamp: time.Now().UnixMilli(),
	}

	msgs := []ai.Message{summary}
	kept := false
	for i := 0; i < lastComp; i++ {
		e := entries[i]
		if e.typ != EntryTypeMessage {
			continue
		}
		if e.messageID == comp.FirstKeptEntryID {
			kept = true
		}
		if kept {
			msgs = append(msgs, e.msg)
		}
	}
	for i := lastComp + 1; i < len(entries); i++ {
		if entries[i].typ == EntryTypeMessage {
			msgs = append(msgs, entries[i].msg)
		}
	}
	return msgs, nil
}

func (s *Session) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal entry: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return s.w.Flush()
}

func findTranscript(dir, idPrefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("session: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), idPrefix) && strings.HasSuffix(e.Name(), ".jsonl") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("session: no session matching %q in %s", idPrefix, dir)
}
