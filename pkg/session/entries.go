package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const currentVersion = 1

// EntryType identifies the kind of JSONL line.
type EntryType string

const (
	EntryTypeSession    EntryType = "session"
	EntryTypeMessage    EntryType = "message"
	EntryTypeCompaction EntryType = "compaction"
)

// Header is the first line of every transcript file.
type Header struct {
	Type      EntryType `json:"type"` // "session"
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Timestamp string    `json:"timestamp"` // RFC 3339
	CWD       string    `json:"cwd"`
}

// MessageEntry records one complete conversation message.
type MessageEntry struct {
	Type      EntryType       `json:"type"` // "message"
	ID        string          `json:"id"`   // 8 hex chars
	ParentID  string          `json:"parent_id"`
	Timestamp string          `json:"timestamp"`
	Role      string          `json:"role"`    // duplicated for cheap scans
	Message   json.RawMessage `json:"message"` // serialized concrete message
}

func newMessageEntry(parentID, role string, msg json.RawMessage) MessageEntry {
	return MessageEntry{
		Type:      EntryTypeMessage,
		ID:        newEntryID(),
		ParentID:  parentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Role:      role,
		Message:   msg,
	}
}

// CompactionEntry records that a summary replaced the early portion of the
// history. Messages before FirstKeptEntryID are superseded by Summary.
type CompactionEntry struct {
	Type             EntryType `json:"type"` // "compaction"
	ID               string    `json:"id"`
	ParentID         string    `json:"parent_id"`
	Timestamp        string    `json:"timestamp"`
	Summary          string    `json:"summary"`
	FirstKeptEntryID string    `json:"first_kept_entry_id"`
	TokensBefore     int       `json:"tokens_before"`
	TokensAfter      int       `json:"tokens_after"`
}

func newCompactionEntry(parentID, summary, firstKeptEntryID string, tokensBefore, tokensAfter int) CompactionEntry {
	return CompactionEntry{
		Type:             EntryTypeCompaction,
		ID:               newEntryID(),
		ParentID:         parentID,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
		TokensAfter:      tokensAfter,
	}
}

// ParseLine peeks at the "type" field of one JSONL line.
func ParseLine(line []byte) (EntryType, json.RawMessage, error) {
	var probe struct {
		Type EntryType `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return "", nil, fmt.Errorf("parse entry type: %w", err)
	}
	return probe.Type, json.RawMessage(line), nil
}

// newEntryID is an 8-char hex ID, short enough not to bloat the file.
func newEntryID() string {
	return uuid.NewString()[:8]
}
