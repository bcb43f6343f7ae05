// Package todo maintains the session task list the TodoWrite tool edits.
package todo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Status of one task item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Priority of one task item.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Item is one task.
type Item struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	// ActiveForm is the present-continuous phrasing shown while the item is
	// in progress ("Drafting the intro" vs "Draft the intro").
	ActiveForm string   `json:"activeForm,omitempty"`
	Status     Status   `json:"status"`
	Priority   Priority `json:"priority,omitempty"`
}

var (
	// ErrMultipleInProgress rejects lists with more than one active item.
	ErrMultipleInProgress = errors.New("todo: at most one item may be in_progress")
	// ErrEmptyContent rejects items without content.
	ErrEmptyContent = errors.New("todo: item content must not be empty")
)

// Validate checks list invariants: non-empty content, known statuses, at most
// one in_progress item.
func Validate(items []Item) error {
	inProgress := 0
	for i, it := range items {
		if it.Content == "" {
			return fmt.Errorf("item %d: %w", i, ErrEmptyContent)
		}
		switch it.Status {
		case StatusPending, StatusInProgress, StatusCompleted:
		default:
			return fmt.Errorf("item %d: unknown status %q", i, it.Status)
		}
		if it.Status == StatusInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return ErrMultipleInProgress
	}
	return nil
}

// Store holds the task list for one session, persisted as JSON.
type Store struct {
	mu        sync.Mutex
	sessionID string
	path      string
	items     []Item
}

// NewStore opens (or creates) the list for sessionID under dir. An empty dir
// keeps the store memory-only.
func NewStore(dir, sessionID string) (*Store, error) {
	s := &Store{sessionID: sessionID}
	if dir == "" {
		return s, nil
	}
	s.path = filepath.Join(dir, sessionID+".todos.json")
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read todos: %w", err)
	}
	if err := json.Unmarshal(data, &s.items); err != nil {
		return nil, fmt.Errorf("parse todos: %w", err)
	}
	return s, nil
}

// SessionID returns the owning session.
func (s *Store) SessionID() string { return s.sessionID }

// Items returns a copy of the current list.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

// Replace validates and installs a full new list, persisting it if the store
// is file-backed. The whole list is replaced atomically; a validation error
// leaves the previous list untouched.
func (s *Store) Replace(items []Item) error {
	if err := Validate(items); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make([]Item, len(items))
	copy(s.items, items)
	return s.persistLocked()
}

// Active returns the in_progress item, if any.
func (s *Store) Active() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Status == StatusInProgress {
			return it, true
		}
	}
	return Item{}, false
}

// Summary renders a compact one-line-per-item view for prompts and the UI.
func (s *Store) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return "(no tasks)"
	}
	out := ""
	for _, it := range s.items {
		mark := " "
		switch it.Status {
		case StatusInProgress:
			mark = ">"
		case StatusCompleted:
			mark = "x"
		}
		out += fmt.Sprintf("[%s] %s\n", mark, it.Content)
	}
	return out
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write todos: %w", err)
	}
	return os.Rename(tmp, s.path)
}
