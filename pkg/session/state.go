package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// State holds the cross-turn settings that survive a restart but do not
// belong in the transcript: permanent permission grants and the last
// selected model profile.
type State struct {
	PermanentGrants []string `json:"permanent_grants,omitempty"`
	Model           string   `json:"model,omitempty"`
	PlanHistory     []string `json:"plan_history,omitempty"`
}

func statePath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID[:8]+".state.json")
}

// SaveState writes the state blob atomically next to the transcript.
func SaveState(dir, sessionID string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}
	path := statePath(dir, sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState reads the state blob. A missing file is an empty state, not an
// error.
func LoadState(dir, sessionID string) (State, error) {
	data, err := os.ReadFile(statePath(dir, sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("session: read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("session: parse state: %w", err)
	}
	return st, nil
}
