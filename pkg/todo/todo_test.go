package todo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsTwoInProgress(t *testing.T) {
	err := Validate([]Item{
		{ID: "1", Content: "a", Status: StatusInProgress},
		{ID: "2", Content: "b", Status: StatusInProgress},
	})
	assert.ErrorIs(t, err, ErrMultipleInProgress)
}

func TestValidateRejectsEmptyContentAndBadStatus(t *testing.T) {
	assert.ErrorIs(t, Validate([]Item{{ID: "1", Status: StatusPending}}), ErrEmptyContent)
	assert.Error(t, Validate([]Item{{ID: "1", Content: "a", Status: "doing"}}))
}

func TestStoreReplaceAndActive(t *testing.T) {
	s, err := NewStore("", "sess-1")
	require.NoError(t, err)

	items := []Item{
		{ID: "1", Content: "outline the essay", Status: StatusCompleted},
		{ID: "2", Content: "draft the intro", ActiveForm: "Drafting the intro", Status: StatusInProgress},
		{ID: "3", Content: "revise tone", Status: StatusPending},
	}
	require.NoError(t, s.Replace(items))

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "2", active.ID)

	// A failed replace leaves the previous list intact.
	bad := []Item{
		{ID: "1", Content: "a", Status: StatusInProgress},
		{ID: "2", Content: "b", Status: StatusInProgress},
	}
	require.Error(t, s.Replace(bad))
	assert.Len(t, s.Items(), 3)
}

func TestStorePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "sess-1")
	require.NoError(t, err)
	require.NoError(t, s.Replace([]Item{{ID: "1", Content: "a", Status: StatusPending}}))

	reloaded, err := NewStore(dir, "sess-1")
	require.NoError(t, err)
	items := reloaded.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].Content)

	// Different session sees an empty list.
	other, err := NewStore(dir, "sess-2")
	require.NoError(t, err)
	assert.Empty(t, other.Items())

	assert.FileExists(t, filepath.Join(dir, "sess-1.todos.json"))
}

func TestStoreSummary(t *testing.T) {
	s, _ := NewStore("", "sess-1")
	assert.Equal(t, "(no tasks)", s.Summary())

	require.NoError(t, s.Replace([]Item{
		{ID: "1", Content: "done thing", Status: StatusCompleted},
		{ID: "2", Content: "current thing", Status: StatusInProgress},
	}))
	sum := s.Summary()
	assert.Contains(t, sum, "[x] done thing")
	assert.Contains(t, sum, "[>] current thing")
}

func TestStoreItemsReturnsCopy(t *testing.T) {
	s, _ := NewStore("", "sess-1")
	require.NoError(t, s.Replace([]Item{{ID: "1", Content: "a", Status: StatusPending}}))

	got := s.Items()
	got[0].Content = "mutated"
	assert.Equal(t, "a", s.Items()[0].Content)
}
