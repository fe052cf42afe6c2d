package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, j.Close()) })
	return j
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	assert.NoError(t, j.Append(ctx, EventStarted, map[string]any{"mode": "PAPER"}))
	time.Sleep(2 * time.Millisecond)
	assert.NoError(t, j.Append(ctx, EventGuardTripped, map[string]any{"pnl": -1050.0}))
	time.Sleep(2 * time.Millisecond)
	assert.NoError(t, j.Append(ctx, EventStopped, nil))

	entries, err := j.Recent(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, EventStopped, entries[0].Type)
	assert.Equal(t, EventGuardTripped, entries[1].Type)
	assert.Equal(t, EventStarted, entries[2].Type)

	assert.Nil(t, entries[0].Detail)
	var detail map[string]any
	assert.NoError(t, json.Unmarshal(entries[1].Detail, &detail))
	assert.InDelta(t, -1050.0, detail["pnl"].(float64), 1e-9)
}

func TestJournalRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, j.Append(ctx, EventModeChanged, nil))
	}
	entries, err := j.Recent(ctx, 3)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)

	// Zero falls back to the default limit.
	entries, err = j.Recent(ctx, 0)
	assert.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestJournalOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")
	j, err := Open(path)
	assert.NoError(t, err)
	assert.NoError(t, j.Close())
}

func TestJournalOpenEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
