// Package journal is the append-only session audit log: every start,
// stop, guard trip and liquidation outcome lands here for later review.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Event types recorded by the session.
const (
	EventStarted      = "session_started"
	EventStopped      = "session_stopped"
	EventStartFailed  = "session_start_failed"
	EventModeChanged  = "mode_changed"
	EventGuardTripped = "guard_tripped"
	EventSquareOff    = "square_off"
)

// Entry is one journal row.
type Entry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Journal persists entries in a local SQLite file.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	detail     TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_created ON session_events(created_at);
`

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create dir failed: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init schema failed: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append records one event. Detail may be nil.
func (j *Journal) Append(ctx context.Context, eventType string, detail map[string]any) error {
	var raw []byte
	if len(detail) > 0 {
		var err error
		raw, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("journal: encode detail failed: %w", err)
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO session_events (id, type, detail, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), eventType, string(raw), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal: append failed: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, type, detail, created_at FROM session_events ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query failed: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			detail sql.NullString
			ts     int64
		)
		if err := rows.Scan(&e.ID, &e.Type, &detail, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan failed: %w", err)
		}
		if detail.Valid && detail.String != "" {
			e.Detail = json.RawMessage(detail.String)
		}
		e.CreatedAt = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
