package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/kefd/internal/kef"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// Entry is a single recorded state transition. State is the full
// snapshot at the time the transition was observed, not a delta.
type Entry struct {
	ID           int64            `json:"id"`
	Identity     string           `json:"identity"`
	State        kef.State        `json:"state"`
	Connectivity kef.Connectivity `json:"connectivity"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// Repository stores and retrieves state transitions in the
// state_history table. Snapshots are stored as JSON.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over an open SQLite connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one transition for a speaker.
func (r *Repository) Record(ctx context.Context, identity string, state kef.State, connectivity kef.Connectivity) error {
	if identity == "" {
		return ErrIdentityRequired
	}
	if connectivity == "" {
		connectivity = kef.ConnectivityUnknown
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (identity, state, connectivity) VALUES (?, ?, ?)",
		identity,
		string(stateJSON),
		string(connectivity),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// Recent returns transitions for a speaker ordered newest first.
// A non-positive limit defaults to 50; limits above 200 are clamped.
func (r *Repository) Recent(ctx context.Context, identity string, limit int) ([]Entry, error) {
	if identity == "" {
		return nil, ErrIdentityRequired
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, identity, state, connectivity, recorded_at
		 FROM state_history
		 WHERE identity = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		identity,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var stateJSON string
		var connectivity string
		var recordedAt string

		if err := rows.Scan(&entry.ID, &entry.Identity, &stateJSON, &connectivity, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		entry.Connectivity = kef.Connectivity(connectivity)

		timestamp, err := parseTimestamp(recordedAt)
		if err != nil {
			return nil, err
		}
		entry.RecordedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes transitions older than the given duration and returns
// the number of rows removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseTimestamp parses a timestamp stored in SQLite. The column
// default writes second precision without an offset, so RFC3339 gets a
// fallback.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("recorded_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
}
