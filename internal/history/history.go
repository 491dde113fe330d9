// Package history keeps a local SQLite audit trail of device state changes.
//
// Each entry is a full JSON snapshot of a device's sensor values at the
// moment a change was observed. It backs GET /api/v1/devices/{id}/history
// and survives InfluxDB being unavailable.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/clock"
)

// Source values recorded with each entry.
const (
	SourcePoll    = "poll"
	SourcePush    = "push"
	SourceCommand = "command"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrDeviceIDRequired is returned when an empty device id is passed.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// Entry is one recorded state snapshot.
type Entry struct {
	ID        int64           `json:"id"`
	DeviceID  string          `json:"device_id"`
	State     json.RawMessage `json:"state"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// Repository stores state snapshots in the state_history table.
// It is safe for concurrent use.
type Repository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewRepository creates a repository over an open, migrated database.
// A nil clock uses wall time.
func NewRepository(db *sql.DB, clk clock.Clock) *Repository {
	if clk == nil {
		clk = clock.New()
	}
	return &Repository{db: db, clock: clk}
}

// Record stores a snapshot. state is marshalled to JSON; an empty source
// is recorded as SourcePoll.
func (r *Repository) Record(ctx context.Context, deviceID string, state any, source string) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}
	if source == "" {
		source = SourcePoll
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		deviceID,
		string(stateJSON),
		source,
		r.clock.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// List returns the newest entries for a device, newest first.
// limit <= 0 selects DefaultLimit; values above MaxLimit are clamped.
func (r *Repository) List(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, state, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var stateJSON, createdAt string

		if err := rows.Scan(&e.ID, &e.DeviceID, &stateJSON, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.State = json.RawMessage(stateJSON)

		e.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := r.clock.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
