// Package audit records the commands the AV bridge executes and answers
// queries over that trail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-av/internal/clock"
)

// Command sources.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
)

// Command results, matching MQTT ack statuses.
const (
	ResultAccepted = "accepted"
	ResultFailed   = "failed"
	ResultTimeout  = "timeout"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrInvalidEntry is returned when an entry lacks a device or command.
var ErrInvalidEntry = errors.New("audit: device id and command are required")

// Entry is one executed command.
type Entry struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
	Actor      string         `json:"actor,omitempty"`
	Result     string         `json:"result"`
	ErrorCode  string         `json:"error_code,omitempty"`
	LatencyMS  int64          `json:"latency_ms"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string // optional
	Source   string // optional: mqtt, api
	Result   string // optional: accepted, failed, timeout
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores entries in the command_audit table.
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

// Record inserts e. The ID and CreatedAt are generated if empty.
func (r *Repository) Record(ctx context.Context, e *Entry) error {
	if e.DeviceID == "" || e.Command == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.clock.Now().UTC()
	}

	var params *string
	if len(e.Parameters) > 0 {
		b, err := json.Marshal(e.Parameters)
		if err != nil {
			return fmt.Errorf("marshalling command parameters: %w", err)
		}
		s := string(b)
		params = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_audit (id, device_id, command, parameters, source, actor, result, error_code, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.Command, params, e.Source,
		nullableString(e.Actor), e.Result, nullableString(e.ErrorCode),
		e.LatencyMS, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command audit entry: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	for _, c := range []struct{ column, value string }{
		{"device_id", filter.DeviceID},
		{"source", filter.Source},
		{"result", filter.Result},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_audit " + where //nolint:gosec // WHERE built from fixed columns and ? placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command audit entries: %w", err)
	}

	query := `SELECT id, device_id, command, parameters, source, actor, result, error_code, latency_ms, created_at
		FROM command_audit ` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var params, actor, errorCode sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Command, &params, &e.Source,
			&actor, &e.Result, &errorCode, &e.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command audit entry: %w", err)
		}
		e.Actor = actor.String
		e.ErrorCode = errorCode.String
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &e.Parameters); err != nil {
				return nil, fmt.Errorf("decoding parameters of %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing command audit timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
