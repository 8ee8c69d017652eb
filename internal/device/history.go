package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// History read bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// historyTimeLayout sorts lexically, so created_at comparisons in SQL are
// chronological.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	insertHistorySQL = `INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)`
	selectHistorySQL = `SELECT id, device_id, state, source, created_at FROM state_history
		WHERE device_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	pruneHistorySQL = `DELETE FROM state_history WHERE created_at < ?`
)

var errNoDeviceID = errors.New("device id is required")

// StateSnapshot is the part of a device that changes at runtime.
type StateSnapshot struct {
	Status  Status `json:"status"`
	PowerOn bool   `json:"power_on"`
}

// StateHistoryEntry is one recorded change, newest entries first in reads.
type StateHistoryEntry struct {
	ID        int64         `json:"id"`
	DeviceID  string        `json:"device_id"`
	State     StateSnapshot `json:"state"`
	Source    string        `json:"source"`
	CreatedAt time.Time     `json:"created_at"`
}

// StateHistoryRepository keeps the per-device trail of state changes.
// Implementations must be safe for concurrent use.
type StateHistoryRepository interface {
	RecordStateChange(ctx context.Context, deviceID string, state StateSnapshot, source string) error
	// GetHistory returns at most limit entries, newest first. Implementations
	// may clamp limit.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)
}

// ClampHistoryLimit maps a requested limit into [1, MaxHistoryLimit], with
// zero or negative meaning DefaultHistoryLimit.
func ClampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// SQLiteStateHistoryRepository stores snapshots as JSON in state_history.
type SQLiteStateHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateHistoryRepository returns a repository over db. The schema
// comes from the embedded migrations.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db, now: time.Now}
}

// RecordStateChange appends a snapshot. An empty source counts as a
// command and an empty status as unknown.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, deviceID string, state StateSnapshot, source string) error {
	if deviceID == "" {
		return errNoDeviceID
	}
	if source == "" {
		source = SourceCommand
	}
	if state.Status == "" {
		state.Status = StatusUnknown
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", deviceID, err)
	}
	stamp := r.now().UTC().Format(historyTimeLayout)
	if _, err := r.db.ExecContext(ctx, insertHistorySQL, deviceID, string(blob), source, stamp); err != nil {
		return fmt.Errorf("recording state of %s: %w", deviceID, err)
	}
	return nil
}

// GetHistory reads the newest entries for deviceID. The result is never nil.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, errNoDeviceID
	}
	limit = ClampHistoryLimit(limit)

	rows, err := r.db.QueryContext(ctx, selectHistorySQL, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", deviceID, err)
	}
	defer rows.Close()

	out := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", deviceID, err)
	}
	return out, nil
}

// PruneHistory removes entries older than olderThan and reports how many
// went.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("prune window must be positive, got %v", olderThan)
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(historyTimeLayout)
	res, err := r.db.ExecContext(ctx, pruneHistorySQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}

func scanHistoryEntry(rows *sql.Rows) (StateHistoryEntry, error) {
	var (
		e       StateHistoryEntry
		blob    string
		created string
	)
	if err := rows.Scan(&e.ID, &e.DeviceID, &blob, &e.Source, &created); err != nil {
		return e, fmt.Errorf("scanning history row: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), &e.State); err != nil {
		return e, fmt.Errorf("decoding snapshot %d: %w", e.ID, err)
	}
	ts, err := parseTimestamp(created)
	if err != nil {
		return e, err
	}
	e.CreatedAt = ts
	return e, nil
}
