package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// CustomDeviceStore persists user-defined devices.
//
// Implementations must be safe for concurrent use.
type CustomDeviceStore interface {
	// List returns every stored device, oldest first.
	List(ctx context.Context) ([]CustomDevice, error)

	// Save inserts a device. Returns ErrDeviceExists if the ID is taken.
	Save(ctx context.Context, d CustomDevice) error

	// Delete removes a device. Returns ErrDeviceNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteCustomDeviceStore implements CustomDeviceStore on the custom_devices table.
type SQLiteCustomDeviceStore struct {
	db *sql.DB
}

// NewSQLiteCustomDeviceStore creates a store over an open, migrated database.
func NewSQLiteCustomDeviceStore(db *sql.DB) *SQLiteCustomDeviceStore {
	return &SQLiteCustomDeviceStore{db: db}
}

// List returns every stored device ordered by creation time.
func (s *SQLiteCustomDeviceStore) List(ctx context.Context) ([]CustomDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, on_hex, off_hex, icon, group_name, created_at
		 FROM custom_devices
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying custom devices: %w", err)
	}
	defer rows.Close()

	var devices []CustomDevice
	for rows.Next() {
		var d CustomDevice
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Name, &d.OnHex, &d.OffHex, &d.Icon, &d.Group, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning custom device: %w", err)
		}
		d.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating custom devices: %w", err)
	}
	return devices, nil
}

// Save inserts a device.
func (s *SQLiteCustomDeviceStore) Save(ctx context.Context, d CustomDevice) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_devices (id, name, on_hex, off_hex, icon, group_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.OnHex, d.OffHex, d.Icon, d.Group,
		d.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
		}
		return fmt.Errorf("inserting custom device: %w", err)
	}
	return nil
}

// Delete removes a device.
func (s *SQLiteCustomDeviceStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM custom_devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting custom device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return ts, nil
	}
	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
