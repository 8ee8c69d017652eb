package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	openTimeout = 5 * time.Second
	idleTimeout = 30 * time.Minute
)

// DB is the exhibit-core SQLite handle.
type DB struct {
	*sql.DB
	path string
}

// Config maps the database section of exhibit.yaml.
type Config struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// dsn renders cfg as a go-sqlite3 connection string.
func (cfg Config) dsn() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeout*1000))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode && cfg.Path != MemoryPath {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens or creates the database and pings it. File databases get
// their parent directory created and owner-only permissions.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("database: path is required")
	}
	onDisk := cfg.Path != MemoryPath
	if onDisk {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("database: creating directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.Path, err)
	}
	// SQLite allows one writer, and each :memory: connection is its own
	// database.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if onDisk {
		conn.SetConnMaxIdleTime(idleTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("database: ping %s: %w", cfg.Path, err)
	}

	if onDisk {
		_ = os.Chmod(cfg.Path, 0o600) //nolint:errcheck // created lazily on first write
	}
	return &DB{DB: conn, path: cfg.Path}, nil
}

// Close is safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// Path returns the configured file path.
func (db *DB) Path() string { return db.path }

// HealthCheck round-trips a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}
