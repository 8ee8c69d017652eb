package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"time"
)

// Migration is one versioned schema change loaded from
// YYYYMMDD_HHMMSS_name.up.sql and its optional .down.sql twin.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})(?:_([^.]+))?\.(up|down)\.sql$`)

const (
	ensureLedgerSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`
	listLedgerSQL   = `SELECT version, applied_at FROM schema_migrations ORDER BY version`
	insertLedgerSQL = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
	deleteLedgerSQL = `DELETE FROM schema_migrations WHERE version = ?`
)

// Migrate brings the schema up to date, oldest migration first. Each
// migration commits on its own, so a failure leaves the earlier ones in
// place and only the failing one rolled back.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	for _, m := range pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, insertLedgerSQL, m.Version, time.Now().UTC().Format(time.RFC3339Nano))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration, if any.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	applied, err := db.ledger(ctx)
	if err != nil || len(applied) == 0 {
		return err
	}
	newest := applied[len(applied)-1].Version

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == newest })
	switch {
	case i < 0:
		return fmt.Errorf("migration %s is applied but not on disk", newest)
	case all[i].DownSQL == "":
		return fmt.Errorf("migration %s cannot be reverted: no down file", newest)
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, all[i].DownSQL); err != nil {
			return fmt.Errorf("reverting %s: %w", newest, err)
		}
		_, err := tx.ExecContext(ctx, deleteLedgerSQL, newest)
		return err
	})
}

// MigrationStatus splits the migrations in fsys into applied and pending.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if applied, err = db.ledger(ctx); err != nil {
		return nil, nil, err
	}
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range all {
		done := slices.ContainsFunc(applied, func(r MigrationRecord) bool { return r.Version == m.Version })
		if !done {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

// ledger creates schema_migrations when missing and returns its rows in
// version order.
func (db *DB) ledger(ctx context.Context) ([]MigrationRecord, error) {
	if _, err := db.ExecContext(ctx, ensureLedgerSQL); err != nil {
		return nil, fmt.Errorf("preparing schema_migrations: %w", err)
	}
	rows, err := db.QueryContext(ctx, listLedgerSQL)
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var (
			rec   MigrationRecord
			stamp string
		)
		if err := rows.Scan(&rec.Version, &stamp); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		rec.AppliedAt, _ = time.Parse(time.RFC3339Nano, stamp) //nolint:errcheck // written by Migrate
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // the fn error is the one worth returning
		return err
	}
	return tx.Commit()
}

// LoadMigrations reads the migration files at the root of fsys in version
// order. Other files are ignored; a down file without its up file is an
// error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	var out []Migration
	for _, file := range names {
		version, name, up, ok := parseMigrationFilename(path.Base(file))
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		i := slices.IndexFunc(out, func(m Migration) bool { return m.Version == version })
		if i < 0 {
			out = append(out, Migration{Version: version, Name: name})
			i = len(out) - 1
		}
		if up {
			out[i].UpSQL = string(body)
		} else {
			out[i].DownSQL = string(body)
		}
	}

	for _, m := range out {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("migration %s has no up file", m.Version)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename splits YYYYMMDD_HHMMSS[_name].(up|down).sql.
func parseMigrationFilename(filename string) (version, name string, up, ok bool) {
	m := migrationFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false, false
	}
	return m[1], m[2], m[3] == "up", true
}
