// Package journal persists a history of update sessions in SQLite.
package journal

import (
	"context"
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/dvzrv/caterpillar/pkg/errors"
	"github.com/dvzrv/caterpillar/pkg/session"
)

// Schema defines the session history table.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('noupdatefound', 'skipped', 'updated', 'installfailed')),
    bundle_path TEXT,
    bundle_version TEXT,
    current_version TEXT,
    override INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_outcome ON sessions(outcome);
`

// Entry is one persisted session record.
type Entry struct {
	ID             int64
	StartedAt      string
	FinishedAt     string
	Outcome        string
	BundlePath     string
	BundleVersion  string
	CurrentVersion string
	Override       bool
	Updated        bool
}

// Journal provides database operations for the session history.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the session history database.
func Open(path string) (*Journal, error) {
	slog.Info("journal_init", "path", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open journal database")
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create journal schema")
	}

	slog.Info("journal_ready", "path", path)
	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordSession inserts one finished session.
func (j *Journal) RecordSession(ctx context.Context, rec session.Record) error {
	query := `
		INSERT INTO sessions (started_at, finished_at, outcome, bundle_path, bundle_version, current_version, override, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		rec.StartedAt.UTC().Format("2006-01-02 15:04:05"),
		rec.FinishedAt.UTC().Format("2006-01-02 15:04:05"),
		rec.Outcome,
		rec.BundlePath,
		rec.BundleVersion,
		rec.CurrentVersion,
		rec.Override,
		rec.Updated,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert session record")
	}
	slog.Info("session_recorded", "outcome", rec.Outcome, "bundle", rec.BundlePath)
	return nil
}

// List returns the most recent sessions, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, started_at, finished_at, outcome,
		       bundle_path, bundle_version, current_version, override, updated
		FROM sessions ORDER BY id DESC LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query sessions")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var bundlePath, bundleVersion, currentVersion sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.StartedAt, &entry.FinishedAt, &entry.Outcome,
			&bundlePath, &bundleVersion, &currentVersion, &entry.Override, &entry.Updated,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan session row")
		}
		entry.BundlePath = bundlePath.String
		entry.BundleVersion = bundleVersion.String
		entry.CurrentVersion = currentVersion.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
