// Package checkpoint journals finished mirror steps in SQLite so an
// interrupted run can resume without creating duplicates.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one completed step: a folder created or a file uploaded
type Entry struct {
	RelativePath string
	DriveID      string
	IsDir        bool
	Size         int64
	// ModTime is the local file's mtime in Unix nanoseconds at upload
	ModTime    int64
	RecordedAt int64
}

// Store is a checkpoint journal backed by one SQLite file
type Store struct {
	db *sql.DB
}

// RunKey identifies a mirror run by its absolute local root and remote folder name
func RunKey(absRoot, remoteName string) string {
	return filepath.ToSlash(absRoot) + "|" + remoteName
}

// Open opens the journal at path, creating it and its directory if needed
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the journal; a nil store is a no-op
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	has, err := s.hasColumn(ctx, "mirror_entries", "mod_time")
	if err != nil || has {
		return err
	}
	_, err = s.db.ExecContext(ctx, `ALTER TABLE mirror_entries ADD COLUMN mod_time INTEGER NOT NULL DEFAULT 0`)
	return err
}

// hasColumn reports whether table has column; journals written before
// mod_time existed lack it.
func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mirror_entries (
	run_key TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	drive_id TEXT NOT NULL,
	is_dir INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	mod_time INTEGER NOT NULL DEFAULT 0,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (run_key, relative_path)
);
`

// Lookup returns the recorded entry for relPath, or nil when the step has not run
func (s *Store) Lookup(ctx context.Context, runKey, relPath string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT relative_path, drive_id, is_dir, size, mod_time, recorded_at
		FROM mirror_entries WHERE run_key = ? AND relative_path = ?
	`, runKey, relPath)

	var entry Entry
	var isDir int
	err := row.Scan(&entry.RelativePath, &entry.DriveID, &isDir, &entry.Size, &entry.ModTime, &entry.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry.IsDir = isDir != 0
	return &entry, nil
}

// Record stores entry, replacing any previous record of the same path
func (s *Store) Record(ctx context.Context, runKey string, entry Entry) error {
	if entry.RecordedAt == 0 {
		entry.RecordedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror_entries (run_key, relative_path, drive_id, is_dir, size, mod_time, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_key, relative_path) DO UPDATE SET
			drive_id = excluded.drive_id,
			is_dir = excluded.is_dir,
			size = excluded.size,
			mod_time = excluded.mod_time,
			recorded_at = excluded.recorded_at
	`, runKey, entry.RelativePath, entry.DriveID, boolToInt(entry.IsDir), entry.Size, entry.ModTime, entry.RecordedAt)
	return err
}

// Reset forgets every step of a run
func (s *Store) Reset(ctx context.Context, runKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mirror_entries WHERE run_key = ?`, runKey)
	return err
}

// Count reports how many steps of a run are recorded
func (s *Store) Count(ctx context.Context, runKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mirror_entries WHERE run_key = ?`, runKey).Scan(&n)
	return n, err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
