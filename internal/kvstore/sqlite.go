package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// SQLiteStore keeps keys in a single table of a SQLite database.
type SQLiteStore struct {
	Locker

	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("storage error creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	// One connection: keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = FULL")
	}
	for _, stmt := range append(pragmas, migrations()...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("preparing sqlite %s: %w", path, err)
		}
	}
	var locks Locker = fileLocks{base: path + "."}
	if path == ":memory:" {
		locks = &memLocks{}
	}
	return &SQLiteStore{Locker: locks, db: db}, nil
}

// Get selects the value for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage error reading %q: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = datetime('now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("storage error writing %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage error deleting %q: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("storage error listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("storage error scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
