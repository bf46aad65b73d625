package sqlite

import (
	"database/sql"
	"errors"
)

// ─── Key/Value Schema ───────────────────────────────────────────────────────

// KVMigrations returns the local store schema.
// Each string is a single SQL statement (SQLite executes one at a time).
func KVMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// ─── Key/Value Operations ───────────────────────────────────────────────────

// Read returns the stored JSON text for key. A missing key yields ok=false
// and a nil error.
func (db *DB) Read(key string) ([]byte, bool, error) {
	var value string
	err := db.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Write overwrites the value stored under key.
func (db *DB) Write(key string, value []byte) error {
	_, err := db.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = datetime('now')
	`, key, string(value))
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (db *DB) Delete(key string) error {
	_, err := db.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Keys lists stored keys starting with prefix, sorted.
func (db *DB) Keys(prefix string) ([]string, error) {
	rows, err := db.db.Query(`
		SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
