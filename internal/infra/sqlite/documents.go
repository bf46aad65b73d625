package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// ─── Mirror Document Schema ─────────────────────────────────────────────────

// DocumentMigrations returns the schema for mirror server documents.
func DocumentMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS mirror_documents (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// ─── Mirror Document Operations ─────────────────────────────────────────────

// GetDocument returns the document value for key.
func (db *DB) GetDocument(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := db.db.QueryRowContext(ctx, `SELECT value FROM mirror_documents WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

// PutDocument replaces the document for key and bumps its version.
func (db *DB) PutDocument(ctx context.Context, key string, value json.RawMessage) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO mirror_documents (key, value, version, updated_at)
		VALUES (?, ?, 1, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			version    = mirror_documents.version + 1,
			updated_at = datetime('now')
	`, key, string(value))
	return err
}

// DocumentVersion returns how many times key has been written, 0 if never.
func (db *DB) DocumentVersion(ctx context.Context, key string) (int64, error) {
	var v int64
	err := db.db.QueryRowContext(ctx, `SELECT version FROM mirror_documents WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// ListDocuments returns all document keys, sorted.
func (db *DB) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT key FROM mirror_documents ORDER BY key`)
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
