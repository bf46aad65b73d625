package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ─── Memory Documents ───────────────────────────────────────────────────────

// MemoryDocuments is a DocumentStore held in process memory.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string]json.RawMessage
}

// NewMemoryDocuments creates an empty store.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string]json.RawMessage)}
}

func (m *MemoryDocuments) GetDocument(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs[key]
	return append(json.RawMessage(nil), v...), ok, nil
}

func (m *MemoryDocuments) PutDocument(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (m *MemoryDocuments) ListDocuments(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ─── Postgres Documents ─────────────────────────────────────────────────────

// PostgresDocuments stores mirror documents in a Postgres table.
type PostgresDocuments struct {
	Pool *pgxpool.Pool
}

// OpenPostgres creates and verifies a pgx pool, then ensures the table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresDocuments, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	p := &PostgresDocuments{Pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDocuments) migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mirror_documents (
			key        TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			version    BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create mirror_documents: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresDocuments) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

// Health checks the database connectivity.
func (p *PostgresDocuments) Health(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *PostgresDocuments) GetDocument(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := p.Pool.QueryRow(ctx, `SELECT value::text FROM mirror_documents WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (p *PostgresDocuments) PutDocument(ctx context.Context, key string, value json.RawMessage) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO mirror_documents (key, value)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			version    = mirror_documents.version + 1,
			updated_at = now()
	`, key, string(value))
	return err
}

func (p *PostgresDocuments) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := p.Pool.Query(ctx, `SELECT key FROM mirror_documents ORDER BY key`)
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
