package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/mirror"
	"github.com/eden-portal/eden/internal/infra/sqlite"
)

// ─── Mirror Server ──────────────────────────────────────────────────────────

// OpenDocuments opens the mirror server's document store selected by
// Mirror.Backend. The returned func releases it.
func OpenDocuments(ctx context.Context, cfg Config) (domain.DocumentStore, func() error, error) {
	switch cfg.Mirror.Backend {
	case "postgres":
		pg, err := mirror.OpenPostgres(ctx, cfg.Mirror.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() error { pg.Close(); return nil }, nil
	case "memory":
		return mirror.NewMemoryDocuments(), func() error { return nil }, nil
	case "sqlite", "":
		db, err := sqlite.Open(cfg.Data.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open document store: %w", err)
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown mirror backend %q", cfg.Mirror.Backend)
	}
}

// MirrorServerConfig converts the settings into a mirror server config.
func (c Config) MirrorServerConfig(logger *slog.Logger) mirror.ServerConfig {
	sc := mirror.DefaultServerConfig()
	sc.Addr = c.MirrorAddr()
	if len(c.Mirror.AllowedOrigins) > 0 {
		sc.AllowedOrigins = c.Mirror.AllowedOrigins
	}
	sc.RateLimit = c.Mirror.RateLimit
	sc.MaxDocument = parseByteSize(c.Mirror.MaxDocument, mirror.DefaultMaxDocumentBytes)
	sc.Logger = logger
	return sc
}
