// Package daemon wires the portal's long-running process: configuration,
// the local store, the mirror connector, the registry, crash recovery and
// the automation jobs.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/eden-portal/eden/internal/app/registry"
	"github.com/eden-portal/eden/internal/app/slice"
)

// ─── Config ─────────────────────────────────────────────────────────────────

// Config is the full daemon configuration, loaded from config.toml.
type Config struct {
	Data       DataConfig       `toml:"data"`
	Registry   RegistryConfig   `toml:"registry"`
	API        APIConfig        `toml:"api"`
	Sync       SyncConfig       `toml:"sync"`
	Mirror     MirrorConfig     `toml:"mirror"`
	Automation AutomationConfig `toml:"automation"`
	Recovery   RecoveryConfig   `toml:"recovery"`
	Log        LogConfig        `toml:"log"`
}

// DataConfig locates the local database.
type DataConfig struct {
	Dir string `toml:"dir"`
}

// RegistryConfig shapes keys and transaction IDs.
type RegistryConfig struct {
	Namespace string `toml:"namespace"`
	IDPrefix  string `toml:"id_prefix"`
	IDWidth   int    `toml:"id_width"`
	Debounce  string `toml:"debounce"`
}

// APIConfig is the portal HTTP API listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// SyncConfig points the client at a mirror server. An empty RemoteURL runs
// local-only.
type SyncConfig struct {
	RemoteURL    string `toml:"remote_url"`
	ReconnectMin string `toml:"reconnect_min"`
	ReconnectMax string `toml:"reconnect_max"`
}

// MirrorConfig configures `eden mirror`.
type MirrorConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Backend        string   `toml:"backend"` // sqlite, postgres or memory
	DatabaseURL    string   `toml:"database_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimit      int      `toml:"rate_limit"`
	MaxDocument    string   `toml:"max_document"`
}

// AutomationConfig schedules the background jobs.
type AutomationConfig struct {
	Enabled              bool   `toml:"enabled"`
	MonthlyCheckInterval string `toml:"monthly_check_interval"`
	ReminderInterval     string `toml:"reminder_interval"`
	RestorePointInterval string `toml:"restore_point_interval"`
	MaxConcurrent        int    `toml:"max_concurrent"`
	JobTimeout           string `toml:"job_timeout"`
}

// RecoveryConfig tunes crash recovery.
type RecoveryConfig struct {
	LoopWindow string `toml:"loop_window"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Data: DataConfig{Dir: defaultDataDir()},
		Registry: RegistryConfig{
			Namespace: registry.DefaultNamespace,
			IDPrefix:  "EDEN",
			IDWidth:   5,
			Debounce:  slice.DefaultDebounce.String(),
		},
		API: APIConfig{Host: "127.0.0.1", Port: 8080},
		Sync: SyncConfig{
			ReconnectMin: "1s",
			ReconnectMax: "30s",
		},
		Mirror: MirrorConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			Backend:        "sqlite",
			AllowedOrigins: []string{"*"},
			RateLimit:      600,
			MaxDocument:    "32MiB",
		},
		Automation: AutomationConfig{
			Enabled:              true,
			MonthlyCheckInterval: "24h",
			ReminderInterval:     "30s",
			RestorePointInterval: "1h",
			MaxConcurrent:        2,
			JobTimeout:           "1m",
		},
		Recovery: RecoveryConfig{LoopWindow: "5s"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".eden")
	}
	return ".eden"
}

// ConfigPath returns the default config file location.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// LoadConfig reads path over the defaults, then applies .env and
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides settings that are usually secrets or deploy-specific.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EDEN_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("EDEN_REMOTE_URL"); v != "" {
		cfg.Sync.RemoteURL = v
	}
	if v := os.Getenv("EDEN_DATABASE_URL"); v != "" {
		cfg.Mirror.DatabaseURL = v
		if cfg.Mirror.Backend == "sqlite" {
			cfg.Mirror.Backend = "postgres"
		}
	}
	if v := os.Getenv("EDEN_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("EDEN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}
	if c.Registry.Namespace == "" {
		errs = append(errs, errors.New("registry.namespace is required"))
	}
	switch c.Mirror.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Mirror.DatabaseURL == "" {
			errs = append(errs, errors.New("mirror.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("mirror.backend %q: want sqlite, postgres or memory", c.Mirror.Backend))
	}
	for name, v := range map[string]string{
		"registry.debounce":                 c.Registry.Debounce,
		"automation.reminder_interval":      c.Automation.ReminderInterval,
		"automation.monthly_check_interval": c.Automation.MonthlyCheckInterval,
		"automation.restore_point_interval": c.Automation.RestorePointInterval,
		"recovery.loop_window":              c.Recovery.LoopWindow,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ─── Derived values ─────────────────────────────────────────────────────────

// APIAddr is the API listen address.
func (c Config) APIAddr() string { return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port) }

// MirrorAddr is the mirror server listen address.
func (c Config) MirrorAddr() string { return fmt.Sprintf("%s:%d", c.Mirror.Host, c.Mirror.Port) }

// RegistryOptions converts the settings into a registry config without a
// store.
func (c Config) RegistryOptions() registry.Config {
	rc := registry.DefaultConfig()
	rc.Namespace = c.Registry.Namespace
	if c.Registry.IDPrefix != "" {
		rc.IDPrefix = c.Registry.IDPrefix
	}
	if c.Registry.IDWidth > 0 {
		rc.IDWidth = c.Registry.IDWidth
	}
	rc.Debounce = parseDuration(c.Registry.Debounce, slice.DefaultDebounce)
	return rc
}

// LogLevel maps Log.Level to a slog level. Unknown names mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from Log.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseDuration parses s, falling back on empty or invalid input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseByteSize parses sizes such as "32MiB" or "5MB".
func parseByteSize(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := humanize.ParseBytes(s)
	if err != nil || n == 0 {
		return fallback
	}
	return int64(n)
}
