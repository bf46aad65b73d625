// Package recovery keeps a restore point of the whole application state and
// brings the local store back to a usable state after a fault.
//
// On a fault the manager first restores the restore point, once per
// session. If there is no restore point, the restore already ran, or the
// restore point is unusable, it wipes every registry key so the next start
// begins from seed data. A wipe within LoopWindow of the previous one is
// suppressed so a fault that survives the wipe cannot spin.
package recovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eden-portal/eden/internal/app/registry"
	"github.com/eden-portal/eden/internal/app/slice"
	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

// DefaultLoopWindow is the minimum time between two wipes.
const DefaultLoopWindow = 5 * time.Second

// Outcome is what Recover did.
type Outcome string

const (
	OutcomeRestored   Outcome = "restored"
	OutcomeWiped      Outcome = "wiped"
	OutcomeSuppressed Outcome = "suppressed"
)

// ─── Session ────────────────────────────────────────────────────────────────

// Session is the per-process recovery memory. It outlives in-process
// restarts so the restore is attempted at most once.
type Session struct {
	mu               sync.Mutex
	restoreAttempted bool
	lastReset        time.Time
}

// NewSession creates an empty session.
func NewSession() *Session { return &Session{} }

// RestoreAttempted reports whether a restore already ran.
func (s *Session) RestoreAttempted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreAttempted
}

// LastReset returns the time of the last wipe, or zero.
func (s *Session) LastReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReset
}

// Clear forgets both the restore attempt and the last wipe.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreAttempted = false
	s.lastReset = time.Time{}
}

// ─── Manager ────────────────────────────────────────────────────────────────

// Snapshotter produces a full-state snapshot.
type Snapshotter interface {
	Export() ([]byte, error)
}

// Layout describes the keys a registry owns.
type Layout interface {
	Namespace() string
	Slots() []registry.Slot
	OwnedKeys() []string
}

// Config wires a Manager.
type Config struct {
	Store      domain.LocalStore
	Session    *Session      // default: a fresh session
	LoopWindow time.Duration // default DefaultLoopWindow
	Now        func() time.Time
	Logger     *slog.Logger
}

// Manager creates restore points and recovers from faults.
type Manager struct {
	store   domain.LocalStore
	session *Session
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
	key     string
	slots   []registry.Slot
	owned   []string
}

// NewManager creates a manager for the keys described by layout.
func NewManager(layout Layout, cfg Config) *Manager {
	if cfg.Session == nil {
		cfg.Session = NewSession()
	}
	if cfg.LoopWindow <= 0 {
		cfg.LoopWindow = DefaultLoopWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:   cfg.Store,
		session: cfg.Session,
		window:  cfg.LoopWindow,
		now:     cfg.Now,
		logger:  cfg.Logger.With("component", "recovery"),
		key:     RestorePointKey(layout.Namespace()),
		slots:   layout.Slots(),
		owned:   layout.OwnedKeys(),
	}
}

// RestorePointKey is the store key of the restore point.
func RestorePointKey(namespace string) string {
	return registry.Key(namespace, "restore-point")
}

// Session returns the manager's session.
func (m *Manager) Session() *Session { return m.session }

// HasRestorePoint reports whether a restore point is stored.
func (m *Manager) HasRestorePoint() bool {
	_, ok, err := m.store.Read(m.key)
	return err == nil && ok
}

// CreateRestorePoint stores a snapshot of src as the restore point.
func (m *Manager) CreateRestorePoint(src Snapshotter) error {
	snap, err := src.Export()
	if err != nil {
		return fmt.Errorf("create restore point: %w", err)
	}
	if err := m.store.Write(m.key, snap); err != nil {
		return fmt.Errorf("create restore point: %w", err)
	}
	observability.RestorePoints.Inc()
	m.logger.Info("restore point created", "bytes", len(snap))
	return nil
}

// EnsureRestorePoint creates a restore point only if none exists yet.
func (m *Manager) EnsureRestorePoint(src Snapshotter) (bool, error) {
	if m.HasRestorePoint() {
		return false, nil
	}
	if err := m.CreateRestorePoint(src); err != nil {
		return false, err
	}
	return true, nil
}

// Recover brings the store back after fault. The caller restarts the
// registry from the store when the outcome is Restored or Wiped.
func (m *Manager) Recover(fault error) (Outcome, error) {
	m.logger.Error("fault detected", "err", fault)

	m.session.mu.Lock()
	defer m.session.mu.Unlock()

	if !m.session.restoreAttempted {
		if raw, ok, err := m.store.Read(m.key); err == nil && ok {
			m.session.restoreAttempted = true
			err := m.restore(raw)
			if err == nil {
				m.logger.Warn("state restored from restore point")
				observability.RecoveryOutcomes.WithLabelValues(string(OutcomeRestored)).Inc()
				return OutcomeRestored, nil
			}
			m.logger.Error("restore failed, wiping", "err", err)
		}
	}

	now := m.now()
	if !m.session.lastReset.IsZero() && now.Sub(m.session.lastReset) < m.window {
		m.logger.Error("fault repeated right after a wipe, giving up", "since_wipe", now.Sub(m.session.lastReset))
		observability.RecoveryOutcomes.WithLabelValues(string(OutcomeSuppressed)).Inc()
		return OutcomeSuppressed, fmt.Errorf("recovery suppressed: %w", fault)
	}

	var failed []string
	for _, k := range m.owned {
		if err := m.store.Delete(k); err != nil {
			failed = append(failed, k)
			m.logger.Error("wipe failed for key", "key", k, "err", err)
		}
	}
	m.session.lastReset = now
	m.session.restoreAttempted = false
	observability.RecoveryOutcomes.WithLabelValues(string(OutcomeWiped)).Inc()
	m.logger.Warn("local state wiped", "keys", len(m.owned)-len(failed))
	if len(failed) > 0 {
		return OutcomeWiped, fmt.Errorf("wipe left %d keys behind", len(failed))
	}
	return OutcomeWiped, nil
}

// restore validates the whole snapshot before writing any slot, so a
// corrupt restore point leaves the store untouched.
func (m *Manager) restore(raw []byte) error {
	snap, err := registry.ParseSnapshot(raw)
	if err != nil {
		return err
	}
	writes := make(map[string][]byte)
	for _, s := range m.slots {
		v, ok := snap[s.Name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if !json.Valid(v) {
			return fmt.Errorf("slot %s: %w", s.Name, domain.ErrSnapshotCorrupt)
		}
		writes[s.Key] = v
	}
	for _, s := range m.slots {
		v, ok := writes[s.Key]
		if !ok {
			continue
		}
		if err := m.store.Write(s.Key, v); err != nil {
			return fmt.Errorf("restore %s: %w", s.Name, err)
		}
		// A restored value is not a local edit; the mirror's copy wins again.
		if err := m.store.Delete(slice.UnpushedKey(s.Key)); err != nil {
			m.logger.Warn("unpushed marker not cleared", "key", s.Key, "err", err)
		}
	}
	return nil
}
