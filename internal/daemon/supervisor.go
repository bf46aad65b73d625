package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eden-portal/eden/internal/app/executor"
	"github.com/eden-portal/eden/internal/app/recovery"
	"github.com/eden-portal/eden/internal/app/registry"
	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/mirror"
	"github.com/eden-portal/eden/internal/infra/observability"
	"github.com/eden-portal/eden/internal/infra/sqlite"
)

// Job names registered by the supervisor.
const (
	JobMonthlyDues  = "monthly-dues"
	JobReminders    = "reminders"
	JobRestorePoint = "restore-point"
)

// ─── Supervisor ─────────────────────────────────────────────────────────────

// Supervisor owns the process-wide pieces and the current registry. A fault
// recovers the store and replaces the registry in place; the store, mirror
// connector, journal and recovery session live for the whole process.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	db      *sqlite.DB
	store   domain.LocalStore
	client  *mirror.Client      // nil when running local-only
	remote  domain.RemoteMirror // nil when running local-only
	session *recovery.Session
	journal *observability.Journal
	exec    *executor.Executor
	now     func() time.Time

	mu       sync.RWMutex
	reg      *registry.Registry
	rec      *recovery.Manager
	restarts int
	closed   bool
}

// Options overrides pieces of the supervisor, mainly for tests.
type Options struct {
	Store  domain.LocalStore   // default: SQLite in cfg.Data.Dir
	Mirror domain.RemoteMirror // default: from cfg.Sync
	Now    func() time.Time
}

// NewSupervisor opens the store, builds the mirror connector and the first
// registry, and registers the automation jobs. Call Start to run them.
func NewSupervisor(cfg Config, logger *slog.Logger, opts Options) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:     cfg,
		logger:  logger.With("component", "supervisor"),
		session: recovery.NewSession(),
		journal: observability.NewJournal(observability.DefaultJournalConfig()),
	}

	s.store = opts.Store
	if s.store == nil {
		db, err := sqlite.Open(cfg.Data.Dir)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		s.db = db
		s.store = db
	}

	s.remote = opts.Mirror
	switch {
	case s.remote != nil:
	case cfg.Sync.RemoteURL != "":
		cc := mirror.DefaultClientConfig(cfg.Sync.RemoteURL)
		cc.ReconnectMin = parseDuration(cfg.Sync.ReconnectMin, cc.ReconnectMin)
		cc.ReconnectMax = parseDuration(cfg.Sync.ReconnectMax, cc.ReconnectMax)
		cc.Logger = logger
		client, err := mirror.NewClient(cc)
		if err != nil {
			s.closeStore()
			return nil, fmt.Errorf("mirror client: %w", err)
		}
		s.client = client
		s.remote = client
	default:
		// Slices without a mirror persist locally and never schedule pushes.
		s.logger.Info("remote mirror not configured, running local-only")
	}

	s.now = opts.Now
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.openRegistry(); err != nil {
		s.closeStore()
		return nil, err
	}

	s.exec = executor.New(executor.Config{
		MaxConcurrent:  cfg.Automation.MaxConcurrent,
		DefaultTimeout: parseDuration(cfg.Automation.JobTimeout, time.Minute),
		Now:            s.now,
		Logger:         logger,
		OnPanic: func(job string, fault error) {
			if _, err := s.Fault(fault); err != nil {
				s.logger.Error("recovery after job panic failed", "job", job, "err", err)
			}
		},
	})
	if err := s.registerJobs(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Supervisor) openRegistry() error {
	rc := s.cfg.RegistryOptions()
	rc.Store = s.store
	rc.Mirror = s.remote
	rc.Logger = s.logger
	rc.Journal = s.journal
	rc.Now = s.now
	reg, err := registry.New(rc)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	s.reg = reg
	s.rec = recovery.NewManager(reg, recovery.Config{
		Store:      s.store,
		Session:    s.session,
		LoopWindow: parseDuration(s.cfg.Recovery.LoopWindow, recovery.DefaultLoopWindow),
		Now:        s.now,
		Logger:     s.logger,
	})
	return nil
}

func (s *Supervisor) registerJobs() error {
	jobs := []executor.Job{
		{
			Name:       JobMonthlyDues,
			Interval:   parseDuration(s.cfg.Automation.MonthlyCheckInterval, 24*time.Hour),
			RunAtStart: true,
			Run: func(_ context.Context, now time.Time) error {
				_, err := s.Registry().GenerateMonthlyDues(now)
				return err
			},
		},
		{
			Name:       JobReminders,
			Interval:   parseDuration(s.cfg.Automation.ReminderInterval, 30*time.Second),
			RunAtStart: true,
			Run: func(_ context.Context, now time.Time) error {
				_, err := s.Registry().GenerateReminders(now)
				return err
			},
		},
		{
			Name:     JobRestorePoint,
			Interval: parseDuration(s.cfg.Automation.RestorePointInterval, time.Hour),
			Run: func(context.Context, time.Time) error {
				return s.CreateRestorePoint()
			},
		},
	}
	for _, j := range jobs {
		if err := s.exec.Register(j); err != nil {
			return err
		}
	}
	return nil
}

// Start connects the mirror, makes sure a restore point exists and starts
// the automation tickers. Everything stops when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.client != nil {
		s.client.Start(ctx)
	}
	if created, err := s.Recovery().EnsureRestorePoint(s.Registry()); err != nil {
		s.logger.Warn("initial restore point failed", "err", err)
	} else if created {
		s.logger.Info("initial restore point created")
	}
	if s.cfg.Automation.Enabled {
		s.exec.Start(ctx)
	}
	s.logger.Info("supervisor started",
		"namespace", s.cfg.Registry.Namespace,
		"remote", s.cfg.Sync.RemoteURL != "",
		"automation", s.cfg.Automation.Enabled,
	)
	return nil
}

// ─── Accessors ──────────────────────────────────────────────────────────────

// Registry returns the current registry. It changes after a recovery.
func (s *Supervisor) Registry() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg
}

// Recovery returns the current recovery manager.
func (s *Supervisor) Recovery() *recovery.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}

// Journal returns the operation journal.
func (s *Supervisor) Journal() *observability.Journal { return s.journal }

// Executor returns the automation executor.
func (s *Supervisor) Executor() *executor.Executor { return s.exec }

// MirrorState reports the mirror connection.
func (s *Supervisor) MirrorState() domain.ConnectionState {
	if s.client == nil {
		return domain.MirrorOffline
	}
	return s.client.State()
}

// Restarts counts in-process registry restarts.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// CreateRestorePoint snapshots the current registry.
func (s *Supervisor) CreateRestorePoint() error {
	s.mu.RLock()
	reg, rec := s.reg, s.rec
	s.mu.RUnlock()
	return rec.CreateRestorePoint(reg)
}

// RunJob runs one automation job now and waits for it.
func (s *Supervisor) RunJob(ctx context.Context, name string) error {
	return s.exec.RunNow(ctx, name)
}

// ─── Faults ─────────────────────────────────────────────────────────────────

// Fault recovers the store and restarts the registry from it. The faulted
// registry is abandoned first: its pending pushes are dropped so they cannot
// reach the mirror and replay over the recovered state. A suppressed
// recovery leaves the store untouched and returns an error; the registry is
// still reopened from the store.
func (s *Supervisor) Fault(fault error) (recovery.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.New("supervisor closed")
	}

	s.reg.Abandon()
	out, err := s.rec.Recover(fault)
	if err != nil && out != recovery.OutcomeSuppressed {
		s.logger.Warn("recovery finished with errors", "outcome", out, "err", err)
	}

	if rerr := s.openRegistry(); rerr != nil {
		return out, errors.Join(err, rerr)
	}
	if out == recovery.OutcomeSuppressed {
		return out, err
	}
	s.restarts++
	s.logger.Warn("registry restarted", "outcome", out, "restarts", s.restarts)
	return out, err
}

// Close flushes pending pushes and releases the store and mirror. Cancel the
// Start context first so the automation tickers stop.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	reg := s.reg
	s.mu.Unlock()

	s.exec.Wait()
	if reg != nil {
		reg.Close()
	}
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	errs = append(errs, s.closeStore())
	return errors.Join(errs...)
}

func (s *Supervisor) closeStore() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
