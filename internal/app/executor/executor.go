// Package executor runs the portal's background automation jobs.
//
// A job is a named function run on a fixed interval and on demand. The
// executor:
//  1. Refuses a run when the job is already running or every slot is busy
//  2. Bounds each run with a timeout
//  3. Converts a panicking run into a failure and reports it as a fault
//  4. Keeps per-executor and per-job counters
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eden-portal/eden/internal/infra/observability"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobRunning   = errors.New("job is already running")
	ErrAtCapacity   = errors.New("executor at capacity")
)

// Job is one unit of automation. Interval <= 0 means on-demand only.
type Job struct {
	Name       string
	Interval   time.Duration
	RunAtStart bool
	Run        func(ctx context.Context, now time.Time) error
}

// Config controls executor behavior.
type Config struct {
	MaxConcurrent  int           // Maximum concurrent runs (default: 2)
	DefaultTimeout time.Duration // Per-run timeout (default: 1m)
	Now            func() time.Time
	Logger         *slog.Logger

	// OnPanic receives a run that panicked. The supervisor treats it as a
	// fault and starts recovery.
	OnPanic func(job string, fault error)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  2,
		DefaultTimeout: time.Minute,
	}
}

// Executor schedules and runs jobs.
type Executor struct {
	mu        sync.RWMutex
	config    Config
	logger    *slog.Logger
	jobs      map[string]Job
	running   map[string]bool
	lastRun   map[string]JobStatus
	sem       chan struct{} // Concurrency semaphore
	active    int
	completed int64
	failed    int64
	wg        sync.WaitGroup
}

// New creates an executor.
func New(cfg Config) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		config:  cfg,
		logger:  cfg.Logger.With("component", "executor"),
		jobs:    make(map[string]Job),
		running: make(map[string]bool),
		lastRun: make(map[string]JobStatus),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Register adds a job. Names are unique.
func (e *Executor) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("register job %q: name and run func are required", job.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[job.Name]; ok {
		return fmt.Errorf("register job %q: %w", job.Name, ErrDuplicateJob)
	}
	e.jobs[job.Name] = job
	return nil
}

// Start runs every interval job on its ticker until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	e.mu.RLock()
	jobs := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.RUnlock()

	for _, j := range jobs {
		if j.RunAtStart {
			if err := e.Submit(ctx, j.Name); err != nil {
				e.logger.Warn("start-up run skipped", "job", j.Name, "err", err)
			}
		}
		if j.Interval <= 0 {
			continue
		}
		e.wg.Add(1)
		go e.tick(ctx, j)
	}
}

func (e *Executor) tick(ctx context.Context, j Job) {
	defer e.wg.Done()
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.Submit(ctx, j.Name); err != nil {
				observability.JobRuns.WithLabelValues(j.Name, "skipped").Inc()
				e.logger.Debug("tick skipped", "job", j.Name, "err", err)
			}
		}
	}
}

// Submit starts a run of the named job and returns immediately.
func (e *Executor) Submit(ctx context.Context, name string) error {
	job, err := e.acquire(name)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(ctx, job)
	}()
	return nil
}

// RunNow runs the named job and waits for its result.
func (e *Executor) RunNow(ctx context.Context, name string) error {
	job, err := e.acquire(name)
	if err != nil {
		return err
	}
	return e.execute(ctx, job)
}

// acquire claims a slot and marks the job running.
func (e *Executor) acquire(name string) (Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[name]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.running[name] {
		return Job{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	select {
	case e.sem <- struct{}{}:
	default:
		return Job{}, fmt.Errorf("%w (%d concurrent runs)", ErrAtCapacity, e.config.MaxConcurrent)
	}
	e.running[name] = true
	e.active++
	return job, nil
}

// execute runs one job with a timeout and releases its slot.
func (e *Executor) execute(ctx context.Context, job Job) (err error) {
	start := e.config.Now()
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, v)
			observability.JobRuns.WithLabelValues(job.Name, "panic").Inc()
			e.logger.Error("job panicked", "job", job.Name, "panic", v)
			if e.config.OnPanic != nil {
				e.config.OnPanic(job.Name, err)
			}
		}
		e.finish(job.Name, start, err)
		<-e.sem
	}()

	execCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	err = job.Run(execCtx, start)
	if err != nil {
		observability.JobRuns.WithLabelValues(job.Name, "error").Inc()
		e.logger.Warn("job failed", "job", job.Name, "err", err)
		return err
	}
	observability.JobRuns.WithLabelValues(job.Name, "ok").Inc()
	return nil
}

func (e *Executor) finish(name string, start time.Time, err error) {
	elapsed := e.config.Now().Sub(start)
	observability.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, name)
	e.active--
	st := JobStatus{Name: name, LastRun: start, Duration: elapsed}
	if err != nil {
		e.failed++
		st.LastError = err.Error()
	} else {
		e.completed++
	}
	st.Runs = e.lastRun[name].Runs + 1
	e.lastRun[name] = st
}

// Wait blocks until every ticker and in-flight run has returned. Cancel the
// Start context first.
func (e *Executor) Wait() { e.wg.Wait() }

// JobStatus is the last known run of a job.
type JobStatus struct {
	Name      string        `json:"name"`
	Runs      int64         `json:"runs"`
	LastRun   time.Time     `json:"last_run"`
	Duration  time.Duration `json:"duration"`
	LastError string        `json:"last_error,omitempty"`
	Running   bool          `json:"running"`
}

// Stats returns executor statistics.
type Stats struct {
	Active    int         `json:"active"`
	Completed int64       `json:"completed"`
	Failed    int64       `json:"failed"`
	MaxSlots  int         `json:"max_slots"`
	FreeSlots int         `json:"free_slots"`
	Jobs      []JobStatus `json:"jobs"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	jobs := make([]JobStatus, 0, len(e.jobs))
	for name := range e.jobs {
		st := e.lastRun[name]
		st.Name = name
		st.Running = e.running[name]
		jobs = append(jobs, st)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	return Stats{
		Active:    e.active,
		Completed: e.completed,
		Failed:    e.failed,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - e.active,
		Jobs:      jobs,
	}
}

// ActiveCount returns the number of currently executing runs.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}
