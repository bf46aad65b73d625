// Package observability holds the runtime's metrics and the in-memory
// operation journal.
//
// This provides:
//   - Prometheus metrics for slice sync, workflows, recovery and the mirror
//   - A bounded journal of recent workflow operations for inspection over the API
package observability

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// Operation Journal
// ═══════════════════════════════════════════════════════════════════════════

// OpStatus indicates success/failure.
type OpStatus string

const (
	OpOK       OpStatus = "ok"
	OpRejected OpStatus = "rejected"
)

// Op is one completed workflow operation.
type Op struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Actor     string            `json:"actor,omitempty"`
	StartTime time.Time         `json:"start_time"`
	Duration  time.Duration     `json:"duration"`
	Status    OpStatus          `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ─── Journal ────────────────────────────────────────────────────────────────

// Journal keeps the most recent workflow operations in a ring buffer.
// A nil *Journal is valid and records nothing.
type Journal struct {
	mu     sync.Mutex
	ops    []Op
	maxOps int
	now    func() time.Time
}

// JournalConfig configures the journal.
type JournalConfig struct {
	MaxOps int // ring buffer size (default 1_000)
}

// DefaultJournalConfig returns production defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{MaxOps: 1_000}
}

// NewJournal creates a journal.
func NewJournal(cfg JournalConfig) *Journal {
	if cfg.MaxOps <= 0 {
		cfg.MaxOps = DefaultJournalConfig().MaxOps
	}
	return &Journal{
		ops:    make([]Op, 0, cfg.MaxOps),
		maxOps: cfg.MaxOps,
		now:    time.Now,
	}
}

// Begin starts timing an operation. Call End when done.
func (j *Journal) Begin(name, actor string, attrs map[string]string) *Op {
	if j == nil {
		return nil
	}
	return &Op{
		ID:        uuid.NewString(),
		Name:      name,
		Actor:     actor,
		StartTime: j.now(),
		Status:    OpOK,
		Attrs:     attrs,
	}
}

// End records op and counts it in WorkflowOps.
func (j *Journal) End(op *Op, err error) {
	if j == nil || op == nil {
		return
	}

	op.Duration = j.now().Sub(op.StartTime)
	if err != nil {
		op.Status = OpRejected
		if op.Attrs == nil {
			op.Attrs = make(map[string]string)
		}
		op.Attrs["error"] = err.Error()
	}
	WorkflowOps.WithLabelValues(op.Name, string(op.Status)).Inc()

	j.mu.Lock()
	defer j.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(j.ops) >= j.maxOps {
		j.ops = j.ops[1:]
	}
	j.ops = append(j.ops, *op)
}

// Recent returns a copy of the most recent ops, oldest first.
func (j *Journal) Recent(limit int) []Op {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 || limit > len(j.ops) {
		limit = len(j.ops)
	}
	out := make([]Op, limit)
	copy(out, j.ops[len(j.ops)-limit:])
	return out
}

// Len returns the number of recorded ops.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.ops)
}

// Reset clears all recorded ops.
func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = j.ops[:0]
}
