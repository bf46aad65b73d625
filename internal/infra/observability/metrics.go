package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Slice Metrics ──────────────────────────────────────────────────────────

// SliceWrites counts local mutations that changed a slice's value.
var SliceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "slice",
	Name:      "local_writes_total",
	Help:      "Local mutations applied to a slice.",
}, []string{"slice"})

// SliceStoreErrors counts failed local store operations.
var SliceStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "slice",
	Name:      "store_errors_total",
	Help:      "Local store read/write failures, by operation.",
}, []string{"slice", "op"})

// SlicePushes counts debounced pushes to the remote mirror.
var SlicePushes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "slice",
	Name:      "pushes_total",
	Help:      "Remote mirror pushes, by result (ok, error).",
}, []string{"slice", "result"})

// SliceRemoteEvents counts classified remote notifications.
var SliceRemoteEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "slice",
	Name:      "remote_events_total",
	Help:      "Remote notifications, by transition (echo, stale_echo, external).",
}, []string{"slice", "transition"})

// ─── Workflow Metrics ───────────────────────────────────────────────────────

// WorkflowOps counts registry workflow operations by outcome.
var WorkflowOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "workflow",
	Name:      "operations_total",
	Help:      "Workflow operations, by name and status (ok, rejected).",
}, []string{"op", "status"})

// DuesGenerated counts monthly dues created by the automation.
var DuesGenerated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "workflow",
	Name:      "dues_generated_total",
	Help:      "Monthly dues entries created.",
})

// RemindersSent counts reminder notifications created.
var RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "workflow",
	Name:      "reminders_total",
	Help:      "Reminder notifications created, by action type.",
}, []string{"action"})

// ─── Job Metrics ────────────────────────────────────────────────────────────

// JobRuns counts automation job runs by result.
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Automation job runs, by job and result (ok, error, panic, skipped).",
}, []string{"job", "result"})

// JobDuration observes how long job runs take.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "eden",
	Subsystem: "jobs",
	Name:      "duration_seconds",
	Help:      "Automation job run duration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"job"})

// ─── Recovery Metrics ───────────────────────────────────────────────────────

// RecoveryOutcomes counts fault recoveries by outcome.
var RecoveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "recovery",
	Name:      "outcomes_total",
	Help:      "Fault recoveries, by outcome (restored, wiped, suppressed).",
}, []string{"outcome"})

// RestorePoints counts snapshots written.
var RestorePoints = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "recovery",
	Name:      "restore_points_total",
	Help:      "Restore-point snapshots written.",
})

// ─── Mirror Metrics ─────────────────────────────────────────────────────────

// MirrorConnected is 1 while the mirror client has a live connection.
var MirrorConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "eden",
	Subsystem: "mirror",
	Name:      "connected",
	Help:      "1 while the mirror client is connected, else 0.",
})

// MirrorReconnects counts client reconnect attempts.
var MirrorReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "mirror",
	Name:      "reconnects_total",
	Help:      "Mirror client reconnect attempts.",
})

// MirrorServerClients tracks websocket subscribers on the mirror server.
var MirrorServerClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "eden",
	Subsystem: "mirror_server",
	Name:      "clients",
	Help:      "Connected websocket clients.",
})

// MirrorServerWrites counts document writes accepted by the mirror server.
var MirrorServerWrites = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "eden",
	Subsystem: "mirror_server",
	Name:      "document_writes_total",
	Help:      "Documents written to the mirror server store.",
})
