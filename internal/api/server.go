// Package api provides the portal's HTTP API.
// It exposes slice state, the financial workflows, derived ledgers and
// reports, backup and restore points, and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eden-portal/eden/internal/app/executor"
	"github.com/eden-portal/eden/internal/app/recovery"
	"github.com/eden-portal/eden/internal/app/registry"
	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/mirror"
	"github.com/eden-portal/eden/internal/infra/observability"
)

// Backend is what the API serves from. The daemon supervisor implements it;
// Registry and Recovery may change after a fault.
type Backend interface {
	Registry() *registry.Registry
	Recovery() *recovery.Manager
	Journal() *observability.Journal
	Executor() *executor.Executor
	MirrorState() domain.ConnectionState
	Fault(fault error) (recovery.Outcome, error)
}

// Server is the portal HTTP API server.
type Server struct {
	backend        Backend
	logger         *slog.Logger
	metricsEnabled bool
	started        time.Time
}

// NewServer creates a new API server.
func NewServer(b Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: b, logger: logger.With("component", "api"), started: time.Now()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mirror.LogRequests(s.logger))
	r.Use(s.recoverFault)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})
	r.Get("/api/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleListState)
		r.Get("/state/{name}", s.handleGetState)
		r.Put("/state/{name}", s.handlePutState)

		r.Post("/transaction-ids", s.handleNextTransactionID)

		r.Post("/payments", s.handleProcessPayment)
		r.Patch("/payments/{id}", s.handleUpdatePayment)
		r.Delete("/payments/{id}", s.handleDeletePayment)
		r.Post("/receivables", s.handleAddReceivable)

		r.Post("/payables", s.handleAddPayable)
		r.Post("/expenses/{id}/approve", s.handleApproveExpense)
		r.Post("/expenses/{id}/reject", s.handleRejectExpense)
		r.Post("/expenses/{id}/pay", s.handlePayExpense)
		r.Patch("/expenses/{id}", s.handleUpdateExpense)
		r.Delete("/expenses/{id}", s.handleDeleteExpense)

		r.Post("/loans", s.handleReceiveLoan)
		r.Post("/loans/{id}/pay", s.handlePayLoan)
		r.Post("/loans/{id}/collect", s.handleCollectLoan)
		r.Delete("/loans/{id}", s.handleDeleteLoan)

		r.Post("/transfers", s.handleInitiateTransfer)
		r.Post("/transfers/{id}/confirm", s.handleConfirmTransfer)

		r.Patch("/flats/{id}/dues/{month}", s.handleUpdateDue)
		r.Delete("/flats/{id}/dues/{month}", s.handleDeleteDue)

		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications/{id}/read", s.handleMarkNotificationRead)

		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/{name}", s.handleRunJob)

		r.Get("/ledger/building", s.handleBuildingLedger)
		r.Get("/ledger/flats/{id}", s.handleFlatLedger)
		r.Get("/ledger/staff/{id}", s.handleStaffLedger)
		r.Get("/reports/dues", s.handleDuesReport)
		r.Get("/reports/dues/{id}", s.handleDuesSummary)
		r.Get("/reports/cash", s.handleCashPosition)
		r.Get("/reports/receivables", s.handleReceivables)
		r.Get("/reports/payables", s.handlePayables)

		r.Get("/backup", s.handleExport)
		r.Post("/backup", s.handleImport)
		r.Post("/restore-point", s.handleCreateRestorePoint)
		r.Get("/operations", s.handleOperations)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reg := s.backend.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "eden is running",
		"namespace":     reg.Namespace(),
		"mirror":        s.backend.MirrorState(),
		"restore_point": s.backend.Recovery().HasRestorePoint(),
		"uptime":        time.Since(s.started).Round(time.Second).String(),
	})
}

// recoverFault turns a handler panic into a recovery of the local store.
// The client gets a 500 with the recovery outcome.
func (s *Server) recoverFault(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			fault := fmt.Errorf("panic in %s %s: %v", r.Method, r.URL.Path, v)
			out, err := s.backend.Fault(fault)
			s.logger.Error("handler fault", "err", fault, "outcome", out, "recovery_err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"message": "internal error, local state recovered",
					"type":    "fault",
				},
				"recovery": out,
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

// writeDomainError maps a workflow error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFlatNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrExpenseNotFound),
		errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrLoanNotFound),
		errors.Is(err, domain.ErrTransferNotFound),
		errors.Is(err, domain.ErrDueNotFound),
		errors.Is(err, domain.ErrNotificationNotFound),
		errors.Is(err, domain.ErrUnknownSlice),
		errors.Is(err, executor.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSnapshotCorrupt):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotApprover),
		errors.Is(err, domain.ErrNotAccountant),
		errors.Is(err, domain.ErrNoCashHolder):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrNoCashToTransfer),
		errors.Is(err, executor.ErrJobRunning),
		errors.Is(err, executor.ErrAtCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusConflict:
		return "conflict"
	default:
		return "error"
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// orNow returns *t, or now when t is nil or zero.
func orNow(t *time.Time, now time.Time) time.Time {
	if t == nil || t.IsZero() {
		return now
	}
	return *t
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
