package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eden-portal/eden/internal/app/ledger"
	"github.com/eden-portal/eden/internal/domain"
)

// ─── Ledgers ────────────────────────────────────────────────────────────────

// parseRange reads ?from= and ?to= as YYYY-MM-DD. To is exclusive.
func parseRange(r *http.Request) (ledger.Range, error) {
	var rng ledger.Range
	for name, dst := range map[string]*time.Time{"from": &rng.From, "to": &rng.To} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return rng, fmt.Errorf("%s: want YYYY-MM-DD", name)
		}
		*dst = t
	}
	return rng, nil
}

func (s *Server) handleBuildingLedger(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg := s.backend.Registry()
	writeJSON(w, http.StatusOK, ledger.Building(reg.Payments.Get(), reg.Expenses.Get(), rng))
}

func (s *Server) handleFlatLedger(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg := s.backend.Registry()
	id := chi.URLParam(r, "id")
	flats := reg.Flats.Get()
	i := domain.FindFlat(flats, id)
	if i < 0 {
		writeDomainError(w, fmt.Errorf("%s: %w", id, domain.ErrFlatNotFound))
		return
	}
	writeJSON(w, http.StatusOK, ledger.Flat(flats[i], reg.Payments.Get(), rng))
}

func (s *Server) handleStaffLedger(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reg := s.backend.Registry()
	id := chi.URLParam(r, "id")
	if domain.FindUser(reg.Users.Get(), id) < 0 {
		writeDomainError(w, fmt.Errorf("%s: %w", id, domain.ErrUserNotFound))
		return
	}
	writeJSON(w, http.StatusOK, ledger.StaffCash(id, reg.Payments.Get(), reg.CashTransfers.Get(), rng))
}

// ─── Reports ────────────────────────────────────────────────────────────────

func (s *Server) handleDuesReport(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			writeError(w, http.StatusBadRequest, "month: want YYYY-MM")
			return
		}
	}
	writeJSON(w, http.StatusOK, ledger.Report(s.backend.Registry().Flats.Get(), month))
}

func (s *Server) handleDuesSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flats := s.backend.Registry().Flats.Get()
	i := domain.FindFlat(flats, id)
	if i < 0 {
		writeDomainError(w, fmt.Errorf("%s: %w", id, domain.ErrFlatNotFound))
		return
	}
	writeJSON(w, http.StatusOK, ledger.SummarizeDues(flats[i]))
}

func (s *Server) handleCashPosition(w http.ResponseWriter, r *http.Request) {
	reg := s.backend.Registry()
	pos := ledger.CashPosition(reg.Users.Get(), reg.CashTransfers.Get())
	books := ledger.BuildingCash(reg.Payments.Get(), reg.Expenses.Get())
	writeJSON(w, http.StatusOK, map[string]any{
		"position":        pos,
		"books":           books,
		"difference":      pos.Total - books,
		"total_formatted": domain.FormatPKR(pos.Total),
	})
}

func (s *Server) handleReceivables(w http.ResponseWriter, r *http.Request) {
	reg := s.backend.Registry()
	writeJSON(w, http.StatusOK, ledger.Receivables(reg.Flats.Get(), reg.Loans.Get()))
}

func (s *Server) handlePayables(w http.ResponseWriter, r *http.Request) {
	reg := s.backend.Registry()
	writeJSON(w, http.StatusOK, ledger.Payables(reg.Expenses.Get(), reg.Loans.Get()))
}
