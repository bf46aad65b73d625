package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eden-portal/eden/internal/app/registry"
	"github.com/eden-portal/eden/internal/domain"
)

// maxBackupBytes bounds an uploaded snapshot; slices carry base64 images.
const maxBackupBytes = 64 << 20

// ─── State ──────────────────────────────────────────────────────────────────

func (s *Server) handleListState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": s.backend.Registry().Namespace(),
		"slots":     s.backend.Registry().Slots(),
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	e, ok := s.backend.Registry().Entry(name)
	if !ok {
		writeDomainError(w, fmt.Errorf("%s: %w", name, domain.ErrUnknownSlice))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(e.Export())
}

// handlePutState replaces one slice's value, as a UI does for notices,
// messages, tasks and the other content slices.
func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reg := s.backend.Registry()
	if _, ok := reg.Entry(name); !ok {
		writeDomainError(w, fmt.Errorf("%s: %w", name, domain.ErrUnknownSlice))
		return
	}
	var raw json.RawMessage
	if !decode(w, r, &raw) {
		return
	}
	snap, _ := json.Marshal(map[string]json.RawMessage{name: raw})
	if _, err := reg.Import(snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, _ := reg.Entry(name)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(e.Export())
}

func (s *Server) handleNextTransactionID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"id": s.backend.Registry().NextTransactionID()})
}

// ─── Payments & Receivables ─────────────────────────────────────────────────

type paymentRequest struct {
	FlatID      string     `json:"flatId"`
	Amount      int64      `json:"amount"`
	Date        *time.Time `json:"date"`
	Purpose     string     `json:"purpose"`
	Description string     `json:"description"`
	ReceiverID  string     `json:"receiverId"`
	ReceiptImg  string     `json:"receiptImg"`
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}
	reg := s.backend.Registry()
	p, err := reg.ProcessPayment(registry.PaymentInput{
		FlatID:      req.FlatID,
		Amount:      req.Amount,
		Date:        orNow(req.Date, reg.Now()),
		Purpose:     req.Purpose,
		Description: req.Description,
		ReceiverID:  req.ReceiverID,
		ReceiptImg:  req.ReceiptImg,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type recordPatchRequest struct {
	Purpose *string    `json:"purpose"`
	Remarks *string    `json:"remarks"`
	Amount  *int64     `json:"amount"`
	Date    *time.Time `json:"date"`
}

func (p recordPatchRequest) patch() registry.RecordPatch {
	return registry.RecordPatch{Purpose: p.Purpose, Remarks: p.Remarks, Amount: p.Amount, Date: p.Date}
}

func (s *Server) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req recordPatchRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.backend.Registry().UpdatePayment(chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Registry().DeletePayment(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type receivableRequest struct {
	Description string           `json:"description"`
	Amount      int64            `json:"amount"`
	ApplyTo     registry.ApplyTo `json:"applyTo"`
	FlatID      string           `json:"flatId"`
	Month       string           `json:"month"`
}

func (s *Server) handleAddReceivable(w http.ResponseWriter, r *http.Request) {
	var req receivableRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.backend.Registry().AddReceivable(registry.ReceivableInput{
		Description: req.Description,
		Amount:      req.Amount,
		ApplyTo:     req.ApplyTo,
		FlatID:      req.FlatID,
		Month:       req.Month,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"flats": n})
}

// ─── Expenses ───────────────────────────────────────────────────────────────

type payableRequest struct {
	Kind               registry.PayableKind `json:"kind"`
	Purpose            string               `json:"purpose"`
	Amount             int64                `json:"amount"`
	Date               *time.Time           `json:"date"`
	DueDate            *time.Time           `json:"dueDate"`
	AmountAfterDueDate int64                `json:"amountAfterDueDate"`
	Remarks            string               `json:"remarks"`
	InvoiceImg         string               `json:"invoiceImg"`
	Meter              *domain.MeterReading `json:"meter"`
	PersonID           string               `json:"personId"`
	PersonName         string               `json:"personName"`
	LoanDueDate        *time.Time           `json:"loanDueDate"`
	RequesterID        string               `json:"requesterId"`
}

func (s *Server) handleAddPayable(w http.ResponseWriter, r *http.Request) {
	var req payableRequest
	if !decode(w, r, &req) {
		return
	}
	in := registry.PayableInput{
		Kind:               req.Kind,
		Purpose:            req.Purpose,
		Amount:             req.Amount,
		DueDate:            req.DueDate,
		AmountAfterDueDate: req.AmountAfterDueDate,
		Remarks:            req.Remarks,
		InvoiceImg:         req.InvoiceImg,
		Meter:              req.Meter,
		PersonID:           req.PersonID,
		PersonName:         req.PersonName,
	}
	if req.Date != nil {
		in.Date = *req.Date
	}
	if req.LoanDueDate != nil {
		in.LoanDueDate = *req.LoanDueDate
	}
	e, err := s.backend.Registry().AddPayable(in, req.RequesterID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

type actorRequest struct {
	UserID string     `json:"userId"`
	Reason string     `json:"reason"`
	At     *time.Time `json:"at"`
}

func (s *Server) handleApproveExpense(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.backend.Registry().ApproveExpense(chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleRejectExpense(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.backend.Registry().RejectExpense(chi.URLParam(r, "id"), req.UserID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handlePayExpense(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decode(w, r, &req) {
		return
	}
	reg := s.backend.Registry()
	e, err := reg.PayExpense(chi.URLParam(r, "id"), req.UserID, orNow(req.At, reg.Now()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req recordPatchRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.backend.Registry().UpdateExpense(chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Registry().DeleteExpense(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Loans ──────────────────────────────────────────────────────────────────

type loanRequest struct {
	PersonID    string     `json:"personId"`
	PersonName  string     `json:"personName"`
	Amount      int64      `json:"amount"`
	Date        *time.Time `json:"date"`
	DueDate     *time.Time `json:"dueDate"`
	Description string     `json:"description"`
	ReceiverID  string     `json:"receiverId"`
}

func (s *Server) handleReceiveLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !decode(w, r, &req) {
		return
	}
	reg := s.backend.Registry()
	in := registry.LoanInput{
		PersonID:    req.PersonID,
		PersonName:  req.PersonName,
		Amount:      req.Amount,
		Date:        orNow(req.Date, reg.Now()),
		Description: req.Description,
	}
	if req.DueDate != nil {
		in.DueDate = *req.DueDate
	}
	l, err := reg.ReceiveLoan(in, req.ReceiverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handlePayLoan(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decode(w, r, &req) {
		return
	}
	reg := s.backend.Registry()
	e, err := reg.PayLoan(chi.URLParam(r, "id"), req.UserID, orNow(req.At, reg.Now()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCollectLoan(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decode(w, r, &req) {
		return
	}
	reg := s.backend.Registry()
	p, err := reg.CollectLoan(chi.URLParam(r, "id"), req.UserID, orNow(req.At, reg.Now()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteLoan(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Registry().DeleteLoan(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Cash Transfers ─────────────────────────────────────────────────────────

type transferRequest struct {
	SenderID string `json:"senderId"`
}

func (s *Server) handleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.backend.Registry().InitiateCashTransfer(req.SenderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := s.backend.Registry().ConfirmCashTransfer(chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ─── Dues ───────────────────────────────────────────────────────────────────

type duePatchRequest struct {
	Amount      *int64  `json:"amount"`
	Description *string `json:"description"`
}

// dueDescription reads ?description=, defaulting to monthly maintenance.
func dueDescription(r *http.Request) string {
	if d := r.URL.Query().Get("description"); d != "" {
		return d
	}
	return registry.MaintenanceDescription
}

func (s *Server) handleUpdateDue(w http.ResponseWriter, r *http.Request) {
	var req duePatchRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.backend.Registry().UpdateDue(chi.URLParam(r, "id"), chi.URLParam(r, "month"), dueDescription(r),
		registry.DuePatch{Amount: req.Amount, Description: req.Description})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDue(w http.ResponseWriter, r *http.Request) {
	err := s.backend.Registry().DeleteDue(chi.URLParam(r, "id"), chi.URLParam(r, "month"), dueDescription(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Notifications ──────────────────────────────────────────────────────────

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	writeJSON(w, http.StatusOK, s.backend.Registry().NotificationsFor(user, unread))
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Registry().MarkNotificationRead(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Jobs ───────────────────────────────────────────────────────────────────

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Executor().Stats())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.backend.Executor().RunNow(r.Context(), name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "ok"})
}

// ─── Backup & Recovery ──────────────────────────────────────────────────────

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	reg := s.backend.Registry()
	snap, err := reg.Export()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	name := fmt.Sprintf("eden-backup-%s.json", reg.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(snap)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBackupBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read snapshot: "+err.Error())
		return
	}
	applied, err := s.backend.Registry().Import(data)
	switch {
	case errors.Is(err, domain.ErrSnapshotCorrupt):
		writeDomainError(w, err)
	case err != nil:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"applied": applied,
			"error":   map[string]any{"message": err.Error(), "type": "partial_import"},
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
	}
}

func (s *Server) handleCreateRestorePoint(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Recovery().CreateRestorePoint(s.backend.Registry()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Journal().Recent(queryInt(r, "limit", 50)))
}
