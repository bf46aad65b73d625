package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Corrections ────────────────────────────────────────────────────────────
// Edits and deletions of recorded transactions. They correct bookkeeping
// mistakes and do not move cash; deletions are archived to deletedItems.

// RecordPatch changes the editable fields of a payment or expense. Nil
// fields are left unchanged.
type RecordPatch struct {
	Purpose *string
	Remarks *string
	Amount  *int64
	Date    *time.Time
}

func (p RecordPatch) validate() error {
	if p.Amount != nil && *p.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// UpdatePayment applies patch to a payment.
func (r *Registry) UpdatePayment(id string, patch RecordPatch) (_ *domain.Payment, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("update_payment", "", map[string]string{"payment": id})
	defer func() { done(err) }()

	if err := patch.validate(); err != nil {
		return nil, err
	}
	ps := r.Payments.Get()
	i := findPayment(ps, id)
	if i < 0 {
		return nil, fmt.Errorf("update payment %q: %w", id, domain.ErrPaymentNotFound)
	}
	p := &ps[i]
	if patch.Purpose != nil {
		p.Purpose = *patch.Purpose
	}
	if patch.Remarks != nil {
		p.Remarks = *patch.Remarks
	}
	if patch.Amount != nil {
		p.Amount = *patch.Amount
	}
	if patch.Date != nil {
		p.Date = *patch.Date
	}
	r.Payments.Set(ps)
	return p, nil
}

// DeletePayment removes a payment and archives it.
func (r *Registry) DeletePayment(id string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("delete_payment", "", map[string]string{"payment": id})
	defer func() { done(err) }()

	ps := r.Payments.Get()
	i := findPayment(ps, id)
	if i < 0 {
		return fmt.Errorf("delete payment %q: %w", id, domain.ErrPaymentNotFound)
	}
	r.archive("payment", ps[i])
	r.Payments.Set(append(ps[:i], ps[i+1:]...))
	return nil
}

// UpdateExpense applies patch to an expense.
func (r *Registry) UpdateExpense(id string, patch RecordPatch) (_ *domain.Expense, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("update_expense", "", map[string]string{"expense": id})
	defer func() { done(err) }()

	if err := patch.validate(); err != nil {
		return nil, err
	}
	es := r.Expenses.Get()
	i := domain.FindExpense(es, id)
	if i < 0 {
		return nil, fmt.Errorf("update expense %q: %w", id, domain.ErrExpenseNotFound)
	}
	e := &es[i]
	if patch.Purpose != nil {
		e.Purpose = *patch.Purpose
	}
	if patch.Remarks != nil {
		e.Remarks = *patch.Remarks
	}
	if patch.Amount != nil {
		e.Amount = *patch.Amount
	}
	if patch.Date != nil {
		e.Date = *patch.Date
	}
	r.Expenses.Set(es)
	return e, nil
}

// DeleteExpense removes an expense and archives it.
func (r *Registry) DeleteExpense(id string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("delete_expense", "", map[string]string{"expense": id})
	defer func() { done(err) }()

	es := r.Expenses.Get()
	i := domain.FindExpense(es, id)
	if i < 0 {
		return fmt.Errorf("delete expense %q: %w", id, domain.ErrExpenseNotFound)
	}
	r.archive("expense", es[i])
	r.Expenses.Set(append(es[:i], es[i+1:]...))
	return nil
}

// DeleteLoan removes a loan and archives it.
func (r *Registry) DeleteLoan(id string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("delete_loan", "", map[string]string{"loan": id})
	defer func() { done(err) }()

	ls := r.Loans.Get()
	i := findLoan(ls, id)
	if i < 0 {
		return fmt.Errorf("delete loan %q: %w", id, domain.ErrLoanNotFound)
	}
	r.archive("loan", ls[i])
	r.Loans.Set(append(ls[:i], ls[i+1:]...))
	return nil
}

// DuePatch changes a due's amount or description.
type DuePatch struct {
	Amount      *int64
	Description *string
}

// UpdateDue edits the due identified by month and description. The status
// is recomputed from the new amount.
func (r *Registry) UpdateDue(flatID, month, description string, patch DuePatch) (_ *domain.Dues, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("update_due", "", map[string]string{"flat": flatID, "month": month})
	defer func() { done(err) }()

	if patch.Amount != nil && *patch.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	flats := r.Flats.Get()
	fi, di, err := findDue(flats, flatID, month, description)
	if err != nil {
		return nil, fmt.Errorf("update due: %w", err)
	}
	f := &flats[fi]
	if patch.Description != nil && *patch.Description != description && f.HasDue(month, *patch.Description) {
		return nil, fmt.Errorf("update due: %s %q already exists: %w", month, *patch.Description, domain.ErrInvalidTransition)
	}

	d := &f.Dues[di]
	if patch.Amount != nil {
		d.Amount = *patch.Amount
		if d.PaidAmount > d.Amount {
			f.AdvanceBalance += d.PaidAmount - d.Amount
			d.PaidAmount = d.Amount
		}
	}
	if patch.Description != nil {
		d.Description = *patch.Description
	}
	d.Status = domain.StatusFor(d.Amount, d.PaidAmount)
	r.Flats.Set(flats)
	return d, nil
}

// DeleteDue removes a due from a flat and archives it.
func (r *Registry) DeleteDue(flatID, month, description string) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("delete_due", "", map[string]string{"flat": flatID, "month": month})
	defer func() { done(err) }()

	flats := r.Flats.Get()
	fi, di, err := findDue(flats, flatID, month, description)
	if err != nil {
		return fmt.Errorf("delete due: %w", err)
	}
	dues := flats[fi].Dues
	r.archive("due", struct {
		FlatID string `json:"flatId"`
		domain.Dues
	}{flatID, dues[di]})
	flats[fi].Dues = append(dues[:di], dues[di+1:]...)
	r.Flats.Set(flats)
	return nil
}

// archive appends item to deletedItems.
func (r *Registry) archive(kind string, item any) {
	raw, err := json.Marshal(item)
	if err != nil {
		r.logger.Error("archive encode failed", "type", kind, "err", err)
		return
	}
	d := domain.DeletedItem{ID: uuid.NewString(), Type: kind, Item: raw, DeletedAt: r.now()}
	r.DeletedItems.Update(func(ds []domain.DeletedItem) []domain.DeletedItem {
		return append(ds, d)
	})
}

func findPayment(ps []domain.Payment, id string) int {
	for i := range ps {
		if ps[i].ID == id {
			return i
		}
	}
	return -1
}

func findDue(flats []domain.Flat, flatID, month, description string) (int, int, error) {
	fi := domain.FindFlat(flats, flatID)
	if fi < 0 {
		return 0, 0, fmt.Errorf("%q: %w", flatID, domain.ErrFlatNotFound)
	}
	for di, d := range flats[fi].Dues {
		if d.Same(month, description) {
			return fi, di, nil
		}
	}
	return 0, 0, fmt.Errorf("%s %s %q: %w", flatID, month, description, domain.ErrDueNotFound)
}
