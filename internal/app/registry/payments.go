package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Record Payment ─────────────────────────────────────────────────────────

// PaymentInput is a payment received from a flat.
type PaymentInput struct {
	FlatID      string
	Amount      int64
	Date        time.Time
	Purpose     string
	Description string
	ReceiverID  string // staff member whose cash on hand grows
	ReceiptImg  string // base64
}

// ProcessPayment records a payment against a flat. The amount settles the
// flat's unpaid dues oldest month first; whatever is left over becomes
// advance balance. The receiver's cash on hand grows by the full amount.
func (r *Registry) ProcessPayment(in PaymentInput) (_ *domain.Payment, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("process_payment", in.ReceiverID, map[string]string{"flat": in.FlatID})
	defer func() { done(err) }()

	if in.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	flats := r.Flats.Get()
	fi := domain.FindFlat(flats, in.FlatID)
	if fi < 0 {
		return nil, fmt.Errorf("process payment for %q: %w", in.FlatID, domain.ErrFlatNotFound)
	}
	users := r.Users.Get()
	if err := requireCashHolder(users, in.ReceiverID); err != nil {
		return nil, fmt.Errorf("process payment: %w", err)
	}

	breakdown := applyPayment(&flats[fi], in.Amount)
	p := domain.Payment{
		ID:         r.nextIDLocked(),
		FlatID:     in.FlatID,
		Amount:     in.Amount,
		Date:       in.Date,
		Purpose:    in.Purpose,
		Remarks:    in.Description,
		ReceiptImg: in.ReceiptImg,
		ReceivedBy: in.ReceiverID,
		Status:     domain.PaymentConfirmed,
		Breakdown:  breakdown,
	}

	r.Flats.Set(flats)
	r.Payments.Update(func(ps []domain.Payment) []domain.Payment {
		return append([]domain.Payment{p}, ps...)
	})
	r.Users.Set(addCash(users, in.ReceiverID, in.Amount))
	return &p, nil
}

// applyPayment allocates amount across f's unpaid dues, oldest month first,
// and returns one breakdown line per due touched plus an advance line for
// any residual.
func applyPayment(f *domain.Flat, amount int64) []domain.BreakdownLine {
	order := make([]int, 0, len(f.Dues))
	for i, d := range f.Dues {
		if d.Status != domain.DuesPaid {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return f.Dues[order[a]].Month < f.Dues[order[b]].Month
	})

	lines := []domain.BreakdownLine{}
	remaining := amount
	for _, i := range order {
		if remaining <= 0 {
			break
		}
		d := &f.Dues[i]
		take := min(remaining, d.Owed())
		if take <= 0 {
			continue
		}
		d.PaidAmount += take
		d.Status = domain.StatusFor(d.Amount, d.PaidAmount)
		remaining -= take
		lines = append(lines, domain.BreakdownLine{
			Description: d.Description + " for " + d.MonthLabel(),
			Amount:      take,
		})
	}
	if remaining > 0 {
		f.AdvanceBalance += remaining
		lines = append(lines, domain.BreakdownLine{Description: domain.AdvanceLine, Amount: remaining})
	}
	return lines
}

// ─── Receivables ────────────────────────────────────────────────────────────

// ApplyTo selects which flats an ad-hoc receivable is charged to.
type ApplyTo string

const (
	ApplyAll       ApplyTo = "all"
	ApplyFlatsOnly ApplyTo = "flatsOnly" // numbered flats, not commercial units
	ApplySpecific  ApplyTo = "specific"
)

// ReceivableInput is a one-off charge added as a due.
type ReceivableInput struct {
	Description string
	Amount      int64
	ApplyTo     ApplyTo
	FlatID      string // for ApplySpecific
	Month       string // YYYY-MM; default the current month
}

// AddReceivable charges a due to the selected flats and returns how many
// flats were charged. Flats that already carry a due with the same month
// and description are skipped.
func (r *Registry) AddReceivable(in ReceivableInput) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("add_receivable", "", map[string]string{"apply_to": string(in.ApplyTo)})
	defer func() { done(err) }()

	if in.Amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if strings.TrimSpace(in.Description) == "" {
		in.Description = "Charge"
	}
	if in.Month == "" {
		in.Month = r.now().Format("2006-01")
	}

	flats := r.Flats.Get()
	match := func(f domain.Flat) bool {
		switch in.ApplyTo {
		case ApplyAll:
			return true
		case ApplyFlatsOnly:
			return isNumbered(f.ID)
		case ApplySpecific:
			return f.ID == in.FlatID
		}
		return false
	}
	if in.ApplyTo == ApplySpecific && domain.FindFlat(flats, in.FlatID) < 0 {
		return 0, fmt.Errorf("add receivable for %q: %w", in.FlatID, domain.ErrFlatNotFound)
	}

	for i := range flats {
		if !match(flats[i]) || flats[i].HasDue(in.Month, in.Description) {
			continue
		}
		flats[i].Dues = append(flats[i].Dues, domain.Dues{
			Month:       in.Month,
			Amount:      in.Amount,
			Status:      domain.DuesPending,
			Description: in.Description,
		})
		n++
	}
	if n > 0 {
		r.Flats.Set(flats)
	}
	return n, nil
}

func isNumbered(id string) bool {
	if id == "" {
		return false
	}
	return id[0] >= '0' && id[0] <= '9'
}

// ─── Loans In ───────────────────────────────────────────────────────────────

// LoanInput is money lent to the building.
type LoanInput struct {
	PersonID    string // user or flat ID
	PersonName  string // used when PersonID matches neither
	Amount      int64
	Date        time.Time
	DueDate     time.Time
	Description string
}

// ReceiveLoan records a loan received by the building: a Received loan
// liability and a matching payment into the receiver's cash.
func (r *Registry) ReceiveLoan(in LoanInput, receiverID string) (_ *domain.Loan, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("receive_loan", receiverID, map[string]string{"person": in.PersonID})
	defer func() { done(err) }()

	if in.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	users := r.Users.Get()
	if err := requireCashHolder(users, receiverID); err != nil {
		return nil, fmt.Errorf("receive loan: %w", err)
	}
	name, err := r.personName(users, in.PersonID, in.PersonName)
	if err != nil {
		return nil, fmt.Errorf("receive loan: %w", err)
	}
	desc := in.Description
	if desc == "" {
		desc = "Loan received from " + name
	}

	loan := domain.Loan{
		ID:          r.nextIDLocked(),
		Type:        domain.LoanReceived,
		PersonID:    in.PersonID,
		PersonName:  name,
		Amount:      in.Amount,
		DueDate:     in.DueDate,
		Date:        in.Date,
		Status:      domain.LoanPending,
		Description: desc,
	}
	p := domain.Payment{
		ID:         r.nextIDLocked(),
		FlatID:     in.PersonID,
		Amount:     in.Amount,
		Date:       in.Date,
		Purpose:    "Loan Received",
		Remarks:    in.Description,
		ReceivedBy: receiverID,
		Status:     domain.PaymentConfirmed,
		Breakdown:  []domain.BreakdownLine{{Description: "Loan received from " + name, Amount: in.Amount}},
	}

	r.Loans.Update(func(ls []domain.Loan) []domain.Loan { return append([]domain.Loan{loan}, ls...) })
	r.Payments.Update(func(ps []domain.Payment) []domain.Payment { return append([]domain.Payment{p}, ps...) })
	r.Users.Set(addCash(users, receiverID, in.Amount))
	return &loan, nil
}

// CollectLoan records the repayment of a loan the building paid out: the
// loan is settled and the money arrives as a payment into the receiver's cash.
func (r *Registry) CollectLoan(loanID, receiverID string, at time.Time) (_ *domain.Payment, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("collect_loan", receiverID, map[string]string{"loan": loanID})
	defer func() { done(err) }()

	loans := r.Loans.Get()
	li := findLoan(loans, loanID)
	if li < 0 {
		return nil, fmt.Errorf("collect loan %q: %w", loanID, domain.ErrLoanNotFound)
	}
	loan := loans[li]
	if loan.Type != domain.LoanPaidOut {
		return nil, fmt.Errorf("collect loan %q of type %s: %w", loanID, loan.Type, domain.ErrInvalidTransition)
	}
	if loan.Status == domain.LoanPaid {
		return nil, fmt.Errorf("collect loan %q: %w", loanID, domain.ErrAlreadyPaid)
	}
	users := r.Users.Get()
	if err := requireCashHolder(users, receiverID); err != nil {
		return nil, fmt.Errorf("collect loan: %w", err)
	}

	loans[li].Status = domain.LoanPaid
	p := domain.Payment{
		ID:         r.nextIDLocked(),
		FlatID:     loan.PersonID,
		Amount:     loan.Amount,
		Date:       at,
		Purpose:    "Loan Repayment",
		Remarks:    "Repayment of loan ID " + loan.ID,
		ReceivedBy: receiverID,
		Status:     domain.PaymentConfirmed,
		Breakdown:  []domain.BreakdownLine{{Description: "Loan repayment from " + loan.PersonName, Amount: loan.Amount}},
	}

	r.Loans.Set(loans)
	r.Payments.Update(func(ps []domain.Payment) []domain.Payment { return append([]domain.Payment{p}, ps...) })
	r.Users.Set(addCash(users, receiverID, loan.Amount))
	return &p, nil
}

// personName resolves a loan counterparty: a user, a flat, or a free-form name.
func (r *Registry) personName(users []domain.User, id, fallback string) (string, error) {
	if i := domain.FindUser(users, id); i >= 0 {
		return users[i].OwnerName, nil
	}
	flats := r.Flats.Get()
	if i := domain.FindFlat(flats, id); i >= 0 {
		return flats[i].Label, nil
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("counterparty %q: %w", id, domain.ErrUserNotFound)
}

func findLoan(loans []domain.Loan, id string) int {
	for i := range loans {
		if loans[i].ID == id {
			return i
		}
	}
	return -1
}
