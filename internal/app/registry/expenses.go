package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Payables ───────────────────────────────────────────────────────────────

// PayableKind selects how a payable request is built.
type PayableKind string

const (
	PayableNew       PayableKind = "new"
	PayableRecurring PayableKind = "recurring" // a recurring bill, optionally with meter units
	PayableLoan      PayableKind = "loan"      // money lent out by the building
)

// PayableInput is a request to spend building cash.
type PayableInput struct {
	Kind               PayableKind
	Purpose            string
	Amount             int64
	Date               time.Time // default now
	DueDate            *time.Time
	AmountAfterDueDate int64
	Remarks            string
	InvoiceImg         string
	Meter              *domain.MeterReading

	// Loan counterparty.
	PersonID    string
	PersonName  string
	LoanDueDate time.Time
}

// AddPayable files an expense for approval. Every accounts checker gets an
// approval notification. A loan payable also records the PaidOut loan.
func (r *Registry) AddPayable(in PayableInput, requesterID string) (_ *domain.Expense, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("add_payable", requesterID, map[string]string{"kind": string(in.Kind)})
	defer func() { done(err) }()

	if in.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	users := r.Users.Get()
	ri := domain.FindUser(users, requesterID)
	if ri < 0 {
		return nil, fmt.Errorf("add payable: requester %q: %w", requesterID, domain.ErrUserNotFound)
	}
	if in.Date.IsZero() {
		in.Date = r.now()
	}

	e := domain.Expense{
		Purpose:          in.Purpose,
		Amount:           in.Amount,
		Date:             in.Date,
		Remarks:          in.Remarks,
		InvoiceImg:       in.InvoiceImg,
		Status:           domain.ExpensePendingApproval,
		RequiresApproval: true,
		ApprovedBy:       []string{},
		RequestedBy:      requesterID,
	}

	var loan *domain.Loan
	switch in.Kind {
	case PayableLoan:
		name, err := r.personName(users, in.PersonID, in.PersonName)
		if err != nil {
			return nil, fmt.Errorf("add payable: %w", err)
		}
		loan = &domain.Loan{
			ID:          r.nextIDLocked(),
			Type:        domain.LoanPaidOut,
			PersonID:    in.PersonID,
			PersonName:  name,
			Amount:      in.Amount,
			DueDate:     in.LoanDueDate,
			Date:        in.Date,
			Status:      domain.LoanPending,
			Description: in.Remarks,
		}
		e.Purpose = "Loan to " + name
	case PayableNew:
		e.DueDate = in.DueDate
		e.AmountAfterDueDate = in.AmountAfterDueDate
	case PayableRecurring:
		e.Details = in.Meter
	default:
		return nil, fmt.Errorf("add payable: unknown kind %q", in.Kind)
	}
	if strings.TrimSpace(e.Purpose) == "" {
		return nil, fmt.Errorf("add payable: purpose is required")
	}
	e.ID = r.nextIDLocked()

	if loan != nil {
		r.Loans.Update(func(ls []domain.Loan) []domain.Loan { return append([]domain.Loan{*loan}, ls...) })
	}
	r.Expenses.Update(func(es []domain.Expense) []domain.Expense { return append([]domain.Expense{e}, es...) })

	msg := fmt.Sprintf("New expense approval needed: %s for %s requested by %s.",
		e.Purpose, domain.FormatPKR(e.Amount), users[ri].OwnerName)
	var notes []domain.Notification
	for _, c := range domain.UsersWithRole(users, domain.RoleAccountsChecker) {
		notes = append(notes, r.notification(c.ID, msg, domain.ActionExpenseApproval,
			&domain.NotificationPayload{ExpenseID: e.ID}))
	}
	r.notify(notes...)
	return &e, nil
}

// ─── Approval ───────────────────────────────────────────────────────────────

// ApproveExpense records approverID's approval. Once every accounts checker
// has approved, the expense moves from Pending Approval to Confirmed.
// Approving twice is a no-op.
func (r *Registry) ApproveExpense(expenseID, approverID string) (_ *domain.Expense, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("approve_expense", approverID, map[string]string{"expense": expenseID})
	defer func() { done(err) }()

	users := r.Users.Get()
	if err := requireRole(users, approverID, domain.RoleAccountsChecker, domain.ErrNotApprover); err != nil {
		return nil, fmt.Errorf("approve expense: %w", err)
	}
	expenses := r.Expenses.Get()
	i := domain.FindExpense(expenses, expenseID)
	if i < 0 {
		return nil, fmt.Errorf("approve expense %q: %w", expenseID, domain.ErrExpenseNotFound)
	}
	e := &expenses[i]
	if e.ApprovedByUser(approverID) {
		return e, nil
	}
	if e.Status != domain.ExpensePendingApproval {
		return nil, fmt.Errorf("approve expense %q in status %q: %w", expenseID, e.Status, domain.ErrInvalidTransition)
	}

	e.ApprovedBy = append(e.ApprovedBy, approverID)
	if approvedByAll(*e, domain.UsersWithRole(users, domain.RoleAccountsChecker)) {
		e.Status = domain.ExpenseConfirmed
	}
	r.Expenses.Set(expenses)
	return e, nil
}

func approvedByAll(e domain.Expense, checkers []domain.User) bool {
	for _, c := range checkers {
		if !e.ApprovedByUser(c.ID) {
			return false
		}
	}
	return true
}

// RejectExpense objects to a pending expense. Objected is terminal. The
// requester and the accountant are told why.
func (r *Registry) RejectExpense(expenseID, rejectorID, reason string) (_ *domain.Expense, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("reject_expense", rejectorID, map[string]string{"expense": expenseID})
	defer func() { done(err) }()

	users := r.Users.Get()
	if err := requireRole(users, rejectorID, domain.RoleAccountsChecker, domain.ErrNotApprover); err != nil {
		return nil, fmt.Errorf("reject expense: %w", err)
	}
	expenses := r.Expenses.Get()
	i := domain.FindExpense(expenses, expenseID)
	if i < 0 {
		return nil, fmt.Errorf("reject expense %q: %w", expenseID, domain.ErrExpenseNotFound)
	}
	e := &expenses[i]
	if e.Status != domain.ExpensePendingApproval {
		return nil, fmt.Errorf("reject expense %q in status %q: %w", expenseID, e.Status, domain.ErrInvalidTransition)
	}

	rejector := users[domain.FindUser(users, rejectorID)].OwnerName
	e.Status = domain.ExpenseObjected
	e.Remarks = fmt.Sprintf("Rejected by %s: %s", rejector, reason)
	r.Expenses.Set(expenses)

	payload := &domain.NotificationPayload{ExpenseID: e.ID}
	var notes []domain.Notification
	if domain.FindUser(users, e.RequestedBy) >= 0 {
		notes = append(notes, r.notification(e.RequestedBy,
			fmt.Sprintf("Your expense request \"%s\" was rejected by %s. Reason: %s", e.Purpose, rejector, reason),
			domain.ActionExpenseRejected, payload))
	}
	if acc, ok := firstWithRole(users, domain.RoleAccountant); ok && acc.ID != e.RequestedBy {
		notes = append(notes, r.notification(acc.ID,
			fmt.Sprintf("Expense \"%s\" was rejected by %s. Reason: %s", e.Purpose, rejector, reason),
			domain.ActionExpenseRejected, payload))
	}
	r.notify(notes...)
	return e, nil
}

// ─── Paying Out ─────────────────────────────────────────────────────────────

// PayExpense pays a confirmed expense from staff cash. The building's total
// cash must cover it; otherwise nothing changes and ErrInsufficientFunds is
// returned.
func (r *Registry) PayExpense(expenseID, payerID string, paidAt time.Time) (_ *domain.Expense, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("pay_expense", payerID, map[string]string{"expense": expenseID})
	defer func() { done(err) }()

	expenses := r.Expenses.Get()
	i := domain.FindExpense(expenses, expenseID)
	if i < 0 {
		return nil, fmt.Errorf("pay expense %q: %w", expenseID, domain.ErrExpenseNotFound)
	}
	e := &expenses[i]
	if e.Paid || e.Status == domain.ExpensePaid {
		return nil, fmt.Errorf("pay expense %q: %w", expenseID, domain.ErrAlreadyPaid)
	}
	if e.Status != domain.ExpenseConfirmed {
		return nil, fmt.Errorf("pay expense %q in status %q: %w", expenseID, e.Status, domain.ErrInvalidTransition)
	}
	users := r.Users.Get()
	if err := r.checkFunds(users, payerID, e.Amount); err != nil {
		return nil, fmt.Errorf("pay expense %q: %w", expenseID, err)
	}

	e.Paid = true
	e.Status = domain.ExpensePaid
	e.PaidBy = payerID
	e.Date = paidAt

	r.Users.Set(deductCash(users, payerID, e.Amount))
	r.Expenses.Set(expenses)
	r.Notifications.Update(func(ns []domain.Notification) []domain.Notification {
		for j := range ns {
			n := &ns[j]
			if n.Payload == nil || n.Payload.ExpenseID != expenseID || n.IsRead {
				continue
			}
			if n.ActionType == domain.ActionPayableReminder || n.ActionType == domain.ActionPayExpense {
				n.IsRead = true
				n.Message = fmt.Sprintf("You have marked expense ID %s as paid.", expenseID)
			}
		}
		return ns
	})
	return e, nil
}

// PayLoan repays a loan the building received. The loan is settled and a
// paid repayment expense is recorded.
func (r *Registry) PayLoan(loanID, payerID string, paidAt time.Time) (_ *domain.Expense, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("pay_loan", payerID, map[string]string{"loan": loanID})
	defer func() { done(err) }()

	loans := r.Loans.Get()
	li := findLoan(loans, loanID)
	if li < 0 {
		return nil, fmt.Errorf("pay loan %q: %w", loanID, domain.ErrLoanNotFound)
	}
	loan := loans[li]
	if loan.Type != domain.LoanReceived {
		return nil, fmt.Errorf("pay loan %q of type %s: %w", loanID, loan.Type, domain.ErrInvalidTransition)
	}
	if loan.Status == domain.LoanPaid {
		return nil, fmt.Errorf("pay loan %q: %w", loanID, domain.ErrAlreadyPaid)
	}
	users := r.Users.Get()
	if err := r.checkFunds(users, payerID, loan.Amount); err != nil {
		return nil, fmt.Errorf("pay loan %q: %w", loanID, err)
	}

	loans[li].Status = domain.LoanPaid
	e := domain.Expense{
		ID:         r.nextIDLocked(),
		Purpose:    "Loan Repayment to " + loan.PersonName,
		Amount:     loan.Amount,
		Date:       paidAt,
		Paid:       true,
		PaidBy:     payerID,
		Status:     domain.ExpensePaid,
		ApprovedBy: []string{"auto-approved"},
		Remarks:    "Repayment of loan ID " + loan.ID,
	}

	r.Users.Set(deductCash(users, payerID, loan.Amount))
	r.Loans.Set(loans)
	r.Expenses.Update(func(es []domain.Expense) []domain.Expense { return append(es, e) })
	return &e, nil
}

func (r *Registry) checkFunds(users []domain.User, payerID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := requireCashHolder(users, payerID); err != nil {
		return err
	}
	if have := totalCash(users); have < amount {
		return fmt.Errorf("need %s, building holds %s: %w",
			domain.FormatPKR(amount), domain.FormatPKR(have), domain.ErrInsufficientFunds)
	}
	return nil
}

func requireRole(users []domain.User, id string, role domain.Role, wrong error) error {
	i := domain.FindUser(users, id)
	if i < 0 {
		return fmt.Errorf("%q: %w", id, domain.ErrUserNotFound)
	}
	if users[i].Role != role {
		return fmt.Errorf("%q is %s: %w", id, users[i].Role, wrong)
	}
	return nil
}

func firstWithRole(users []domain.User, role domain.Role) (domain.User, bool) {
	for _, u := range users {
		if u.Role == role {
			return u, true
		}
	}
	return domain.User{}, false
}
