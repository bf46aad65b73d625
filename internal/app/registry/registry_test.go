package registry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eden-portal/eden/internal/app/slice"
	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, _ := newTestRegistryWithStore(t, slice.NewMemoryStore())
	return r
}

func newTestRegistryWithStore(t *testing.T, store *slice.MemoryStore) (*Registry, *slice.MemoryStore) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store = store
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Now = func() time.Time { return testNow }
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(r.Close)
	return r, store
}

func setCash(r *Registry, id string, amount int64) {
	r.Users.Update(func(us []domain.User) []domain.User {
		us[domain.FindUser(us, id)].CashOnHand = amount
		return us
	})
}

func cashOf(r *Registry, id string) int64 {
	us := r.Users.Get()
	return us[domain.FindUser(us, id)].CashOnHand
}

func setDues(r *Registry, flatID string, dues ...domain.Dues) {
	r.Flats.Update(func(fs []domain.Flat) []domain.Flat {
		fs[domain.FindFlat(fs, flatID)].Dues = dues
		return fs
	})
}

func flat(r *Registry, id string) domain.Flat {
	fs := r.Flats.Get()
	return fs[domain.FindFlat(fs, id)]
}

// confirmedExpense files a payable and has both checkers approve it.
func confirmedExpense(t *testing.T, r *Registry, amount int64) domain.Expense {
	t.Helper()
	e, err := r.AddPayable(PayableInput{Kind: PayableNew, Purpose: "Pump repair", Amount: amount}, "faisal")
	if err != nil {
		t.Fatalf("AddPayable() error: %v", err)
	}
	for _, id := range []string{"tahir", "usman"} {
		if _, err := r.ApproveExpense(e.ID, id); err != nil {
			t.Fatalf("ApproveExpense(%s) error: %v", id, err)
		}
	}
	return *e
}

// ─── Construction ───────────────────────────────────────────────────────────

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(DefaultConfig()); err == nil {
		t.Fatal("New() without store should fail")
	}
}

func TestNew_SeedsSlices(t *testing.T) {
	r := newTestRegistry(t)

	if got := len(r.Slots()); got != 19 {
		t.Errorf("Slots() = %d, want 19", got)
	}
	if got := len(r.Flats.Get()); got != 53 {
		t.Errorf("flats = %d, want 53", got)
	}
	if got := len(r.Users.Get()); got != 8+53 {
		t.Errorf("users = %d, want 61", got)
	}
	if got := r.TransactionCounter.Get(); got != 1 {
		t.Errorf("counter = %d, want 1", got)
	}
	if got := flat(r, "205").MonthlyMaintenance; got != 1500 {
		t.Errorf("205 maintenance = %d, want 1500", got)
	}
}

func TestSlots_Keys(t *testing.T) {
	r := newTestRegistry(t)

	want := map[string]string{
		"users":              "eden-v2-users",
		"recurringExpenses":  "eden-v2-recurring-expenses",
		"deletedItems":       "eden-v2-deleted-items",
		"transactionCounter": "eden-v2-tx-counter",
		"tenantTransactions": "eden-v2-tenantTransactions",
	}
	for _, s := range r.Slots() {
		if k, ok := want[s.Name]; ok && k != s.Key {
			t.Errorf("slot %s key = %q, want %q", s.Name, s.Key, k)
		}
	}
	keys := r.OwnedKeys()
	if keys[len(keys)-1] != "eden-v2-monthly-run" {
		t.Errorf("OwnedKeys() should end with the monthly-run marker, got %q", keys[len(keys)-1])
	}
}

func TestNew_HydratesFromStore(t *testing.T) {
	store := slice.NewMemoryStore()
	_ = store.Write("eden-v2-president-message", []byte(`"Stored"`))

	r, _ := newTestRegistryWithStore(t, store)
	if got := r.PresidentMessage.Get(); got != "Stored" {
		t.Errorf("presidentMessage = %q, want %q", got, "Stored")
	}
}

// ─── Transaction IDs ────────────────────────────────────────────────────────

func TestNextTransactionID_Sequence(t *testing.T) {
	r := newTestRegistry(t)

	if got := r.NextTransactionID(); got != "EDEN00001" {
		t.Errorf("first ID = %q", got)
	}
	if got := r.NextTransactionID(); got != "EDEN00002" {
		t.Errorf("second ID = %q", got)
	}
	if got := r.TransactionCounter.Get(); got != 3 {
		t.Errorf("counter = %d, want 3", got)
	}
}

func TestNextTransactionID_UniqueUnderConcurrency(t *testing.T) {
	r := newTestRegistry(t)

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.NextTransactionID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d IDs, want %d", len(seen), n)
	}
}

// ─── Payments ───────────────────────────────────────────────────────────────

func TestProcessPayment_OldestDueFirst(t *testing.T) {
	r := newTestRegistry(t)
	setDues(r, "101",
		domain.Dues{Month: "2025-02", Amount: 6000, Status: domain.DuesPending, Description: "Maintenance"},
		domain.Dues{Month: "2025-01", Amount: 6000, PaidAmount: 1000, Status: domain.DuesPartial, Description: "Maintenance"},
	)

	p, err := r.ProcessPayment(PaymentInput{FlatID: "101", Amount: 8000, Date: testNow, Purpose: "Maintenance", ReceiverID: "faisal"})
	if err != nil {
		t.Fatalf("ProcessPayment() error: %v", err)
	}

	dues := flat(r, "101").Dues
	if dues[1].Status != domain.DuesPaid || dues[1].PaidAmount != 6000 {
		t.Errorf("January = %+v, want Paid 6000", dues[1])
	}
	if dues[0].Status != domain.DuesPartial || dues[0].PaidAmount != 3000 {
		t.Errorf("February = %+v, want Partial 3000", dues[0])
	}
	want := []domain.BreakdownLine{
		{Description: "Maintenance for January 2025", Amount: 5000},
		{Description: "Maintenance for February 2025", Amount: 3000},
	}
	if len(p.Breakdown) != len(want) {
		t.Fatalf("breakdown = %+v, want %+v", p.Breakdown, want)
	}
	for i := range want {
		if p.Breakdown[i] != want[i] {
			t.Errorf("breakdown[%d] = %+v, want %+v", i, p.Breakdown[i], want[i])
		}
	}
	if p.ID != "EDEN00001" || p.Status != domain.PaymentConfirmed {
		t.Errorf("payment = %+v", p)
	}
	if got := cashOf(r, "faisal"); got != 8000 {
		t.Errorf("faisal cash = %d, want 8000", got)
	}
}

func TestProcessPayment_OverpaymentBecomesAdvance(t *testing.T) {
	r := newTestRegistry(t)
	setDues(r, "102", domain.Dues{Month: "2025-03", Amount: 6000, Status: domain.DuesPending, Description: "Maintenance"})

	p, err := r.ProcessPayment(PaymentInput{FlatID: "102", Amount: 10000, Date: testNow, ReceiverID: "rahman"})
	if err != nil {
		t.Fatalf("ProcessPayment() error: %v", err)
	}

	f := flat(r, "102")
	if f.Dues[0].Status != domain.DuesPaid {
		t.Errorf("due status = %s, want Paid", f.Dues[0].Status)
	}
	if f.AdvanceBalance != 4000 {
		t.Errorf("advance = %d, want 4000", f.AdvanceBalance)
	}
	last := p.Breakdown[len(p.Breakdown)-1]
	if last.Description != domain.AdvanceLine || last.Amount != 4000 {
		t.Errorf("last breakdown line = %+v", last)
	}
}

func TestProcessPayment_Rejected(t *testing.T) {
	tests := []struct {
		name string
		in   PaymentInput
		want error
	}{
		{"unknown flat", PaymentInput{FlatID: "999", Amount: 100, ReceiverID: "faisal"}, domain.ErrFlatNotFound},
		{"zero amount", PaymentInput{FlatID: "101", Amount: 0, ReceiverID: "faisal"}, domain.ErrInvalidAmount},
		{"receiver holds no cash", PaymentInput{FlatID: "101", Amount: 100, ReceiverID: "tahir"}, domain.ErrNoCashHolder},
		{"unknown receiver", PaymentInput{FlatID: "101", Amount: 100, ReceiverID: "ghost"}, domain.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			before, _ := r.Export()

			p, err := r.ProcessPayment(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if p != nil {
				t.Error("payment should be nil on error")
			}
			after, _ := r.Export()
			if string(before) != string(after) {
				t.Error("rejected payment mutated state")
			}
		})
	}
}

func TestAddReceivable(t *testing.T) {
	r := newTestRegistry(t)

	n, err := r.AddReceivable(ReceivableInput{Description: "Painting", Amount: 2000, ApplyTo: ApplyFlatsOnly})
	if err != nil {
		t.Fatalf("AddReceivable() error: %v", err)
	}
	if n != 51 {
		t.Errorf("charged %d flats, want 51", n)
	}
	if len(flat(r, "G-01").Dues) != 0 {
		t.Error("commercial unit should not be charged")
	}
	if !flat(r, "902").HasDue("2025-03", "Painting") {
		t.Error("penthouse should be charged")
	}

	// Same month and description again: nothing new.
	n, _ = r.AddReceivable(ReceivableInput{Description: "Painting", Amount: 2000, ApplyTo: ApplyAll})
	if n != 2 {
		t.Errorf("second run charged %d, want 2 (only commercial units)", n)
	}

	if _, err := r.AddReceivable(ReceivableInput{Amount: 10, ApplyTo: ApplySpecific, FlatID: "nope"}); !errors.Is(err, domain.ErrFlatNotFound) {
		t.Errorf("specific unknown flat err = %v", err)
	}
}

// ─── Approval ───────────────────────────────────────────────────────────────

func TestApproveExpense_RequiresEveryChecker(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.AddPayable(PayableInput{Kind: PayableNew, Purpose: "Roof repair", Amount: 12000}, "faisal")
	if err != nil {
		t.Fatalf("AddPayable() error: %v", err)
	}
	if e.Status != domain.ExpensePendingApproval || !e.RequiresApproval {
		t.Fatalf("new payable = %+v", e)
	}
	if got := len(r.NotificationsFor("tahir", true)); got != 1 {
		t.Errorf("tahir approval notifications = %d, want 1", got)
	}

	got, err := r.ApproveExpense(e.ID, "tahir")
	if err != nil {
		t.Fatalf("ApproveExpense(tahir) error: %v", err)
	}
	if got.Status != domain.ExpensePendingApproval {
		t.Errorf("after one approval status = %s", got.Status)
	}

	got, err = r.ApproveExpense(e.ID, "tahir")
	if err != nil {
		t.Fatalf("duplicate approval error: %v", err)
	}
	if len(got.ApprovedBy) != 1 || got.Status != domain.ExpensePendingApproval {
		t.Errorf("duplicate approval changed expense: %+v", got)
	}

	got, err = r.ApproveExpense(e.ID, "usman")
	if err != nil {
		t.Fatalf("ApproveExpense(usman) error: %v", err)
	}
	if got.Status != domain.ExpenseConfirmed {
		t.Errorf("after all approvals status = %s, want Confirmed", got.Status)
	}
}

func TestApproveExpense_OnlyCheckers(t *testing.T) {
	r := newTestRegistry(t)
	e, _ := r.AddPayable(PayableInput{Kind: PayableNew, Purpose: "Paint", Amount: 100}, "faisal")

	if _, err := r.ApproveExpense(e.ID, "faisal"); !errors.Is(err, domain.ErrNotApprover) {
		t.Errorf("accountant approval err = %v, want ErrNotApprover", err)
	}
	if _, err := r.ApproveExpense("EDEN99999", "tahir"); !errors.Is(err, domain.ErrExpenseNotFound) {
		t.Errorf("unknown expense err = %v", err)
	}
}

func TestRejectExpense_IsTerminal(t *testing.T) {
	r := newTestRegistry(t)
	e, _ := r.AddPayable(PayableInput{Kind: PayableNew, Purpose: "Fountain", Amount: 90000}, "admin")

	got, err := r.RejectExpense(e.ID, "usman", "too expensive")
	if err != nil {
		t.Fatalf("RejectExpense() error: %v", err)
	}
	if got.Status != domain.ExpenseObjected {
		t.Errorf("status = %s, want Objected", got.Status)
	}
	if got.Remarks != "Rejected by Usman: too expensive" {
		t.Errorf("remarks = %q", got.Remarks)
	}
	if n := r.NotificationsFor("admin", true); len(n) != 1 || n[0].ActionType != domain.ActionExpenseRejected {
		t.Errorf("requester notifications = %+v", n)
	}
	if n := r.NotificationsFor("faisal", true); len(n) != 1 {
		t.Errorf("accountant notifications = %d, want 1", len(n))
	}

	if _, err := r.ApproveExpense(e.ID, "tahir"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("approve after reject err = %v, want ErrInvalidTransition", err)
	}
}

func TestAddPayable_Loan(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.AddPayable(PayableInput{Kind: PayableLoan, PersonID: "waqas", Amount: 5000}, "faisal")
	if err != nil {
		t.Fatalf("AddPayable(loan) error: %v", err)
	}
	if e.Purpose != "Loan to Waqas" {
		t.Errorf("purpose = %q", e.Purpose)
	}
	loans := r.Loans.Get()
	if len(loans) != 1 || loans[0].Type != domain.LoanPaidOut || loans[0].Status != domain.LoanPending {
		t.Errorf("loans = %+v", loans)
	}
}

// ─── Paying Out ─────────────────────────────────────────────────────────────

func TestPayExpense_InsufficientCashChangesNothing(t *testing.T) {
	r := newTestRegistry(t)
	e := confirmedExpense(t, r, 30000)
	setCash(r, "faisal", 10000)
	setCash(r, "rahman", 15000)
	setCash(r, "nasir", 2000)
	before, _ := r.Export()

	if _, err := r.PayExpense(e.ID, "faisal", testNow); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	after, _ := r.Export()
	if string(before) != string(after) {
		t.Error("failed payment mutated state")
	}
}

func TestPayExpense_DeductsPayerThenGuardsByBalance(t *testing.T) {
	r := newTestRegistry(t)
	e := confirmedExpense(t, r, 30000)
	setCash(r, "faisal", 10000)
	setCash(r, "rahman", 15000)
	setCash(r, "nasir", 8000)

	paidAt := testNow.Add(48 * time.Hour)
	got, err := r.PayExpense(e.ID, "faisal", paidAt)
	if err != nil {
		t.Fatalf("PayExpense() error: %v", err)
	}
	if !got.Paid || got.Status != domain.ExpensePaid || got.PaidBy != "faisal" || !got.Date.Equal(paidAt) {
		t.Errorf("expense = %+v", got)
	}

	for id, want := range map[string]int64{"faisal": 0, "rahman": 0, "nasir": 3000} {
		if got := cashOf(r, id); got != want {
			t.Errorf("%s cash = %d, want %d", id, got, want)
		}
	}

	if _, err := r.PayExpense(e.ID, "faisal", paidAt); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Errorf("second payment err = %v, want ErrAlreadyPaid", err)
	}
}

func TestPayExpense_RequiresConfirmed(t *testing.T) {
	r := newTestRegistry(t)
	e, _ := r.AddPayable(PayableInput{Kind: PayableNew, Purpose: "Lights", Amount: 100}, "faisal")
	setCash(r, "faisal", 1000)

	if _, err := r.PayExpense(e.ID, "faisal", testNow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestReceiveLoan_PaymentListedNewestFirst(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.ProcessPayment(PaymentInput{FlatID: "101", Amount: 8000, Date: testNow, Purpose: "Maintenance", ReceiverID: "faisal"}); err != nil {
		t.Fatalf("ProcessPayment() error: %v", err)
	}
	if _, err := r.ReceiveLoan(LoanInput{PersonID: "101own", Amount: 2000, Date: testNow}, "faisal"); err != nil {
		t.Fatalf("ReceiveLoan() error: %v", err)
	}

	ps := r.Payments.Get()
	if len(ps) != 2 {
		t.Fatalf("payments = %d, want 2", len(ps))
	}
	if ps[0].Purpose != "Loan Received" || ps[1].Purpose != "Maintenance" {
		t.Errorf("payments order = [%s, %s], want the loan payment first", ps[0].Purpose, ps[1].Purpose)
	}
}

func TestLoans_ReceiveThenRepay(t *testing.T) {
	r := newTestRegistry(t)

	loan, err := r.ReceiveLoan(LoanInput{PersonID: "101own", Amount: 50000, Date: testNow, DueDate: testNow.AddDate(0, 3, 0)}, "faisal")
	if err != nil {
		t.Fatalf("ReceiveLoan() error: %v", err)
	}
	if loan.Type != domain.LoanReceived || loan.PersonName != "Owner of 101" {
		t.Errorf("loan = %+v", loan)
	}
	if got := cashOf(r, "faisal"); got != 50000 {
		t.Errorf("cash after loan = %d", got)
	}
	ps := r.Payments.Get()
	if len(ps) != 1 || ps[0].Purpose != "Loan Received" {
		t.Errorf("payments = %+v", ps)
	}

	e, err := r.PayLoan(loan.ID, "faisal", testNow)
	if err != nil {
		t.Fatalf("PayLoan() error: %v", err)
	}
	if e.Purpose != "Loan Repayment to Owner of 101" || e.Status != domain.ExpensePaid {
		t.Errorf("repayment expense = %+v", e)
	}
	if got := cashOf(r, "faisal"); got != 0 {
		t.Errorf("cash after repayment = %d", got)
	}
	if _, err := r.PayLoan(loan.ID, "faisal", testNow); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Errorf("second repayment err = %v", err)
	}
}

func TestCollectLoan(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.AddPayable(PayableInput{Kind: PayableLoan, PersonID: "other", PersonName: "Kamran", Amount: 7000}, "faisal"); err != nil {
		t.Fatalf("AddPayable() error: %v", err)
	}
	loan := r.Loans.Get()[0]

	p, err := r.CollectLoan(loan.ID, "rahman", testNow)
	if err != nil {
		t.Fatalf("CollectLoan() error: %v", err)
	}
	if p.Amount != 7000 || cashOf(r, "rahman") != 7000 {
		t.Errorf("payment = %+v, cash = %d", p, cashOf(r, "rahman"))
	}
	if r.Loans.Get()[0].Status != domain.LoanPaid {
		t.Error("loan should be settled")
	}
}

// ─── Cash Transfers ─────────────────────────────────────────────────────────

func TestCashTransfer_Lifecycle(t *testing.T) {
	r := newTestRegistry(t)
	setCash(r, "rahman", 5000)
	setCash(r, "faisal", 1000)

	tr, err := r.InitiateCashTransfer("rahman")
	if err != nil {
		t.Fatalf("InitiateCashTransfer() error: %v", err)
	}
	if tr.Amount != 5000 || tr.ToUserID != "faisal" || tr.Status != domain.TransferPending {
		t.Errorf("transfer = %+v", tr)
	}
	if cashOf(r, "rahman") != 0 || cashOf(r, "faisal") != 1000 {
		t.Error("cash must sit in the transfer until confirmed")
	}
	if n := r.NotificationsFor("faisal", true); len(n) != 1 || n[0].ActionType != domain.ActionCashTransfer {
		t.Errorf("accountant notifications = %+v", n)
	}

	if _, err := r.ConfirmCashTransfer(tr.ID, "faisal"); err != nil {
		t.Fatalf("ConfirmCashTransfer() error: %v", err)
	}
	if got := cashOf(r, "faisal"); got != 6000 {
		t.Errorf("faisal cash = %d, want 6000", got)
	}
	if n := r.NotificationsFor("faisal", true); len(n) != 0 {
		t.Errorf("confirmation notification should be read, got %+v", n)
	}
	if n := r.NotificationsFor("rahman", true); len(n) != 1 || n[0].ActionType != domain.ActionInfo {
		t.Errorf("sender notifications = %+v", n)
	}

	// Confirming twice does not credit twice.
	if _, err := r.ConfirmCashTransfer(tr.ID, "faisal"); err != nil {
		t.Fatalf("second confirm error: %v", err)
	}
	if got := cashOf(r, "faisal"); got != 6000 {
		t.Errorf("faisal cash after second confirm = %d", got)
	}

	if _, err := r.InitiateCashTransfer("rahman"); !errors.Is(err, domain.ErrNoCashToTransfer) {
		t.Errorf("empty transfer err = %v", err)
	}
}

func TestCashConservation(t *testing.T) {
	r := newTestRegistry(t)
	setDues(r, "101", domain.Dues{Month: "2025-03", Amount: 6000, Status: domain.DuesPending, Description: "Maintenance"})

	mustDo := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := r.ProcessPayment(PaymentInput{FlatID: "101", Amount: 9000, ReceiverID: "rahman"})
	mustDo(err)
	_, err = r.ProcessPayment(PaymentInput{FlatID: "102", Amount: 4000, ReceiverID: "faisal"})
	mustDo(err)
	e := confirmedExpense(t, r, 7000)
	_, err = r.PayExpense(e.ID, "faisal", testNow)
	mustDo(err)
	_, err = r.InitiateCashTransfer("rahman")
	mustDo(err)

	var payments, paid, pending int64
	for _, p := range r.Payments.Get() {
		if p.Status == domain.PaymentConfirmed {
			payments += p.Amount
		}
	}
	for _, e := range r.Expenses.Get() {
		if e.Paid {
			paid += e.Amount
		}
	}
	for _, tr := range r.CashTransfers.Get() {
		if tr.Status == domain.TransferPending {
			pending += tr.Amount
		}
	}
	if got, want := totalCash(r.Users.Get()), payments-paid-pending; got != want {
		t.Errorf("cash held = %d, want %d", got, want)
	}
}

// ─── Automation ─────────────────────────────────────────────────────────────

func TestMonthlyCharge(t *testing.T) {
	tests := []struct {
		f    domain.Flat
		want int64
	}{
		{domain.Flat{MonthlyMaintenance: 6000}, 6000},
		{domain.Flat{MonthlyMaintenance: 6000, IsVacant: true}, 3000},
		{domain.Flat{MonthlyMaintenance: 1501, IsVacant: true}, 751},
	}
	for _, tt := range tests {
		if got := MonthlyCharge(tt.f); got != tt.want {
			t.Errorf("MonthlyCharge(%+v) = %d, want %d", tt.f, got, tt.want)
		}
	}
}

func TestGenerateMonthlyDues(t *testing.T) {
	r := newTestRegistry(t)
	r.Flats.Update(func(fs []domain.Flat) []domain.Flat {
		fs[domain.FindFlat(fs, "101")].AdvanceBalance = 10000
		fs[domain.FindFlat(fs, "102")].IsVacant = true
		fs[domain.FindFlat(fs, "103")].AdvanceBalance = 2000
		return fs
	})

	run, err := r.GenerateMonthlyDues(testNow)
	if err != nil {
		t.Fatalf("GenerateMonthlyDues() error: %v", err)
	}
	if run.DuesCreated != 53 || run.ExpensesCreated != 4 || run.AlreadyRan {
		t.Errorf("run = %+v", run)
	}

	f101 := flat(r, "101")
	if d := f101.Dues[0]; d.Status != domain.DuesPaid || d.PaidAmount != 6000 || f101.AdvanceBalance != 4000 {
		t.Errorf("101 = due %+v advance %d", d, f101.AdvanceBalance)
	}
	if d := flat(r, "102").Dues[0]; d.Amount != 3000 || d.Status != domain.DuesPending {
		t.Errorf("vacant 102 due = %+v", d)
	}
	f103 := flat(r, "103")
	if d := f103.Dues[0]; d.Status != domain.DuesPartial || d.PaidAmount != 2000 || f103.AdvanceBalance != 0 {
		t.Errorf("103 = due %+v advance %d", d, f103.AdvanceBalance)
	}
	for _, e := range r.Expenses.Get() {
		if e.Status != domain.ExpenseConfirmed || e.Remarks != "Auto-generated monthly expense" {
			t.Errorf("recurring expense = %+v", e)
		}
	}

	again, err := r.GenerateMonthlyDues(testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if again.DuesCreated != 0 || again.ExpensesCreated != 0 || !again.AlreadyRan {
		t.Errorf("second run = %+v", again)
	}
	if got := len(flat(r, "101").Dues); got != 1 {
		t.Errorf("101 dues after two runs = %d, want 1", got)
	}
}

func TestGenerateReminders(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.GenerateMonthlyDues(testNow); err != nil {
		t.Fatal(err)
	}
	setCash(r, "faisal", 100000)

	run, err := r.GenerateReminders(testNow)
	if err != nil {
		t.Fatalf("GenerateReminders() error: %v", err)
	}
	if run.Due != 53 || run.Payable != 4 || run.Tenant != 0 {
		t.Errorf("run = %+v", run)
	}

	again, _ := r.GenerateReminders(testNow)
	if again.Total() != 0 {
		t.Errorf("repeat run created %+v", again)
	}

	// Reading a reminder allows a new one.
	n := r.NotificationsFor("101own", true)[0]
	if err := r.MarkNotificationRead(n.ID); err != nil {
		t.Fatal(err)
	}
	third, _ := r.GenerateReminders(testNow)
	if third.Due != 1 {
		t.Errorf("after read run = %+v, want one due reminder", third)
	}
}

func TestGenerateReminders_TenantsOnTheFourth(t *testing.T) {
	r := newTestRegistry(t)
	r.Users.Update(func(us []domain.User) []domain.User {
		return append(us,
			domain.User{ID: "101tnt", Role: domain.RoleResident, OwnerName: "Tenant 101", ResidentType: domain.ResidentTenant},
			domain.User{ID: "102tnt", Role: domain.RoleResident, OwnerName: "Tenant 102", ResidentType: domain.ResidentTenant},
		)
	})
	r.Flats.Update(func(fs []domain.Flat) []domain.Flat {
		fs[domain.FindFlat(fs, "102")].IsVacant = true
		return fs
	})

	fourth := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	run, _ := r.GenerateReminders(fourth)
	if run.Tenant != 1 {
		t.Errorf("tenant reminders = %d, want 1", run.Tenant)
	}
	n := r.NotificationsFor("101tnt", false)
	if len(n) != 1 || !strings.HasSuffix(n[0].Message, "for March") {
		t.Errorf("tenant notification = %+v", n)
	}

	again, _ := r.GenerateReminders(fourth.Add(time.Hour))
	if again.Tenant != 0 {
		t.Errorf("tenant reminders repeated: %d", again.Tenant)
	}
}

// ─── Corrections ────────────────────────────────────────────────────────────

func TestDeletePayment_Archives(t *testing.T) {
	r := newTestRegistry(t)
	p, _ := r.ProcessPayment(PaymentInput{FlatID: "101", Amount: 500, ReceiverID: "faisal"})

	if err := r.DeletePayment(p.ID); err != nil {
		t.Fatalf("DeletePayment() error: %v", err)
	}
	if len(r.Payments.Get()) != 0 {
		t.Error("payment not removed")
	}
	del := r.DeletedItems.Get()
	if len(del) != 1 || del[0].Type != "payment" {
		t.Fatalf("deletedItems = %+v", del)
	}
	var archived domain.Payment
	if err := json.Unmarshal(del[0].Item, &archived); err != nil || archived.ID != p.ID {
		t.Errorf("archived item = %s (%v)", del[0].Item, err)
	}
	if err := r.DeletePayment(p.ID); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestUpdateDue_RecomputesStatus(t *testing.T) {
	r := newTestRegistry(t)
	setDues(r, "101", domain.Dues{Month: "2025-03", Amount: 6000, PaidAmount: 3000, Status: domain.DuesPartial, Description: "Maintenance"})

	amount := int64(3000)
	d, err := r.UpdateDue("101", "2025-03", "Maintenance", DuePatch{Amount: &amount})
	if err != nil {
		t.Fatalf("UpdateDue() error: %v", err)
	}
	if d.Status != domain.DuesPaid {
		t.Errorf("status = %s, want Paid", d.Status)
	}

	if err := r.DeleteDue("101", "2025-03", "Maintenance"); err != nil {
		t.Fatalf("DeleteDue() error: %v", err)
	}
	if len(flat(r, "101").Dues) != 0 {
		t.Error("due not removed")
	}
	if err := r.DeleteDue("101", "2025-03", "Maintenance"); !errors.Is(err, domain.ErrDueNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestUpdateExpense(t *testing.T) {
	r := newTestRegistry(t)
	e, _ := r.AddPayable(PayableInput{Kind: PayableNew, Purpose: "Paint", Amount: 100}, "faisal")

	purpose := "Paint (stairwell)"
	got, err := r.UpdateExpense(e.ID, RecordPatch{Purpose: &purpose})
	if err != nil {
		t.Fatalf("UpdateExpense() error: %v", err)
	}
	if got.Purpose != purpose || got.Amount != 100 {
		t.Errorf("expense = %+v", got)
	}
	bad := int64(-5)
	if _, err := r.UpdateExpense(e.ID, RecordPatch{Amount: &bad}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative amount err = %v", err)
	}
}

// ─── Backup ─────────────────────────────────────────────────────────────────

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestRegistry(t)
	src.PresidentMessage.Set("Backed up")
	if _, err := src.ProcessPayment(PaymentInput{FlatID: "101", Amount: 500, ReceiverID: "faisal"}); err != nil {
		t.Fatal(err)
	}
	snap, err := src.Export()
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	dst := newTestRegistry(t)
	applied, err := dst.Import(snap)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if len(applied) != 19 {
		t.Errorf("applied %d slices, want 19", len(applied))
	}
	if dst.PresidentMessage.Get() != "Backed up" || len(dst.Payments.Get()) != 1 || dst.TransactionCounter.Get() != 2 {
		t.Error("imported state does not match source")
	}
}

func TestImport_FieldsApplyIndependently(t *testing.T) {
	r := newTestRegistry(t)

	applied, err := r.Import([]byte(`{"presidentMessage":"Hello","flats":"not a list","loans":null,"bogus":1}`))
	if err == nil {
		t.Fatal("Import() should report the invalid field")
	}
	if len(applied) != 1 || applied[0] != "presidentMessage" {
		t.Errorf("applied = %v", applied)
	}
	if r.PresidentMessage.Get() != "Hello" {
		t.Error("valid field not applied")
	}
	if len(r.Flats.Get()) != 53 {
		t.Error("invalid field must leave flats untouched")
	}
}

func TestImport_Corrupt(t *testing.T) {
	r := newTestRegistry(t)
	for _, in := range []string{`not json`, `[1,2]`, `null`} {
		if _, err := r.Import([]byte(in)); !errors.Is(err, domain.ErrSnapshotCorrupt) {
			t.Errorf("Import(%s) err = %v, want ErrSnapshotCorrupt", in, err)
		}
	}
}

// ─── Journal ────────────────────────────────────────────────────────────────

func TestOperationsAreJournaled(t *testing.T) {
	store := slice.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Store = store
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Journal = observability.NewJournal(observability.DefaultJournalConfig())
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, _ = r.ProcessPayment(PaymentInput{FlatID: "101", Amount: 500, ReceiverID: "faisal"})
	_, _ = r.ProcessPayment(PaymentInput{FlatID: "nope", Amount: 500, ReceiverID: "faisal"})

	ops := cfg.Journal.Recent(0)
	if len(ops) != 2 {
		t.Fatalf("journal has %d ops, want 2", len(ops))
	}
	if ops[0].Status != observability.OpOK || ops[1].Status != observability.OpRejected {
		t.Errorf("statuses = %s, %s", ops[0].Status, ops[1].Status)
	}
	if ops[1].Attrs["error"] == "" {
		t.Error("rejected op should carry the error")
	}
}

func TestUpdatePayment_DoesNotMoveCash(t *testing.T) {
	r := newTestRegistry(t)
	p, _ := r.ProcessPayment(PaymentInput{FlatID: "101", Amount: 500, ReceiverID: "faisal"})

	amount := int64(450)
	got, err := r.UpdatePayment(p.ID, RecordPatch{Amount: &amount})
	if err != nil {
		t.Fatalf("UpdatePayment() error: %v", err)
	}
	if got.Amount != 450 || r.Payments.Get()[0].Amount != 450 {
		t.Errorf("payment = %+v", got)
	}
	if cashOf(r, "faisal") != 500 {
		t.Errorf("cash = %d, a correction must not move cash", cashOf(r, "faisal"))
	}
	if _, err := r.UpdatePayment("nope", RecordPatch{}); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Errorf("missing payment err = %v", err)
	}
}

func TestDeleteLoan_Archives(t *testing.T) {
	r := newTestRegistry(t)
	l, err := r.ReceiveLoan(LoanInput{PersonID: "101own", Amount: 2000, Date: testNow}, "faisal")
	if err != nil {
		t.Fatalf("ReceiveLoan() error: %v", err)
	}
	if err := r.DeleteLoan(l.ID); err != nil {
		t.Fatalf("DeleteLoan() error: %v", err)
	}
	if len(r.Loans.Get()) != 0 {
		t.Error("loan not removed")
	}
	if del := r.DeletedItems.Get(); len(del) != 1 || del[0].Type != "loan" {
		t.Errorf("deletedItems = %+v", del)
	}
	if err := r.DeleteLoan(l.ID); !errors.Is(err, domain.ErrLoanNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}
