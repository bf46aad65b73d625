// Package ledger derives financial views from slice values. Every function
// is a pure fold over its inputs: no I/O, no clock, no shared state, and the
// same inputs in any order yield the same output.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Transactions ───────────────────────────────────────────────────────────

// Kind discriminates the Transaction union.
type Kind int

const (
	KindPayment Kind = iota + 1
	KindExpense
	KindDue
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindPayment:
		return "payment"
	case KindExpense:
		return "expense"
	case KindDue:
		return "due"
	case KindTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// DueRef is a flat's due placed on the timeline.
type DueRef struct {
	FlatID string      `json:"flatId"`
	Due    domain.Dues `json:"due"`
}

// TransferRef is a cash transfer seen from one side.
type TransferRef struct {
	Transfer domain.CashTransfer `json:"transfer"`
	Incoming bool                `json:"incoming"`
}

// Transaction is one of: a payment, an expense, a due or a transfer. Exactly
// the field matching Kind is set.
type Transaction struct {
	Kind     Kind            `json:"kind"`
	Payment  *domain.Payment `json:"payment,omitempty"`
	Expense  *domain.Expense `json:"expense,omitempty"`
	Due      *DueRef         `json:"due,omitempty"`
	Transfer *TransferRef    `json:"transfer,omitempty"`
}

// PaymentTx wraps a payment.
func PaymentTx(p domain.Payment) Transaction { return Transaction{Kind: KindPayment, Payment: &p} }

// ExpenseTx wraps an expense.
func ExpenseTx(e domain.Expense) Transaction { return Transaction{Kind: KindExpense, Expense: &e} }

// DueTx wraps a flat's due.
func DueTx(flatID string, d domain.Dues) Transaction {
	return Transaction{Kind: KindDue, Due: &DueRef{FlatID: flatID, Due: d}}
}

// TransferTx wraps a transfer; incoming is true on the receiving side.
func TransferTx(t domain.CashTransfer, incoming bool) Transaction {
	return Transaction{Kind: KindTransfer, Transfer: &TransferRef{Transfer: t, Incoming: incoming}}
}

// Entry is the ledger view of a transaction.
type Entry struct {
	Date   time.Time `json:"date"`
	ID     string    `json:"id"`
	Label  string    `json:"label"`
	Debit  int64     `json:"debit"`
	Credit int64     `json:"credit"`
}

// Entry projects t onto the ledger. Payments and incoming transfers are
// credits; expenses, dues and outgoing transfers are debits.
func (t Transaction) Entry() Entry {
	switch t.Kind {
	case KindPayment:
		p := t.Payment
		return Entry{Date: p.Date, ID: p.ID, Label: p.Purpose, Credit: p.Amount}
	case KindExpense:
		e := t.Expense
		return Entry{Date: e.Date, ID: e.ID, Label: e.Purpose, Debit: e.Amount}
	case KindDue:
		d := t.Due
		return Entry{
			Date:  monthStart(d.Due.Month),
			ID:    d.FlatID + "-" + d.Due.Month + "-" + d.Due.Description,
			Label: d.Due.Description + " for " + d.Due.MonthLabel(),
			Debit: d.Due.Amount,
		}
	case KindTransfer:
		tr := t.Transfer
		e := Entry{Date: tr.Transfer.Date, ID: tr.Transfer.ID}
		if tr.Incoming {
			e.Label = "Cash received from " + tr.Transfer.FromUserID
			e.Credit = tr.Transfer.Amount
			if tr.Transfer.ConfirmedOn != nil {
				e.Date = *tr.Transfer.ConfirmedOn
			}
		} else {
			e.Label = "Cash handed to " + tr.Transfer.ToUserID
			e.Debit = tr.Transfer.Amount
		}
		return e
	default:
		panic(fmt.Sprintf("ledger: unhandled transaction kind %v", t.Kind))
	}
}

func monthStart(month string) time.Time {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// Range bounds a ledger window. From is inclusive, To exclusive; a zero
// bound is open.
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Row is an entry with the running balance after it.
type Row struct {
	Entry
	Kind    Kind  `json:"kind"`
	Balance int64 `json:"balance"`
}

// Ledger is a window of entries with opening and closing balances.
type Ledger struct {
	Opening     int64 `json:"opening"`
	Rows        []Row `json:"rows"`
	Closing     int64 `json:"closing"`
	TotalDebit  int64 `json:"total_debit"`
	TotalCredit int64 `json:"total_credit"`
}

// Build folds txs into a ledger over rng. Entries are ordered by date, then
// kind, then ID, so the result does not depend on input order. The opening
// balance is the net of every entry before rng.From; entries at or after
// rng.To are ignored.
func Build(txs []Transaction, rng Range) Ledger {
	type item struct {
		Entry
		kind Kind
	}
	items := make([]item, 0, len(txs))
	for _, t := range txs {
		items = append(items, item{Entry: t.Entry(), kind: t.Kind})
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.ID < b.ID
	})

	l := Ledger{Rows: []Row{}}
	for _, it := range items {
		if !rng.From.IsZero() && it.Date.Before(rng.From) {
			l.Opening += it.Credit - it.Debit
		}
	}
	balance := l.Opening
	for _, it := range items {
		if !rng.Contains(it.Date) {
			continue
		}
		balance += it.Credit - it.Debit
		l.TotalDebit += it.Debit
		l.TotalCredit += it.Credit
		l.Rows = append(l.Rows, Row{Entry: it.Entry, Kind: it.kind, Balance: balance})
	}
	l.Closing = balance
	return l
}

// Building is the building's cash book: confirmed payments in, paid
// expenses out.
func Building(payments []domain.Payment, expenses []domain.Expense, rng Range) Ledger {
	return Build(buildingTxs(payments, expenses), rng)
}

func buildingTxs(payments []domain.Payment, expenses []domain.Expense) []Transaction {
	txs := make([]Transaction, 0, len(payments)+len(expenses))
	for _, p := range payments {
		if p.Status == domain.PaymentConfirmed {
			txs = append(txs, PaymentTx(p))
		}
	}
	for _, e := range expenses {
		if e.Paid {
			txs = append(txs, ExpenseTx(e))
		}
	}
	return txs
}

// Flat is a flat's statement: dues charged against payments received. A
// negative balance is money owed by the flat.
func Flat(f domain.Flat, payments []domain.Payment, rng Range) Ledger {
	txs := make([]Transaction, 0, len(f.Dues)+len(payments))
	for _, d := range f.Dues {
		txs = append(txs, DueTx(f.ID, d))
	}
	for _, p := range payments {
		if p.FlatID == f.ID && p.Status == domain.PaymentConfirmed {
			txs = append(txs, PaymentTx(p))
		}
	}
	return Build(txs, rng)
}

// StaffCash is the movement of one staff member's cash: payments they
// received and transfers in and out. Expense payouts are not attributed
// per person because one payout can draw on several holders.
func StaffCash(userID string, payments []domain.Payment, transfers []domain.CashTransfer, rng Range) Ledger {
	var txs []Transaction
	for _, p := range payments {
		if p.ReceivedBy == userID && p.Status == domain.PaymentConfirmed {
			txs = append(txs, PaymentTx(p))
		}
	}
	for _, t := range transfers {
		if t.FromUserID == userID {
			txs = append(txs, TransferTx(t, false))
		}
		if t.ToUserID == userID && t.Status == domain.TransferConfirmed {
			txs = append(txs, TransferTx(t, true))
		}
	}
	return Build(txs, rng)
}
