package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Dues ───────────────────────────────────────────────────────────────────

// DuesSummary totals one flat's dues.
type DuesSummary struct {
	FlatID        string   `json:"flat_id"`
	Billed        int64    `json:"billed"`
	Paid          int64    `json:"paid"`
	Outstanding   int64    `json:"outstanding"`
	Advance       int64    `json:"advance"`
	UnpaidMonths  []string `json:"unpaid_months"`
	PartialMonths []string `json:"partial_months"`
}

// SummarizeDues totals f's dues. Months are listed oldest first.
func SummarizeDues(f domain.Flat) DuesSummary {
	s := DuesSummary{FlatID: f.ID, Advance: f.AdvanceBalance, UnpaidMonths: []string{}, PartialMonths: []string{}}
	for _, d := range f.Dues {
		s.Billed += d.Amount
		s.Paid += d.PaidAmount
		switch d.Status {
		case domain.DuesPending:
			s.UnpaidMonths = append(s.UnpaidMonths, d.Month)
		case domain.DuesPartial:
			s.PartialMonths = append(s.PartialMonths, d.Month)
		}
	}
	s.Outstanding = s.Billed - s.Paid
	sort.Strings(s.UnpaidMonths)
	sort.Strings(s.PartialMonths)
	return s
}

// DuesReport is the collection picture across flats.
type DuesReport struct {
	Month          string          `json:"month,omitempty"` // "" covers every month
	Flats          int             `json:"flats"`
	Billed         int64           `json:"billed"`
	Collected      int64           `json:"collected"`
	Outstanding    int64           `json:"outstanding"`
	CollectionRate decimal.Decimal `json:"collection_rate"` // percent, two places
	Defaulters     []string        `json:"defaulters"`      // flats with anything outstanding
}

// Report builds a DuesReport for month ("" for all months).
func Report(flats []domain.Flat, month string) DuesReport {
	r := DuesReport{Month: month, Flats: len(flats), Defaulters: []string{}}
	for _, f := range flats {
		var owed int64
		for _, d := range f.Dues {
			if month != "" && d.Month != month {
				continue
			}
			r.Billed += d.Amount
			r.Collected += d.PaidAmount
			owed += d.Owed()
		}
		if owed > 0 {
			r.Defaulters = append(r.Defaulters, f.ID)
		}
	}
	r.Outstanding = r.Billed - r.Collected
	r.CollectionRate = Rate(r.Collected, r.Billed)
	sort.Strings(r.Defaulters)
	return r
}

// Rate returns part as a percentage of whole, rounded to two places. A zero
// whole yields zero.
func Rate(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(whole)).Round(2)
}

// ─── Cash ───────────────────────────────────────────────────────────────────

// Holding is one staff member's cash on hand.
type Holding struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
	Cash   int64       `json:"cash"`
}

// Position is where the building's cash currently is.
type Position struct {
	Holdings  []Holding `json:"holdings"`
	Held      int64     `json:"held"`
	InTransit int64     `json:"in_transit"` // pending transfers
	Total     int64     `json:"total"`
}

// CashPosition lists every cash holder, largest balance first.
func CashPosition(users []domain.User, transfers []domain.CashTransfer) Position {
	p := Position{Holdings: []Holding{}}
	for _, u := range users {
		if !u.Role.HoldsCash() {
			continue
		}
		p.Holdings = append(p.Holdings, Holding{UserID: u.ID, Name: u.OwnerName, Role: u.Role, Cash: u.CashOnHand})
		p.Held += u.CashOnHand
	}
	sort.SliceStable(p.Holdings, func(i, j int) bool {
		if p.Holdings[i].Cash != p.Holdings[j].Cash {
			return p.Holdings[i].Cash > p.Holdings[j].Cash
		}
		return p.Holdings[i].UserID < p.Holdings[j].UserID
	})
	for _, t := range transfers {
		if t.Status == domain.TransferPending {
			p.InTransit += t.Amount
		}
	}
	p.Total = p.Held + p.InTransit
	return p
}

// BuildingCash is what the books say the building holds: confirmed
// payments less paid expenses. It equals Position.Total when the books and
// the cash agree.
func BuildingCash(payments []domain.Payment, expenses []domain.Expense) int64 {
	return Build(buildingTxs(payments, expenses), Range{}).Closing
}

// ─── Receivables & Payables ─────────────────────────────────────────────────

// Receivable is money owed to the building.
type Receivable struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"` // "due" or "loan"
	FlatID      string    `json:"flat_id,omitempty"`
	From        string    `json:"from"`
	Purpose     string    `json:"purpose"`
	Amount      int64     `json:"amount"`
	DueDate     time.Time `json:"due_date"`
	Month       string    `json:"month,omitempty"`
	Description string    `json:"description,omitempty"`
}

// dueDay is the day of the month a due is expected by.
const dueDay = 28

// Receivables lists unpaid dues and outstanding loans the building paid out,
// earliest due date first.
func Receivables(flats []domain.Flat, loans []domain.Loan) []Receivable {
	out := []Receivable{}
	for _, f := range flats {
		for _, d := range f.Dues {
			if d.Status != domain.DuesPending && d.Status != domain.DuesPartial {
				continue
			}
			out = append(out, Receivable{
				ID:          f.ID + "-" + d.Month + "-" + d.Description,
				Kind:        "due",
				FlatID:      f.ID,
				From:        f.Label,
				Purpose:     d.Description,
				Amount:      d.Owed(),
				DueDate:     monthStart(d.Month).AddDate(0, 0, dueDay-1),
				Month:       d.Month,
				Description: d.Description,
			})
		}
	}
	for _, l := range loans {
		if l.Type == domain.LoanPaidOut && l.Status == domain.LoanPending {
			out = append(out, Receivable{
				ID: l.ID, Kind: "loan", From: l.PersonName, Purpose: "Loan Repayment",
				Amount: l.Amount, DueDate: l.DueDate,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Payable is money the building owes.
type Payable struct {
	ID      string     `json:"id"`
	Kind    string     `json:"kind"` // "expense" or "loan"
	To      string     `json:"to,omitempty"`
	Purpose string     `json:"purpose"`
	Amount  int64      `json:"amount"`
	Date    time.Time  `json:"date"`
	DueDate *time.Time `json:"due_date,omitempty"`
}

// Payables lists confirmed unpaid expenses and unpaid received loans,
// oldest first.
func Payables(expenses []domain.Expense, loans []domain.Loan) []Payable {
	out := []Payable{}
	for _, e := range expenses {
		if e.Status == domain.ExpenseConfirmed && !e.Paid {
			out = append(out, Payable{ID: e.ID, Kind: "expense", Purpose: e.Purpose, Amount: e.Amount, Date: e.Date, DueDate: e.DueDate})
		}
	}
	for _, l := range loans {
		if l.Type == domain.LoanReceived && l.Status == domain.LoanPending {
			due := l.DueDate
			out = append(out, Payable{
				ID: l.ID, Kind: "loan", To: l.PersonName, Purpose: "Loan Repayment to " + l.PersonName,
				Amount: l.Amount, Date: l.Date, DueDate: &due,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
