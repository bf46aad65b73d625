package domain

import "time"

// ─── Payments ───────────────────────────────────────────────────────────────

// PaymentStatus is the confirmation state of a received payment.
type PaymentStatus string

const (
	PaymentConfirmed           PaymentStatus = "Confirmed"
	PaymentPendingConfirmation PaymentStatus = "Pending Confirmation"
	PaymentObjected            PaymentStatus = "Objected"
)

// BreakdownLine is one allocation of a payment against a due or advance.
type BreakdownLine struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// AdvanceLine is the breakdown description used for residual overpayment.
const AdvanceLine = "Advance Payment"

// Payment is money received from a flat (or a lender) into staff cash.
type Payment struct {
	ID          string          `json:"id"`
	FlatID      string          `json:"flatId"`
	Amount      int64           `json:"amount"`
	Date        time.Time       `json:"date"`
	Purpose     string          `json:"purpose"`
	Remarks     string          `json:"remarks,omitempty"`
	ReceiptImg  string          `json:"receiptImg,omitempty"`
	ReceivedBy  string          `json:"receivedBy,omitempty"`
	Status      PaymentStatus   `json:"status"`
	ConfirmedBy string          `json:"confirmedBy,omitempty"`
	Breakdown   []BreakdownLine `json:"breakdown,omitempty"`
}

// ─── Expenses ───────────────────────────────────────────────────────────────

// ExpenseStatus is the approval/payment state of an expense.
type ExpenseStatus string

const (
	ExpensePendingApproval ExpenseStatus = "Pending Approval"
	ExpenseConfirmed       ExpenseStatus = "Confirmed"
	ExpensePaid            ExpenseStatus = "Paid"
	ExpenseObjected        ExpenseStatus = "Objected"
)

// MeterReading carries utility meter units for recurring bills.
type MeterReading struct {
	PreviousUnits int64 `json:"previousUnits,omitempty"`
	CurrentUnits  int64 `json:"currentUnits,omitempty"`
}

// Expense is a building payable. It leaves staff cash only once Paid.
type Expense struct {
	ID                 string        `json:"id"`
	Purpose            string        `json:"purpose"`
	Amount             int64         `json:"amount"`
	Date               time.Time     `json:"date"`
	DueDate            *time.Time    `json:"dueDate,omitempty"`
	AmountAfterDueDate int64         `json:"amountAfterDueDate,omitempty"`
	Remarks            string        `json:"remarks,omitempty"`
	InvoiceImg         string        `json:"invoiceImg,omitempty"`
	Paid               bool          `json:"paid"`
	PaidBy             string        `json:"paidBy,omitempty"`
	Status             ExpenseStatus `json:"status"`
	RequiresApproval   bool          `json:"requiresApproval,omitempty"`
	ApprovedBy         []string      `json:"approvedBy"`
	RequestedBy        string        `json:"requestedBy,omitempty"`
	Details            *MeterReading `json:"details,omitempty"`
}

// ApprovedByUser reports whether userID has already approved the expense.
func (e Expense) ApprovedByUser(userID string) bool {
	for _, id := range e.ApprovedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// FindExpense returns the index of the expense with the given ID, or -1.
func FindExpense(expenses []Expense, id string) int {
	for i := range expenses {
		if expenses[i].ID == id {
			return i
		}
	}
	return -1
}

// RecurringExpense is a template for an auto-generated monthly payable.
type RecurringExpense struct {
	Purpose string `json:"purpose"`
	Amount  int64  `json:"amount"`
}

// ─── Loans ──────────────────────────────────────────────────────────────────

// LoanType tells which way the money moved.
type LoanType string

const (
	LoanReceived LoanType = "Received"
	LoanPaidOut  LoanType = "PaidOut"
)

// LoanStatus is Pending until repaid.
type LoanStatus string

const (
	LoanPending LoanStatus = "Pending"
	LoanPaid    LoanStatus = "Paid"
)

// Loan is money borrowed by or lent from the building fund.
type Loan struct {
	ID          string     `json:"id"`
	Type        LoanType   `json:"type"`
	PersonID    string     `json:"personId"`
	PersonName  string     `json:"personName"`
	Amount      int64      `json:"amount"`
	DueDate     time.Time  `json:"dueDate"`
	Date        time.Time  `json:"date"`
	Status      LoanStatus `json:"status"`
	Description string     `json:"description"`
}

// ─── Cash Transfers ─────────────────────────────────────────────────────────

// TransferStatus is Pending until the receiving accountant confirms.
type TransferStatus string

const (
	TransferPending   TransferStatus = "Pending"
	TransferConfirmed TransferStatus = "Confirmed"
)

// CashTransfer moves a staff member's cash to the accountant.
type CashTransfer struct {
	ID          string         `json:"id"`
	FromUserID  string         `json:"fromUserId"`
	ToUserID    string         `json:"toUserId"`
	Amount      int64          `json:"amount"`
	Date        time.Time      `json:"date"`
	Status      TransferStatus `json:"status"`
	ConfirmedOn *time.Time     `json:"confirmedOn,omitempty"`
}
