package domain

import (
	"encoding/json"
	"time"
)

// ─── Notices & Messages ─────────────────────────────────────────────────────

// Notice is a building-wide announcement.
type Notice struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Date    time.Time `json:"date"`
	Image   string    `json:"image,omitempty"`
}

// Message is a direct message between two users.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"isRead,omitempty"`
}

// ─── Notifications ──────────────────────────────────────────────────────────

// NotificationAction tells the recipient what the notification is about.
type NotificationAction string

const (
	ActionPayExpense      NotificationAction = "PAY_EXPENSE"
	ActionDueReminder     NotificationAction = "DUE_REMINDER"
	ActionPayableReminder NotificationAction = "PAYABLE_REMINDER"
	ActionInfo            NotificationAction = "INFO"
	ActionCashTransfer    NotificationAction = "CASH_TRANSFER_CONFIRMATION"
	ActionExpenseApproval NotificationAction = "EXPENSE_APPROVAL"
	ActionExpenseRejected NotificationAction = "EXPENSE_REJECTED"
	ActionBillUploaded    NotificationAction = "BILL_UPLOADED"
)

// NotificationPayload references the record a notification acts on.
type NotificationPayload struct {
	PaymentID      string `json:"paymentId,omitempty"`
	ExpenseID      string `json:"expenseId,omitempty"`
	CashTransferID string `json:"cashTransferId,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	FromUserID     string `json:"fromUserId,omitempty"`
}

// Notification is an inbox item for one user.
type Notification struct {
	ID          string               `json:"id"`
	RecipientID string               `json:"recipientId"`
	Message     string               `json:"message"`
	Date        time.Time            `json:"date"`
	IsRead      bool                 `json:"isRead"`
	ActionType  NotificationAction   `json:"actionType,omitempty"`
	Payload     *NotificationPayload `json:"payload,omitempty"`
}

// ─── Misc Records ───────────────────────────────────────────────────────────

// Task is an admin to-do item tied to a flat.
type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	RelatedFlatID string    `json:"relatedFlatId"`
	IsCompleted   bool      `json:"isCompleted"`
	Date          time.Time `json:"date"`
	DueDate       time.Time `json:"dueDate"`
}

// Inquiry is a rent/purchase lead.
type Inquiry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Property   string    `json:"property"`
	Message    string    `json:"message"`
	Date       time.Time `json:"date"`
	IsArchived bool      `json:"isArchived,omitempty"`
}

// TenantTransaction is a tenant's rent or utility bill record.
type TenantTransaction struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	FlatID              string     `json:"flatId"`
	Category            string     `json:"category"`
	Month               string     `json:"month"`
	PaidOn              time.Time  `json:"paidOn"`
	Amount              int64      `json:"amount,omitempty"`
	ProofDocument       string     `json:"proofDocument,omitempty"`
	Remarks             string     `json:"remarks,omitempty"`
	Status              string     `json:"status,omitempty"`
	OwnerConfirmationBy string     `json:"ownerConfirmationBy,omitempty"`
	ConfirmedOn         *time.Time `json:"confirmedOn,omitempty"`
}

// PersonalBudgetEntry is a resident's private income/expense note.
type PersonalBudgetEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount"`
	Date        time.Time `json:"date"`
}

// Contact is an entry in the building directory.
type Contact struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Name          string `json:"name"`
	ContactNumber string `json:"contactNumber"`
}

// DeletedItem archives a removed record. Item holds the record's JSON and
// Type names its kind ("payment", "expense", "loan", "due", ...).
type DeletedItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Item      json.RawMessage `json:"item"`
	DeletedAt time.Time       `json:"deletedAt"`
}
