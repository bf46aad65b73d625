package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Lookup errors
	ErrFlatNotFound         = errors.New("flat not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrExpenseNotFound      = errors.New("expense not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrLoanNotFound         = errors.New("loan not found")
	ErrTransferNotFound     = errors.New("cash transfer not found")
	ErrDueNotFound          = errors.New("due not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// Precondition errors
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient cash on hand")
	ErrNotApprover       = errors.New("user is not an accounts checker")
	ErrNotAccountant     = errors.New("user is not an accountant")
	ErrNoCashHolder      = errors.New("user does not hold cash")
	ErrNoCashToTransfer  = errors.New("no cash on hand to transfer")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyPaid       = errors.New("already paid")

	// Snapshot errors
	ErrSnapshotCorrupt = errors.New("snapshot is not a valid JSON object")
	ErrNoRestorePoint  = errors.New("no restore point available")
	ErrUnknownSlice    = errors.New("unknown slice")

	// Storage errors
	ErrStoreClosed = errors.New("store is closed")
	ErrOffline     = errors.New("remote mirror is not connected")
)
