package registry

import (
	"fmt"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Cash Transfers ─────────────────────────────────────────────────────────
// A transfer hands a staff member's whole cash on hand to the accountant.
// The money leaves the sender immediately and reaches the accountant only
// once receipt is confirmed; in between it sits in the pending transfer.

// InitiateCashTransfer moves senderID's cash into a pending transfer to the
// accountant and asks the accountant to confirm receipt.
func (r *Registry) InitiateCashTransfer(senderID string) (_ *domain.CashTransfer, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("initiate_cash_transfer", senderID, nil)
	defer func() { done(err) }()

	users := r.Users.Get()
	si := domain.FindUser(users, senderID)
	if si < 0 {
		return nil, fmt.Errorf("cash transfer from %q: %w", senderID, domain.ErrUserNotFound)
	}
	acc, ok := firstWithRole(users, domain.RoleAccountant)
	if !ok {
		return nil, fmt.Errorf("cash transfer: %w", domain.ErrNotAccountant)
	}
	if acc.ID == senderID {
		return nil, fmt.Errorf("cash transfer from the accountant to themselves: %w", domain.ErrInvalidTransition)
	}
	sender := users[si]
	if sender.CashOnHand <= 0 {
		return nil, fmt.Errorf("cash transfer from %q: %w", senderID, domain.ErrNoCashToTransfer)
	}

	t := domain.CashTransfer{
		ID:         r.nextIDLocked(),
		FromUserID: senderID,
		ToUserID:   acc.ID,
		Amount:     sender.CashOnHand,
		Date:       r.now(),
		Status:     domain.TransferPending,
	}
	users[si].CashOnHand = 0

	r.CashTransfers.Update(func(ts []domain.CashTransfer) []domain.CashTransfer {
		return append([]domain.CashTransfer{t}, ts...)
	})
	r.Users.Set(users)
	r.notify(r.notification(acc.ID,
		fmt.Sprintf("%s has transferred %s. Please confirm receipt.", sender.OwnerName, domain.FormatPKR(t.Amount)),
		domain.ActionCashTransfer,
		&domain.NotificationPayload{CashTransferID: t.ID, Amount: t.Amount, FromUserID: senderID}))
	return &t, nil
}

// ConfirmCashTransfer credits a pending transfer to confirmerID. Confirming
// an already confirmed transfer is a no-op.
func (r *Registry) ConfirmCashTransfer(transferID, confirmerID string) (_ *domain.CashTransfer, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("confirm_cash_transfer", confirmerID, map[string]string{"transfer": transferID})
	defer func() { done(err) }()

	transfers := r.CashTransfers.Get()
	ti := -1
	for i := range transfers {
		if transfers[i].ID == transferID {
			ti = i
			break
		}
	}
	if ti < 0 {
		return nil, fmt.Errorf("confirm transfer %q: %w", transferID, domain.ErrTransferNotFound)
	}
	t := &transfers[ti]
	if t.Status == domain.TransferConfirmed {
		return t, nil
	}
	users := r.Users.Get()
	if err := requireRole(users, confirmerID, domain.RoleAccountant, domain.ErrNotAccountant); err != nil {
		return nil, fmt.Errorf("confirm transfer: %w", err)
	}

	now := r.now()
	t.Status = domain.TransferConfirmed
	t.ConfirmedOn = &now
	senderName := t.FromUserID
	if i := domain.FindUser(users, t.FromUserID); i >= 0 {
		senderName = users[i].OwnerName
	}

	r.CashTransfers.Set(transfers)
	r.Users.Set(addCash(users, confirmerID, t.Amount))
	r.Notifications.Update(func(ns []domain.Notification) []domain.Notification {
		for i := range ns {
			if ns[i].Payload != nil && ns[i].Payload.CashTransferID == transferID {
				ns[i].IsRead = true
				ns[i].Message = fmt.Sprintf("You confirmed receipt of %s from %s.", domain.FormatPKR(t.Amount), senderName)
			}
		}
		return append(ns, r.notification(t.FromUserID,
			fmt.Sprintf("Your transfer of %s has been confirmed by the accountant.", domain.FormatPKR(t.Amount)),
			domain.ActionInfo, nil))
	})
	return t, nil
}
