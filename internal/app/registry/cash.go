package registry

import (
	"fmt"
	"sort"

	"github.com/eden-portal/eden/internal/domain"
)

// ─── Cash on Hand ───────────────────────────────────────────────────────────
// Only accountants and guards hold cash. The helpers below work on a copy of
// the users slice; callers Set the result once every precondition passed.

func requireCashHolder(users []domain.User, id string) error {
	i := domain.FindUser(users, id)
	if i < 0 {
		return fmt.Errorf("%q: %w", id, domain.ErrUserNotFound)
	}
	if !users[i].Role.HoldsCash() {
		return fmt.Errorf("%q is %s: %w", id, users[i].Role, domain.ErrNoCashHolder)
	}
	return nil
}

func addCash(users []domain.User, id string, delta int64) []domain.User {
	if i := domain.FindUser(users, id); i >= 0 {
		users[i].CashOnHand += delta
	}
	return users
}

// totalCash sums the cash held across the building's staff.
func totalCash(users []domain.User) int64 {
	var sum int64
	for _, u := range users {
		if u.Role.HoldsCash() {
			sum += u.CashOnHand
		}
	}
	return sum
}

// deductCash takes amount out of staff cash: the payer first, then guards
// by largest balance, then any other accountant by largest balance. The
// caller has checked totalCash(users) >= amount.
func deductCash(users []domain.User, payerID string, amount int64) []domain.User {
	remaining := amount
	take := func(i int) {
		n := min(remaining, users[i].CashOnHand)
		if n <= 0 {
			return
		}
		users[i].CashOnHand -= n
		remaining -= n
	}

	if i := domain.FindUser(users, payerID); i >= 0 {
		take(i)
	}
	for _, role := range []domain.Role{domain.RoleGuard, domain.RoleAccountant} {
		if remaining <= 0 {
			break
		}
		var idx []int
		for i, u := range users {
			if u.Role == role && u.ID != payerID {
				idx = append(idx, i)
			}
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return users[idx[a]].CashOnHand > users[idx[b]].CashOnHand
		})
		for _, i := range idx {
			if remaining <= 0 {
				break
			}
			take(i)
		}
	}
	return users
}
