package registry

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eden-portal/eden/internal/domain"
	"github.com/eden-portal/eden/internal/infra/observability"
)

// ─── Monthly Automation ─────────────────────────────────────────────────────

// MaintenanceDescription is the description of generated monthly dues.
const MaintenanceDescription = "Maintenance"

// MonthlyRun reports what GenerateMonthlyDues did.
type MonthlyRun struct {
	Month           string `json:"month"`
	DuesCreated     int    `json:"dues_created"`
	ExpensesCreated int    `json:"expenses_created"`
	AlreadyRan      bool   `json:"already_ran"`
}

func (r *Registry) monthlyRunKey() string {
	return Key(r.cfg.Namespace, "monthly-run")
}

func (r *Registry) tenantReminderKey(month string) string {
	return Key(r.cfg.Namespace, "tenant-notif-run-"+month)
}

// MonthlyCharge is what a flat owes for one month: half the maintenance
// while vacant, rounded half up.
func MonthlyCharge(f domain.Flat) int64 {
	if !f.IsVacant {
		return f.MonthlyMaintenance
	}
	return decimal.NewFromInt(f.MonthlyMaintenance).Div(decimal.NewFromInt(2)).Round(0).IntPart()
}

// GenerateMonthlyDues adds this month's maintenance due to every flat that
// lacks one, settling it from the flat's advance balance first. The first
// run of a month also files the month's recurring expenses as confirmed
// payables; later runs in the same month only fill in missing dues.
func (r *Registry) GenerateMonthlyDues(now time.Time) (run MonthlyRun, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	month := now.Format("2006-01")
	done := r.begin("generate_monthly_dues", "", map[string]string{"month": month})
	defer func() { done(err) }()

	run.Month = month
	flats := r.Flats.Get()
	for i := range flats {
		f := &flats[i]
		if f.HasDue(month, MaintenanceDescription) {
			continue
		}
		charge := MonthlyCharge(*f)
		applied := min(f.AdvanceBalance, charge)
		if applied < 0 {
			applied = 0
		}
		f.AdvanceBalance -= applied
		f.Dues = append(f.Dues, domain.Dues{
			Month:       month,
			Amount:      charge,
			PaidAmount:  applied,
			Status:      domain.StatusFor(charge, applied),
			Description: MaintenanceDescription,
		})
		run.DuesCreated++
	}
	if run.DuesCreated > 0 {
		r.Flats.Set(flats)
		observability.DuesGenerated.Add(float64(run.DuesCreated))
	}

	if r.readMarker(r.monthlyRunKey()) == month {
		run.AlreadyRan = true
		return run, nil
	}

	var fresh []domain.Expense
	for _, re := range r.RecurringExpenses.Get() {
		if re.Amount <= 0 {
			continue
		}
		fresh = append(fresh, domain.Expense{
			ID:         r.nextIDLocked(),
			Purpose:    re.Purpose,
			Amount:     re.Amount,
			Date:       now,
			Status:     domain.ExpenseConfirmed,
			ApprovedBy: []string{"auto-approved-recurring"},
			Remarks:    "Auto-generated monthly expense",
		})
	}
	if len(fresh) > 0 {
		r.Expenses.Update(func(es []domain.Expense) []domain.Expense {
			return append(fresh, es...)
		})
	}
	run.ExpensesCreated = len(fresh)
	r.writeMarker(r.monthlyRunKey(), month)

	r.logger.Info("monthly automation complete", "month", month,
		"dues", run.DuesCreated, "expenses", run.ExpensesCreated)
	return run, nil
}

// ─── Reminders ──────────────────────────────────────────────────────────────

// TenantReminderDay is the day of the month tenants are reminded about rent.
const TenantReminderDay = 4

// ReminderRun counts the reminders GenerateReminders created.
type ReminderRun struct {
	Due     int `json:"due"`
	Payable int `json:"payable"`
	Tenant  int `json:"tenant"`
}

// Total is the number of reminders created.
func (rr ReminderRun) Total() int { return rr.Due + rr.Payable + rr.Tenant }

// GenerateReminders creates the periodic reminders:
//   - a DUE_REMINDER for each flat resident with unpaid dues,
//   - a PAYABLE_REMINDER to the accountant for each confirmed expense their
//     cash on hand can cover,
//   - on the 4th, once per month, a rent reminder to every tenant of an
//     occupied flat.
//
// A reminder is not repeated while an unread one for the same subject exists.
func (r *Registry) GenerateReminders(now time.Time) (run ReminderRun, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.begin("generate_reminders", "", nil)
	defer func() { done(err) }()

	users := r.Users.Get()
	flats := r.Flats.Get()
	existing := r.Notifications.Get()
	var notes []domain.Notification

	unreadDue := make(map[string]bool)
	unreadExpense := make(map[string]bool)
	for _, n := range existing {
		if n.IsRead {
			continue
		}
		if n.ActionType == domain.ActionDueReminder {
			unreadDue[n.RecipientID] = true
		}
		if n.Payload != nil && n.Payload.ExpenseID != "" {
			unreadExpense[n.Payload.ExpenseID] = true
		}
	}

	for _, f := range flats {
		if !hasUnpaidDues(f) {
			continue
		}
		resident, ok := residentOf(users, f.ID)
		if !ok || unreadDue[resident.ID] {
			continue
		}
		unreadDue[resident.ID] = true
		notes = append(notes, r.notification(resident.ID,
			"You have pending maintenance dues. Please pay them at your earliest convenience.",
			domain.ActionDueReminder, nil))
		run.Due++
	}

	if acc, ok := firstWithRole(users, domain.RoleAccountant); ok {
		for _, e := range r.Expenses.Get() {
			if e.Paid || e.Status != domain.ExpenseConfirmed || acc.CashOnHand < e.Amount || unreadExpense[e.ID] {
				continue
			}
			unreadExpense[e.ID] = true
			notes = append(notes, r.notification(acc.ID,
				fmt.Sprintf("Please pay the pending expense: %s (%d PKR).", e.Purpose, e.Amount),
				domain.ActionPayableReminder,
				&domain.NotificationPayload{ExpenseID: e.ID, Amount: e.Amount}))
			run.Payable++
		}
	}

	if now.Day() == TenantReminderDay {
		key := r.tenantReminderKey(now.Format("2006-01"))
		if r.readMarker(key) == "" {
			msg := "Reminder: Please pay rent and upload utility bills for " + now.Format("January")
			for _, u := range users {
				if u.ResidentType != domain.ResidentTenant {
					continue
				}
				fi := domain.FindFlat(flats, u.FlatID())
				if fi < 0 || flats[fi].IsVacant {
					continue
				}
				notes = append(notes, r.notification(u.ID, msg, domain.ActionInfo, nil))
				run.Tenant++
			}
			r.writeMarker(key, "true")
		}
	}

	r.notify(notes...)
	observability.RemindersSent.WithLabelValues(string(domain.ActionDueReminder)).Add(float64(run.Due))
	observability.RemindersSent.WithLabelValues(string(domain.ActionPayableReminder)).Add(float64(run.Payable))
	observability.RemindersSent.WithLabelValues(string(domain.ActionInfo)).Add(float64(run.Tenant))
	return run, nil
}

func hasUnpaidDues(f domain.Flat) bool {
	for _, d := range f.Dues {
		if d.Status == domain.DuesPending || d.Status == domain.DuesPartial {
			return true
		}
	}
	return false
}

// residentOf returns the first resident account of flatID, in users order.
func residentOf(users []domain.User, flatID string) (domain.User, bool) {
	for _, u := range users {
		if u.Role == domain.RoleResident && u.FlatID() == flatID {
			return u, true
		}
	}
	return domain.User{}, false
}

// ─── Markers ────────────────────────────────────────────────────────────────
// Markers are plain store entries outside any slice; they are local to this
// device and never mirrored.

func (r *Registry) readMarker(key string) string {
	raw, ok, err := r.cfg.Store.Read(key)
	if err != nil {
		r.logger.Warn("marker read failed", "key", key, "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return string(raw)
}

func (r *Registry) writeMarker(key, value string) {
	if err := r.cfg.Store.Write(key, []byte(value)); err != nil {
		r.logger.Warn("marker write failed", "key", key, "err", err)
	}
}
