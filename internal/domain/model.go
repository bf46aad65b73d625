// Package domain contains pure business types with ZERO infrastructure imports.
// Every type here is JSON-serializable so it can live inside a synchronized
// slice; binary attachments are carried as base64 strings.
package domain

import (
	"strings"
	"time"
)

// ─── Roles ──────────────────────────────────────────────────────────────────

// Role is a user's function in the building.
type Role string

const (
	RoleResident        Role = "Resident"
	RoleAdmin           Role = "Admin"
	RoleGuard           Role = "Guard"
	RoleAccountant      Role = "Accountant"
	RoleAccountsChecker Role = "AccountsChecker"
	RoleSweeper         Role = "Sweeper"
	RoleLiftMechanic    Role = "LiftMechanic"
)

// HoldsCash reports whether users of this role carry a cash-on-hand balance.
func (r Role) HoldsCash() bool {
	return r == RoleAccountant || r == RoleGuard
}

// ResidentType distinguishes owners from tenants.
type ResidentType string

const (
	ResidentOwner  ResidentType = "Owner"
	ResidentTenant ResidentType = "Tenant"
)

// ─── Users ──────────────────────────────────────────────────────────────────

// User is a resident or staff member. Staff IDs are short names ("faisal"),
// resident IDs are the flat ID plus "own" or "tnt".
type User struct {
	ID               string       `json:"id"`
	Role             Role         `json:"role"`
	OwnerName        string       `json:"ownerName"`
	OwnerPic         string       `json:"ownerPic,omitempty"`
	ResidentType     ResidentType `json:"residentType"`
	AlternateContact string       `json:"alternateContact,omitempty"`
	CurrentAddress   string       `json:"currentAddress,omitempty"`
	TenantName       string       `json:"tenantName,omitempty"`
	Contact          string       `json:"contact,omitempty"`
	Salary           int64        `json:"salary,omitempty"`
	CashOnHand       int64        `json:"cashOnHand,omitempty"`
	VacatingStatus   string       `json:"vacatingStatus,omitempty"`
}

// FlatID returns the flat a resident user belongs to, or "" for staff.
func (u User) FlatID() string {
	if u.Role != RoleResident {
		return ""
	}
	id := strings.TrimSuffix(u.ID, "own")
	return strings.TrimSuffix(id, "tnt")
}

// FindUser returns the index of the user with the given ID, or -1.
func FindUser(users []User, id string) int {
	for i := range users {
		if users[i].ID == id {
			return i
		}
	}
	return -1
}

// UsersWithRole returns the users holding role, in slice order.
func UsersWithRole(users []User, role Role) []User {
	var out []User
	for _, u := range users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out
}

// ─── Flats & Dues ───────────────────────────────────────────────────────────

// DuesStatus is derived from a due's amount and paid amount.
type DuesStatus string

const (
	DuesPaid    DuesStatus = "Paid"
	DuesPending DuesStatus = "Pending"
	DuesPartial DuesStatus = "Partial"
)

// StatusFor returns the status implied by amount and paid.
func StatusFor(amount, paid int64) DuesStatus {
	switch {
	case paid <= 0:
		return DuesPending
	case paid >= amount:
		return DuesPaid
	default:
		return DuesPartial
	}
}

// Dues is a monthly charge owed by a flat. Month is "YYYY-MM".
type Dues struct {
	Month       string     `json:"month"`
	Amount      int64      `json:"amount"`
	Status      DuesStatus `json:"status"`
	PaidAmount  int64      `json:"paidAmount"`
	Description string     `json:"description"`
}

// Owed returns the unpaid remainder of the due.
func (d Dues) Owed() int64 {
	return d.Amount - d.PaidAmount
}

// Outstanding reports whether anything is still owed.
func (d Dues) Outstanding() bool {
	return d.Status != DuesPaid && d.Owed() > 0
}

// Same reports whether two dues refer to the same charge.
func (d Dues) Same(month, description string) bool {
	return d.Month == month && d.Description == description
}

// MonthLabel formats Month as "January 2025". Unparseable months are returned as-is.
func (d Dues) MonthLabel() string {
	t, err := time.Parse("2006-01", d.Month)
	if err != nil {
		return d.Month
	}
	return t.Format("January 2006")
}

// TenancyRecord tracks who occupied a flat and when.
type TenancyRecord struct {
	UserID    string     `json:"userId"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

// Flat is a unit in the building (flat, penthouse, shop, mezzanine).
type Flat struct {
	ID                 string          `json:"id"`
	Label              string          `json:"label"`
	Floor              int             `json:"floor"`
	MonthlyMaintenance int64           `json:"monthlyMaintenance"`
	Dues               []Dues          `json:"dues"`
	AdminRemarks       string          `json:"adminRemarks,omitempty"`
	ForSale            bool            `json:"forSale,omitempty"`
	ForRent            bool            `json:"forRent,omitempty"`
	IsBackend          bool            `json:"isBackend,omitempty"`
	IsVacant           bool            `json:"isVacant"`
	VacantSince        string          `json:"vacantSince,omitempty"`
	AdvanceBalance     int64           `json:"advanceBalance"`
	TenantHistory      []TenancyRecord `json:"tenantHistory"`
}

// HasDue reports whether a due for month+description already exists.
func (f Flat) HasDue(month, description string) bool {
	for _, d := range f.Dues {
		if d.Same(month, description) {
			return true
		}
	}
	return false
}

// Clone returns a copy of f whose slices can be modified without touching f.
func (f Flat) Clone() Flat {
	out := f
	out.Dues = append([]Dues(nil), f.Dues...)
	out.TenantHistory = append([]TenancyRecord(nil), f.TenantHistory...)
	return out
}

// FindFlat returns the index of the flat with the given ID, or -1.
func FindFlat(flats []Flat, id string) int {
	for i := range flats {
		if flats[i].ID == id {
			return i
		}
	}
	return -1
}

// ─── Building ───────────────────────────────────────────────────────────────

// BuildingInfo describes the building itself.
type BuildingInfo struct {
	Name             string `json:"name"`
	Address          string `json:"address"`
	Logo             string `json:"logo,omitempty"`
	TotalFlats       int    `json:"totalFlats"`
	TotalPenthouses  int    `json:"totalPenthouses"`
	TotalShops       int    `json:"totalShops"`
	TotalOffices     int    `json:"totalOffices"`
	MezzanineDetails string `json:"mezzanineDetails"`
	ParkingCapacity  int    `json:"parkingCapacity"`
	TotalFloors      int    `json:"totalFloors"`
	FlatsPerFloor    int    `json:"flatsPerFloor"`
}
