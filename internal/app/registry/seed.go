package registry

import (
	"fmt"
	"strings"

	"github.com/eden-portal/eden/internal/domain"
)

// Seed is the initial value of the seeded slices, used when the store has
// nothing for a key.
type Seed struct {
	Users             []domain.User
	Flats             []domain.Flat
	RecurringExpenses []domain.RecurringExpense
	Contacts          []domain.Contact
	BuildingInfo      domain.BuildingInfo
	PresidentMessage  string
}

const (
	floors               = 8
	flatsPerFloor        = 6
	flatMaintenance      = 6000
	penthouseMaintenance = 8000
)

// DefaultSeed returns the building as first configured: eight floors of six
// flats, three penthouses, the mezzanine and the ground floor, each with an
// owner account, plus the staff.
func DefaultSeed() Seed {
	users := []domain.User{
		{ID: "admin", Role: domain.RoleAdmin, OwnerName: "Arbab Khan", ResidentType: domain.ResidentOwner, Contact: "0300-1234567"},
		{ID: "faisal", Role: domain.RoleAccountant, OwnerName: "Faisal", ResidentType: domain.ResidentOwner, Contact: "0300-1234568"},
		{ID: "tahir", Role: domain.RoleAccountsChecker, OwnerName: "Tahir", ResidentType: domain.ResidentOwner, Contact: "0300-1234569"},
		{ID: "usman", Role: domain.RoleAccountsChecker, OwnerName: "Usman", ResidentType: domain.ResidentOwner, Contact: "0300-1234570"},
		{ID: "rahman", Role: domain.RoleGuard, OwnerName: "Rahman (Day)", ResidentType: domain.ResidentOwner, Salary: 25000},
		{ID: "nasir", Role: domain.RoleGuard, OwnerName: "Nasir (Night)", ResidentType: domain.ResidentOwner, Salary: 25000},
		{ID: "waqas", Role: domain.RoleSweeper, OwnerName: "Waqas", ResidentType: domain.ResidentOwner, Salary: 15000},
		{ID: "mechanic1", Role: domain.RoleLiftMechanic, OwnerName: "Ali (Lift)", ResidentType: domain.ResidentOwner, Salary: 10000},
	}

	var flats []domain.Flat
	addUnit := func(id, label string, floor int, maintenance int64, owner string) {
		flats = append(flats, domain.Flat{
			ID:                 id,
			Label:              label,
			Floor:              floor,
			MonthlyMaintenance: maintenance,
			Dues:               []domain.Dues{},
			TenantHistory:      []domain.TenancyRecord{},
		})
		users = append(users, domain.User{
			ID:           id + "own",
			Role:         domain.RoleResident,
			OwnerName:    owner,
			ResidentType: domain.ResidentOwner,
			Contact:      "0300-11" + strings.ReplaceAll(id, "-", ""),
		})
	}

	for floor := 1; floor <= floors; floor++ {
		for num := 1; num <= flatsPerFloor; num++ {
			id := fmt.Sprintf("%d0%d", floor, num)
			var maintenance int64 = flatMaintenance
			if id == "205" {
				maintenance = 1500
			}
			addUnit(id, "Flat "+id, floor, maintenance, "Owner of "+id)
		}
	}
	for _, id := range []string{"902", "903", "905"} {
		addUnit(id, "Penthouse "+id, 9, penthouseMaintenance, "Owner of "+id)
	}
	addUnit("M-01", "Mezzanine Floor", 0, 25000, "Owner of Mezzanine Floor")
	addUnit("G-01", "Ground Floor", 0, 40000, "Owner of Ground Floor")

	return Seed{
		Users: users,
		Flats: flats,
		RecurringExpenses: []domain.RecurringExpense{
			{Purpose: "Lift Maintenance", Amount: 5000},
			{Purpose: "Generator Fuel", Amount: 0},
			{Purpose: "Sweeper Salary", Amount: 15000},
			{Purpose: "Guard Salary (Day)", Amount: 25000},
			{Purpose: "Guard Salary (Night)", Amount: 25000},
			{Purpose: "K-Electric Common Bill", Amount: 0},
			{Purpose: "Water Bill", Amount: 0},
		},
		Contacts: []domain.Contact{
			{ID: "c1", Title: "Building Manager", Name: "Faisal", ContactNumber: "0300-1234568"},
			{ID: "c2", Title: "Emergency Guard (Day)", Name: "Rahman", ContactNumber: "0311-1234567"},
			{ID: "c3", Title: "Emergency Guard (Night)", Name: "Nasir", ContactNumber: "0311-1234569"},
		},
		BuildingInfo: domain.BuildingInfo{
			Name:             "Al Ghafoor Eden",
			Address:          "Plot No. 1/28, Block A Block 1 Nazimabad, Karachi, 74600, Pakistan",
			TotalFlats:       48,
			TotalPenthouses:  3,
			MezzanineDetails: "Gym and Community Hall",
			ParkingCapacity:  50,
			TotalFloors:      floors,
			FlatsPerFloor:    flatsPerFloor,
		},
		PresidentMessage: "Welcome to Al Ghafoor Eden Community Portal.",
	}
}
