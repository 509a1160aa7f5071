package model

import "time"

// Role identifies the kind of actor interacting with the dispatch core.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleDriver   Role = "DRIVER"
	RoleOperator Role = "OPERATOR"
	RoleManager  Role = "MANAGER"
)

// Actor is a verified identity supplied by the authorization layer. The core
// trusts these fields and does not re-authenticate.
type Actor struct {
	ID   string
	Role Role
}

// Driver represents a delivery driver known to the fleet.
type Driver struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Approved bool    `json:"approved"`
	Rating   float64 `json:"rating"` // 0..5, used as a matching tie-breaker

	LastKnownLocation *TrackedLocation `json:"last_known_location,omitempty"`
}

// VehicleStatus tracks whether a vehicle can take new work.
type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "AVAILABLE"
	VehicleInUse       VehicleStatus = "IN_USE"
	VehicleMaintenance VehicleStatus = "MAINTENANCE"
)

// Vehicle is a fleet vehicle that can be paired with a driver.
type Vehicle struct {
	ID         string        `json:"id"`
	Plate      string        `json:"plate"`
	Type       string        `json:"type"` // e.g. "van", "truck", "bike"
	CapacityKg float64       `json:"capacity_kg"`
	Status     VehicleStatus `json:"status"`
}

// DutyShift is a scheduled work window binding a driver to a vehicle.
type DutyShift struct {
	ID        string    `json:"id"`
	DriverID  string    `json:"driver_id"`
	VehicleID string    `json:"vehicle_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Covers reports whether the shift window contains t.
func (s DutyShift) Covers(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}
