package model

import (
	"fmt"
	"time"
)

// ShipmentStatus tracks a shipment through its delivery lifecycle.
type ShipmentStatus string

const (
	StatusCreated        ShipmentStatus = "CREATED"
	StatusAssigned       ShipmentStatus = "ASSIGNED"
	StatusPickedUp       ShipmentStatus = "PICKED_UP"
	StatusInTransit      ShipmentStatus = "IN_TRANSIT"
	StatusDelayed        ShipmentStatus = "DELAYED"
	StatusOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      ShipmentStatus = "DELIVERED"
	StatusClosed         ShipmentStatus = "CLOSED"
	StatusCancelled      ShipmentStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Active reports whether a driver holding a shipment in this status counts as
// busy for matching purposes.
func (s ShipmentStatus) Active() bool {
	switch s {
	case StatusAssigned, StatusPickedUp, StatusInTransit, StatusOutForDelivery:
		return true
	}
	return false
}

// ActiveStatuses lists the statuses in which a shipment occupies its driver.
func ActiveStatuses() []ShipmentStatus {
	return []ShipmentStatus{StatusAssigned, StatusPickedUp, StatusInTransit, StatusOutForDelivery}
}

// TrackedLocation is a position sample attached to a shipment.
type TrackedLocation struct {
	Coord      Coordinate `json:"coord"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Shipment is a single delivery order from origin to destination.
//
// AssignedDriverID and AssignedVehicleID are set together or empty together.
// ProgressPct stays within [0,100] and DistanceRemainingKm never goes
// negative; both are maintained by the telemetry ingestor.
type Shipment struct {
	ID              string         `json:"id"`
	Reference       string         `json:"reference"`
	Origin          Coordinate     `json:"origin"`
	OriginName      string         `json:"origin_name"`
	Destination     Coordinate     `json:"destination"`
	DestinationName string         `json:"destination_name"`
	Status          ShipmentStatus `json:"status"`

	AssignedDriverID  string `json:"assigned_driver_id,omitempty"`
	AssignedVehicleID string `json:"assigned_vehicle_id,omitempty"`

	CurrentLocation *TrackedLocation `json:"current_location,omitempty"`

	DistanceKm          float64 `json:"distance_km"`
	DistanceRemainingKm float64 `json:"distance_remaining_km"`
	ProgressPct         int     `json:"progress_pct"`

	ScheduledETA      time.Time `json:"scheduled_eta"`
	PredictedETA      time.Time `json:"predicted_eta,omitempty"`
	PredictedETAAt    time.Time `json:"predicted_eta_at,omitempty"`
	LastDelayNotified time.Time `json:"last_delay_notified,omitempty"`

	// One-time confirmation codes, blanked on first successful use.
	StartCode      string `json:"-"`
	CompletionCode string `json:"-"`

	CreatedByID   string    `json:"created_by_id"`
	CreatedByRole Role      `json:"created_by_role"`
	CustomerID    string    `json:"customer_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Assigned reports whether the shipment holds a driver and vehicle pair.
func (s Shipment) Assigned() bool {
	return s.AssignedDriverID != "" && s.AssignedVehicleID != ""
}

// Validate checks structural invariants that must hold at rest.
func (s Shipment) Validate() error {
	if err := s.Origin.Validate(); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if err := s.Destination.Validate(); err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if (s.AssignedDriverID == "") != (s.AssignedVehicleID == "") {
		return fmt.Errorf("driver and vehicle must be assigned together")
	}
	if s.ProgressPct < 0 || s.ProgressPct > 100 {
		return fmt.Errorf("progress %d out of range", s.ProgressPct)
	}
	if s.DistanceRemainingKm < 0 {
		return fmt.Errorf("negative remaining distance %f", s.DistanceRemainingKm)
	}
	return nil
}
