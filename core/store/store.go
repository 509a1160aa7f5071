// Package store defines the persistence boundary of the dispatch core and an
// in-memory implementation of it. The core depends only on these interfaces;
// adapters live under infra/store.
package store

import (
	"context"
	"time"

	"github.com/openfleet/dispatchd/core/model"
)

// ShipmentStore persists shipments.
type ShipmentStore interface {
	Create(ctx context.Context, s *model.Shipment) error
	Get(ctx context.Context, id string) (*model.Shipment, error)
	// Update persists the full shipment record.
	Update(ctx context.Context, s *model.Shipment) error
	ListByStatus(ctx context.Context, statuses ...model.ShipmentStatus) ([]*model.Shipment, error)
	// ListByDriver returns shipments assigned to the driver, optionally
	// restricted to the given statuses.
	ListByDriver(ctx context.Context, driverID string, statuses ...model.ShipmentStatus) ([]*model.Shipment, error)
}

// PingStore persists location pings append-only.
type PingStore interface {
	Append(ctx context.Context, p model.LocationPing) error
	// ListRecent returns up to limit pings for the shipment and driver,
	// newest first.
	ListRecent(ctx context.Context, shipmentID, driverID string, limit int) ([]model.LocationPing, error)
}

// DriverEventStore persists detected anomaly events.
type DriverEventStore interface {
	Create(ctx context.Context, e model.DriverEvent) error
	// LastOfType returns the most recent event of the given type for the
	// shipment and driver, or nil when none exists. Used for cooldowns.
	LastOfType(ctx context.Context, shipmentID, driverID string, t model.DriverEventType) (*model.DriverEvent, error)
}

// DriverStore reads and updates fleet drivers.
type DriverStore interface {
	Get(ctx context.Context, id string) (*model.Driver, error)
	ListApproved(ctx context.Context) ([]model.Driver, error)
	UpdateLocation(ctx context.Context, id string, loc model.TrackedLocation) error
}

// VehicleStore reads fleet vehicles and owns the reservation handshake.
type VehicleStore interface {
	Get(ctx context.Context, id string) (*model.Vehicle, error)
	ListAvailable(ctx context.Context) ([]model.Vehicle, error)
	// Reserve atomically moves the vehicle AVAILABLE -> IN_USE. It returns
	// errs.ErrConflict when the vehicle is not available, so two racing
	// assignments cannot both win it.
	Reserve(ctx context.Context, id string) error
	// Release moves the vehicle back to AVAILABLE. Releasing an already
	// available vehicle is a no-op.
	Release(ctx context.Context, id string) error
}

// ShiftStore reads duty shifts.
type ShiftStore interface {
	ActiveAt(ctx context.Context, t time.Time) ([]model.DutyShift, error)
}

// Store bundles the per-entity stores a composition root wires together.
type Store struct {
	Shipments ShipmentStore
	Pings     PingStore
	Events    DriverEventStore
	Drivers   DriverStore
	Vehicles  VehicleStore
	Shifts    ShiftStore
}
