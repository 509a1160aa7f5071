// Package postgres implements the core store interfaces on PostgreSQL via
// sqlx. The in-memory store in core/store defines the reference semantics;
// this adapter must match them, including the atomic vehicle reservation.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/store"
)

// Config holds the database connection settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// Open connects, verifies the connection and ensures the schema.
func Open(cfg Config) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	d := &DB{db: db}
	if err := d.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// DB wraps the sqlx handle and exposes the store bundle.
type DB struct {
	db *sqlx.DB
}

// Stores returns the store bundle backed by this database.
func (d *DB) Stores() store.Store {
	return store.Store{
		Shipments: &shipmentStore{d.db},
		Pings:     &pingStore{d.db},
		Events:    &eventStore{d.db},
		Drivers:   &driverStore{d.db},
		Vehicles:  &vehicleStore{d.db},
		Shifts:    &shiftStore{d.db},
	}
}

// Close closes the underlying pool.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS shipments (
    id TEXT PRIMARY KEY,
    reference TEXT NOT NULL,
    origin_lat DOUBLE PRECISION NOT NULL,
    origin_lon DOUBLE PRECISION NOT NULL,
    origin_name TEXT NOT NULL DEFAULT '',
    dest_lat DOUBLE PRECISION NOT NULL,
    dest_lon DOUBLE PRECISION NOT NULL,
    dest_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    assigned_driver_id TEXT NOT NULL DEFAULT '',
    assigned_vehicle_id TEXT NOT NULL DEFAULT '',
    current_lat DOUBLE PRECISION,
    current_lon DOUBLE PRECISION,
    current_at TIMESTAMPTZ,
    distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    distance_remaining_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    progress_pct INTEGER NOT NULL DEFAULT 0,
    scheduled_eta TIMESTAMPTZ,
    predicted_eta TIMESTAMPTZ,
    predicted_eta_at TIMESTAMPTZ,
    last_delay_notified TIMESTAMPTZ,
    start_code TEXT NOT NULL DEFAULT '',
    completion_code TEXT NOT NULL DEFAULT '',
    created_by_id TEXT NOT NULL DEFAULT '',
    created_by_role TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS shipments_status_idx ON shipments (status);
CREATE INDEX IF NOT EXISTS shipments_driver_idx ON shipments (assigned_driver_id);

CREATE TABLE IF NOT EXISTS location_pings (
    id TEXT PRIMARY KEY,
    shipment_id TEXT NOT NULL,
    driver_id TEXT NOT NULL,
    vehicle_id TEXT NOT NULL DEFAULT '',
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    speed_kmh DOUBLE PRECISION,
    heading_deg DOUBLE PRECISION,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pings_shipment_time_idx ON location_pings (shipment_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS driver_events (
    id TEXT PRIMARY KEY,
    shipment_id TEXT NOT NULL,
    driver_id TEXT NOT NULL,
    vehicle_id TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    severity INTEGER NOT NULL,
    metadata JSONB,
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS driver_events_lookup_idx
    ON driver_events (shipment_id, driver_id, type, recorded_at DESC);

CREATE TABLE IF NOT EXISTS drivers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    approved BOOLEAN NOT NULL DEFAULT false,
    rating DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_lat DOUBLE PRECISION,
    last_lon DOUBLE PRECISION,
    last_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    plate TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT '',
    capacity_kg DOUBLE PRECISION NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'AVAILABLE'
);

CREATE TABLE IF NOT EXISTS duty_shifts (
    id TEXT PRIMARY KEY,
    driver_id TEXT NOT NULL,
    vehicle_id TEXT NOT NULL,
    start_at TIMESTAMPTZ NOT NULL,
    end_at TIMESTAMPTZ NOT NULL
);`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFoundf("%s %s", what, id)
	}
	return err
}
