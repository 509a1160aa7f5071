package model

import "time"

// LocationPing is one telemetry sample from a moving vehicle. Pings are
// immutable once recorded and append-only per shipment.
type LocationPing struct {
	ID         string     `json:"id"`
	ShipmentID string     `json:"shipment_id"`
	DriverID   string     `json:"driver_id"`
	VehicleID  string     `json:"vehicle_id"`
	Coord      Coordinate `json:"coord"`
	SpeedKmh   *float64   `json:"speed_kmh,omitempty"`
	HeadingDeg *float64   `json:"heading_deg,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// DriverEventType classifies a detected driving anomaly.
type DriverEventType string

const (
	EventSpeeding  DriverEventType = "SPEEDING"
	EventHarshTurn DriverEventType = "HARSH_TURN"
	EventIdling    DriverEventType = "IDLING"
)

// DriverEvent records one behavior anomaly detected from telemetry. Events of
// the same type for the same shipment and driver are rate-limited by a
// cooldown window at creation time.
type DriverEvent struct {
	ID         string            `json:"id"`
	ShipmentID string            `json:"shipment_id"`
	DriverID   string            `json:"driver_id"`
	VehicleID  string            `json:"vehicle_id"`
	Type       DriverEventType   `json:"type"`
	Severity   int               `json:"severity"` // >= 1
	Metadata   map[string]string `json:"metadata,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}
