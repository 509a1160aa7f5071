package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/model"
)

type shipmentStore struct {
	db *sqlx.DB
}

type shipmentRow struct {
	ID                  string          `db:"id"`
	Reference           string          `db:"reference"`
	OriginLat           float64         `db:"origin_lat"`
	OriginLon           float64         `db:"origin_lon"`
	OriginName          string          `db:"origin_name"`
	DestLat             float64         `db:"dest_lat"`
	DestLon             float64         `db:"dest_lon"`
	DestName            string          `db:"dest_name"`
	Status              string          `db:"status"`
	AssignedDriverID    string          `db:"assigned_driver_id"`
	AssignedVehicleID   string          `db:"assigned_vehicle_id"`
	CurrentLat          sql.NullFloat64 `db:"current_lat"`
	CurrentLon          sql.NullFloat64 `db:"current_lon"`
	CurrentAt           sql.NullTime    `db:"current_at"`
	DistanceKm          float64         `db:"distance_km"`
	DistanceRemainingKm float64         `db:"distance_remaining_km"`
	ProgressPct         int             `db:"progress_pct"`
	ScheduledETA        sql.NullTime    `db:"scheduled_eta"`
	PredictedETA        sql.NullTime    `db:"predicted_eta"`
	PredictedETAAt      sql.NullTime    `db:"predicted_eta_at"`
	LastDelayNotified   sql.NullTime    `db:"last_delay_notified"`
	StartCode           string          `db:"start_code"`
	CompletionCode      string          `db:"completion_code"`
	CreatedByID         string          `db:"created_by_id"`
	CreatedByRole       string          `db:"created_by_role"`
	CustomerID          string          `db:"customer_id"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

func toShipmentRow(s *model.Shipment) shipmentRow {
	r := shipmentRow{
		ID:                  s.ID,
		Reference:           s.Reference,
		OriginLat:           s.Origin.Lat,
		OriginLon:           s.Origin.Lon,
		OriginName:          s.OriginName,
		DestLat:             s.Destination.Lat,
		DestLon:             s.Destination.Lon,
		DestName:            s.DestinationName,
		Status:              string(s.Status),
		AssignedDriverID:    s.AssignedDriverID,
		AssignedVehicleID:   s.AssignedVehicleID,
		DistanceKm:          s.DistanceKm,
		DistanceRemainingKm: s.DistanceRemainingKm,
		ProgressPct:         s.ProgressPct,
		ScheduledETA:        nullTime(s.ScheduledETA),
		PredictedETA:        nullTime(s.PredictedETA),
		PredictedETAAt:      nullTime(s.PredictedETAAt),
		LastDelayNotified:   nullTime(s.LastDelayNotified),
		StartCode:           s.StartCode,
		CompletionCode:      s.CompletionCode,
		CreatedByID:         s.CreatedByID,
		CreatedByRole:       string(s.CreatedByRole),
		CustomerID:          s.CustomerID,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
	if loc := s.CurrentLocation; loc != nil {
		r.CurrentLat = sql.NullFloat64{Float64: loc.Coord.Lat, Valid: true}
		r.CurrentLon = sql.NullFloat64{Float64: loc.Coord.Lon, Valid: true}
		r.CurrentAt = sql.NullTime{Time: loc.RecordedAt, Valid: true}
	}
	return r
}

func (r shipmentRow) toModel() *model.Shipment {
	s := &model.Shipment{
		ID:                  r.ID,
		Reference:           r.Reference,
		Origin:              model.Coordinate{Lat: r.OriginLat, Lon: r.OriginLon},
		OriginName:          r.OriginName,
		Destination:         model.Coordinate{Lat: r.DestLat, Lon: r.DestLon},
		DestinationName:     r.DestName,
		Status:              model.ShipmentStatus(r.Status),
		AssignedDriverID:    r.AssignedDriverID,
		AssignedVehicleID:   r.AssignedVehicleID,
		DistanceKm:          r.DistanceKm,
		DistanceRemainingKm: r.DistanceRemainingKm,
		ProgressPct:         r.ProgressPct,
		ScheduledETA:        r.ScheduledETA.Time,
		PredictedETA:        r.PredictedETA.Time,
		PredictedETAAt:      r.PredictedETAAt.Time,
		LastDelayNotified:   r.LastDelayNotified.Time,
		StartCode:           r.StartCode,
		CompletionCode:      r.CompletionCode,
		CreatedByID:         r.CreatedByID,
		CreatedByRole:       model.Role(r.CreatedByRole),
		CustomerID:          r.CustomerID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.CurrentLat.Valid && r.CurrentLon.Valid {
		s.CurrentLocation = &model.TrackedLocation{
			Coord:      model.Coordinate{Lat: r.CurrentLat.Float64, Lon: r.CurrentLon.Float64},
			RecordedAt: r.CurrentAt.Time,
		}
	}
	return s
}

const shipmentCols = `id, reference, origin_lat, origin_lon, origin_name,
dest_lat, dest_lon, dest_name, status, assigned_driver_id, assigned_vehicle_id,
current_lat, current_lon, current_at, distance_km, distance_remaining_km,
progress_pct, scheduled_eta, predicted_eta, predicted_eta_at,
last_delay_notified, start_code, completion_code, created_by_id,
created_by_role, customer_id, created_at, updated_at`

func (s *shipmentStore) Create(ctx context.Context, sh *model.Shipment) error {
	const q = `INSERT INTO shipments (` + shipmentCols + `) VALUES (
:id, :reference, :origin_lat, :origin_lon, :origin_name,
:dest_lat, :dest_lon, :dest_name, :status, :assigned_driver_id, :assigned_vehicle_id,
:current_lat, :current_lon, :current_at, :distance_km, :distance_remaining_km,
:progress_pct, :scheduled_eta, :predicted_eta, :predicted_eta_at,
:last_delay_notified, :start_code, :completion_code, :created_by_id,
:created_by_role, :customer_id, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, q, toShipmentRow(sh)); err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (s *shipmentStore) Get(ctx context.Context, id string) (*model.Shipment, error) {
	var r shipmentRow
	err := s.db.GetContext(ctx, &r, `SELECT `+shipmentCols+` FROM shipments WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "shipment", id)
	}
	return r.toModel(), nil
}

func (s *shipmentStore) Update(ctx context.Context, sh *model.Shipment) error {
	const q = `UPDATE shipments SET
reference = :reference, status = :status,
assigned_driver_id = :assigned_driver_id, assigned_vehicle_id = :assigned_vehicle_id,
current_lat = :current_lat, current_lon = :current_lon, current_at = :current_at,
distance_km = :distance_km, distance_remaining_km = :distance_remaining_km,
progress_pct = :progress_pct, scheduled_eta = :scheduled_eta,
predicted_eta = :predicted_eta, predicted_eta_at = :predicted_eta_at,
last_delay_notified = :last_delay_notified,
start_code = :start_code, completion_code = :completion_code,
updated_at = :updated_at
WHERE id = :id`
	res, err := s.db.NamedExecContext(ctx, q, toShipmentRow(sh))
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFoundf("shipment %s", sh.ID)
	}
	return nil
}

func (s *shipmentStore) ListByStatus(ctx context.Context, statuses ...model.ShipmentStatus) ([]*model.Shipment, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+shipmentCols+` FROM shipments WHERE status IN (?) ORDER BY created_at`, statuses)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	var rows []shipmentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return shipmentsFromRows(rows), nil
}

func (s *shipmentStore) ListByDriver(ctx context.Context, driverID string, statuses ...model.ShipmentStatus) ([]*model.Shipment, error) {
	q := `SELECT ` + shipmentCols + ` FROM shipments WHERE assigned_driver_id = ?`
	args := []any{driverID}
	if len(statuses) > 0 {
		var err error
		q, args, err = sqlx.In(q+` AND status IN (?)`, driverID, statuses)
		if err != nil {
			return nil, fmt.Errorf("list shipments: %w", err)
		}
	}
	var rows []shipmentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q+` ORDER BY created_at`), args...); err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return shipmentsFromRows(rows), nil
}

func shipmentsFromRows(rows []shipmentRow) []*model.Shipment {
	out := make([]*model.Shipment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

type pingStore struct {
	db *sqlx.DB
}

type pingRow struct {
	ID         string          `db:"id"`
	ShipmentID string          `db:"shipment_id"`
	DriverID   string          `db:"driver_id"`
	VehicleID  string          `db:"vehicle_id"`
	Lat        float64         `db:"lat"`
	Lon        float64         `db:"lon"`
	SpeedKmh   sql.NullFloat64 `db:"speed_kmh"`
	HeadingDeg sql.NullFloat64 `db:"heading_deg"`
	RecordedAt time.Time       `db:"recorded_at"`
}

func (s *pingStore) Append(ctx context.Context, p model.LocationPing) error {
	r := pingRow{
		ID:         p.ID,
		ShipmentID: p.ShipmentID,
		DriverID:   p.DriverID,
		VehicleID:  p.VehicleID,
		Lat:        p.Coord.Lat,
		Lon:        p.Coord.Lon,
		SpeedKmh:   nullFloat(p.SpeedKmh),
		HeadingDeg: nullFloat(p.HeadingDeg),
		RecordedAt: p.RecordedAt,
	}
	const q = `INSERT INTO location_pings
(id, shipment_id, driver_id, vehicle_id, lat, lon, speed_kmh, heading_deg, recorded_at)
VALUES (:id, :shipment_id, :driver_id, :vehicle_id, :lat, :lon, :speed_kmh, :heading_deg, :recorded_at)`
	if _, err := s.db.NamedExecContext(ctx, q, r); err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	return nil
}

func (s *pingStore) ListRecent(ctx context.Context, shipmentID, driverID string, limit int) ([]model.LocationPing, error) {
	const q = `SELECT id, shipment_id, driver_id, vehicle_id, lat, lon, speed_kmh, heading_deg, recorded_at
FROM location_pings WHERE shipment_id = $1 AND driver_id = $2
ORDER BY recorded_at DESC LIMIT $3`
	var rows []pingRow
	if err := s.db.SelectContext(ctx, &rows, q, shipmentID, driverID, limit); err != nil {
		return nil, fmt.Errorf("list pings: %w", err)
	}
	out := make([]model.LocationPing, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.LocationPing{
			ID:         r.ID,
			ShipmentID: r.ShipmentID,
			DriverID:   r.DriverID,
			VehicleID:  r.VehicleID,
			Coord:      model.Coordinate{Lat: r.Lat, Lon: r.Lon},
			SpeedKmh:   floatPtr(r.SpeedKmh),
			HeadingDeg: floatPtr(r.HeadingDeg),
			RecordedAt: r.RecordedAt,
		})
	}
	return out, nil
}

type eventStore struct {
	db *sqlx.DB
}

type eventRow struct {
	ID         string    `db:"id"`
	ShipmentID string    `db:"shipment_id"`
	DriverID   string    `db:"driver_id"`
	VehicleID  string    `db:"vehicle_id"`
	Type       string    `db:"type"`
	Severity   int       `db:"severity"`
	Metadata   []byte    `db:"metadata"`
	RecordedAt time.Time `db:"recorded_at"`
}

func (s *eventStore) Create(ctx context.Context, e model.DriverEvent) error {
	r := eventRow{
		ID:         e.ID,
		ShipmentID: e.ShipmentID,
		DriverID:   e.DriverID,
		VehicleID:  e.VehicleID,
		Type:       string(e.Type),
		Severity:   e.Severity,
		RecordedAt: e.RecordedAt,
	}
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		r.Metadata = b
	}
	const q = `INSERT INTO driver_events
(id, shipment_id, driver_id, vehicle_id, type, severity, metadata, recorded_at)
VALUES (:id, :shipment_id, :driver_id, :vehicle_id, :type, :severity, :metadata, :recorded_at)`
	if _, err := s.db.NamedExecContext(ctx, q, r); err != nil {
		return fmt.Errorf("insert driver event: %w", err)
	}
	return nil
}

func (s *eventStore) LastOfType(ctx context.Context, shipmentID, driverID string, t model.DriverEventType) (*model.DriverEvent, error) {
	const q = `SELECT id, shipment_id, driver_id, vehicle_id, type, severity, metadata, recorded_at
FROM driver_events WHERE shipment_id = $1 AND driver_id = $2 AND type = $3
ORDER BY recorded_at DESC LIMIT 1`
	var r eventRow
	err := s.db.GetContext(ctx, &r, q, shipmentID, driverID, string(t))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last driver event: %w", err)
	}
	e := &model.DriverEvent{
		ID:         r.ID,
		ShipmentID: r.ShipmentID,
		DriverID:   r.DriverID,
		VehicleID:  r.VehicleID,
		Type:       model.DriverEventType(r.Type),
		Severity:   r.Severity,
		RecordedAt: r.RecordedAt,
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}
	return e, nil
}

type driverStore struct {
	db *sqlx.DB
}

type driverRow struct {
	ID       string          `db:"id"`
	Name     string          `db:"name"`
	Approved bool            `db:"approved"`
	Rating   float64         `db:"rating"`
	LastLat  sql.NullFloat64 `db:"last_lat"`
	LastLon  sql.NullFloat64 `db:"last_lon"`
	LastAt   sql.NullTime    `db:"last_at"`
}

func (r driverRow) toModel() model.Driver {
	d := model.Driver{ID: r.ID, Name: r.Name, Approved: r.Approved, Rating: r.Rating}
	if r.LastLat.Valid && r.LastLon.Valid {
		d.LastKnownLocation = &model.TrackedLocation{
			Coord:      model.Coordinate{Lat: r.LastLat.Float64, Lon: r.LastLon.Float64},
			RecordedAt: r.LastAt.Time,
		}
	}
	return d
}

func (s *driverStore) Get(ctx context.Context, id string) (*model.Driver, error) {
	var r driverRow
	err := s.db.GetContext(ctx, &r, `SELECT id, name, approved, rating, last_lat, last_lon, last_at FROM drivers WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "driver", id)
	}
	d := r.toModel()
	return &d, nil
}

func (s *driverStore) ListApproved(ctx context.Context) ([]model.Driver, error) {
	var rows []driverRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, name, approved, rating, last_lat, last_lon, last_at FROM drivers WHERE approved ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	out := make([]model.Driver, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *driverStore) UpdateLocation(ctx context.Context, id string, loc model.TrackedLocation) error {
	res, err := s.db.ExecContext(ctx, `UPDATE drivers SET last_lat = $1, last_lon = $2, last_at = $3 WHERE id = $4`,
		loc.Coord.Lat, loc.Coord.Lon, loc.RecordedAt, id)
	if err != nil {
		return fmt.Errorf("update driver location: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFoundf("driver %s", id)
	}
	return nil
}

type vehicleStore struct {
	db *sqlx.DB
}

type vehicleRow struct {
	ID         string  `db:"id"`
	Plate      string  `db:"plate"`
	Type       string  `db:"type"`
	CapacityKg float64 `db:"capacity_kg"`
	Status     string  `db:"status"`
}

func (r vehicleRow) toModel() model.Vehicle {
	return model.Vehicle{
		ID:         r.ID,
		Plate:      r.Plate,
		Type:       r.Type,
		CapacityKg: r.CapacityKg,
		Status:     model.VehicleStatus(r.Status),
	}
}

func (s *vehicleStore) Get(ctx context.Context, id string) (*model.Vehicle, error) {
	var r vehicleRow
	err := s.db.GetContext(ctx, &r, `SELECT id, plate, type, capacity_kg, status FROM vehicles WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "vehicle", id)
	}
	v := r.toModel()
	return &v, nil
}

func (s *vehicleStore) ListAvailable(ctx context.Context) ([]model.Vehicle, error) {
	var rows []vehicleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, plate, type, capacity_kg, status FROM vehicles WHERE status = $1 ORDER BY id`,
		string(model.VehicleAvailable))
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	out := make([]model.Vehicle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Reserve relies on the conditional UPDATE hitting zero rows when another
// assignment already took the vehicle.
func (s *vehicleStore) Reserve(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE vehicles SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.VehicleInUse), id, string(model.VehicleAvailable))
	if err != nil {
		return fmt.Errorf("reserve vehicle: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return errs.Conflictf("vehicle %s is not available", id)
}

func (s *vehicleStore) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE vehicles SET status = $1 WHERE id = $2 AND status = $3`,
		string(model.VehicleAvailable), id, string(model.VehicleInUse))
	if err != nil {
		return fmt.Errorf("release vehicle: %w", err)
	}
	return nil
}

type shiftStore struct {
	db *sqlx.DB
}

type shiftRow struct {
	ID        string    `db:"id"`
	DriverID  string    `db:"driver_id"`
	VehicleID string    `db:"vehicle_id"`
	StartAt   time.Time `db:"start_at"`
	EndAt     time.Time `db:"end_at"`
}

func (s *shiftStore) ActiveAt(ctx context.Context, t time.Time) ([]model.DutyShift, error) {
	var rows []shiftRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, driver_id, vehicle_id, start_at, end_at
FROM duty_shifts WHERE start_at <= $1 AND end_at > $1 ORDER BY id`, t)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	out := make([]model.DutyShift, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DutyShift{
			ID:        r.ID,
			DriverID:  r.DriverID,
			VehicleID: r.VehicleID,
			Start:     r.StartAt,
			End:       r.EndAt,
		})
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
