// Package telemetry ingests high-frequency location pings: it authorizes and
// records each sample, runs the behavior detectors, recomputes progress and
// ETA, and drives the telemetry side of the shipment lifecycle. Pings for one
// shipment are applied strictly in order; distinct shipments run in parallel.
package telemetry

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/geo"
	"github.com/openfleet/dispatchd/core/geofence"
	"github.com/openfleet/dispatchd/core/lifecycle"
	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/metrics"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/notify"
	"github.com/openfleet/dispatchd/core/routing"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/internal/eventbus"
)

// PingInput is one telemetry sample submitted by a driver.
type PingInput struct {
	ShipmentID string
	DriverID   string
	Coord      model.Coordinate
	SpeedKmh   *float64
	HeadingDeg *float64
	// RecordedAt defaults to the ingestion time when zero.
	RecordedAt time.Time
}

// PositionUpdate is published after every accepted ping for live watchers.
type PositionUpdate struct {
	ShipmentID  string               `json:"shipment_id"`
	Reference   string               `json:"reference"`
	Status      model.ShipmentStatus `json:"status"`
	Coord       model.Coordinate     `json:"coord"`
	SpeedKmh    *float64             `json:"speed_kmh,omitempty"`
	ProgressPct int                  `json:"progress_pct"`
	RemainingKm float64              `json:"remaining_km"`
	At          time.Time            `json:"at"`
}

// Notifier is the slice of the notification dispatcher the ingestor needs.
type Notifier interface {
	NotifyStakeholders(ctx context.Context, s *model.Shipment, ev notify.EventType, message string, excludeRoles ...model.Role)
}

// Ingestor validates, persists and reacts to location pings.
type Ingestor struct {
	st       store.Store
	machine  *lifecycle.Machine
	router   routing.Router
	fence    geofence.Evaluator
	notifier Notifier
	sink     metrics.Sink
	bus      *eventbus.Bus[PositionUpdate]
	log      logger.Logger
	cfg      Config
	locks    *shipmentLocks
	now      func() time.Time
}

// NewIngestor wires an ingestor. router, fence, notifier, sink and bus are
// optional; the ingestor degrades without them.
func NewIngestor(st store.Store, machine *lifecycle.Machine, router routing.Router, fence geofence.Evaluator, notifier Notifier, sink metrics.Sink, bus *eventbus.Bus[PositionUpdate], log logger.Logger, cfg Config) (*Ingestor, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Ingestor{
		st:       st,
		machine:  machine,
		router:   router,
		fence:    fence,
		notifier: notifier,
		sink:     sink,
		bus:      bus,
		log:      log,
		cfg:      cfg,
		locks:    newShipmentLocks(),
		now:      time.Now,
	}, nil
}

// movable statuses accept telemetry.
func movable(s model.ShipmentStatus) bool {
	switch s {
	case model.StatusPickedUp, model.StatusInTransit, model.StatusDelayed, model.StatusOutForDelivery:
		return true
	}
	return false
}

// SubmitPing processes one location ping end to end and returns the updated
// shipment. External-service failures (routing, geofence) degrade to
// fallbacks and never abort persistence or detection.
func (i *Ingestor) SubmitPing(ctx context.Context, in PingInput) (*model.Shipment, error) {
	if err := in.Coord.Validate(); err != nil {
		return nil, errs.Validationf("coordinates: %v", err)
	}
	if in.SpeedKmh != nil && *in.SpeedKmh < 0 {
		return nil, errs.Validationf("speed must not be negative")
	}
	if in.ShipmentID == "" || in.DriverID == "" {
		return nil, errs.Validationf("shipment and driver ids are required")
	}
	if in.RecordedAt.IsZero() {
		in.RecordedAt = i.now()
	}

	unlock := i.locks.acquire(in.ShipmentID)
	defer unlock()

	s, err := i.st.Shipments.Get(ctx, in.ShipmentID)
	if err != nil {
		return nil, err
	}
	if err := i.authorize(ctx, s, in.DriverID); err != nil {
		return nil, err
	}
	if !movable(s.Status) {
		return nil, errs.Conflictf("shipment %s does not accept telemetry in %s", s.ID, s.Status)
	}

	prev, err := i.lastPing(ctx, s.ID, in.DriverID)
	if err != nil {
		return nil, err
	}
	if prev != nil && in.RecordedAt.Before(prev.RecordedAt) {
		return nil, errs.Validationf("ping older than last recorded sample for shipment %s", s.ID)
	}

	ping := model.LocationPing{
		ID:         uuid.NewString(),
		ShipmentID: s.ID,
		DriverID:   in.DriverID,
		VehicleID:  s.AssignedVehicleID,
		Coord:      in.Coord,
		SpeedKmh:   in.SpeedKmh,
		HeadingDeg: in.HeadingDeg,
		RecordedAt: in.RecordedAt,
	}
	if err := i.st.Pings.Append(ctx, ping); err != nil {
		return nil, err
	}
	if err := i.st.Drivers.UpdateLocation(ctx, in.DriverID, model.TrackedLocation{Coord: in.Coord, RecordedAt: in.RecordedAt}); err != nil {
		i.log.Warnf("update driver %s location: %v", in.DriverID, err)
	}

	i.recordDetections(ctx, s, ping, i.runDetectors(ping, prev))
	i.checkGeofences(ctx, s, ping)

	prevProgress := s.ProgressPct
	i.recompute(ctx, s, ping)
	if err := i.applyTransitions(ctx, s, ping); err != nil {
		return nil, err
	}
	i.emitTimeline(ctx, s, prevProgress)

	i.sink.RecordPing(metrics.PingSample{
		ShipmentID:  s.ID,
		DriverID:    in.DriverID,
		Coord:       in.Coord,
		SpeedKmh:    in.SpeedKmh,
		ProgressPct: s.ProgressPct,
		At:          in.RecordedAt,
	})
	if i.bus != nil {
		i.bus.Publish(PositionUpdate{
			ShipmentID:  s.ID,
			Reference:   s.Reference,
			Status:      s.Status,
			Coord:       in.Coord,
			SpeedKmh:    in.SpeedKmh,
			ProgressPct: s.ProgressPct,
			RemainingKm: s.DistanceRemainingKm,
			At:          in.RecordedAt,
		})
	}
	return s, nil
}

// authorize checks the submitting driver is the shipment's assigned and
// approved driver.
func (i *Ingestor) authorize(ctx context.Context, s *model.Shipment, driverID string) error {
	if s.AssignedDriverID == "" || s.AssignedDriverID != driverID {
		return errs.Authorizationf("driver %s is not assigned to shipment %s", driverID, s.ID)
	}
	d, err := i.st.Drivers.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if !d.Approved {
		return errs.Authorizationf("driver %s is not approved", driverID)
	}
	return nil
}

func (i *Ingestor) lastPing(ctx context.Context, shipmentID, driverID string) (*model.LocationPing, error) {
	recent, err := i.st.Pings.ListRecent(ctx, shipmentID, driverID, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

func (i *Ingestor) checkGeofences(ctx context.Context, s *model.Shipment, p model.LocationPing) {
	if i.fence == nil || i.notifier == nil {
		return
	}
	for _, v := range i.fence.Evaluate(p.VehicleID, p.Coord, p.SpeedKmh) {
		msg := string(v.Kind) + " in zone " + v.ZoneName
		i.notifier.NotifyStakeholders(ctx, s, notify.EventGeofenceAlert, msg, model.RoleCustomer, model.RoleDriver)
	}
}

// recompute refreshes position, remaining distance, predicted ETA and
// progress. The freshly recomputed remaining distance is the single source of
// truth for progress. Routing failures fall back to straight-line estimates.
func (i *Ingestor) recompute(ctx context.Context, s *model.Shipment, p model.LocationPing) {
	s.CurrentLocation = &model.TrackedLocation{Coord: p.Coord, RecordedAt: p.RecordedAt}

	remaining := geo.HaversineKm(p.Coord, s.Destination)
	var eta time.Time
	if i.router != nil {
		if r, err := i.router.Route(ctx, p.Coord, s.Destination); err == nil {
			remaining = r.DistanceKm
			eta = p.RecordedAt.Add(r.Duration)
		} else {
			i.log.Debugf("routing degraded to straight line for %s: %v", s.ID, err)
		}
	}
	if eta.IsZero() && p.SpeedKmh != nil {
		eta = geo.ExtrapolateETA(remaining, *p.SpeedKmh, p.RecordedAt)
	}

	if remaining < 0 {
		remaining = 0
	}
	s.DistanceRemainingKm = remaining
	if !eta.IsZero() {
		s.PredictedETA = eta
		s.PredictedETAAt = p.RecordedAt
	}
	if s.DistanceKm > 0 {
		pct := int(math.Round((s.DistanceKm - remaining) / s.DistanceKm * 100))
		s.ProgressPct = geo.ClampProgress(pct)
	}
}

// applyTransitions evaluates the telemetry-driven lifecycle rules in order:
// first movement, approach, then the delay hysteresis.
func (i *Ingestor) applyTransitions(ctx context.Context, s *model.Shipment, p model.LocationPing) error {
	if s.Status == model.StatusPickedUp {
		if err := i.machine.Apply(ctx, s, model.StatusInTransit); err != nil {
			return err
		}
		i.notify(ctx, s, notify.EventInTransit, "")
	}

	if s.Status == model.StatusInTransit && s.DistanceRemainingKm < i.cfg.OutForDeliveryKm {
		if err := i.machine.Apply(ctx, s, model.StatusOutForDelivery); err != nil {
			return err
		}
		i.notify(ctx, s, notify.EventOutForDelivery, "")
		i.notify(ctx, s, notify.EventArrivingSoon, "")
	}

	if err := i.applyDelayRules(ctx, s, p); err != nil {
		return err
	}

	// recompute mutated fields beyond the status; persist them even when no
	// transition fired.
	s.UpdatedAt = i.now()
	return i.st.Shipments.Update(ctx, s)
}

// applyDelayRules implements the DELAYED hysteresis: over the threshold flips
// IN_TRANSIT to DELAYED, back under it recovers, and while delayed the delay
// notice repeats at most once per cooldown window.
func (i *Ingestor) applyDelayRules(ctx context.Context, s *model.Shipment, p model.LocationPing) error {
	if s.PredictedETA.IsZero() || s.ScheduledETA.IsZero() {
		return nil
	}
	lag := s.PredictedETA.Sub(s.ScheduledETA)
	threshold := i.cfg.delayThreshold()

	switch s.Status {
	case model.StatusInTransit:
		if lag > threshold {
			if err := i.machine.Apply(ctx, s, model.StatusDelayed); err != nil {
				return err
			}
			s.LastDelayNotified = p.RecordedAt
			i.notify(ctx, s, notify.EventDelayed, "")
		}
	case model.StatusDelayed:
		if lag <= threshold {
			if err := i.machine.Apply(ctx, s, model.StatusInTransit); err != nil {
				return err
			}
			i.notify(ctx, s, notify.EventBackOnSchedule, "")
		} else if p.RecordedAt.Sub(s.LastDelayNotified) >= i.cfg.delayNotifyCooldown() {
			s.LastDelayNotified = p.RecordedAt
			i.notify(ctx, s, notify.EventDelayed, "")
		}
	}
	return nil
}

// emitTimeline sends the high-frequency progress chatter: a location update
// for every ping and a milestone when progress crosses a step boundary.
func (i *Ingestor) emitTimeline(ctx context.Context, s *model.Shipment, prevProgress int) {
	i.notify(ctx, s, notify.EventLocationUpdate, "", model.RoleDriver)
	step := i.cfg.MilestoneStepPct
	if step > 0 && s.ProgressPct/step > prevProgress/step && s.ProgressPct < 100 {
		i.notify(ctx, s, notify.EventMilestone, "", model.RoleDriver)
	}
}

func (i *Ingestor) notify(ctx context.Context, s *model.Shipment, ev notify.EventType, msg string, exclude ...model.Role) {
	if i.notifier != nil {
		i.notifier.NotifyStakeholders(ctx, s, ev, msg, exclude...)
	}
}
