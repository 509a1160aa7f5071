// Package match pairs unassigned shipments with available driver+vehicle
// candidates. Duty shifts covering "now" take precedence; otherwise any
// approved, unoccupied driver is paired ad hoc with an available vehicle.
package match

import (
	"context"
	"errors"
	"time"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/geo"
	"github.com/openfleet/dispatchd/core/lifecycle"
	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/metrics"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/notify"
	"github.com/openfleet/dispatchd/core/store"
)

// Notifier is the slice of the notification dispatcher the matcher needs.
type Notifier interface {
	NotifyStakeholders(ctx context.Context, s *model.Shipment, ev notify.EventType, message string, excludeRoles ...model.Role)
	NotifyRole(ctx context.Context, userID string, role model.Role, s *model.Shipment, ev notify.EventType, message string)
}

// Matcher finds and binds driver+vehicle pairs for shipments.
type Matcher struct {
	st       store.Store
	machine  *lifecycle.Machine
	notifier Notifier
	sink     metrics.Sink
	log      logger.Logger
	now      func() time.Time

	// OperatorInboxID receives no-candidate alerts for shipments that were
	// not created by an operator.
	OperatorInboxID string
}

// New wires a matcher. machine is mandatory; notifier may be nil.
func New(st store.Store, machine *lifecycle.Machine, notifier Notifier, log logger.Logger) *Matcher {
	if log == nil {
		log = logger.Nop{}
	}
	return &Matcher{st: st, machine: machine, notifier: notifier, sink: metrics.NopSink{}, log: log, now: time.Now}
}

// WithSink attaches a metrics sink recording assignment outcomes.
func (m *Matcher) WithSink(sink metrics.Sink) *Matcher {
	if sink != nil {
		m.sink = sink
	}
	return m
}

// FindCandidates searches the pool and returns candidates best first, or an
// empty slice when nobody qualifies.
func (m *Matcher) FindCandidates(ctx context.Context, origin model.Coordinate, c Constraints) ([]Candidate, error) {
	if err := origin.Validate(); err != nil {
		return nil, errs.Validationf("origin: %v", err)
	}

	busy, err := m.busyDrivers(ctx)
	if err != nil {
		return nil, err
	}

	pairs, err := m.shiftPairs(ctx, busy, c)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		pairs, err = m.adHocPairs(ctx, busy, c)
		if err != nil {
			return nil, err
		}
	}

	var cands []Candidate
	for _, p := range pairs {
		// Unknown driver position counts as distance zero: assume at hub.
		dist := 0.0
		if p.Driver.LastKnownLocation != nil {
			dist = geo.HaversineKm(p.Driver.LastKnownLocation.Coord, origin)
		}
		if c.RadiusKm > 0 && dist > c.RadiusKm {
			continue
		}
		p.DistanceKm = dist
		cands = append(cands, p)
	}
	rank(cands)
	return cands, nil
}

// busyDrivers returns the ids of drivers currently holding an active shipment.
func (m *Matcher) busyDrivers(ctx context.Context) (map[string]bool, error) {
	active, err := m.st.Shipments.ListByStatus(ctx, model.ActiveStatuses()...)
	if err != nil {
		return nil, err
	}
	busy := make(map[string]bool, len(active))
	for _, s := range active {
		if s.AssignedDriverID != "" {
			busy[s.AssignedDriverID] = true
		}
	}
	return busy, nil
}

// shiftPairs builds candidates from duty shifts covering now.
func (m *Matcher) shiftPairs(ctx context.Context, busy map[string]bool, c Constraints) ([]Candidate, error) {
	shifts, err := m.st.Shifts.ActiveAt(ctx, m.now())
	if err != nil {
		return nil, err
	}
	var pairs []Candidate
	for _, sh := range shifts {
		if busy[sh.DriverID] || c.excludes(sh.DriverID) {
			continue
		}
		d, err := m.st.Drivers.Get(ctx, sh.DriverID)
		if err != nil || !d.Approved {
			continue
		}
		v, err := m.st.Vehicles.Get(ctx, sh.VehicleID)
		if err != nil || v.Status != model.VehicleAvailable || !c.admitsVehicle(*v) {
			continue
		}
		pairs = append(pairs, Candidate{Driver: *d, Vehicle: *v})
	}
	return pairs, nil
}

// adHocPairs pairs every approved idle driver with a distinct available
// vehicle, used when no duty shift covers the current time.
func (m *Matcher) adHocPairs(ctx context.Context, busy map[string]bool, c Constraints) ([]Candidate, error) {
	drivers, err := m.st.Drivers.ListApproved(ctx)
	if err != nil {
		return nil, err
	}
	vehicles, err := m.st.Vehicles.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	var pool []model.Vehicle
	for _, v := range vehicles {
		if c.admitsVehicle(v) {
			pool = append(pool, v)
		}
	}

	var pairs []Candidate
	vi := 0
	for _, d := range drivers {
		if vi >= len(pool) {
			break
		}
		if busy[d.ID] || c.excludes(d.ID) {
			continue
		}
		pairs = append(pairs, Candidate{Driver: d, Vehicle: pool[vi]})
		vi++
	}
	return pairs, nil
}

// AutoAssign matches the shipment and binds the best candidate. An empty pool
// returns errs.ErrNoCandidate after alerting an operator; the shipment stays
// CREATED with no pairing.
func (m *Matcher) AutoAssign(ctx context.Context, shipmentID string, c Constraints) (*Candidate, error) {
	s, err := m.st.Shipments.Get(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if s.Status != model.StatusCreated {
		return nil, errs.Conflictf("shipment %s is %s, not CREATED", s.ID, s.Status)
	}

	cands, err := m.FindCandidates(ctx, s.Origin, c)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		m.alertOperator(ctx, s, "No driver could be matched automatically.")
		m.sink.RecordAssignment(metrics.AssignmentSample{Auto: true})
		return nil, errs.NoCandidatef("shipment %s", s.ID)
	}

	// Walk the ranking: a candidate whose vehicle was snatched by a racing
	// assignment just moves us to the next one.
	for i := range cands {
		cand := cands[i]
		if err := m.bind(ctx, s, cand.Driver.ID, cand.Vehicle.ID); err != nil {
			if errors.Is(err, errs.ErrConflict) {
				m.log.Debugf("vehicle %s lost to a concurrent assignment, trying next candidate", cand.Vehicle.ID)
				continue
			}
			return nil, err
		}
		m.sink.RecordAssignment(metrics.AssignmentSample{Auto: true, Matched: true})
		return &cand, nil
	}
	m.alertOperator(ctx, s, "All matched vehicles were taken by concurrent assignments.")
	m.sink.RecordAssignment(metrics.AssignmentSample{Auto: true})
	return nil, errs.NoCandidatef("shipment %s", s.ID)
}

// Assign is the manual override: an operator picks the pairing directly.
func (m *Matcher) Assign(ctx context.Context, shipmentID, driverID, vehicleID string, actor model.Actor) error {
	if actor.Role != model.RoleOperator && actor.Role != model.RoleManager {
		return errs.Authorizationf("role %s cannot assign shipments", actor.Role)
	}
	s, err := m.st.Shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if s.Status != model.StatusCreated {
		return errs.Conflictf("shipment %s is %s, not CREATED", s.ID, s.Status)
	}
	d, err := m.st.Drivers.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if !d.Approved {
		return errs.Authorizationf("driver %s is not approved", driverID)
	}
	if _, err := m.st.Vehicles.Get(ctx, vehicleID); err != nil {
		return err
	}
	if err := m.bind(ctx, s, driverID, vehicleID); err != nil {
		return err
	}
	m.sink.RecordAssignment(metrics.AssignmentSample{Matched: true})
	return nil
}

// bind reserves the vehicle, pairs the shipment and moves it to ASSIGNED.
// The reservation is the atomic gate: two racing binds cannot both pass it.
func (m *Matcher) bind(ctx context.Context, s *model.Shipment, driverID, vehicleID string) error {
	if err := m.st.Vehicles.Reserve(ctx, vehicleID); err != nil {
		return err
	}
	s.AssignedDriverID = driverID
	s.AssignedVehicleID = vehicleID
	s.StartCode = lifecycle.NewCode()
	s.CompletionCode = lifecycle.NewCode()
	if err := m.machine.Apply(ctx, s, model.StatusAssigned); err != nil {
		// Compensate the reservation so the vehicle cannot stay stuck
		// IN_USE with no shipment attached.
		s.AssignedDriverID = ""
		s.AssignedVehicleID = ""
		s.StartCode = ""
		s.CompletionCode = ""
		if rerr := m.st.Vehicles.Release(ctx, vehicleID); rerr != nil {
			m.log.Errorf("release vehicle %s after failed bind: %v", vehicleID, rerr)
		}
		return err
	}
	if m.notifier != nil {
		m.notifier.NotifyRole(ctx, driverID, model.RoleDriver, s, notify.EventAssignmentRequest, "")
	}
	return nil
}

// Accept records the driver's acceptance of an offered assignment.
func (m *Matcher) Accept(ctx context.Context, shipmentID string, actor model.Actor) error {
	s, err := m.st.Shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleDriver || actor.ID != s.AssignedDriverID {
		return errs.Authorizationf("only the assigned driver can accept shipment %s", s.ID)
	}
	if s.Status != model.StatusAssigned {
		return errs.Conflictf("shipment %s is %s, not ASSIGNED", s.ID, s.Status)
	}
	if m.notifier != nil {
		m.notifier.NotifyStakeholders(ctx, s, notify.EventAssigned, "", model.RoleDriver)
	}
	return nil
}

// Reject returns a rejected assignment to the pool and immediately re-runs
// matching without the rejecting driver. Finding nobody is not an error
// here: the shipment stays CREATED and an operator is alerted.
func (m *Matcher) Reject(ctx context.Context, shipmentID string, actor model.Actor, c Constraints) error {
	s, err := m.st.Shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if actor.Role != model.RoleDriver || actor.ID != s.AssignedDriverID {
		return errs.Authorizationf("only the assigned driver can reject shipment %s", s.ID)
	}
	rejected := actor.ID
	if err := m.machine.RevertAssignment(ctx, s); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.NotifyStakeholders(ctx, s, notify.EventAssignmentRejected, "")
	}

	c.ExcludeDriverIDs = append(c.ExcludeDriverIDs, rejected)
	if _, err := m.AutoAssign(ctx, s.ID, c); err != nil {
		if errors.Is(err, errs.ErrNoCandidate) {
			return nil
		}
		return err
	}
	return nil
}

func (m *Matcher) alertOperator(ctx context.Context, s *model.Shipment, msg string) {
	if m.notifier == nil {
		return
	}
	target := m.OperatorInboxID
	if s.CreatedByRole == model.RoleOperator && s.CreatedByID != "" {
		target = s.CreatedByID
	}
	if target == "" {
		m.log.Warnf("no operator to alert for shipment %s: %s", s.ID, msg)
		return
	}
	m.notifier.NotifyRole(ctx, target, model.RoleOperator, s, notify.EventNoCandidate, msg)
}
