// Package lifecycle holds the authoritative shipment state machine. Every
// status change in the system, manual or telemetry-driven, goes through the
// Machine so illegal transitions cannot be persisted.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/notify"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/internal/eventbus"
)

// Transition is published on the bus for every applied status change.
type Transition struct {
	ShipmentID string
	Reference  string
	From       model.ShipmentStatus
	To         model.ShipmentStatus
	At         time.Time
}

// Notifier fans a shipment event out to its stakeholders. Implemented by
// notify.Dispatcher; failures never reach the machine.
type Notifier interface {
	NotifyStakeholders(ctx context.Context, s *model.Shipment, ev notify.EventType, message string, excludeRoles ...model.Role)
}

// Machine applies shipment lifecycle transitions.
type Machine struct {
	shipments store.ShipmentStore
	vehicles  store.VehicleStore
	notifier  Notifier
	bus       *eventbus.Bus[Transition]
	log       logger.Logger
	now       func() time.Time
}

// NewMachine wires the state machine to its collaborators. bus and notifier
// may be nil; persistence is mandatory.
func NewMachine(shipments store.ShipmentStore, vehicles store.VehicleStore, notifier Notifier, bus *eventbus.Bus[Transition], log logger.Logger) *Machine {
	if log == nil {
		log = logger.Nop{}
	}
	return &Machine{
		shipments: shipments,
		vehicles:  vehicles,
		notifier:  notifier,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// NewCode issues a one-time confirmation code for pickup/delivery gates.
func NewCode() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

// Apply moves the shipment to the target status after checking the transition
// table, persists it and publishes the transition. The caller mutates any
// additional shipment fields before calling Apply.
func (m *Machine) Apply(ctx context.Context, s *model.Shipment, to model.ShipmentStatus) error {
	from := s.Status
	if !Allowed(from, to) {
		return errs.Conflictf("cannot move shipment %s from %s to %s", s.ID, from, to)
	}
	s.Status = to
	s.UpdatedAt = m.now()
	if err := m.shipments.Update(ctx, s); err != nil {
		s.Status = from
		return err
	}
	m.log.Infof("shipment %s: %s -> %s", s.ID, from, to)
	if m.bus != nil {
		m.bus.Publish(Transition{
			ShipmentID: s.ID,
			Reference:  s.Reference,
			From:       from,
			To:         to,
			At:         s.UpdatedAt,
		})
	}
	return nil
}

// notifyAll is a nil-safe stakeholder fan-out.
func (m *Machine) notifyAll(ctx context.Context, s *model.Shipment, ev notify.EventType, msg string, exclude ...model.Role) {
	if m.notifier != nil {
		m.notifier.NotifyStakeholders(ctx, s, ev, msg, exclude...)
	}
}

// releaseVehicle returns a held vehicle to the available pool. Failure is
// logged, not propagated: the status change has already been persisted.
func (m *Machine) releaseVehicle(ctx context.Context, s *model.Shipment) {
	if s.AssignedVehicleID == "" || m.vehicles == nil {
		return
	}
	if err := m.vehicles.Release(ctx, s.AssignedVehicleID); err != nil {
		m.log.Errorf("release vehicle %s: %v", s.AssignedVehicleID, err)
	}
}

// Cancel aborts a shipment that has not started moving. Any held vehicle is
// released back to the pool.
func (m *Machine) Cancel(ctx context.Context, shipmentID string, actor model.Actor, reason string) error {
	s, err := m.shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if err := authorizeCancel(*s, actor); err != nil {
		return err
	}
	if s.Status != model.StatusCreated && s.Status != model.StatusAssigned {
		return errs.Conflictf("shipment %s cannot be cancelled from %s", s.ID, s.Status)
	}
	if err := m.Apply(ctx, s, model.StatusCancelled); err != nil {
		return err
	}
	m.releaseVehicle(ctx, s)
	m.notifyAll(ctx, s, notify.EventCancelled, reason)
	return nil
}

// MarkPickedUp confirms the driver collected the goods.
func (m *Machine) MarkPickedUp(ctx context.Context, shipmentID string, actor model.Actor) error {
	s, err := m.shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if err := authorizeDriverAction(*s, actor); err != nil {
		return err
	}
	if err := m.Apply(ctx, s, model.StatusPickedUp); err != nil {
		return err
	}
	m.notifyAll(ctx, s, notify.EventPickedUp, "")
	return nil
}

// StartTransit opens the transit leg. The one-time start code must match the
// issued value; a wrong code changes nothing, and a correct one is
// invalidated so it cannot be replayed.
func (m *Machine) StartTransit(ctx context.Context, shipmentID string, actor model.Actor, code string) error {
	s, err := m.shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if err := authorizeDriverAction(*s, actor); err != nil {
		return err
	}
	if s.Status != model.StatusPickedUp {
		return errs.Conflictf("shipment %s cannot start transit from %s", s.ID, s.Status)
	}
	if !codeMatches(s.StartCode, code) {
		return errs.Conflictf("wrong start code for shipment %s", s.ID)
	}
	s.StartCode = ""
	if err := m.Apply(ctx, s, model.StatusInTransit); err != nil {
		return err
	}
	m.notifyAll(ctx, s, notify.EventInTransit, "")
	return nil
}

// MarkDelivered completes the delivery. The one-time completion code follows
// the same matching discipline as the start code.
func (m *Machine) MarkDelivered(ctx context.Context, shipmentID string, actor model.Actor, code string) error {
	s, err := m.shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if err := authorizeDriverAction(*s, actor); err != nil {
		return err
	}
	if s.Status != model.StatusInTransit && s.Status != model.StatusOutForDelivery {
		return errs.Conflictf("shipment %s cannot be delivered from %s", s.ID, s.Status)
	}
	if !codeMatches(s.CompletionCode, code) {
		return errs.Conflictf("wrong completion code for shipment %s", s.ID)
	}
	s.CompletionCode = ""
	s.DistanceRemainingKm = 0
	s.ProgressPct = 100
	if err := m.Apply(ctx, s, model.StatusDelivered); err != nil {
		return err
	}
	m.releaseVehicle(ctx, s)
	m.notifyAll(ctx, s, notify.EventDelivered, "")
	return nil
}

// Close archives a delivered shipment. Downstream billing is external.
func (m *Machine) Close(ctx context.Context, shipmentID string, actor model.Actor) error {
	if actor.Role != model.RoleOperator && actor.Role != model.RoleManager {
		return errs.Authorizationf("role %s cannot close shipments", actor.Role)
	}
	s, err := m.shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	return m.Apply(ctx, s, model.StatusClosed)
}

// RevertAssignment undoes ASSIGNED back to CREATED after a driver rejection.
// The vehicle returns to the pool and the pairing is cleared.
func (m *Machine) RevertAssignment(ctx context.Context, s *model.Shipment) error {
	if s.Status != model.StatusAssigned {
		return errs.Conflictf("shipment %s is not assigned", s.ID)
	}
	vehicleID := s.AssignedVehicleID
	s.AssignedDriverID = ""
	s.AssignedVehicleID = ""
	s.StartCode = ""
	s.CompletionCode = ""
	if err := m.Apply(ctx, s, model.StatusCreated); err != nil {
		return err
	}
	if vehicleID != "" && m.vehicles != nil {
		if err := m.vehicles.Release(ctx, vehicleID); err != nil {
			m.log.Errorf("release vehicle %s: %v", vehicleID, err)
		}
	}
	return nil
}

func codeMatches(issued, presented string) bool {
	if issued == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(issued), []byte(strings.ToUpper(presented))) == 1
}

func authorizeDriverAction(s model.Shipment, actor model.Actor) error {
	switch actor.Role {
	case model.RoleOperator, model.RoleManager:
		return nil
	case model.RoleDriver:
		if actor.ID != s.AssignedDriverID {
			return errs.Authorizationf("driver %s is not assigned to shipment %s", actor.ID, s.ID)
		}
		return nil
	default:
		return errs.Authorizationf("role %s cannot update shipment progress", actor.Role)
	}
}

func authorizeCancel(s model.Shipment, actor model.Actor) error {
	switch actor.Role {
	case model.RoleOperator, model.RoleManager:
		return nil
	case model.RoleCustomer:
		if actor.ID != s.CustomerID {
			return errs.Authorizationf("customer %s does not own shipment %s", actor.ID, s.ID)
		}
		return nil
	default:
		return errs.Authorizationf("role %s cannot cancel shipments", actor.Role)
	}
}
