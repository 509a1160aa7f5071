package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/notify"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/internal/eventbus"
)

type recordedEvent struct {
	event   notify.EventType
	exclude []model.Role
}

type recordingNotifier struct {
	events []recordedEvent
}

func (r *recordingNotifier) NotifyStakeholders(_ context.Context, _ *model.Shipment, ev notify.EventType, _ string, exclude ...model.Role) {
	r.events = append(r.events, recordedEvent{event: ev, exclude: exclude})
}

func newTestMachine(t *testing.T) (*Machine, store.Store, *recordingNotifier) {
	t.Helper()
	st := store.NewMemory()
	n := &recordingNotifier{}
	return NewMachine(st.Shipments, st.Vehicles, n, nil, nil), st, n
}

func seedShipment(t *testing.T, st store.Store, status model.ShipmentStatus) *model.Shipment {
	t.Helper()
	s := &model.Shipment{
		ID:          "shp-1",
		Reference:   "REF-1",
		Origin:      model.Coordinate{Lat: 12.97, Lon: 77.59},
		Destination: model.Coordinate{Lat: 13.02, Lon: 77.70},
		Status:      status,
		CustomerID:  "cust-1",
		CreatedAt:   time.Now().UTC(),
	}
	if status != model.StatusCreated && status != model.StatusCancelled {
		s.AssignedDriverID = "drv-1"
		s.AssignedVehicleID = "veh-1"
		s.StartCode = "STARTAAA"
		s.CompletionCode = "DONEBBBB"
	}
	if err := st.Shipments.Create(context.Background(), s); err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return s
}

func seedVehicle(t *testing.T, st store.Store, status model.VehicleStatus) {
	t.Helper()
	mem, ok := st.Vehicles.(*store.MemoryVehicles)
	if !ok {
		t.Fatal("expected memory vehicle store")
	}
	mem.Put(model.Vehicle{ID: "veh-1", Status: status})
}

func TestApplyRejectsIllegalTransition(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusCreated)

	err := m.Apply(context.Background(), s, model.StatusInTransit)
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
	got, _ := st.Shipments.Get(context.Background(), s.ID)
	if got.Status != model.StatusCreated {
		t.Fatalf("status mutated to %s on failed transition", got.Status)
	}
}

func TestApplyPublishesTransition(t *testing.T) {
	st := store.NewMemory()
	bus := eventbus.New[Transition]()
	sub := bus.Subscribe()
	m := NewMachine(st.Shipments, st.Vehicles, nil, bus, nil)
	s := seedShipment(t, st, model.StatusCreated)

	if err := m.Apply(context.Background(), s, model.StatusCancelled); err != nil {
		t.Fatalf("apply: %v", err)
	}
	select {
	case tr := <-sub:
		if tr.From != model.StatusCreated || tr.To != model.StatusCancelled {
			t.Fatalf("unexpected transition %s -> %s", tr.From, tr.To)
		}
	case <-time.After(time.Second):
		t.Fatal("no transition published")
	}
}

func TestCancelReleasesVehicle(t *testing.T) {
	m, st, n := newTestMachine(t)
	s := seedShipment(t, st, model.StatusAssigned)
	seedVehicle(t, st, model.VehicleInUse)

	actor := model.Actor{ID: "op-1", Role: model.RoleOperator}
	if err := m.Cancel(context.Background(), s.ID, actor, "customer request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	v, _ := st.Vehicles.Get(context.Background(), "veh-1")
	if v.Status != model.VehicleAvailable {
		t.Fatalf("vehicle not released, status %s", v.Status)
	}
	if len(n.events) != 1 || n.events[0].event != notify.EventCancelled {
		t.Fatalf("want one cancelled notification, got %+v", n.events)
	}
}

func TestCancelRejectsMovingShipment(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusInTransit)

	err := m.Cancel(context.Background(), s.ID, model.Actor{ID: "op-1", Role: model.RoleOperator}, "")
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusCreated)

	cases := []struct {
		name  string
		actor model.Actor
		ok    bool
	}{
		{"owning customer", model.Actor{ID: "cust-1", Role: model.RoleCustomer}, true},
		{"other customer", model.Actor{ID: "cust-2", Role: model.RoleCustomer}, false},
		{"driver", model.Actor{ID: "drv-1", Role: model.RoleDriver}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.Cancel(context.Background(), s.ID, tc.actor, "")
			if tc.ok && err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if !tc.ok && !errors.Is(err, errs.ErrAuthorization) {
				t.Fatalf("want authorization error, got %v", err)
			}
		})
	}
}

func TestStartTransitCodeDiscipline(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusPickedUp)
	driver := model.Actor{ID: "drv-1", Role: model.RoleDriver}

	if err := m.StartTransit(context.Background(), s.ID, driver, "WRONG"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("wrong code: want conflict, got %v", err)
	}
	got, _ := st.Shipments.Get(context.Background(), s.ID)
	if got.Status != model.StatusPickedUp || got.StartCode == "" {
		t.Fatal("wrong code must change nothing")
	}

	// Codes match case-insensitively.
	if err := m.StartTransit(context.Background(), s.ID, driver, "startaaa"); err != nil {
		t.Fatalf("start transit: %v", err)
	}
	got, _ = st.Shipments.Get(context.Background(), s.ID)
	if got.Status != model.StatusInTransit {
		t.Fatalf("status %s, want IN_TRANSIT", got.Status)
	}
	if got.StartCode != "" {
		t.Fatal("start code must be invalidated on use")
	}
}

func TestStartTransitRejectsForeignDriver(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusPickedUp)

	err := m.StartTransit(context.Background(), s.ID, model.Actor{ID: "drv-2", Role: model.RoleDriver}, "STARTAAA")
	if !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("want authorization error, got %v", err)
	}
}

func TestMarkDeliveredInvalidatesCodeAndReleases(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusOutForDelivery)
	seedVehicle(t, st, model.VehicleInUse)
	driver := model.Actor{ID: "drv-1", Role: model.RoleDriver}

	if err := m.MarkDelivered(context.Background(), s.ID, driver, "DONEBBBB"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got, _ := st.Shipments.Get(context.Background(), s.ID)
	if got.Status != model.StatusDelivered {
		t.Fatalf("status %s", got.Status)
	}
	if got.CompletionCode != "" {
		t.Fatal("completion code must be invalidated")
	}
	if got.DistanceRemainingKm != 0 || got.ProgressPct != 100 {
		t.Fatalf("remaining %f progress %d after delivery", got.DistanceRemainingKm, got.ProgressPct)
	}
	v, _ := st.Vehicles.Get(context.Background(), "veh-1")
	if v.Status != model.VehicleAvailable {
		t.Fatal("vehicle not released after delivery")
	}

	// The code was blanked, so replaying it must fail.
	s2 := seedShipmentWithID(t, st, "shp-2", model.StatusInTransit)
	s2.CompletionCode = ""
	if err := st.Shipments.Update(context.Background(), s2); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := m.MarkDelivered(context.Background(), s2.ID, driver, "DONEBBBB"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("blanked code must not match, got %v", err)
	}
}

func seedShipmentWithID(t *testing.T, st store.Store, id string, status model.ShipmentStatus) *model.Shipment {
	t.Helper()
	s := &model.Shipment{
		ID:                id,
		Reference:         "REF-2",
		Origin:            model.Coordinate{Lat: 12.97, Lon: 77.59},
		Destination:       model.Coordinate{Lat: 13.02, Lon: 77.70},
		Status:            status,
		AssignedDriverID:  "drv-1",
		AssignedVehicleID: "veh-1",
		CustomerID:        "cust-1",
	}
	if err := st.Shipments.Create(context.Background(), s); err != nil {
		t.Fatalf("seed shipment: %v", err)
	}
	return s
}

func TestCloseRequiresBackOffice(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusDelivered)

	if err := m.Close(context.Background(), s.ID, model.Actor{ID: "drv-1", Role: model.RoleDriver}); !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("driver close: want authorization error, got %v", err)
	}
	if err := m.Close(context.Background(), s.ID, model.Actor{ID: "mgr-1", Role: model.RoleManager}); err != nil {
		t.Fatalf("manager close: %v", err)
	}
	got, _ := st.Shipments.Get(context.Background(), s.ID)
	if got.Status != model.StatusClosed {
		t.Fatalf("status %s", got.Status)
	}
}

func TestRevertAssignmentClearsPairing(t *testing.T) {
	m, st, _ := newTestMachine(t)
	s := seedShipment(t, st, model.StatusAssigned)
	seedVehicle(t, st, model.VehicleInUse)

	if err := m.RevertAssignment(context.Background(), s); err != nil {
		t.Fatalf("revert: %v", err)
	}
	got, _ := st.Shipments.Get(context.Background(), s.ID)
	if got.Status != model.StatusCreated {
		t.Fatalf("status %s", got.Status)
	}
	if got.AssignedDriverID != "" || got.AssignedVehicleID != "" {
		t.Fatal("pairing not cleared")
	}
	if got.StartCode != "" || got.CompletionCode != "" {
		t.Fatal("codes not cleared")
	}
	v, _ := st.Vehicles.Get(context.Background(), "veh-1")
	if v.Status != model.VehicleAvailable {
		t.Fatal("vehicle not released")
	}
}

func TestNewCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c := NewCode()
		if len(c) != 8 {
			t.Fatalf("code %q has length %d", c, len(c))
		}
		seen[c] = true
	}
	if len(seen) < 45 {
		t.Fatalf("codes barely vary: %d distinct of 50", len(seen))
	}
}
