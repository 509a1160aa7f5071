package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/model"
)

// NewMemory returns a Store bundle backed by thread-safe in-memory stores.
// It backs tests and the simulator and defines the reference semantics the
// SQL adapter must match.
func NewMemory() Store {
	return Store{
		Shipments: NewMemoryShipments(),
		Pings:     NewMemoryPings(),
		Events:    NewMemoryEvents(),
		Drivers:   NewMemoryDrivers(),
		Vehicles:  NewMemoryVehicles(),
		Shifts:    &MemoryShifts{},
	}
}

// MemoryShipments is an in-memory ShipmentStore.
type MemoryShipments struct {
	mu   sync.RWMutex
	data map[string]model.Shipment
}

func NewMemoryShipments() *MemoryShipments {
	return &MemoryShipments{data: map[string]model.Shipment{}}
}

func (m *MemoryShipments) Create(_ context.Context, s *model.Shipment) error {
	if err := s.Validate(); err != nil {
		return errs.Validationf("shipment: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[s.ID]; ok {
		return errs.Conflictf("shipment %s already exists", s.ID)
	}
	m.data[s.ID] = *s
	return nil
}

func (m *MemoryShipments) Get(_ context.Context, id string) (*model.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data[id]
	if !ok {
		return nil, errs.NotFoundf("shipment %s", id)
	}
	return &s, nil
}

func (m *MemoryShipments) Update(_ context.Context, s *model.Shipment) error {
	if err := s.Validate(); err != nil {
		return errs.Validationf("shipment: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[s.ID]; !ok {
		return errs.NotFoundf("shipment %s", s.ID)
	}
	m.data[s.ID] = *s
	return nil
}

func (m *MemoryShipments) ListByStatus(_ context.Context, statuses ...model.ShipmentStatus) ([]*model.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*model.Shipment
	for _, s := range m.data {
		if matchStatus(s.Status, statuses) {
			c := s
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryShipments) ListByDriver(_ context.Context, driverID string, statuses ...model.ShipmentStatus) ([]*model.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*model.Shipment
	for _, s := range m.data {
		if s.AssignedDriverID != driverID {
			continue
		}
		if matchStatus(s.Status, statuses) {
			c := s
			res = append(res, &c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func matchStatus(s model.ShipmentStatus, want []model.ShipmentStatus) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if s == w {
			return true
		}
	}
	return false
}

// MemoryPings is an in-memory append-only PingStore.
type MemoryPings struct {
	mu   sync.RWMutex
	data map[string][]model.LocationPing // keyed by shipment id, append order
}

func NewMemoryPings() *MemoryPings {
	return &MemoryPings{data: map[string][]model.LocationPing{}}
}

func (m *MemoryPings) Append(_ context.Context, p model.LocationPing) error {
	m.mu.Lock()
	m.data[p.ShipmentID] = append(m.data[p.ShipmentID], p)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPings) ListRecent(_ context.Context, shipmentID, driverID string, limit int) ([]model.LocationPing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.LocationPing
	for _, p := range m.data[shipmentID] {
		if driverID == "" || p.DriverID == driverID {
			res = append(res, p)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].RecordedAt.After(res[j].RecordedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// MemoryEvents is an in-memory DriverEventStore.
type MemoryEvents struct {
	mu   sync.RWMutex
	data []model.DriverEvent
}

func NewMemoryEvents() *MemoryEvents { return &MemoryEvents{} }

func (m *MemoryEvents) Create(_ context.Context, e model.DriverEvent) error {
	m.mu.Lock()
	m.data = append(m.data, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryEvents) LastOfType(_ context.Context, shipmentID, driverID string, t model.DriverEventType) (*model.DriverEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *model.DriverEvent
	for i := range m.data {
		e := m.data[i]
		if e.ShipmentID != shipmentID || e.DriverID != driverID || e.Type != t {
			continue
		}
		if last == nil || e.RecordedAt.After(last.RecordedAt) {
			c := e
			last = &c
		}
	}
	return last, nil
}

// All returns a copy of every recorded event, oldest first.
func (m *MemoryEvents) All() []model.DriverEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DriverEvent, len(m.data))
	copy(out, m.data)
	return out
}

// MemoryDrivers is an in-memory DriverStore.
type MemoryDrivers struct {
	mu   sync.RWMutex
	data map[string]model.Driver
}

func NewMemoryDrivers() *MemoryDrivers {
	return &MemoryDrivers{data: map[string]model.Driver{}}
}

func (m *MemoryDrivers) Put(d model.Driver) {
	m.mu.Lock()
	m.data[d.ID] = d
	m.mu.Unlock()
}

func (m *MemoryDrivers) Get(_ context.Context, id string) (*model.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[id]
	if !ok {
		return nil, errs.NotFoundf("driver %s", id)
	}
	return &d, nil
}

func (m *MemoryDrivers) ListApproved(_ context.Context) ([]model.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Driver
	for _, d := range m.data {
		if d.Approved {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryDrivers) UpdateLocation(_ context.Context, id string, loc model.TrackedLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[id]
	if !ok {
		return errs.NotFoundf("driver %s", id)
	}
	d.LastKnownLocation = &loc
	m.data[id] = d
	return nil
}

// MemoryVehicles is an in-memory VehicleStore.
type MemoryVehicles struct {
	mu   sync.RWMutex
	data map[string]model.Vehicle
}

func NewMemoryVehicles() *MemoryVehicles {
	return &MemoryVehicles{data: map[string]model.Vehicle{}}
}

func (m *MemoryVehicles) Put(v model.Vehicle) {
	m.mu.Lock()
	m.data[v.ID] = v
	m.mu.Unlock()
}

func (m *MemoryVehicles) Get(_ context.Context, id string) (*model.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[id]
	if !ok {
		return nil, errs.NotFoundf("vehicle %s", id)
	}
	return &v, nil
}

func (m *MemoryVehicles) ListAvailable(_ context.Context) ([]model.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Vehicle
	for _, v := range m.data {
		if v.Status == model.VehicleAvailable {
			res = append(res, v)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Reserve performs the AVAILABLE -> IN_USE compare-and-set under the store
// lock, so two racing assignments cannot both win the vehicle.
func (m *MemoryVehicles) Reserve(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[id]
	if !ok {
		return errs.NotFoundf("vehicle %s", id)
	}
	if v.Status != model.VehicleAvailable {
		return errs.Conflictf("vehicle %s is %s", id, v.Status)
	}
	v.Status = model.VehicleInUse
	m.data[id] = v
	return nil
}

func (m *MemoryVehicles) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[id]
	if !ok {
		return errs.NotFoundf("vehicle %s", id)
	}
	if v.Status == model.VehicleInUse {
		v.Status = model.VehicleAvailable
		m.data[id] = v
	}
	return nil
}

// MemoryShifts is an in-memory ShiftStore.
type MemoryShifts struct {
	mu   sync.RWMutex
	data []model.DutyShift
}

func (m *MemoryShifts) Put(s model.DutyShift) {
	m.mu.Lock()
	m.data = append(m.data, s)
	m.mu.Unlock()
}

func (m *MemoryShifts) ActiveAt(_ context.Context, t time.Time) ([]model.DutyShift, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.DutyShift
	for _, s := range m.data {
		if s.Covers(t) {
			res = append(res, s)
		}
	}
	return res, nil
}
