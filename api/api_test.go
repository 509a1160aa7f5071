package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openfleet/dispatchd/core/lifecycle"
	"github.com/openfleet/dispatchd/core/match"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/core/telemetry"
)

func newTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	st := store.NewMemory()
	machine := lifecycle.NewMachine(st.Shipments, st.Vehicles, nil, nil, nil)
	matcher := match.New(st, machine, nil, nil)
	ingestor, err := telemetry.NewIngestor(st, machine, nil, nil, nil, nil, nil, nil, telemetry.Config{})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	srv := NewServer(Config{}, st, matcher, machine, ingestor, nil, nil)
	return srv.Handler(), st
}

func seedFleet(st store.Store) {
	st.Drivers.(*store.MemoryDrivers).Put(model.Driver{ID: "drv-1", Name: "drv-1", Approved: true, Rating: 4.5})
	st.Vehicles.(*store.MemoryVehicles).Put(model.Vehicle{ID: "veh-1", Plate: "KA-01", Type: "van", CapacityKg: 800, Status: model.VehicleAvailable})
}

func doJSON(t *testing.T, h http.Handler, method, path string, actor model.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.ContentLength = int64(buf.Len())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor.ID != "" {
		req.Header.Set("X-Actor-ID", actor.ID)
		req.Header.Set("X-Actor-Role", string(actor.Role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeShipment(t *testing.T, rec *httptest.ResponseRecorder) model.Shipment {
	t.Helper()
	var s model.Shipment
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode shipment: %v", err)
	}
	return s
}

var (
	operator = model.Actor{ID: "op-1", Role: model.RoleOperator}
	customer = model.Actor{ID: "cust-1", Role: model.RoleCustomer}
	driver   = model.Actor{ID: "drv-1", Role: model.RoleDriver}
)

func createBody() map[string]any {
	return map[string]any{
		"reference":        "REF-1",
		"origin":           map[string]float64{"lat": 12.9716, "lon": 77.5946},
		"origin_name":      "Depot",
		"destination":      map[string]float64{"lat": 13.0200, "lon": 77.7000},
		"destination_name": "Warehouse 9",
		"customer_id":      "cust-1",
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", model.Actor{}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
}

func TestCreateShipmentAsCustomer(t *testing.T) {
	h, _ := newTestServer(t)

	body := createBody()
	body["customer_id"] = "someone-else"
	rec := doJSON(t, h, http.MethodPost, "/api/shipments", customer, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	s := decodeShipment(t, rec)
	if s.Status != model.StatusCreated {
		t.Errorf("status = %s, want CREATED", s.Status)
	}
	// A customer can only create shipments for themselves.
	if s.CustomerID != "cust-1" {
		t.Errorf("customer = %s, want the acting customer", s.CustomerID)
	}
	if s.DistanceKm <= 0 || s.DistanceRemainingKm != s.DistanceKm {
		t.Errorf("distance = %.2f/%.2f", s.DistanceKm, s.DistanceRemainingKm)
	}
}

func TestCreateShipmentRequiresActor(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/shipments", model.Actor{}, createBody())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCreateShipmentWithAutoAssign(t *testing.T) {
	h, st := newTestServer(t)
	seedFleet(st)

	body := createBody()
	body["auto_assign"] = true
	rec := doJSON(t, h, http.MethodPost, "/api/shipments", operator, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	s := decodeShipment(t, rec)
	if s.Status != model.StatusAssigned || s.AssignedDriverID != "drv-1" {
		t.Fatalf("shipment = %s/%s, want ASSIGNED to drv-1", s.Status, s.AssignedDriverID)
	}
}

func TestCreateShipmentAutoAssignWithEmptyPool(t *testing.T) {
	h, _ := newTestServer(t)

	// No fleet: the shipment is still created, just unassigned.
	body := createBody()
	body["auto_assign"] = true
	rec := doJSON(t, h, http.MethodPost, "/api/shipments", operator, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	s := decodeShipment(t, rec)
	if s.Status != model.StatusCreated || s.AssignedDriverID != "" {
		t.Fatalf("shipment = %s/%q, want CREATED unassigned", s.Status, s.AssignedDriverID)
	}
}

func TestShipmentLifecycleOverHTTP(t *testing.T) {
	h, st := newTestServer(t)
	seedFleet(st)
	ctx := context.Background()

	rec := doJSON(t, h, http.MethodPost, "/api/shipments", operator, createBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	id := decodeShipment(t, rec).ID
	base := "/api/shipments/" + id

	if rec := doJSON(t, h, http.MethodPost, base+"/auto-assign", operator, nil); rec.Code != http.StatusOK {
		t.Fatalf("auto-assign: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, h, http.MethodPost, base+"/accept", driver, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, h, http.MethodPost, base+"/pickup", driver, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("pickup: %d %s", rec.Code, rec.Body)
	}

	// Confirmation codes never travel over the API; fetch them from the store.
	s, err := st.Shipments.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec := doJSON(t, h, http.MethodPost, base+"/start", driver, map[string]string{"code": s.StartCode}); rec.Code != http.StatusNoContent {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}

	ping := map[string]any{"lat": 13.0, "lon": 77.65, "speed_kmh": 40}
	rec = doJSON(t, h, http.MethodPost, base+"/pings", driver, ping)
	if rec.Code != http.StatusOK {
		t.Fatalf("ping: %d %s", rec.Code, rec.Body)
	}
	if got := decodeShipment(t, rec); got.ProgressPct <= 0 {
		t.Errorf("progress = %d, want advanced", got.ProgressPct)
	}

	s, _ = st.Shipments.Get(ctx, id)
	if rec := doJSON(t, h, http.MethodPost, base+"/deliver", driver, map[string]string{"code": s.CompletionCode}); rec.Code != http.StatusNoContent {
		t.Fatalf("deliver: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, h, http.MethodPost, base+"/close", operator, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("close: %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodGet, base+"/", operator, nil)
	if got := decodeShipment(t, rec); got.Status != model.StatusClosed {
		t.Fatalf("final status = %s, want CLOSED", got.Status)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	h, st := newTestServer(t)
	seedFleet(st)

	rec := doJSON(t, h, http.MethodPost, "/api/shipments", operator, createBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	id := decodeShipment(t, rec).ID

	// Drain the fleet so auto-assign finds nobody.
	if rec := doJSON(t, h, http.MethodPost, "/api/shipments/"+id+"/assign", operator,
		map[string]string{"driver_id": "drv-1", "vehicle_id": "veh-1"}); rec.Code != http.StatusNoContent {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/shipments", operator, createBody())
	empty := decodeShipment(t, rec).ID

	tests := []struct {
		name   string
		method string
		path   string
		actor  model.Actor
		body   any
		want   int
	}{
		{"unknown shipment", http.MethodGet, "/api/shipments/nope/", operator, nil, http.StatusNotFound},
		{"bad coordinates", http.MethodPost, "/api/shipments", operator,
			map[string]any{"origin": map[string]float64{"lat": 91, "lon": 0}, "destination": map[string]float64{"lat": 0, "lon": 0}}, http.StatusBadRequest},
		{"foreign customer cancel", http.MethodPost, "/api/shipments/" + id + "/cancel",
			model.Actor{ID: "cust-other", Role: model.RoleCustomer}, nil, http.StatusForbidden},
		{"driver cannot assign", http.MethodPost, "/api/shipments/" + id + "/assign", driver,
			map[string]string{"driver_id": "drv-1", "vehicle_id": "veh-1"}, http.StatusForbidden},
		{"wrong code", http.MethodPost, "/api/shipments/" + id + "/start", driver,
			map[string]string{"code": "WRONGONE"}, http.StatusConflict},
		{"no candidate", http.MethodPost, "/api/shipments/" + empty + "/auto-assign", operator, nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, tt.path, tt.actor, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("error body = %q, %v", body.Error, err)
			}
		})
	}
}

func TestLiveWithoutHubIs404(t *testing.T) {
	h, st := newTestServer(t)
	seedFleet(st)
	rec := doJSON(t, h, http.MethodPost, "/api/shipments", operator, createBody())
	id := decodeShipment(t, rec).ID

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/shipments/%s/live", id), operator, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without a hub", rec.Code)
	}
}
