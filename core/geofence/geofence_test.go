package geofence

import (
	"testing"

	"github.com/openfleet/dispatchd/core/model"
)

var depot = Zone{
	Name:          "depot",
	Center:        model.Coordinate{Lat: 12.97, Lon: 77.59},
	RadiusKm:      2,
	SpeedLimitKmh: 30,
}

func fptr(f float64) *float64 { return &f }

// insideDepot is well within 2km of the zone center; outsideDepot is ~11km
// north of it.
var (
	insideDepot  = model.Coordinate{Lat: 12.975, Lon: 77.59}
	outsideDepot = model.Coordinate{Lat: 13.07, Lon: 77.59}
)

func kinds(vs []Violation) []ViolationKind {
	out := make([]ViolationKind, len(vs))
	for i, v := range vs {
		out[i] = v.Kind
	}
	return out
}

func TestEvaluateEntryAndExit(t *testing.T) {
	e := NewCircleEvaluator([]Zone{depot})

	got := e.Evaluate("veh-1", insideDepot, fptr(20))
	if len(got) != 1 || got[0].Kind != ZoneEntry || got[0].ZoneName != "depot" {
		t.Fatalf("first ping inside = %v, want one ZONE_ENTRY", got)
	}

	// Staying inside is not a new entry.
	if got := e.Evaluate("veh-1", insideDepot, fptr(20)); len(got) != 0 {
		t.Fatalf("repeat ping inside = %v, want nothing", got)
	}

	got = e.Evaluate("veh-1", outsideDepot, fptr(20))
	if len(got) != 1 || got[0].Kind != ZoneExit {
		t.Fatalf("leaving = %v, want one ZONE_EXIT", got)
	}
	if got := e.Evaluate("veh-1", outsideDepot, fptr(20)); len(got) != 0 {
		t.Fatalf("repeat ping outside = %v, want nothing", got)
	}
}

func TestEvaluateZoneSpeeding(t *testing.T) {
	e := NewCircleEvaluator([]Zone{depot})

	got := e.Evaluate("veh-1", insideDepot, fptr(45))
	want := []ViolationKind{ZoneEntry, ZoneSpeeding}
	if len(got) != 2 || got[0].Kind != want[0] || got[1].Kind != want[1] {
		t.Fatalf("got %v, want %v", kinds(got), want)
	}
	if got[1].LimitKmh != 30 {
		t.Errorf("limit = %.0f, want the zone limit 30", got[1].LimitKmh)
	}

	// Zone speeding repeats on every ping over the limit, unlike entry.
	got = e.Evaluate("veh-1", insideDepot, fptr(45))
	if len(got) != 1 || got[0].Kind != ZoneSpeeding {
		t.Fatalf("repeat speeding = %v, want one ZONE_SPEEDING", kinds(got))
	}

	if got := e.Evaluate("veh-1", insideDepot, nil); len(got) != 0 {
		t.Fatalf("no speed sample = %v, want nothing", kinds(got))
	}
}

func TestEvaluateNoLimitZone(t *testing.T) {
	open := depot
	open.Name = "open"
	open.SpeedLimitKmh = 0
	e := NewCircleEvaluator([]Zone{open})

	e.Evaluate("veh-1", insideDepot, fptr(120))
	if got := e.Evaluate("veh-1", insideDepot, fptr(120)); len(got) != 0 {
		t.Fatalf("got %v, want no speeding in a zone without a limit", kinds(got))
	}
}

func TestEvaluateTracksVehiclesIndependently(t *testing.T) {
	e := NewCircleEvaluator([]Zone{depot})

	e.Evaluate("veh-1", insideDepot, nil)
	got := e.Evaluate("veh-2", insideDepot, nil)
	if len(got) != 1 || got[0].Kind != ZoneEntry {
		t.Fatalf("second vehicle = %v, want its own ZONE_ENTRY", kinds(got))
	}
}
