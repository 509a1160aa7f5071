// Package geofence provides zone entry/exit and zone speed-limit checks for
// telemetry pings. The evaluator is optional; ingestion runs without one.
package geofence

import (
	"sync"

	"github.com/openfleet/dispatchd/core/geo"
	"github.com/openfleet/dispatchd/core/model"
)

// ViolationKind classifies a geofence finding.
type ViolationKind string

const (
	ZoneEntry    ViolationKind = "ZONE_ENTRY"
	ZoneExit     ViolationKind = "ZONE_EXIT"
	ZoneSpeeding ViolationKind = "ZONE_SPEEDING"
)

// Violation is one geofence finding for a ping.
type Violation struct {
	Kind     ViolationKind
	ZoneName string
	// LimitKmh is set for ZoneSpeeding findings.
	LimitKmh float64
}

// Evaluator checks a ping against configured zones. Implementations must be
// safe for concurrent use.
type Evaluator interface {
	Evaluate(vehicleID string, coord model.Coordinate, speedKmh *float64) []Violation
}

// Zone is a circular geofence with an optional speed limit.
type Zone struct {
	Name     string
	Center   model.Coordinate
	RadiusKm float64
	// SpeedLimitKmh of zero means no limit inside the zone.
	SpeedLimitKmh float64
}

// CircleEvaluator evaluates circular zones and tracks per-vehicle containment
// so it can emit entry and exit findings.
type CircleEvaluator struct {
	zones []Zone

	mu     sync.Mutex
	inside map[string]map[string]bool // vehicle id -> zone name -> inside
}

func NewCircleEvaluator(zones []Zone) *CircleEvaluator {
	return &CircleEvaluator{zones: zones, inside: map[string]map[string]bool{}}
}

func (e *CircleEvaluator) Evaluate(vehicleID string, coord model.Coordinate, speedKmh *float64) []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.inside[vehicleID]
	if state == nil {
		state = map[string]bool{}
		e.inside[vehicleID] = state
	}

	var out []Violation
	for _, z := range e.zones {
		in := geo.HaversineKm(z.Center, coord) <= z.RadiusKm
		was := state[z.Name]
		state[z.Name] = in
		switch {
		case in && !was:
			out = append(out, Violation{Kind: ZoneEntry, ZoneName: z.Name})
		case !in && was:
			out = append(out, Violation{Kind: ZoneExit, ZoneName: z.Name})
		}
		if in && z.SpeedLimitKmh > 0 && speedKmh != nil && *speedKmh > z.SpeedLimitKmh {
			out = append(out, Violation{Kind: ZoneSpeeding, ZoneName: z.Name, LimitKmh: z.SpeedLimitKmh})
		}
	}
	return out
}
