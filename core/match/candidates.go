package match

import (
	"sort"

	"github.com/openfleet/dispatchd/core/model"
)

// tieEpsilonKm is the distance band within which two candidates are
// considered equally close and ranked by rating instead.
const tieEpsilonKm = 0.5

// Candidate is a prospective driver+vehicle pairing. It lives only inside a
// matching run and is never persisted.
type Candidate struct {
	Driver     model.Driver
	Vehicle    model.Vehicle
	DistanceKm float64
}

// Constraints narrow the candidate pool for one matching run.
type Constraints struct {
	CapacityKg       float64
	VehicleType      string
	RadiusKm         float64
	ExcludeDriverIDs []string
}

func (c Constraints) excludes(driverID string) bool {
	for _, id := range c.ExcludeDriverIDs {
		if id == driverID {
			return true
		}
	}
	return false
}

func (c Constraints) admitsVehicle(v model.Vehicle) bool {
	if c.VehicleType != "" && v.Type != c.VehicleType {
		return false
	}
	if c.CapacityKg > 0 && v.CapacityKg < c.CapacityKg {
		return false
	}
	return true
}

// rank orders candidates best first: distance ascending, with candidates
// within tieEpsilonKm of each other ranked by rating descending. Driver id
// breaks the final tie so the ordering is deterministic.
func rank(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		di, dj := cands[i].DistanceKm, cands[j].DistanceKm
		diff := di - dj
		if diff < 0 {
			diff = -diff
		}
		if diff <= tieEpsilonKm {
			ri, rj := cands[i].Driver.Rating, cands[j].Driver.Rating
			if ri != rj {
				return ri > rj
			}
			return cands[i].Driver.ID < cands[j].Driver.ID
		}
		return di < dj
	})
}
