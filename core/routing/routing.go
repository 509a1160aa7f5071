// Package routing defines the road-routing capability consumed by the
// telemetry ingestor. Implementations may fail; callers degrade to
// straight-line estimates.
package routing

import (
	"context"
	"time"

	"github.com/openfleet/dispatchd/core/model"
)

// Route is a road route between two coordinates.
type Route struct {
	DistanceKm float64
	Duration   time.Duration
	Geometry   []model.Coordinate
}

// Router resolves a road route. Errors are expected and callers must have a
// fallback path; no implementation may block without a bound.
type Router interface {
	Route(ctx context.Context, origin, destination model.Coordinate) (Route, error)
}

// Static is a fixed-table Router for tests and the simulator.
type Static struct {
	Result Route
	Err    error
}

func (s Static) Route(context.Context, model.Coordinate, model.Coordinate) (Route, error) {
	if s.Err != nil {
		return Route{}, s.Err
	}
	return s.Result, nil
}
