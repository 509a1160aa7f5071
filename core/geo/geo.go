// Package geo provides the pure geometry used by matching and telemetry:
// great-circle distance, circular heading deltas and a simple ETA
// extrapolation. It has no dependencies beyond the standard library.
package geo

import (
	"math"
	"time"

	"github.com/openfleet/dispatchd/core/model"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers.
func HaversineKm(a, b model.Coordinate) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HeadingDelta returns the smallest angle between two compass headings in
// degrees, always in [0,180].
func HeadingDelta(a, b float64) float64 {
	d := math.Abs(math.Mod(a, 360) - math.Mod(b, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// ExtrapolateETA estimates an arrival time from the remaining distance and the
// current speed. A non-positive speed yields the zero time, meaning no
// estimate is possible.
func ExtrapolateETA(distanceKm, speedKmh float64, now time.Time) time.Time {
	if speedKmh <= 0 || distanceKm < 0 {
		return time.Time{}
	}
	hours := distanceKm / speedKmh
	return now.Add(time.Duration(hours * float64(time.Hour)))
}

// ClampProgress bounds a progress percentage to [0,100].
func ClampProgress(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
