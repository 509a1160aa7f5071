package config

import (
	"fmt"

	"github.com/openfleet/dispatchd/core/geofence"
	"github.com/openfleet/dispatchd/core/model"
)

// GeofenceConfig declares the circular zones the evaluator watches.
type GeofenceConfig struct {
	Zones []ZoneConfig `json:"zones"`
}

// ZoneConfig is one circular zone.
type ZoneConfig struct {
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	RadiusKm      float64 `json:"radius_km"`
	SpeedLimitKmh float64 `json:"speed_limit_kmh"`
}

// Validate checks every zone is well-formed.
func (c GeofenceConfig) Validate() error {
	for _, z := range c.Zones {
		if z.Name == "" {
			return fmt.Errorf("geofence: zone name is required")
		}
		if z.RadiusKm <= 0 {
			return fmt.Errorf("geofence: zone %s needs a positive radius", z.Name)
		}
		if err := (model.Coordinate{Lat: z.Lat, Lon: z.Lon}).Validate(); err != nil {
			return fmt.Errorf("geofence: zone %s: %w", z.Name, err)
		}
	}
	return nil
}

// Build converts the config into evaluator zones.
func (c GeofenceConfig) Build() []geofence.Zone {
	out := make([]geofence.Zone, 0, len(c.Zones))
	for _, z := range c.Zones {
		out = append(out, geofence.Zone{
			Name:          z.Name,
			Center:        model.Coordinate{Lat: z.Lat, Lon: z.Lon},
			RadiusKm:      z.RadiusKm,
			SpeedLimitKmh: z.SpeedLimitKmh,
		})
	}
	return out
}
