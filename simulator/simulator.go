// Package simulator drives synthetic trips through the full dispatch
// pipeline: it seeds a fleet, creates shipments, walks them through
// assignment and emits pings along the route until delivery.
package simulator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/dispatchd/core/geo"
	"github.com/openfleet/dispatchd/core/lifecycle"
	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/match"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/core/telemetry"
)

// Config holds parameters for the trip simulator.
type Config struct {
	Enabled     bool    `json:"enabled"`
	Trips       int     `json:"trips"`
	TickSeconds int     `json:"tick_seconds"`
	SpeedKmh    float64 `json:"speed_kmh"`

	OriginLat float64 `json:"origin_lat"`
	OriginLon float64 `json:"origin_lon"`
	DestLat   float64 `json:"dest_lat"`
	DestLon   float64 `json:"dest_lon"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Trips == 0 {
		c.Trips = 3
	}
	if c.TickSeconds == 0 {
		c.TickSeconds = 5
	}
	if c.SpeedKmh == 0 {
		c.SpeedKmh = 40
	}
	if c.OriginLat == 0 && c.OriginLon == 0 {
		c.OriginLat, c.OriginLon = 12.9716, 77.5946
	}
	if c.DestLat == 0 && c.DestLon == 0 {
		c.DestLat, c.DestLon = 13.0200, 77.7000
	}
}

// Simulator owns the synthetic fleet and its trips.
type Simulator struct {
	cfg      Config
	st       store.Store
	matcher  *match.Matcher
	machine  *lifecycle.Machine
	ingestor *telemetry.Ingestor
	log      logger.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a simulator over the given core services.
func New(cfg Config, st store.Store, matcher *match.Matcher, machine *lifecycle.Machine, ingestor *telemetry.Ingestor, log logger.Logger) *Simulator {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Simulator{cfg: cfg, st: st, matcher: matcher, machine: machine, ingestor: ingestor, log: log}
}

// Start seeds the fleet and launches one goroutine per trip. Calling Start
// twice is a no-op.
func (s *Simulator) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		if err = s.seedFleet(); err != nil {
			return
		}
		for i := 0; i < s.cfg.Trips; i++ {
			s.wg.Add(1)
			go func(n int) {
				defer s.wg.Done()
				if terr := s.runTrip(ctx, n); terr != nil && ctx.Err() == nil {
					s.log.Errorf("trip %d: %v", n, terr)
				}
			}(i)
		}
	})
	return err
}

// Stop cancels running trips and waits for them. Repeated Stop is a no-op.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Simulator) seedFleet() error {
	type seeder interface {
		Put(d model.Driver)
	}
	type vseeder interface {
		Put(v model.Vehicle)
	}
	drivers, ok := s.st.Drivers.(seeder)
	vehicles, vok := s.st.Vehicles.(vseeder)
	if !ok || !vok {
		return fmt.Errorf("simulator requires the in-memory stores")
	}
	origin := model.Coordinate{Lat: s.cfg.OriginLat, Lon: s.cfg.OriginLon}
	for i := 0; i < s.cfg.Trips; i++ {
		drivers.Put(model.Driver{
			ID:       fmt.Sprintf("sim-drv%04d", i+1),
			Name:     fmt.Sprintf("Sim Driver %d", i+1),
			Approved: true,
			Rating:   3 + float64(i%3),
			LastKnownLocation: &model.TrackedLocation{
				Coord:      origin,
				RecordedAt: time.Now().UTC(),
			},
		})
		vehicles.Put(model.Vehicle{
			ID:         fmt.Sprintf("sim-veh%04d", i+1),
			Plate:      fmt.Sprintf("SIM-%04d", i+1),
			Type:       "van",
			CapacityKg: 800,
			Status:     model.VehicleAvailable,
		})
	}
	return nil
}

func (s *Simulator) runTrip(ctx context.Context, n int) error {
	origin := model.Coordinate{Lat: s.cfg.OriginLat, Lon: s.cfg.OriginLon}
	dest := model.Coordinate{Lat: s.cfg.DestLat, Lon: s.cfg.DestLon}
	operator := model.Actor{ID: "sim-operator", Role: model.RoleOperator}

	now := time.Now().UTC()
	distance := geo.HaversineKm(origin, dest)
	sh := &model.Shipment{
		ID:                  uuid.NewString(),
		Reference:           fmt.Sprintf("SIM-%d-%d", now.Unix(), n),
		Origin:              origin,
		Destination:         dest,
		Status:              model.StatusCreated,
		DistanceKm:          distance,
		DistanceRemainingKm: distance,
		ScheduledETA:        now.Add(time.Duration(distance/s.cfg.SpeedKmh*float64(time.Hour)) + 30*time.Minute),
		CreatedByID:         operator.ID,
		CreatedByRole:       operator.Role,
		CustomerID:          fmt.Sprintf("sim-cust%04d", n+1),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.st.Shipments.Create(ctx, sh); err != nil {
		return fmt.Errorf("create shipment: %w", err)
	}

	cand, err := s.matcher.AutoAssign(ctx, sh.ID, match.Constraints{})
	if err != nil {
		return fmt.Errorf("auto assign: %w", err)
	}
	driver := model.Actor{ID: cand.Driver.ID, Role: model.RoleDriver}
	if err := s.matcher.Accept(ctx, sh.ID, driver); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	if err := s.machine.MarkPickedUp(ctx, sh.ID, driver); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	if sh, err = s.st.Shipments.Get(ctx, sh.ID); err != nil {
		return err
	}
	if err := s.machine.StartTransit(ctx, sh.ID, driver, sh.StartCode); err != nil {
		return fmt.Errorf("start transit: %w", err)
	}

	return s.drive(ctx, sh.ID, driver, origin, dest)
}

// drive advances along the straight origin->destination segment one tick at a
// time, submitting a ping per tick until the remaining distance is walkable
// in one step.
func (s *Simulator) drive(ctx context.Context, shipmentID string, driver model.Actor, origin, dest model.Coordinate) error {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	stepKm := s.cfg.SpeedKmh * tick.Hours()
	total := geo.HaversineKm(origin, dest)
	speed := s.cfg.SpeedKmh
	heading := bearingDeg(origin, dest)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	traveled := 0.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		traveled += stepKm
		if traveled >= total {
			traveled = total
		}
		pos := interpolate(origin, dest, traveled/total)
		if _, err := s.ingestor.SubmitPing(ctx, telemetry.PingInput{
			ShipmentID: shipmentID,
			DriverID:   driver.ID,
			Coord:      pos,
			SpeedKmh:   &speed,
			HeadingDeg: &heading,
			RecordedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("submit ping: %w", err)
		}
		if traveled >= total {
			break
		}
	}

	sh, err := s.st.Shipments.Get(ctx, shipmentID)
	if err != nil {
		return err
	}
	if err := s.machine.MarkDelivered(ctx, shipmentID, driver, sh.CompletionCode); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	s.log.Infof("trip %s delivered", shipmentID)
	return nil
}

func interpolate(a, b model.Coordinate, frac float64) model.Coordinate {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return model.Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*frac,
		Lon: a.Lon + (b.Lon-a.Lon)*frac,
	}
}

func bearingDeg(a, b model.Coordinate) float64 {
	la1 := a.Lat * math.Pi / 180
	la2 := b.Lat * math.Pi / 180
	dl := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dl) * math.Cos(la2)
	x := math.Cos(la1)*math.Sin(la2) - math.Sin(la1)*math.Cos(la2)*math.Cos(dl)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
