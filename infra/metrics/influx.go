package metrics

import (
	"context"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/openfleet/dispatchd/core/logger"
	coremetrics "github.com/openfleet/dispatchd/core/metrics"
	"github.com/openfleet/dispatchd/core/model"
)

// InfluxSink writes shipment tracking time-series to InfluxDB using the
// official client. Positions become a "shipment_position" measurement,
// driver events a "driver_event" one.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg Config, log logger.Logger) *InfluxSink {
	if log == nil {
		log = logger.Nop{}
	}
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		log:      log,
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// when the health check fails, so a missing backend never breaks ingestion.
func NewInfluxSinkWithFallback(cfg Config, log logger.Logger) coremetrics.Sink {
	sink := NewInfluxSink(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) RecordPing(p coremetrics.PingSample) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pt := write.NewPointWithMeasurement("shipment_position").
		AddTag("shipment_id", p.ShipmentID).
		AddTag("driver_id", p.DriverID).
		AddField("lat", p.Coord.Lat).
		AddField("lon", p.Coord.Lon).
		AddField("progress_pct", p.ProgressPct).
		SetTime(p.At)
	if p.SpeedKmh != nil {
		pt.AddField("speed_kmh", *p.SpeedKmh)
	}
	if err := s.writeAPI.WritePoint(ctx, pt); err != nil {
		s.log.Errorf("influx write position: %v", err)
	}
}

func (s *InfluxSink) RecordDriverEvent(e model.DriverEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pt := write.NewPointWithMeasurement("driver_event").
		AddTag("shipment_id", e.ShipmentID).
		AddTag("driver_id", e.DriverID).
		AddTag("type", string(e.Type)).
		AddField("severity", e.Severity).
		SetTime(e.RecordedAt)
	if err := s.writeAPI.WritePoint(ctx, pt); err != nil {
		s.log.Errorf("influx write driver event: %v", err)
	}
}

func (s *InfluxSink) RecordTransition(t coremetrics.TransitionSample) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pt := write.NewPointWithMeasurement("shipment_transition").
		AddTag("shipment_id", t.ShipmentID).
		AddTag("from", string(t.From)).
		AddTag("to", string(t.To)).
		AddField("count", 1).
		SetTime(t.At)
	if err := s.writeAPI.WritePoint(ctx, pt); err != nil {
		s.log.Errorf("influx write transition: %v", err)
	}
}

// Notifications and assignments are low-volume counters; Prometheus covers
// them and they carry no time-series value, so the Influx sink skips them.
func (s *InfluxSink) RecordNotification(coremetrics.NotificationSample) {}

func (s *InfluxSink) RecordAssignment(coremetrics.AssignmentSample) {}

// Close flushes and closes the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}
