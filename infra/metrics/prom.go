// Package metrics implements the core metrics sink on Prometheus and
// InfluxDB backends.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	coremetrics "github.com/openfleet/dispatchd/core/metrics"
	"github.com/openfleet/dispatchd/core/model"
)

// PromSink records dispatch engine activity in Prometheus metrics.
type PromSink struct {
	pings         *prometheus.CounterVec
	driverEvents  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	assignments   *prometheus.CounterVec
	progress      *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The Prometheus server should be started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_pings_total",
			Help: "Total number of ingested location pings",
		}, []string{"shipment_id"}),
		driverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driver_events_total",
			Help: "Total number of recorded driver behavior events",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipment_transitions_total",
			Help: "Total number of shipment lifecycle transitions",
		}, []string{"from", "to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of triggered stakeholder notifications",
		}, []string{"role", "event"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assignments_total",
			Help: "Total number of matching runs by mode and outcome",
		}, []string{"mode", "outcome"}),
		progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shipment_progress_pct",
			Help: "Latest delivery progress per shipment",
		}, []string{"shipment_id"}),
	}
	collectors := []prometheus.Collector{
		s.pings, s.driverEvents, s.transitions, s.notifications, s.assignments, s.progress,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *PromSink) RecordPing(p coremetrics.PingSample) {
	s.pings.WithLabelValues(p.ShipmentID).Inc()
	s.progress.WithLabelValues(p.ShipmentID).Set(float64(p.ProgressPct))
}

func (s *PromSink) RecordDriverEvent(e model.DriverEvent) {
	s.driverEvents.WithLabelValues(string(e.Type)).Inc()
}

func (s *PromSink) RecordTransition(t coremetrics.TransitionSample) {
	s.transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
}

func (s *PromSink) RecordNotification(n coremetrics.NotificationSample) {
	s.notifications.WithLabelValues(string(n.Role), n.Event).Inc()
}

func (s *PromSink) RecordAssignment(a coremetrics.AssignmentSample) {
	mode := "manual"
	if a.Auto {
		mode = "auto"
	}
	outcome := "matched"
	if !a.Matched {
		outcome = "no_candidate"
	}
	s.assignments.WithLabelValues(mode, outcome).Inc()
}

// StartPromServer exposes /metrics on the given address until the context is
// canceled. A dedicated ServeMux avoids interfering with other handlers.
func StartPromServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("prom server shutdown: %v", err)
		}
		cancel()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
