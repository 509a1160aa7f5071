// Package app assembles the dispatch service from its configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openfleet/dispatchd/api"
	"github.com/openfleet/dispatchd/config"
	"github.com/openfleet/dispatchd/core/geofence"
	"github.com/openfleet/dispatchd/core/lifecycle"
	"github.com/openfleet/dispatchd/core/match"
	coremetrics "github.com/openfleet/dispatchd/core/metrics"
	corenotify "github.com/openfleet/dispatchd/core/notify"
	"github.com/openfleet/dispatchd/core/routing"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/core/telemetry"
	"github.com/openfleet/dispatchd/infra/logger"
	"github.com/openfleet/dispatchd/infra/metrics"
	"github.com/openfleet/dispatchd/infra/mqtt"
	infranotify "github.com/openfleet/dispatchd/infra/notify"
	infrarouting "github.com/openfleet/dispatchd/infra/routing"
	"github.com/openfleet/dispatchd/infra/store/postgres"
	"github.com/openfleet/dispatchd/infra/ws"
	"github.com/openfleet/dispatchd/internal/eventbus"
	"github.com/openfleet/dispatchd/simulator"
)

// Service orchestrates the dispatch engine and its adapters.
type Service struct {
	Store    store.Store
	Matcher  *match.Matcher
	Machine  *lifecycle.Machine
	Ingestor *telemetry.Ingestor

	cfg        *config.Config
	log        logger.Logger
	dispatcher *corenotify.Dispatcher
	hub        *ws.Hub
	apiSrv     *api.Server
	source     *mqtt.Source
	sim        *simulator.Simulator
	sink       coremetrics.Sink

	transitionBus *eventbus.Bus[lifecycle.Transition]
	positionBus   *eventbus.Bus[telemetry.PositionUpdate]
	db            *postgres.DB
	kafka         *infranotify.KafkaTransport
}

// notifySink bridges the notification dispatcher to the metrics sink.
type notifySink struct {
	sink coremetrics.Sink
}

func (s notifySink) RecordNotification(n corenotify.Notification) {
	s.sink.RecordNotification(coremetrics.NotificationSample{
		Role:     n.Role,
		Event:    string(n.Event),
		Severity: string(n.Severity),
	})
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics, logg))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = coremetrics.NewMultiSink(sinks...)
	}

	svc := &Service{
		cfg:           cfg,
		log:           logg,
		sink:          sink,
		transitionBus: eventbus.New[lifecycle.Transition](),
		positionBus:   eventbus.New[telemetry.PositionUpdate](),
	}

	var st store.Store
	if cfg.Postgres.Enabled {
		db, err := postgres.Open(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		svc.db = db
		st = db.Stores()
	} else {
		st = store.NewMemory()
	}
	svc.Store = st

	var transport corenotify.Transport
	if cfg.Notify.Backend == "kafka" {
		svc.kafka = infranotify.NewKafkaTransport(cfg.Notify)
		transport = svc.kafka
	} else {
		transport = infranotify.NewLogTransport(logger.New("notify"))
	}
	svc.dispatcher = corenotify.NewDispatcher(transport, logg, notifySink{sink})

	svc.Machine = lifecycle.NewMachine(st.Shipments, st.Vehicles, svc.dispatcher, svc.transitionBus, logg)
	svc.Matcher = match.New(st, svc.Machine, svc.dispatcher, logg).WithSink(sink)

	var router routing.Router
	if cfg.Routing.Enabled {
		router = infrarouting.NewClient(cfg.Routing)
	}
	var fence geofence.Evaluator
	if zones := cfg.Geofence.Build(); len(zones) > 0 {
		fence = geofence.NewCircleEvaluator(zones)
	}

	ing, err := telemetry.NewIngestor(st, svc.Machine, router, fence, svc.dispatcher, sink, svc.positionBus, logg, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("ingestor: %w", err)
	}
	svc.Ingestor = ing

	svc.hub = ws.NewHub(svc.positionBus, logger.New("ws"))
	if cfg.API.Enabled {
		svc.apiSrv = api.NewServer(cfg.API, st, svc.Matcher, svc.Machine, ing, svc.hub, logger.New("api"))
	}
	if cfg.MQTT.Enabled {
		svc.source = mqtt.NewSource(cfg.MQTT, ing, logger.New("mqtt"))
	}
	if cfg.Simulator.Enabled {
		svc.sim = simulator.New(cfg.Simulator, st, svc.Matcher, svc.Machine, ing, logger.New("simulator"))
	}
	return svc, nil
}

// Run starts every enabled adapter and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.dispatcher.Start()
	s.hub.Start()
	go s.recordTransitions()

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.source != nil {
		if err := s.source.Start(ctx); err != nil {
			return fmt.Errorf("mqtt source: %w", err)
		}
	}
	if s.apiSrv != nil {
		go func() {
			if err := s.apiSrv.Start(); err != nil {
				s.log.Errorf("api server: %v", err)
			}
		}()
	}
	if s.sim != nil {
		if err := s.sim.Start(ctx); err != nil {
			return fmt.Errorf("simulator: %w", err)
		}
	}

	<-ctx.Done()

	if s.apiSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.apiSrv.Shutdown(shutCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}
	return nil
}

// recordTransitions feeds every applied lifecycle transition into the
// metrics sink.
func (s *Service) recordTransitions() {
	sub := s.transitionBus.Subscribe()
	for tr := range sub {
		s.sink.RecordTransition(coremetrics.TransitionSample{
			ShipmentID: tr.ShipmentID,
			From:       tr.From,
			To:         tr.To,
			At:         tr.At,
		})
	}
}

// Close releases resources held by the service. Closing twice is safe.
func (s *Service) Close() error {
	if s.sim != nil {
		s.sim.Stop()
	}
	if s.source != nil {
		s.source.Stop()
	}
	s.hub.Stop()
	s.dispatcher.Stop()
	s.transitionBus.Close()
	s.positionBus.Close()
	if closer, ok := s.sink.(interface{ Close() }); ok {
		closer.Close()
	}
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.log.Errorf("kafka close: %v", err)
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
