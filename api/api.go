// Package api exposes the dispatch core over HTTP. Authentication happens
// upstream; handlers read the verified actor from headers and pass it through.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openfleet/dispatchd/core/lifecycle"
	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/match"
	"github.com/openfleet/dispatchd/core/store"
	"github.com/openfleet/dispatchd/core/telemetry"
	"github.com/openfleet/dispatchd/infra/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Server serves the dispatch HTTP API.
type Server struct {
	st       store.Store
	matcher  *match.Matcher
	machine  *lifecycle.Machine
	ingestor *telemetry.Ingestor
	hub      *ws.Hub
	log      logger.Logger

	httpSrv *http.Server
}

// NewServer wires the API handlers. hub is optional; without it the live
// tracking endpoint returns 404.
func NewServer(cfg Config, st store.Store, matcher *match.Matcher, machine *lifecycle.Machine, ingestor *telemetry.Ingestor, hub *ws.Hub, log logger.Logger) *Server {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	s := &Server{
		st:       st,
		matcher:  matcher,
		machine:  machine,
		ingestor: ingestor,
		hub:      hub,
		log:      log,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/shipments", func(r chi.Router) {
		r.Post("/", s.handleCreateShipment)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetShipment)
			r.Get("/candidates", s.handleCandidates)
			r.Post("/auto-assign", s.handleAutoAssign)
			r.Post("/assign", s.handleAssign)
			r.Post("/accept", s.handleAccept)
			r.Post("/reject", s.handleReject)
			r.Post("/cancel", s.handleCancel)
			r.Post("/pickup", s.handlePickup)
			r.Post("/start", s.handleStartTransit)
			r.Post("/deliver", s.handleDeliver)
			r.Post("/close", s.handleClose)
			r.Post("/pings", s.handleSubmitPing)
			r.Get("/live", s.handleLive)
		})
	})
	return r
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.log.Infof("http api listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }
