package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/geo"
	"github.com/openfleet/dispatchd/core/match"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/telemetry"
)

func actorFrom(r *http.Request) model.Actor {
	return model.Actor{
		ID:   r.Header.Get("X-Actor-ID"),
		Role: model.Role(r.Header.Get("X-Actor-Role")),
	}
}

type createShipmentRequest struct {
	Reference       string           `json:"reference"`
	Origin          model.Coordinate `json:"origin"`
	OriginName      string           `json:"origin_name"`
	Destination     model.Coordinate `json:"destination"`
	DestinationName string           `json:"destination_name"`
	CustomerID      string           `json:"customer_id"`
	ScheduledETA    time.Time        `json:"scheduled_eta"`

	AutoAssign  bool              `json:"auto_assign"`
	Constraints match.Constraints `json:"constraints"`
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("decode request: %v", err))
		return
	}
	actor := actorFrom(r)
	if actor.ID == "" {
		writeError(w, errs.Authorizationf("missing actor"))
		return
	}
	customerID := req.CustomerID
	if actor.Role == model.RoleCustomer {
		customerID = actor.ID
	}
	now := time.Now().UTC()
	sh := &model.Shipment{
		ID:              uuid.NewString(),
		Reference:       req.Reference,
		Origin:          req.Origin,
		OriginName:      req.OriginName,
		Destination:     req.Destination,
		DestinationName: req.DestinationName,
		Status:          model.StatusCreated,
		DistanceKm:      geo.HaversineKm(req.Origin, req.Destination),
		ScheduledETA:    req.ScheduledETA,
		CreatedByID:     actor.ID,
		CreatedByRole:   actor.Role,
		CustomerID:      customerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	sh.DistanceRemainingKm = sh.DistanceKm
	if err := sh.Validate(); err != nil {
		writeError(w, errs.Validationf("%v", err))
		return
	}
	if err := s.st.Shipments.Create(r.Context(), sh); err != nil {
		writeError(w, err)
		return
	}
	if req.AutoAssign {
		if _, err := s.matcher.AutoAssign(r.Context(), sh.ID, req.Constraints); err != nil && !errors.Is(err, errs.ErrNoCandidate) {
			writeError(w, err)
			return
		}
		var err error
		if sh, err = s.st.Shipments.Get(r.Context(), sh.ID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := s.st.Shipments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	sh, err := s.st.Shipments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	cands, err := s.matcher.FindCandidates(r.Context(), sh.Origin, match.Constraints{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cands)
}

func (s *Server) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	var c match.Constraints
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeError(w, errs.Validationf("decode request: %v", err))
			return
		}
	}
	cand, err := s.matcher.AutoAssign(r.Context(), chi.URLParam(r, "id"), c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

type assignRequest struct {
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("decode request: %v", err))
		return
	}
	if err := s.matcher.Assign(r.Context(), chi.URLParam(r, "id"), req.DriverID, req.VehicleID, actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if err := s.matcher.Accept(r.Context(), chi.URLParam(r, "id"), actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.matcher.Reject(r.Context(), chi.URLParam(r, "id"), actorFrom(r), match.Constraints{}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Validationf("decode request: %v", err))
			return
		}
	}
	if err := s.machine.Cancel(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.MarkPickedUp(r.Context(), chi.URLParam(r, "id"), actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleStartTransit(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("decode request: %v", err))
		return
	}
	if err := s.machine.StartTransit(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("decode request: %v", err))
		return
	}
	if err := s.machine.MarkDelivered(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Code); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Close(r.Context(), chi.URLParam(r, "id"), actorFrom(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pingRequest struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKmh   *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (s *Server) handleSubmitPing(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validationf("decode request: %v", err))
		return
	}
	actor := actorFrom(r)
	sh, err := s.ingestor.SubmitPing(r.Context(), telemetry.PingInput{
		ShipmentID: chi.URLParam(r, "id"),
		DriverID:   actor.ID,
		Coord:      model.Coordinate{Lat: req.Lat, Lon: req.Lon},
		SpeedKmh:   req.SpeedKmh,
		HeadingDeg: req.HeadingDeg,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.st.Shipments.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.hub.ServeShipment(w, r, id)
}
