// Package api exposes the retry engine to the rest of the storefront: the
// order-submission route schedules operations, the webhook receiver defers
// payment events, and operator tooling reads operation state and statistics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"frame-fulfillment/manager"
	"frame-fulfillment/model"
	"frame-fulfillment/store"
)

// Server handles the fulfillment HTTP surface.
type Server struct {
	manager *manager.Manager
	store   store.Store
	logger  *slog.Logger
}

// NewServer builds the HTTP server for addr.
func NewServer(addr string, mgr *manager.Manager, st store.Store, logger *slog.Logger) *http.Server {
	srv := &Server{manager: mgr, store: st, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /operations", srv.scheduleOperation)
	mux.HandleFunc("GET /operations/{id}", srv.getOperation)
	mux.HandleFunc("POST /operations/{id}/process", srv.processOperation)
	mux.HandleFunc("DELETE /operations/{id}", srv.cancelOperation)
	mux.HandleFunc("GET /stats", srv.getStats)

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

type scheduleRequest struct {
	Type      model.Type      `json:"type"`
	SubjectID string          `json:"subject_id"`
	Payload   json.RawMessage `json:"payload"`
	Immediate bool            `json:"immediate"`
}

func (s *Server) scheduleOperation(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" || req.SubjectID == "" {
		http.Error(w, "type and subject_id are required", http.StatusBadRequest)
		return
	}

	id, err := s.manager.Schedule(r.Context(), req.Type, req.SubjectID, req.Payload, req.Immediate)
	if err != nil {
		s.logger.Error("schedule failed", "type", req.Type, "subject", req.SubjectID, "err", err)
		http.Error(w, "failed to schedule operation", http.StatusInternalServerError)
		return
	}

	op, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("load scheduled operation failed", "id", id, "err", err)
		http.Error(w, "failed to load operation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, s.logger, op)
}

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	op, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "operation not found", http.StatusNotFound)
			return
		}
		s.logger.Error("load operation failed", "id", r.PathValue("id"), "err", err)
		http.Error(w, "failed to load operation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.logger, op)
}

func (s *Server) processOperation(w http.ResponseWriter, r *http.Request) {
	ok, err := s.manager.Process(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("process failed", "id", r.PathValue("id"), "err", err)
		http.Error(w, "failed to process operation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.logger, map[string]bool{"success": ok})
}

func (s *Server) cancelOperation(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "operation not found", http.StatusNotFound)
	case errors.Is(err, manager.ErrInvalidTransition):
		http.Error(w, "operation cannot be cancelled", http.StatusConflict)
	default:
		s.logger.Error("cancel failed", "id", r.PathValue("id"), "err", err)
		http.Error(w, "failed to cancel operation", http.StatusInternalServerError)
	}
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since timestamp", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	counts, err := s.manager.Stats(r.Context(), since)
	if err != nil {
		s.logger.Error("stats failed", "err", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.logger, counts)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response failed", "err", err)
	}
}
