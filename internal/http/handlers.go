// Package http exposes the intake pipeline over a small JSON API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"intake-guard/internal/orchestrator"
	"intake-guard/internal/provider"
	"intake-guard/internal/session"
	"intake-guard/pkg"
)

// Server bundles the dependencies the HTTP handlers need.
type Server struct {
	Orch     *orchestrator.Orchestrator
	Sessions session.Store
	Gateway  *provider.Gateway
	Log      *zap.Logger
}

// NewServer constructs a Server.
func NewServer(orch *orchestrator.Orchestrator, sessions session.Store, gateway *provider.Gateway, log *zap.Logger) *Server {
	return &Server{Orch: orch, Sessions: sessions, Gateway: gateway, Log: log}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", s.handleSessionStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/turns", s.handleProcessTurn).Methods(http.MethodPost)
	return r
}

type createSessionRequest struct {
	Language string `json:"language,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty body is a valid request for a session with no
		// language preference.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	sess, err := s.Sessions.Create(r.Context(), strings.ToLower(req.Language))
	if err != nil {
		s.internalError(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.Sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type processTurnRequest struct {
	Text         string `json:"text"`
	Modality     string `json:"modality,omitempty"`
	LanguageHint string `json:"language_hint,omitempty"`
}

func (s *Server) handleProcessTurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req processTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	modality := pkg.Modality(req.Modality)
	if modality == "" {
		modality = pkg.ModalityText
	}
	if modality != pkg.ModalityText && modality != pkg.ModalityVoice {
		http.Error(w, "modality must be text or voice", http.StatusBadRequest)
		return
	}

	resp, err := s.Orch.ProcessTurn(r.Context(), orchestrator.TurnRequest{
		SessionID:    id,
		PatientText:  req.Text,
		Modality:     modality,
		LanguageHint: req.LanguageHint,
	})
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		http.Error(w, "text must be non-empty", http.StatusBadRequest)
		return
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
		return
	case err != nil:
		s.internalError(w, "process turn", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"breakers": s.Gateway.BreakerStates(),
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.Log.Error("handler error", zap.String("op", op), zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
