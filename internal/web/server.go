// Package web is the network transport of the call agent.
//
// It serves a small REST API for inspecting stored calls and a websocket
// endpoint carrying the live call protocol: the browser sends start_call,
// audio_chunk, user_finished_speaking, user_text and end_call events and
// receives call_started, agent_speaking, user_spoke, processing, call_ended
// and error events. Every message is a JSON object with a "type" field.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/callagent/internal/app"
	"github.com/MrWong99/callagent/internal/health"
	"github.com/MrWong99/callagent/internal/observe"
	"github.com/MrWong99/callagent/pkg/store"
)

// ServiceName is reported by GET /.
const ServiceName = "AI Calling Agent"

const defaultListLimit = 20

// Config holds the dependencies of a [Server].
type Config struct {
	Sessions *app.SessionManager
	Store    store.Store
	Version  string

	// Health is optional; without it the probes are not mounted.
	Health *health.Handler

	// Metrics is optional. When set, HTTP requests are measured and /metrics
	// is mounted.
	Metrics *observe.Metrics

	// NewID assigns connection ids. Defaults to random UUIDs.
	NewID func() string
}

// Server routes REST and websocket traffic.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New returns a [Server] with every route registered.
func New(cfg Config) *Server {
	if cfg.NewID == nil {
		cfg.NewID = newConnID
	}
	if cfg.Store == nil && cfg.Sessions != nil {
		cfg.Store = cfg.Sessions.Store()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/calls", s.handleListCalls)
	s.mux.HandleFunc("GET /api/calls/{id}", s.handleGetCall)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}
	if cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}
	return s
}

// Handler returns the root handler, wrapped in the metrics middleware when
// metrics are configured.
func (s *Server) Handler() http.Handler {
	if s.cfg.Metrics == nil {
		return s.mux
	}
	return observe.Middleware(s.cfg.Metrics)(s.mux)
}

// ── REST ────────────────────────────────────────────────────────────────────

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "running",
		"service": ServiceName,
		"version": s.cfg.Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cfg.Store.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	calls, err := s.cfg.Store.ListCalls(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list calls", err)
		return
	}
	if calls == nil {
		calls = []store.CallRecord{}
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	rec, err := s.cfg.Store.GetCall(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Call not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "get call", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).Error("web: "+op, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("web: write response", "err", err)
	}
}
