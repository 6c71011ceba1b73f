// Package server is the local status API of the sync daemon.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Tiliavir/stampclock/internal/metrics"
	"github.com/Tiliavir/stampclock/internal/queue"
	"github.com/Tiliavir/stampclock/internal/remote"
	"github.com/Tiliavir/stampclock/internal/tracker"
)

// Reachability reports the last known backend state.
type Reachability interface {
	Reachable() bool
}

// Config holds the collaborators served by the API. Metrics and Monitor may
// be nil.
type Config struct {
	Tracker   *tracker.Service
	Queue     *queue.Queue
	Processor *queue.Processor
	Monitor   Reachability
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Server serves the daemon's HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger.With("component", "server")}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.cfg.Metrics.Handler())

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", s.handleQueueList)
		r.Post("/process", s.handleQueueProcess)
		r.Delete("/{id}", s.handleQueueDrop)
	})
	r.Post("/stamp", s.handleStamp)

	return r
}

type healthResponse struct {
	Status     string `json:"status"`
	Reachable  *bool  `json:"reachable,omitempty"`
	QueueDepth int    `json:"queue_depth"`
	Draining   bool   `json:"draining"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		QueueDepth: s.cfg.Queue.Len(r.Context()),
		Draining:   s.cfg.Processor.Running(),
	}
	if s.cfg.Monitor != nil {
		ok := s.cfg.Monitor.Reachable()
		resp.Reachable = &ok
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.cfg.Queue.PeekAll(r.Context()),
	})
}

type drainResponse struct {
	Replayed  int    `json:"replayed"`
	Remaining int    `json:"remaining"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleQueueProcess(w http.ResponseWriter, r *http.Request) {
	res := s.cfg.Processor.ProcessQueue(r.Context())
	resp := drainResponse{Replayed: res.Replayed, Remaining: res.Remaining, Skipped: res.Skipped}
	status := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
		status = statusFor(res.Err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleQueueDrop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Queue.Dequeue(r.Context(), id); err != nil {
		s.logger.Error("error dropping queued item", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stampResponse struct {
	Message    string             `json:"message"`
	Transition tracker.Transition `json:"transition"`
	Queued     bool               `json:"queued"`
	Entry      any                `json:"entry"`
}

func (s *Server) handleStamp(w http.ResponseWriter, r *http.Request) {
	res, err := s.cfg.Tracker.StampToggle(r.Context())
	if err != nil && !res.Queued {
		s.logger.Warn("stamp failed", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, stampResponse{
		Message:    res.Message,
		Transition: res.Transition,
		Queued:     res.Queued,
		Entry:      res.Entry,
	})
}

// statusFor maps an error from the sync engine to a response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, remote.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case remote.IsNetwork(err):
		return http.StatusServiceUnavailable
	case remote.IsRemote(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
		},
	})
}
