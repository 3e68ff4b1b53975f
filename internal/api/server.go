// Package api exposes the HTTP status interface for docfetcher.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
	"github.com/JakeFAU/docfetcher/internal/metrics"
)

// ErrRunInProgress is returned by a Trigger when a run is already executing.
var ErrRunInProgress = errors.New("run already in progress")

// SummarySource reports the phase summaries of the most recent run.
type SummarySource interface {
	Latest() []crawler.PhaseSummary
}

// Trigger starts a pipeline run in the background and returns its run ID.
type Trigger interface {
	Start(mode string) (string, error)
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Server wires HTTP handlers to the run summaries and the run trigger.
type Server struct {
	router  chi.Router
	runs    SummarySource
	trigger Trigger
	ready   ReadyFunc
	logger  *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithTrigger enables POST /v1/runs.
func WithTrigger(t Trigger) Option {
	return func(s *Server) { s.trigger = t }
}

// WithReadiness sets the check behind /readyz.
func WithReadiness(fn ReadyFunc) Option {
	return func(s *Server) { s.ready = fn }
}

// NewServer constructs a Server with middleware and routes. An empty apiKey
// leaves the /v1 routes open.
func NewServer(runs SummarySource, apiKey string, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runs: runs, logger: logger.Named("api")}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(apiKeyMiddleware(apiKey))
		}
		r.Get("/runs/latest", s.latestRun)
		if s.trigger != nil {
			r.Post("/runs", s.startRun)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) latestRun(w http.ResponseWriter, _ *http.Request) {
	var phases []crawler.PhaseSummary
	if s.runs != nil {
		phases = s.runs.Latest()
	}
	if len(phases) == 0 {
		s.writeError(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, runResponse{RunID: phases[0].RunID, Phases: phases})
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	req := runRequest{Mode: "fetch"}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	runID, err := s.trigger.Start(req.Mode)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "mode": req.Mode})
}

type runRequest struct {
	Mode string `json:"mode"`
}

type runResponse struct {
	RunID  string                 `json:"run_id"`
	Phases []crawler.PhaseSummary `json:"phases"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
