// Package api exposes the HTTP interface for the newswatch service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/config"
	"github.com/JakeFAU/newswatch/internal/crawler"
	"github.com/JakeFAU/newswatch/internal/metrics"
)

const (
	enqueueTimeout = 5 * time.Second
	readyTimeout   = 2 * time.Second
)

// Targets lists and resolves configured crawl targets.
type Targets interface {
	Targets() []crawler.CrawlTarget
	Lookup(key string) (crawler.CrawlTarget, error)
}

// Enqueuer stamps and publishes a job message.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg crawler.JobMessage) (crawler.JobMessage, error)
}

// ReadyCheck reports whether a downstream dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	targets  Targets
	enqueuer Enqueuer
	progress *ProgressHandler
	checks   map[string]ReadyCheck
	clock    crawler.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	targets Targets,
	enqueuer Enqueuer,
	progress *ProgressHandler,
	checks map[string]ReadyCheck,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		targets:  targets,
		enqueuer: enqueuer,
		progress: progress,
		checks:   checks,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/targets", s.listTargets)
		r.Post("/jobs", s.submitJob)
		if progress != nil {
			r.Get("/runs", progress.ListRuns)
			r.Get("/entries", progress.ListEntries)
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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	failures := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTargets(w http.ResponseWriter, _ *http.Request) {
	targets := s.targets.Targets()
	out := make([]targetDTO, 0, len(targets))
	for _, t := range targets {
		out = append(out, targetDTO{
			Key:         t.Key(),
			SiteURL:     t.SiteURL,
			SectionPath: t.SectionPath,
			URL:         t.URL(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	msg, err := s.toJobMessage(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, crawler.ErrUnknownTarget) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	msg, err = s.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		s.logger.Error("manual enqueue failed", zap.String("task", string(req.Task)), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, "failed to enqueue job")
		return
	}
	s.logger.Info("job enqueued via API",
		zap.String("job_id", msg.ID),
		zap.String("task", string(msg.TaskName)),
		zap.String("target", msg.TargetKey),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     msg.ID,
		"task":       msg.TaskName,
		"target_key": msg.TargetKey,
	})
}

func (s *Server) toJobMessage(req jobRequest) (crawler.JobMessage, error) {
	task, err := crawler.ParseTaskName(string(req.Task))
	if err != nil {
		return crawler.JobMessage{}, err
	}
	msg := crawler.JobMessage{TaskName: task}
	switch {
	case task == crawler.TaskCrawl && req.TargetKey == "":
		return crawler.JobMessage{}, errors.New("target_key required for crawl jobs")
	case task == crawler.TaskCrawl:
		target, err := s.targets.Lookup(req.TargetKey)
		if err != nil {
			return crawler.JobMessage{}, err
		}
		msg.TargetKey = target.Key()
	case req.TargetKey != "":
		return crawler.JobMessage{}, fmt.Errorf("task %s does not take a target", task)
	}
	if req.ExpiresInSeconds != nil {
		if *req.ExpiresInSeconds <= 0 {
			return crawler.JobMessage{}, errors.New("expires_in_seconds must be > 0")
		}
		now := s.clock.Now().UTC()
		msg.EnqueuedAt = now
		msg.ExpiresAt = now.Add(time.Duration(*req.ExpiresInSeconds) * time.Second)
	}
	return msg, nil
}

type jobRequest struct {
	Task             crawler.TaskName `json:"task"`
	TargetKey        string           `json:"target_key"`
	ExpiresInSeconds *int             `json:"expires_in_seconds"`
}

type targetDTO struct {
	Key         string `json:"key"`
	SiteURL     string `json:"site_url"`
	SectionPath string `json:"section_path"`
	URL         string `json:"url"`
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
