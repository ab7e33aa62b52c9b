// SPDX-License-Identifier: MIT

// Package api serves the read-mostly HTTP surface: job listings and
// logs, processing statistics, library detail, and Prometheus metrics.
// Mutations are limited to queue lifecycle operations (cancel,
// requeue); media changes always go through the job queue.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	vpolog "github.com/randomparity/vpo-sub005/internal/log"
	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/store"
)

// Options configure the server surface.
type Options struct {
	// AuthToken guards /api when non-empty; clients present it as a
	// bearer token or as the basic-auth password.
	AuthToken string

	// RequestsPerMinute bounds each client IP. Zero means 120.
	RequestsPerMinute int
}

// Server is the HTTP facade over the store and queue.
type Server struct {
	store *store.Store
	queue *queue.Queue
	opts  Options
	log   zerolog.Logger

	shuttingDown atomic.Bool
}

func NewServer(st *store.Store, q *queue.Queue, opts Options) *Server {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 120
	}
	return &Server{
		store: st,
		queue: q,
		opts:  opts,
		log:   vpolog.WithComponent("api"),
	}
}

// SetShuttingDown flips /health to 503 so load balancers drain before
// the listener closes.
func (s *Server) SetShuttingDown() {
	s.shuttingDown.Store(true)
}

// Handler builds the chi router with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(httprate.LimitByIP(s.opts.RequestsPerMinute, time.Minute))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.opts.AuthToken != "" {
			r.Use(s.requireAuth)
		}
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/logs", s.handleJobLogs)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Post("/jobs/{id}/requeue", s.handleRequeueJob)
		r.Get("/stats/summary", s.handleStatsSummary)
		r.Get("/stats/recent", s.handleStatsRecent)
		r.Get("/stats/trends", s.handleStatsTrends)
		r.Get("/library/{id}", s.handleLibraryFile)
		r.Get("/plugins", s.handlePlugins)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// requireAuth accepts the shared token either as a bearer token or as
// the password of HTTP basic auth (any username), compared in constant
// time.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var candidate string
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			candidate = strings.TrimPrefix(header, "Bearer ")
		} else if _, pass, ok := r.BasicAuth(); ok {
			candidate = pass
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(s.opts.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store_unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
