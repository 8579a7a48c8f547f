// Package server exposes the leaderboard and rank history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/pipeline"
	"github.com/aluiziolira/go-bsr-tracker/store"
)

// ErrRefreshInProgress is returned when a cycle is already running.
var ErrRefreshInProgress = errors.New("server: refresh already in progress")

// RefreshFunc runs one scrape-and-publish cycle.
type RefreshFunc func(ctx context.Context) (models.OutputData, error)

// Server serves the stored documents. Reads never block on a running cycle.
type Server struct {
	snapshots *store.SnapshotStore
	projector *pipeline.Projector
	refresh   RefreshFunc
	gatherer  prometheus.Gatherer
	tracer    trace.TracerProvider

	cycle sync.Mutex
}

// Option customises a Server.
type Option func(*Server)

// WithRefresh enables POST /api/refresh.
func WithRefresh(fn RefreshFunc) Option {
	return func(s *Server) {
		s.refresh = fn
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithTracerProvider records request spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp
	}
}

// New builds a server over stores.
func New(stores pipeline.Stores, opts ...Option) *Server {
	s := &Server{
		snapshots: stores.Snapshots,
		projector: pipeline.NewProjector(stores.Historical, nil),
		tracer:    otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router wrapped in request tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/books", s.books)
		r.Get("/history", s.history)
		r.Get("/history/books", s.historyBooks)
		r.Get("/history/series", s.historySeries)
		r.Post("/refresh", s.refreshNow)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return otelhttp.NewHandler(r, "bsr-api",
		otelhttp.WithTracerProvider(s.tracer),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Refresh runs one cycle unless another is already running.
func (s *Server) Refresh(ctx context.Context) (models.OutputData, error) {
	if s.refresh == nil {
		return models.OutputData{}, errors.New("server: refresh not configured")
	}
	if !s.cycle.TryLock() {
		return models.OutputData{}, ErrRefreshInProgress
	}
	defer s.cycle.Unlock()
	return s.refresh(ctx)
}

func (s *Server) books(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projector.CurrentView())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	days, ok := daysParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.snapshots.Query(days))
}

func (s *Server) historyBooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshots.ListAllBooks())
}

func (s *Server) historySeries(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	days, ok := daysParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":    url,
		"series": s.snapshots.BookSeries(url, days),
	})
}

func (s *Server) refreshNow(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusNotFound, "refresh not configured")
		return
	}
	// A client hanging up must not abort a cycle halfway through publishing.
	out, err := s.Refresh(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, ErrRefreshInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		slog.Error("refresh failed", slog.String("request_id", chimw.GetReqID(r.Context())), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "refresh failed")
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

// daysParam reads ?days=N; absent means unfiltered.
func daysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return 0, false
	}
	return days, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("remote", r.RemoteAddr),
		)
	})
}
