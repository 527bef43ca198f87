package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/jobs"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-search-crawler/internal/ranker"
)

// Defaults for search requests.
const (
	DefaultSearchK = 5
	MaxSearchK     = 50
)

// Jobs starts and tracks crawl jobs.
type Jobs interface {
	Start(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
	Get(ctx context.Context, id string) (crawler.Job, error)
	Cancel(ctx context.Context, id string) (crawler.Job, error)
}

// Searcher answers ranked queries.
type Searcher interface {
	Retrieve(ctx context.Context, query string, k int) ([]ranker.Result, string, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options tune the Server.
type Options struct {
	// APIKey, when non-empty, is required on /v1 routes.
	APIKey         string
	RequestTimeout time.Duration
	Ready          map[string]ReadyCheck
}

// Server wires HTTP handlers to the job manager and the ranker.
type Server struct {
	router chi.Router
	jobs   Jobs
	search Searcher
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobsSvc Jobs, search Searcher, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		jobs:   jobsSvc,
		search: search,
		opts:   opts,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.startCrawl)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Post("/cancel", s.cancelCrawl)
			})
		})
		r.Get("/search", s.searchHandler)
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
	failures := map[string]string{}
	for name, check := range s.opts.Ready {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Seeds          []string `json:"seeds"`
	AllowedDomains []string `json:"allowed_domains"`
	MaxPages       int      `json:"max_pages"`
	Workers        int      `json:"workers"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Start(r.Context(), crawler.JobParameters{
		Seeds:          req.Seeds,
		AllowedDomains: req.AllowedDomains,
		MaxPages:       req.MaxPages,
		Workers:        req.Workers,
	})
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/crawls/"+job.ID)
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job, "cancel_requested": true})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		s.writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}
	q := r.URL.Query().Get("q")
	k := DefaultSearchK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxSearchK {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be an integer between 1 and %d", MaxSearchK))
			return
		}
		k = n
	}
	results, mode, err := s.search.Retrieve(r.Context(), q, k)
	switch {
	case errors.Is(err, ranker.ErrEmptyQuery):
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	case err != nil:
		s.logger.Error("search failed", zap.String("query", q), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"query": q, "mode": mode, "results": results})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawler.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrFinished):
		s.writeError(w, http.StatusConflict, "job already finished")
	case errors.Is(err, jobs.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		s.logger.Error("job request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
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

// RequestID returns the request id stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
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
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
