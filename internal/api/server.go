// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/dispatcher"
	crawlid "github.com/JakeFAU/urlharvest/internal/id/uuid"
	"github.com/JakeFAU/urlharvest/internal/metrics"
	"github.com/JakeFAU/urlharvest/internal/pipeline"
)

// Runner starts crawls and drives them through the post-crawl pipeline;
// *pipeline.Pipeline satisfies it.
type Runner interface {
	Start(ctx context.Context, seed string) (*dispatcher.Handle, error)
	Finish(ctx context.Context, h *dispatcher.Handle, selection []category.Category) (pipeline.Outcome, error)
}

// Options configures a Server.
type Options struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey         string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the crawl pipeline and tracks every crawl it
// started.
type Server struct {
	router chi.Router
	runner Runner
	logger *zap.Logger

	// base outlives individual requests; crawls are bound to it.
	base     context.Context
	stopAll  context.CancelFunc
	mu       sync.RWMutex
	crawls   map[string]*crawlEntry
	shutdown bool
}

type crawlEntry struct {
	handle    *dispatcher.Handle
	selection []category.Category
	done      chan struct{}

	mu      sync.Mutex
	outcome *pipeline.Outcome
	err     error
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	base, stopAll := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		logger:  logger.Named("api"),
		base:    base,
		stopAll: stopAll,
		crawls:  make(map[string]*crawlEntry),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.startCrawl)
			r.Get("/", s.listCrawls)
			r.Route("/{crawl_id}", func(r chi.Router) {
				r.Get("/", s.getCrawl)
				r.Get("/urls", s.getCrawlURLs)
				r.Post("/cancel", s.cancelCrawl)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels every running crawl and waits until their pipelines have
// persisted what was collected, or ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	entries := make([]*crawlEntry, 0, len(s.crawls))
	for _, e := range s.crawls {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	s.stopAll()
	for _, e := range entries {
		select {
		case <-e.done:
		case <-ctx.Done():
			return fmt.Errorf("wait for crawls: %w", ctx.Err())
		}
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startCrawlRequest struct {
	Seed       string   `json:"seed"`
	Categories []string `json:"categories"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var selection []category.Category
	if len(req.Categories) > 0 {
		var err error
		if selection, err = category.ParseSelection(req.Categories); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	h, err := s.runner.Start(s.base, req.Seed)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrInvalidSeed) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	e := &crawlEntry{handle: h, selection: selection, done: make(chan struct{})}
	s.crawls[h.ID] = e
	go s.finish(e)

	s.logger.Info("crawl accepted", zap.String("crawl_id", h.ID), zap.String("seed", h.Seed))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"crawl_id": h.ID,
		"status":   dispatcher.StatusRunning,
	})
}

func (s *Server) finish(e *crawlEntry) {
	defer close(e.done)
	out, err := s.runner.Finish(s.base, e.handle, e.selection)
	e.mu.Lock()
	e.outcome = &out
	e.err = err
	e.mu.Unlock()
}

// crawlView is the JSON shape of a crawl. Pipeline fields appear once the
// crawl's URLs have been persisted.
type crawlView struct {
	ID         string         `json:"crawl_id"`
	Seed       string         `json:"seed"`
	Status     string         `json:"status"`
	Completed  bool           `json:"completed"`
	URLs       int            `json:"urls"`
	Processed  int            `json:"processed"`
	Succeeded  int            `json:"succeeded"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Finalized  bool           `json:"finalized"`
	Persisted  map[string]int `json:"persisted,omitempty"`
	Exports    []string       `json:"exports,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func (e *crawlEntry) view() crawlView {
	res := e.handle.Result()
	v := crawlView{
		ID:        res.ID,
		Seed:      res.Seed,
		Status:    res.Status,
		Completed: res.Completed,
		URLs:      len(res.URLs),
		Processed: res.Stats.Processed,
		Succeeded: res.Stats.Succeeded,
		Skipped:   res.Stats.Skipped,
		Failed:    res.Stats.Failed,
		StartedAt: res.Started,
	}
	if !res.Finished.IsZero() {
		finished := res.Finished
		v.FinishedAt = &finished
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outcome == nil {
		return v
	}
	v.Finalized = true
	v.Persisted = make(map[string]int, len(e.outcome.Persisted))
	for c, n := range e.outcome.Persisted {
		v.Persisted[string(c)] = n
	}
	for _, uri := range e.outcome.Exports {
		v.Exports = append(v.Exports, uri)
	}
	slices.Sort(v.Exports)
	if e.outcome.ReportURI != "" {
		v.Exports = append(v.Exports, e.outcome.ReportURI)
	}
	v.MessageID = e.outcome.MessageID
	if e.err != nil {
		v.Error = e.err.Error()
	}
	return v
}

func (s *Server) listCrawls(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	views := make([]crawlView, 0, len(s.crawls))
	for _, e := range s.crawls {
		views = append(views, e.view())
	}
	s.mu.RUnlock()
	// v7 IDs sort by start time.
	slices.SortFunc(views, func(a, b crawlView) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	writeJSON(w, http.StatusOK, map[string]any{"crawls": views})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.view())
}

func (s *Server) getCrawlURLs(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	urls := e.handle.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"crawl_id": e.handle.ID,
		"count":    len(urls),
		"urls":     urls,
	})
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(w, r)
	if !ok {
		return
	}
	e.handle.Cancel()
	s.logger.Info("crawl cancel requested", zap.String("crawl_id", e.handle.ID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"crawl_id": e.handle.ID,
		"status":   "canceling",
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*crawlEntry, bool) {
	id := chi.URLParam(r, "crawl_id")
	if !crawlid.Valid(id) {
		writeError(w, http.StatusBadRequest, "crawl id must be a UUIDv7")
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.crawls[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "crawl not found")
		return nil, false
	}
	return e, true
}

type requestIDKey struct{}

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
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if !validAPIKey([]byte(key), want) {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validAPIKey compares in constant time. An empty want never matches.
func validAPIKey(got, want []byte) bool {
	return len(want) > 0 && subtle.ConstantTimeCompare(got, want) == 1
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
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
