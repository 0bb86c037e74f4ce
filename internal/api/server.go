package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yangwenmai/pagesmith/internal/model"
	"github.com/yangwenmai/pagesmith/internal/store"
)

// maxRequestBody is the maximum allowed request body size (10 MB). Attachments
// arrive inline as data URIs.
const maxRequestBody int64 = 10 << 20

// Submitter hands an accepted task to background processing.
type Submitter interface {
	Submit(ctx context.Context, task *model.TaskRequest) (string, error)
}

// Options holds the server dependencies.
type Options struct {
	Secret     string
	Dispatcher Submitter
	Runs       store.RunReader
	// RateLimitPerMinute limits task submissions per client IP; 0 disables it.
	RateLimitPerMinute int
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	opts   Options
	router chi.Router
}

// New creates a new API server.
func New(opts Options) *Server {
	srv := &Server{opts: opts, router: chi.NewRouter()}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with tracing applied.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "pagesmith-api")
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimitPerMinute, time.Minute))
		}
		r.Use(limitBody, jsonContent)
		r.Post("/handle-task", s.handleTask)
	})

	r.Route("/runs", func(r chi.Router) {
		r.Use(s.requireBearer, jsonContent)
		r.Get("/", s.handleListRuns)
		r.Get("/stats", s.handleRunStats)
		r.Get("/{id}", s.handleGetRun)
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// accessLog attaches a request-scoped zerolog logger to the context and logs
// each request when it completes.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.Logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		var ev *zerolog.Event
		if status >= 500 {
			ev = logger.Error()
		} else {
			ev = logger.Info()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// limitBody restricts the request body to maxRequestBody bytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requireBearer accepts "Authorization: Bearer <secret>".
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !secretMatches(token, s.opts.Secret) {
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
