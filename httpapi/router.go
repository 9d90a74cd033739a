// Package httpapi wires the HTTP surface external clients talk to:
// kicking off or reusing a session, rendering heatmap tiles,
// nearest-object lookups, persistence/eviction triggers, and the
// standard metrics/health endpoints. Handlers only adapt HTTP to core
// calls; the session/requestor/renderer packages hold the logic.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kvnloo/triplemap/metrics"
	"github.com/kvnloo/triplemap/renderer"
	"github.com/kvnloo/triplemap/session"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	Sessions *session.Manager
	Renderer *renderer.Renderer
	Metrics  *metrics.Provider
	Log      zerolog.Logger

	// DefaultCachePath is the persistence path /load falls back to when
	// the request omits its own `path` query parameter.
	DefaultCachePath string
}

// NewRouter builds the chi.Router exposing every route the external
// server surface consumes: query, heatmap, pos, load, clearsession,
// metrics, healthz.
func (s *Server) NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(zerologMiddleware(s.Log))
	r.Use(cors)

	r.Get("/healthz", s.handleHealthz)
	if s.Metrics != nil {
		r.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}
	r.Get("/query", s.handleQuery)
	r.Get("/heatmap", s.handleHeatmap)
	r.Get("/pos", s.handlePos)
	r.Get("/load", s.handleLoad)
	r.Get("/clearsession", s.handleClearSession)

	return r
}

// zerologMiddleware logs method/path/status/duration for every
// request, wrapping ResponseWriter to capture the status code.
func zerologMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
