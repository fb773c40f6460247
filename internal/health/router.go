package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the local status API.
//
// Route layout:
//
//	GET /healthz – liveness probe with uptime and action counters
//	GET /status  – full watch loop status document
//	GET /history – recent triggers from the history store, newest first
//	GET /metrics – watch loop metrics in Prometheus text format
//
// metrics is the handler serving the Prometheus exposition, typically
// watch.Metrics.Handler(). Pass nil to skip the /metrics route.
//
// The API is meant to be bound to localhost and carries no authentication.
func NewRouter(srv *Server, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// Built-in chi middleware for observability and hygiene.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	r.Get("/status", srv.handleStatus)
	r.Get("/history", srv.handleHistory)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}
