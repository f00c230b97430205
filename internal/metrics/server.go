package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc returns a JSON-serializable snapshot for GET /health.
type StatusFunc func() any

// NewRouter serves:
//   - GET /metrics - Prometheus exposition
//   - GET /health  - liveness plus coordinator status
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if status != nil {
			body["coordinator"] = status()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	return r
}

// NewServer returns an HTTP server for NewRouter on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, status StatusFunc) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(gatherer, status),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
