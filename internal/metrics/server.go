package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Router serves /metrics and a liveness check at /healthz.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(countRequests)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", Handler())
	return r
}

// NewServer builds an HTTP server for Router bound to addr. The caller owns
// ListenAndServe and Shutdown.
func NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		Init()
		httpRequestsTotal.WithLabelValues(route).Inc()
	})
}
