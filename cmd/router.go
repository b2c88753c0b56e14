package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/book-gateway/internal/backend"
	"github.com/angeloszaimis/book-gateway/internal/metrics"
)

// setupAdminRouter serves the operational endpoints. They live on their own
// listener so no route prefix can shadow them.
func setupAdminRouter(registry *prometheus.Registry, metricsCollector *metrics.Collector, backends *backend.Pool) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("GET /stats", metricsCollector.Handler())
	mux.HandleFunc("GET /backends", backends.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	return mux
}
