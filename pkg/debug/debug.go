// Package debug hosts the operational sidecar endpoints: Prometheus
// metrics, health/readiness probes and pprof.
package debug

import (
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	// Registry collects metrics from every package. Packages register in
	// their init functions, before the mux is built.
	registry = prometheus.NewRegistry()
)

// Registry returns the process-wide metrics registry.
func Registry() *prometheus.Registry {
	return registry
}

// SetReady flips the readiness probe to OK.
func SetReady() {
	ready.Store(true)
}

// SetNotReady flips the readiness probe to unavailable, e.g. during
// shutdown draining.
func SetNotReady() {
	ready.Store(false)
}

// IsReady reports the current readiness state.
func IsReady() bool {
	return ready.Load()
}

// Mux builds the debug HTTP mux with metrics, probes and pprof.
func Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	return mux
}
