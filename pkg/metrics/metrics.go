// Package metrics owns the process-wide Prometheus registry.
//
// Subsystems register their collectors against Registry() with promauto;
// the frontend HTTP server exposes the registry on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the process-wide metrics registry.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// PanicTotal counts unrecovered panics observed by the crash-diagnostics
// hook. Monotonically increasing for the lifetime of the process.
var PanicTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
	Name: "engram_panic_total",
	Help: "Total number of panics captured by the crash-diagnostics hook",
})

// BootStageDuration observes how long each startup stage took, labeled by
// stage name. Only written during process bootstrap.
var BootStageDuration = promauto.With(registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "engram_boot_stage_duration_seconds",
		Help:    "Duration of standalone startup stages",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)
