package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eoddump_provider_attempts_total", Help: "Provider calls by outcome"},
		[]string{"provider", "result"},
	)
	UnitOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eoddump_unit_outcomes_total", Help: "Acquisition outcomes per trading unit"},
		[]string{"capability", "outcome"},
	)
	RowsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eoddump_rows_persisted_total", Help: "Canonical rows written"},
		[]string{"sink"},
	)
	// ThrottleSeconds is time spent waiting on quota gates before a call.
	ThrottleSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eoddump_throttle_seconds_total", Help: "Time spent waiting for upstream quota"},
		[]string{"provider", "gate"},
	)
)

func init() {
	prometheus.MustRegister(ProviderAttempts, UnitOutcomes, RowsPersisted, ThrottleSeconds)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
