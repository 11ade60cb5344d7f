// Package metrics exposes Prometheus collectors for the orchestrator. The
// scrape endpoint is served from main when enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// TasksTerminal counts tasks per terminal status.
	TasksTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_tasks_terminal_total",
		Help: "Tasks that reached a terminal status.",
	}, []string{"status"})

	// RetryDecisions counts retry-policy outcomes by error kind and action.
	RetryDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_retry_decisions_total",
		Help: "Retry policy decisions by error kind and chosen action.",
	}, []string{"kind", "action"})

	// CooldownActivations counts API-key freezes.
	CooldownActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_key_cooldowns_total",
		Help: "API key cooldown activations after rate limits.",
	})

	// SessionRotations counts proxy session identifier regenerations.
	SessionRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_proxy_session_rotations_total",
		Help: "Proxy session rotations triggered by proxy-bound failures.",
	})

	// AttemptDuration observes per-attempt latency by stage and result.
	AttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analyzer_attempt_duration_seconds",
		Help:    "Duration of individual AI call attempts.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"stage", "result"})

	// TasksInFlight tracks tasks currently owned by workers.
	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_tasks_in_flight",
		Help: "Tasks currently claimed and being processed.",
	})

	// PaceDelay tracks the shared inter-attempt delay derived from recent
	// rate-limit pressure.
	PaceDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_pace_delay_seconds",
		Help: "Adaptive delay applied before each attempt.",
	})
)

// Serve starts the Prometheus scrape endpoint on addr. Errors are logged, not
// fatal: the run continues without metrics.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics endpoint stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
}
