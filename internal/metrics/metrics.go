// Package metrics exposes league agent counters in the Prometheus format.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playperu/league/internal/resilience"
)

type Collector struct {
	registry      *prometheus.Registry
	calls         *prometheus.CounterVec
	attempts      *prometheus.HistogramVec
	breakers      *prometheus.GaugeVec
	matches       *prometheus.CounterVec
	matchDuration prometheus.Histogram
	rounds        prometheus.Counter
}

// New registers the league collectors under agent, e.g. "referee".
func New(agent string) *Collector {
	constLabels := prometheus.Labels{"agent": agent}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "league",
			Name:        "rpc_calls_total",
			Help:        "Outgoing calls by destination, method and outcome.",
			ConstLabels: constLabels,
		}, []string{"dest", "method", "outcome"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "league",
			Name:        "rpc_call_attempts",
			Help:        "Attempts spent per outgoing call.",
			ConstLabels: constLabels,
			Buckets:     []float64{1, 2, 3, 5, 8},
		}, []string{"method"}),
		breakers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "league",
			Name:        "circuit_breaker_state",
			Help:        "Breaker state per destination: 0 closed, 1 open, 2 half-open.",
			ConstLabels: constLabels,
		}, []string{"dest"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "league",
			Name:        "matches_total",
			Help:        "Matches reaching a terminal state, by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		matchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "league",
			Name:        "match_duration_seconds",
			Help:        "Wall time from invitation to terminal state.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "league",
			Name:        "rounds_completed_total",
			Help:        "Rounds whose matches are all terminal.",
			ConstLabels: constLabels,
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.calls, c.attempts, c.breakers, c.matches, c.matchDuration, c.rounds,
	)
	return c
}

// ObserveCall implements resilience.Observer.
func (c *Collector) ObserveCall(dest, method, outcome string, attempts int) {
	if c == nil {
		return
	}
	c.calls.WithLabelValues(dest, method, outcome).Inc()
	c.attempts.WithLabelValues(method).Observe(float64(attempts))
}

// ObserveBreaker matches resilience.WithStateHook.
func (c *Collector) ObserveBreaker(dest string, _, to resilience.State) {
	if c == nil {
		return
	}
	c.breakers.WithLabelValues(dest).Set(float64(to))
}

func (c *Collector) ObserveMatch(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.matches.WithLabelValues(status).Inc()
	c.matchDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveRound() {
	if c == nil {
		return
	}
	c.rounds.Inc()
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
