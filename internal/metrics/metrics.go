// Package metrics holds the prometheus instruments for the GitHub integration.
//
// Instruments are registered on a caller-supplied registry rather than the
// global default, so tests can build as many Metrics values as they like.
// Every method is nil-safe: a nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "devstats"

// Metrics is the set of counters and histograms the service updates.
type Metrics struct {
	GitHubRequests     *prometheus.CounterVec
	SyncsTotal         *prometheus.CounterVec
	SyncDuration       prometheus.Histogram
	LanguageFetchFails prometheus.Counter
	Callbacks          *prometheus.CounterVec
	StateTokensSwept   prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GitHubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "github",
			Name:      "requests_total",
			Help:      "GitHub API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		SyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Completed sync runs by result (success or error kind).",
		}, []string{"result"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a sync run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		LanguageFetchFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "language_fetch_failures_total",
			Help:      "Per-repository language fetches that failed and were replaced by an empty result.",
		}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "callbacks_total",
			Help:      "OAuth callbacks by outcome (connected or redirect reason).",
		}, []string{"outcome"}),
		StateTokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oauth",
			Name:      "state_tokens_swept_total",
			Help:      "Expired anti-forgery tokens removed by the sweep.",
		}),
	}

	reg.MustRegister(
		m.GitHubRequests,
		m.SyncsTotal,
		m.SyncDuration,
		m.LanguageFetchFails,
		m.Callbacks,
		m.StateTokensSwept,
	)
	return m
}

// GitHubRequest counts one API call.
func (m *Metrics) GitHubRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.GitHubRequests.WithLabelValues(operation, outcome).Inc()
}

// SyncFinished records the result and duration of a sync run.
func (m *Metrics) SyncFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(d.Seconds())
}

// LanguageFetchFailed counts one absorbed per-repository failure.
func (m *Metrics) LanguageFetchFailed() {
	if m == nil {
		return
	}
	m.LanguageFetchFails.Inc()
}

// Callback counts one OAuth callback outcome.
func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// TokensSwept adds n to the swept-token counter.
func (m *Metrics) TokensSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StateTokensSwept.Add(float64(n))
}
