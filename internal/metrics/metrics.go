// Package metrics holds the Prometheus collectors for citadel.
//
// Collectors are registered on the Registerer passed to New, never on the
// global default, so tests can build isolated instances. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "citadel"

// Result label values.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
	ResultExisting = "existing"
)

type Metrics struct {
	votesCast        *prometheus.CounterVec
	voteDuration     prometheus.Histogram
	commitments      *prometheus.CounterVec
	violations       prometheus.Counter
	reverts          *prometheus.CounterVec
	rateLimited      prometheus.Counter
	lastCommitmentAt prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		votesCast: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "cast_total",
			Help:      "Vote cast attempts by result",
		}, []string{"result"}),
		voteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "cast_duration_seconds",
			Help:      "Time to score and persist one vote",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		commitments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "commitments_total",
			Help:      "Hourly commitment attempts by result",
		}, []string{"result"}),
		violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "violations_detected_total",
			Help:      "Score drift findings returned by violation checks",
		}),
		reverts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "reverts_total",
			Help:      "Claim score reverts by result",
		}, []string{"result"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
		lastCommitmentAt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "last_commitment_timestamp_seconds",
			Help:      "Unix time of the most recent commitment",
		}),
	}
}

func (m *Metrics) VoteCast(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.votesCast.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.voteDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) Commitment(result string, at time.Time) {
	if m == nil {
		return
	}
	m.commitments.WithLabelValues(result).Inc()
	if result != ResultError {
		m.lastCommitmentAt.Set(float64(at.Unix()))
	}
}

func (m *Metrics) Violations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.violations.Add(float64(n))
}

func (m *Metrics) Revert(result string) {
	if m == nil {
		return
	}
	m.reverts.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
