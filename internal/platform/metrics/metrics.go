package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AuthSuccesses prometheus.Counter
	AuthFailures  *prometheus.CounterVec

	SessionsOpened prometheus.Counter
	SessionsClosed prometheus.Counter
	SessionsSwept  prometheus.Counter
	SessionsActive prometheus.Gauge

	PullPasses    *prometheus.CounterVec
	PullMutations *prometheus.CounterVec
	PullRowErrors *prometheus.CounterVec
}

// New registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all metrics on the given registerer. Tests pass a fresh
// registry to avoid duplicate registration across cases.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AuthSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_auth_successes_total",
			Help: "Successful non-anonymous authentications",
		}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_auth_failures_total",
			Help: "Failed authentications by reason",
		}, []string{"reason"}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_opened_total",
			Help: "Sessions opened",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_closed_total",
			Help: "Sessions closed explicitly or by invalidation",
		}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "warden_sessions_swept_total",
			Help: "Sessions closed by the idle sweep",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warden_sessions_active",
			Help: "Currently open sessions",
		}),
		PullPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_pull_passes_total",
			Help: "Pull passes by source and result",
		}, []string{"source", "result"}),
		PullMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_pull_mutations_total",
			Help: "Entity mutations applied by pull passes",
		}, []string{"source", "kind"}),
		PullRowErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_pull_row_errors_total",
			Help: "Per-row errors tolerated during pull passes",
		}, []string{"source"}),
	}
}
