package results

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/capvision/go-inspect/pkg/policy"
)

// Metrics exports the inspection tallies to Prometheus. Unlike the
// resettable service counters these are monotonic for the process
// lifetime, as Prometheus expects.
type Metrics struct {
	results *prometheus.CounterVec
}

// NewMetrics registers the result counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "inspect",
			Name:      "results_total",
			Help:      "Classified frames by derived status.",
		}, []string{"status"}),
	}
}

// Count records one classified frame.
func (m *Metrics) Count(status policy.Status) {
	m.results.WithLabelValues(string(status)).Inc()
}
