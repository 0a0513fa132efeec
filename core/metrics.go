package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's operational counters. A nil *Metrics records nothing.
type Metrics struct {
	rotations  prometheus.Counter
	stops      *prometheus.CounterVec
	urlsPruned prometheus.Counter
	sweeps     *prometheus.CounterVec
}

// NewMetrics registers the engine collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabrotor_rotations_total",
			Help: "Successful tab navigations.",
		}),
		stops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabrotor_rotation_stops_total",
			Help: "Rotations stopped, by reason.",
		}, []string{"reason"}),
		urlsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "tabrotor_urls_pruned_total",
			Help: "Invalid URLs removed from rotation lists.",
		}),
		sweeps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabrotor_sweeps_total",
			Help: "Maintenance sweeps, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) rotated() {
	if m != nil {
		m.rotations.Inc()
	}
}

func (m *Metrics) stopped(reason string) {
	if m != nil {
		m.stops.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) urlPruned() {
	if m != nil {
		m.urlsPruned.Inc()
	}
}

func (m *Metrics) swept(result string) {
	if m != nil {
		m.sweeps.WithLabelValues(result).Inc()
	}
}
