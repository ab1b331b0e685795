package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes step durations and outcomes in the Prometheus text format, for the
// node exporter textfile collector. Containers exec into the server right after
// bootstrap, so there is no process left to scrape.
type Metrics struct {
	registry *prometheus.Registry
	duration *prometheus.GaugeVec
	outcomes *prometheus.CounterVec
	success  prometheus.Gauge
}

var _ Observer = (*Metrics)(nil)

func NewMetrics(command string) *Metrics {
	labels := prometheus.Labels{"command": command}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "bootstrap_step_duration_seconds",
			Help:        "Wall time of the last run of each bootstrap step.",
			ConstLabels: labels,
		}, []string{"step"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "bootstrap_step_total",
			Help:        "Bootstrap step visits by outcome.",
			ConstLabels: labels,
		}, []string{"step", "outcome"}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "bootstrap_run_success",
			Help:        "1 if the last bootstrap run completed every step.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.duration, m.outcomes, m.success)
	return m
}

func (m *Metrics) Observe(visit StepVisit) {
	m.outcomes.WithLabelValues(visit.StepID, string(visit.Outcome)).Inc()
	if visit.Outcome != StepOutcomeSkipped {
		m.duration.WithLabelValues(visit.StepID).Set(visit.Duration.Seconds())
	}
}

// Finish records the overall result.
func (m *Metrics) Finish(state *State) {
	if state.Success {
		m.success.Set(1)
		return
	}
	m.success.Set(0)
}

// WriteTextfile atomically writes the registry to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
