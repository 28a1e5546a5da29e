// Package metrics exposes runner and cleanup activity as Prometheus series.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "followpilot"

type Metrics struct {
	Ticks           *prometheus.CounterVec
	Follows         *prometheus.CounterVec
	Unfollows       *prometheus.CounterVec
	Stops           *prometheus.CounterVec
	CircuitBreaks   prometheus.Counter
	WaitInterrupted prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result (idle, worked, error).",
		}, []string{"result"}),
		Follows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "follows_total",
			Help:      "Follow attempts by task type and outcome tag.",
		}, []string{"type", "outcome"}),
		Unfollows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "unfollows_total",
			Help:      "Unfollow attempts by outcome tag.",
		}, []string{"outcome"}),
		Stops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "task_stops_total",
			Help:      "Tasks stopped by the runner, by reason.",
		}, []string{"reason"}),
		CircuitBreaks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "circuit_breaks_total",
			Help:      "Tasks force-paused after consecutive critical failures.",
		}),
		WaitInterrupted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "waits_interrupted_total",
			Help:      "Pacing waits cut short by a pause, delete or shutdown.",
		}),
	}
}

func (m *Metrics) Tick(result string) {
	if m != nil {
		m.Ticks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Follow(taskType, outcome string) {
	if m != nil {
		m.Follows.WithLabelValues(taskType, outcome).Inc()
	}
}

func (m *Metrics) Unfollow(outcome string) {
	if m != nil {
		m.Unfollows.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Stop(reason string) {
	if m != nil {
		m.Stops.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) CircuitBreak() {
	if m != nil {
		m.CircuitBreaks.Inc()
	}
}

func (m *Metrics) Interrupted() {
	if m != nil {
		m.WaitInterrupted.Inc()
	}
}
