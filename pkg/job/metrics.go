package job

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const (
	metricsNamespace = "frameloop"
	metricsSubsystem = "job"
)

// metrics holds the scheduler's collectors. Every Scheduler owns its own set so tests can read
// them without a shared registry.
type metrics struct {
	submitted prometheus.Counter
	executed  prometheus.Counter
	requeued  prometheus.Counter
	canceled  prometheus.Counter
	faults    prometheus.Counter
	advances  prometheus.Counter
	pending   prometheus.Gauge
	staged    prometheus.Gauge
	workers   prometheus.Gauge
	duration  prometheus.Histogram
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		})
	}

	return &metrics{
		submitted: counter("tasks_submitted_total", "Tasks added to the executing set."),
		executed:  counter("tasks_executed_total", "Tasks whose Execute ran, including ones that panicked."),
		requeued:  counter("tasks_requeued_total", "Runs that found a pending dependency and requeued the task."),
		canceled:  counter("tasks_canceled_total", "Tasks dropped after exhausting their retry budget."),
		faults:    counter("task_faults_total", "Tasks whose Execute panicked."),
		advances:  counter("ticks_advanced_total", "Calls to Advance."),
		pending:   gauge("tasks_pending", "Outstanding entries in the executing set."),
		staged:    gauge("tasks_staged", "Tasks staged for the next tick."),
		workers:   gauge("workers", "Live worker goroutines."),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Time spent in Execute.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.submitted, m.executed, m.requeued, m.canceled, m.faults, m.advances,
		m.pending, m.staged, m.workers, m.duration,
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	collectors := m.collectors()
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, registered := range collectors[:i] {
				reg.Unregister(registered)
			}
			return eris.Wrap(err, "failed to register scheduler metrics")
		}
	}
	return nil
}
