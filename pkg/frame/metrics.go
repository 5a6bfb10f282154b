package frame

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

type metrics struct {
	frames   prometheus.Counter
	updates  prometheus.Counter
	duration prometheus.Histogram
	render   prometheus.Histogram
}

func newMetrics() *metrics {
	histogram := func(name, help string) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frameloop",
			Subsystem: "frame",
			Name:      name,
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 14),
		})
	}
	return &metrics{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frameloop", Subsystem: "frame", Name: "frames_total", Help: "Frames stepped.",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frameloop", Subsystem: "frame", Name: "entity_updates_total", Help: "Entity updates staged.",
		}),
		duration: histogram("duration_seconds", "Wall time of Step."),
		render:   histogram("render_duration_seconds", "Time spent in the renderer."),
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
			return eris.Wrap(err, "failed to register frame metrics")
		}
	}
	return nil
}

// unregister undoes a successful register.
func (m *metrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.frames, m.updates, m.duration, m.render}
}
