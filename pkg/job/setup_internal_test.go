package job

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	eventuallyWait = 5 * time.Second
	eventuallyTick = time.Millisecond
)

// newTestScheduler creates a scheduler that is closed when the test ends.
func newTestScheduler(t *testing.T, opts SchedulerOptions) *Scheduler {
	t.Helper()
	s, err := NewScheduler(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// counter is an executor that counts its executions.
type counter struct {
	calls atomic.Int64
}

func (c *counter) Execute() { c.calls.Add(1) }

func (c *counter) count() int { return int(c.calls.Load()) }

// gate is an executor that blocks until released. It records when it started and finished.
type gate struct {
	release  chan struct{}
	started  atomic.Bool
	finished atomic.Bool
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) Execute() {
	g.started.Store(true)
	<-g.release
	g.finished.Store(true)
}

func (g *gate) open() { close(g.release) }

// requireMetric waits until read returns want.
func requireMetric(t *testing.T, want float64, read func() float64) {
	t.Helper()
	require.Eventually(t, func() bool { return read() == want }, eventuallyWait, eventuallyTick,
		"metric never reached %v, last value %v", want, read())
}

func (s *Scheduler) requeuedCount() float64 { return testutil.ToFloat64(s.metrics.requeued) }
func (s *Scheduler) canceledCount() float64 { return testutil.ToFloat64(s.metrics.canceled) }
func (s *Scheduler) executedCount() float64 { return testutil.ToFloat64(s.metrics.executed) }
func (s *Scheduler) faultCount() float64    { return testutil.ToFloat64(s.metrics.faults) }
