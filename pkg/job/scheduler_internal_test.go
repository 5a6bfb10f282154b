package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/argus-labs/frameloop/pkg/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SubmitRunsOnceBeforeAwaitReturns(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 2})

	c := &counter{}
	s.Submit(New(c))
	s.Await()

	assert.Equal(t, 1, c.count())
	assert.True(t, s.Idle())
	assert.Equal(t, 0, s.Pending())
	assert.InDelta(t, 1, s.executedCount(), 0)
}

func TestScheduler_AwaitBarrier(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 4})

	c := &counter{}
	for range 100 {
		s.Submit(New(c))
	}
	s.Await()
	assert.Equal(t, 100, c.count())
	assert.True(t, s.Idle(), "executing must be empty after Await")

	// Work submitted after Await returned is tracked by the next wait, not the finished one.
	g := newGate()
	s.Submit(New(g))
	assert.False(t, s.Idle())
	assert.Equal(t, 1, s.Pending())

	g.open()
	s.Await()
	assert.True(t, g.finished.Load())
}

func TestScheduler_AwaitWithNothingSubmittedReturns(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 1})

	done := make(chan struct{})
	go func() {
		s.Await()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(eventuallyWait):
		t.Fatal("Await blocked on an empty scheduler")
	}
}

func TestScheduler_AwaitContext(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 1})

	g := newGate()
	s.Submit(New(g))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.AwaitContext(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, eris.Cause(err), context.DeadlineExceeded)
	assert.False(t, s.Idle())

	g.open()
	require.NoError(t, s.AwaitContext(context.Background()))
	assert.True(t, s.Idle())
}

func TestScheduler_TickIsolation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 2})

	c := &counter{}
	task := New(c)
	s.SubmitForNextTick(task)

	assert.Equal(t, 1, s.Staged())
	assert.False(t, s.IsPending(task), "staged tasks are not pending")
	assert.Same(t, s, task.Scheduler())

	// Staged work never runs on its own, however long we wait.
	s.Await()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())

	s.Advance()
	assert.Equal(t, 0, s.Staged())
	s.Await()
	assert.Equal(t, 1, c.count())

	// The staged queue was drained, so advancing again does nothing.
	s.Advance()
	s.Await()
	assert.Equal(t, 1, c.count())
}

func TestScheduler_AdvancePromotesEveryStagedTask(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 4})

	c := &counter{}
	for range 64 {
		s.SubmitForNextTick(New(c))
	}
	s.Advance()
	s.Await()
	assert.Equal(t, 64, c.count())
}

func TestScheduler_AdvanceWhileExecutingPanics(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 1})

	g := newGate()
	s.Submit(New(g))
	s.SubmitForNextTick(New(&counter{}))

	assert.Panics(t, s.Advance)
	assert.Equal(t, 1, s.Staged(), "a rejected advance must not move staged tasks")

	g.open()
	s.Await()
	s.Advance()
	s.Await()
}

func TestScheduler_SubmitAfterClosePanics(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(SchedulerOptions{Workers: 1})
	require.NoError(t, err)

	s.Close()
	s.Close() // idempotent

	assert.Panics(t, func() { s.Submit(New(&counter{})) })
	assert.Panics(t, func() { s.SubmitForNextTick(New(&counter{})) })
}

func TestScheduler_CloseDropsStagedTasks(t *testing.T) {
	t.Parallel()
	s, err := NewScheduler(SchedulerOptions{Workers: 1})
	require.NoError(t, err)

	c := &counter{}
	s.SubmitForNextTick(New(c))
	s.Close()

	assert.Equal(t, 0, s.Staged())
	assert.Equal(t, 0, c.count())
}

func TestScheduler_DuplicateSubmissionsAreCounted(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 2})

	release := make(chan struct{})
	var runs atomic.Int32
	task := New(Func(func() {
		runs.Add(1)
		<-release
	}))

	s.Submit(task)
	s.Submit(task)
	assert.Equal(t, 2, s.Pending())
	require.Eventually(t, func() bool { return runs.Load() == 2 }, eventuallyWait, eventuallyTick)

	// One run finishing leaves the other submission pending.
	release <- struct{}{}
	require.Eventually(t, func() bool { return s.Pending() == 1 }, eventuallyWait, eventuallyTick)
	assert.True(t, s.IsPending(task))

	release <- struct{}{}
	s.Await()
	assert.False(t, s.IsPending(task))
}

func TestScheduler_ForgetUnknownTaskIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 1})

	s.Forget(New(&counter{}))
	assert.Equal(t, 0, s.Pending())
	assert.True(t, s.Idle())
}

func TestScheduler_FaultIsolation(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var faults []error
	s := newTestScheduler(t, SchedulerOptions{
		Workers:     2,
		FaultPolicy: FaultPolicyIsolate,
		OnFault: func(_ *Task, err error) {
			mu.Lock()
			faults = append(faults, err)
			mu.Unlock()
		},
	})

	bad := New(Func(func() { panic("boom") }), WithName("bad"))
	good := &counter{}
	s.Submit(bad)
	s.Submit(New(good))

	// A panicking task must not wedge the barrier.
	s.Await()

	assert.Equal(t, 1, good.count())
	assert.InDelta(t, 1, s.faultCount(), 0)
	assert.False(t, s.IsPending(bad))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	assert.Contains(t, faults[0].Error(), "task bad panicked")

	// The scheduler keeps working afterwards.
	s.Submit(New(good))
	s.Await()
	assert.Equal(t, 2, good.count())
}

func TestScheduler_ConcreteScenario(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 4})

	// T with no dependencies executes exactly once before Await returns.
	tc := &counter{}
	s.Submit(New(tc))
	s.Await()
	assert.Equal(t, 1, tc.count())

	// A depends on B; B is submitted first. A must not execute until B has.
	g := newGate()
	b := New(g, WithName("b"))
	var bDoneWhenAExecuted atomic.Bool
	a := New(Func(func() {
		bDoneWhenAExecuted.Store(g.finished.Load())
	}), WithName("a"), WithDependencies(b), WithRetryBudget(1<<30))

	s.Submit(b)
	s.Submit(a)
	require.Eventually(t, func() bool { return s.requeuedCount() > 0 }, eventuallyWait, eventuallyTick)
	assert.True(t, s.IsPending(a))

	g.open()
	s.Await()
	assert.True(t, bDoneWhenAExecuted.Load(), "a executed before its dependency finished")
}

func TestScheduler_DependencyOrderingFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	const (
		opsMax   = 50
		tasksMax = 40
		depsMax  = 4
	)

	s := newTestScheduler(t, SchedulerOptions{Workers: 4})

	for range opsMax {
		numTasks := prng.IntN(tasksMax) + 1

		// A logical clock records when each task starts and ends. A task may only start after every
		// dependency that was submitted before it has ended.
		var clock atomic.Int64
		type span struct{ start, end int64 }
		spans := make([]span, numTasks)
		tasks := make([]*Task, numTasks)
		deps := make([][]int, numTasks)

		for i := range numTasks {
			deps[i] = testutils.RandSubset(prng, i, prng.IntN(depsMax+1))
			depTasks := make([]*Task, 0, len(deps[i]))
			for _, d := range deps[i] {
				depTasks = append(depTasks, tasks[d])
			}

			id := i
			work := time.Duration(testutils.RandFloat(prng, -100, 300)) * time.Microsecond
			tasks[i] = New(Func(func() {
				start := clock.Add(2)
				if work > 0 {
					time.Sleep(work)
				}
				end := clock.Add(1)
				spans[id] = span{start: start, end: end}
			}), WithDependencies(depTasks...), WithRetryBudget(1<<30))
		}

		for _, task := range tasks {
			s.Submit(task)
		}
		s.Await()

		for i := range numTasks {
			require.NotZero(t, spans[i].start, "task %d did not execute", i)
			for _, d := range deps[i] {
				assert.Less(t, spans[d].end, spans[i].start,
					"task %d started at %d before dependency %d ended at %d", i, spans[i].start, d, spans[d].end)
			}
		}
	}
}

func TestNewScheduler_Options(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		opts    SchedulerOptions
		wantErr bool
	}{
		{name: "defaults", opts: SchedulerOptions{}},
		{name: "explicit", opts: SchedulerOptions{Workers: 3, MaxWorkerFactor: 2, FaultPolicy: FaultPolicyCrash}},
		{name: "negative workers", opts: SchedulerOptions{Workers: -1}, wantErr: true},
		{name: "negative factor", opts: SchedulerOptions{MaxWorkerFactor: -2}, wantErr: true},
		{name: "negative keep-alive", opts: SchedulerOptions{WorkerKeepAlive: -time.Second}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewScheduler(tc.opts)
			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			s.Close()
		})
	}
}

func TestNewScheduler_RegistersMetricsOnce(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	s, err := NewScheduler(SchedulerOptions{Workers: 1, Registerer: reg})
	require.NoError(t, err)
	defer s.Close()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "frameloop_job_workers")
	assert.Contains(t, names, "frameloop_job_tasks_pending")

	_, err = NewScheduler(SchedulerOptions{Workers: 1, Registerer: reg})
	require.Error(t, err, "registering a second scheduler on the same registry must fail")
}

func TestNewScheduler_FailedRegistrationLeavesNoMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()

	// Collides with the scheduler's worker gauge, which is registered late in the list.
	taken := prometheus.NewGauge(prometheus.GaugeOpts{Name: "frameloop_job_workers", Help: "taken"})
	require.NoError(t, reg.Register(taken))

	_, err := NewScheduler(SchedulerOptions{Workers: 1, Registerer: reg})
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "frameloop_job_workers", families[0].GetName())
	assert.Equal(t, "taken", families[0].GetHelp())
}

func TestParseFaultPolicy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FaultPolicyIsolate, ParseFaultPolicy("isolate"))
	assert.Equal(t, FaultPolicyCrash, ParseFaultPolicy("CRASH"))
	assert.Equal(t, FaultPolicyUndefined, ParseFaultPolicy("ignore"))
	assert.Equal(t, "isolate", FaultPolicyIsolate.String())
	assert.Equal(t, "undefined", FaultPolicy(42).String())
}
