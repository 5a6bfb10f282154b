package job

import (
	"context"
	"sync"
	"time"

	"github.com/argus-labs/frameloop/pkg/assert"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"github.com/sourcegraph/conc/panics"
)

// Scheduler runs tasks on a worker pool and stages work for the next tick.
//
// Tasks live in one of two places. The executing set holds tasks that were submitted and have not
// finished: Await blocks until it is empty and IsPending checks membership. The staged queue holds
// tasks submitted for the next tick; they do nothing until Advance moves them into the executing
// set.
//
// The executing set counts submissions per task, so a task submitted twice stays pending until
// both runs finish. Requeues behind a pending dependency reuse the existing entry.
type Scheduler struct {
	mu          deadlock.Mutex
	drained     *sync.Cond    // Signalled when executing becomes empty
	executing   map[*Task]int // Task -> outstanding submissions
	outstanding int           // Sum of executing counts
	staged      []*Task
	closed      bool

	pool    *workerPool
	options SchedulerOptions
	logger  zerolog.Logger
	metrics *metrics
}

// NewScheduler creates a scheduler and starts its core workers.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	options := newDefaultSchedulerOptions()
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid scheduler options")
	}

	m := newMetrics()
	if err := m.register(options.Registerer); err != nil {
		return nil, err
	}

	s := &Scheduler{
		executing: make(map[*Task]int),
		staged:    make([]*Task, 0),
		options:   options,
		logger:    options.Logger,
		metrics:   m,
	}
	s.drained = sync.NewCond(&s.mu)
	s.pool = newWorkerPool(options.Workers, options.maxWorkers(), options.WorkerKeepAlive, func(n int) {
		m.workers.Set(float64(n))
	})
	m.workers.Set(float64(options.Workers))

	s.logger.Debug().
		Int("workers", options.Workers).
		Int("max_workers", options.maxWorkers()).
		Str("fault_policy", options.FaultPolicy.String()).
		Msg("scheduler started")
	return s, nil
}

// Submit adds task to the executing set and dispatches it to the worker pool. The task is bound
// to s and is pending from the moment Submit returns.
func (s *Scheduler) Submit(task *Task) {
	assert.That(task != nil, "job: submit of a nil task")
	task.Bind(s)

	s.mu.Lock()
	assert.That(!s.closed, "job: submit on a closed scheduler")
	s.addLocked(task)
	s.mu.Unlock()

	s.metrics.submitted.Inc()
	s.pool.submit(task.Run)
}

// SubmitForNextTick stages task. It does not run, and is not pending, until the next Advance.
func (s *Scheduler) SubmitForNextTick(task *Task) {
	assert.That(task != nil, "job: submit of a nil task")
	task.Bind(s)

	s.mu.Lock()
	assert.That(!s.closed, "job: submit on a closed scheduler")
	s.staged = append(s.staged, task)
	n := len(s.staged)
	s.mu.Unlock()

	s.metrics.staged.Set(float64(n))
}

// Await blocks until the executing set is empty. Tasks submitted after Await returns are not part
// of the wait.
func (s *Scheduler) Await() {
	s.mu.Lock()
	for s.outstanding > 0 {
		s.drained.Wait()
	}
	s.mu.Unlock()
}

// AwaitContext is Await that gives up when ctx is done. It returns nil once the executing set is
// empty, even if ctx was canceled at the same time.
func (s *Scheduler) AwaitContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.drained.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.outstanding > 0 {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "%d tasks still pending", s.outstanding)
		}
		s.drained.Wait()
	}
	return nil
}

// Advance moves every staged task into the executing set and dispatches it. The caller must have
// drained the executing set with Await first; advancing over pending work is a programming error.
func (s *Scheduler) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	assert.That(s.outstanding == 0, "job: advance with %d tasks still executing", s.outstanding)
	assert.That(!s.closed, "job: advance on a closed scheduler")

	for _, task := range s.staged {
		s.addLocked(task)
		s.pool.submit(task.Run)
	}
	s.metrics.submitted.Add(float64(len(s.staged)))
	s.metrics.advances.Inc()
	s.metrics.staged.Set(0)

	clear(s.staged)
	s.staged = s.staged[:0]
}

// IsPending reports whether task is in the executing set.
func (s *Scheduler) IsPending(task *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing[task] > 0
}

// Forget removes one submission of task from the executing set and wakes Await once the set is
// empty. Forgetting a task that is not pending does nothing.
func (s *Scheduler) Forget(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.executing[task]
	if !ok {
		return
	}
	if n == 1 {
		delete(s.executing, task)
	} else {
		s.executing[task] = n - 1
	}
	s.outstanding--
	s.metrics.pending.Dec()

	if s.outstanding == 0 {
		s.drained.Broadcast()
	}
}

// Idle reports whether the executing set is empty.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding == 0
}

// Pending returns the number of outstanding submissions in the executing set.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// Staged returns the number of tasks waiting for the next Advance.
func (s *Scheduler) Staged() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// Workers returns the number of live workers and the most that were ever live at once.
func (s *Scheduler) Workers() (live, peak int) {
	return s.pool.size()
}

// Close waits for the executing set to drain, drops staged tasks, and stops the workers. The
// scheduler cannot be used afterwards.
func (s *Scheduler) Close() {
	s.Await()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := len(s.staged)
	clear(s.staged)
	s.staged = s.staged[:0]
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn().Int("dropped", dropped).Msg("scheduler closed with staged tasks")
	}
	s.metrics.staged.Set(0)
	s.pool.close()
	s.logger.Debug().Msg("scheduler closed")
}

func (s *Scheduler) addLocked(task *Task) {
	s.executing[task]++
	s.outstanding++
	s.metrics.pending.Inc()
}

// requeue dispatches task again. A task that is already pending keeps its single entry; a task
// that was never submitted, such as a batch child, gets one so Await waits for it.
func (s *Scheduler) requeue(task *Task) {
	s.mu.Lock()
	if s.executing[task] == 0 {
		s.addLocked(task)
	}
	s.mu.Unlock()

	s.metrics.requeued.Inc()
	s.pool.submit(task.Run)
}

// cancel drops a task that exhausted its retry budget.
func (s *Scheduler) cancel(task *Task) {
	s.metrics.canceled.Inc()
	s.logger.Debug().Str("task", task.Name()).Msg("task canceled after exhausting its retry budget")
	s.Forget(task)
}

// execute runs the task's work, recovering a panic according to the fault policy.
func (s *Scheduler) execute(task *Task) {
	var pc panics.Catcher
	start := time.Now()
	pc.Try(task.exec.Execute)
	s.metrics.duration.Observe(time.Since(start).Seconds())
	s.metrics.executed.Inc()

	if r := pc.Recovered(); r != nil {
		s.fault(task, r)
	}
}

func (s *Scheduler) fault(task *Task, r *panics.Recovered) {
	err := eris.Wrapf(r.AsError(), "task %s panicked", task.Name())
	s.metrics.faults.Inc()
	s.logger.Error().
		Err(err).
		Str("task", task.Name()).
		Bytes("stack", r.Stack).
		Str("fault_policy", s.options.FaultPolicy.String()).
		Msg("task panicked")

	if s.options.OnFault != nil {
		s.options.OnFault(task, err)
	}

	if s.options.FaultPolicy == FaultPolicyCrash {
		s.Forget(task)
		panic(r.Value)
	}
}
