package job

import (
	"sync/atomic"

	"github.com/argus-labs/frameloop/pkg/assert"
)

// DefaultRetryBudget is the number of times a task may be requeued behind a pending dependency
// before it cancels itself.
const DefaultRetryBudget = 40

// Executor is the work a task performs.
type Executor interface {
	Execute()
}

// DependencyProvider can be implemented by an Executor whose dependencies change between runs.
// Its result is appended to the task's static dependency list.
type DependencyProvider interface {
	Dependencies() []*Task
}

// Func adapts a plain function into an Executor.
type Func func()

// Execute calls f.
func (f Func) Execute() { f() }

// Task is the unit of work handed to a Scheduler. Tasks are compared by identity, so the same
// *Task can be resubmitted every frame.
//
// Dependencies are a soft ordering hint: a task will not execute while one of its dependencies is
// pending on the task's scheduler. A dependency that was never submitted is not waited for. A task
// whose retry budget is spent is canceled for good: later submissions are dropped without
// executing.
type Task struct {
	exec   Executor
	name   string
	deps   []*Task
	budget int32

	retries   atomic.Int32
	scheduler atomic.Pointer[Scheduler]
}

// TaskOption configures a Task at construction.
type TaskOption func(*Task)

// WithDependencies declares tasks that must not be pending when this task executes.
func WithDependencies(deps ...*Task) TaskOption {
	return func(t *Task) {
		t.deps = append(t.deps, deps...)
	}
}

// WithRetryBudget overrides DefaultRetryBudget. Every run spends one unit, so a task with budget n
// can be requeued n times; a zero budget cancels the task on its first run. Values below zero are
// treated as zero.
func WithRetryBudget(budget int) TaskOption {
	return func(t *Task) {
		t.budget = int32(max(budget, 0)) //nolint:gosec // budgets are small
	}
}

// WithName sets the name used in logs.
func WithName(name string) TaskOption {
	return func(t *Task) {
		t.name = name
	}
}

// New creates a task that runs exec.
func New(exec Executor, opts ...TaskOption) *Task {
	assert.That(exec != nil, "job: task requires an executor")

	t := &Task{exec: exec, budget: DefaultRetryBudget}
	for _, opt := range opts {
		opt(t)
	}
	t.retries.Store(t.budget)
	return t
}

// Name returns the task name, or "task" when none was set.
func (t *Task) Name() string {
	if t.name == "" {
		return "task"
	}
	return t.name
}

// Execute performs the task's work directly, bypassing the dependency protocol.
func (t *Task) Execute() {
	t.exec.Execute()
}

// DependOn appends dependencies. It must not be called while the task is pending.
func (t *Task) DependOn(deps ...*Task) {
	t.deps = append(t.deps, deps...)
}

// Dependencies returns the tasks this task must not race ahead of.
func (t *Task) Dependencies() []*Task {
	provider, ok := t.exec.(DependencyProvider)
	if !ok {
		return t.deps
	}
	dynamic := provider.Dependencies()
	if len(t.deps) == 0 {
		return dynamic
	}
	deps := make([]*Task, 0, len(t.deps)+len(dynamic))
	deps = append(deps, t.deps...)
	return append(deps, dynamic...)
}

// Bind associates the task with a scheduler. Submitting a task binds it implicitly.
func (t *Task) Bind(s *Scheduler) {
	t.scheduler.Store(s)
}

// Scheduler returns the scheduler the task is bound to, or nil.
func (t *Task) Scheduler() *Scheduler {
	return t.scheduler.Load()
}

// Retries returns the number of requeues the task has left before it cancels itself.
func (t *Task) Retries() int {
	return max(int(t.retries.Load()), 0)
}

// Canceled reports whether the task spent its retry budget. A canceled task never executes again.
func (t *Task) Canceled() bool {
	return t.retries.Load() < 0
}

// Run is the entry point the worker pool invokes. It executes the task once its pending
// dependencies have cleared, requeues it otherwise, and drops it once the retry budget is spent.
func (t *Task) Run() {
	s := t.scheduler.Load()
	assert.That(s != nil, "job: task %s ran without a scheduler", t.Name())

	// Canceled tasks stay pinned at -1 so resubmitting them every frame cannot wrap the counter.
	if t.retries.Load() < 0 || t.retries.Add(-1) < 0 {
		t.retries.Store(-1)
		s.cancel(t)
		return
	}

	for _, dep := range t.Dependencies() {
		if dep != t && s.IsPending(dep) {
			s.requeue(t)
			return
		}
	}

	s.execute(t)
	t.retries.Store(t.budget)
	s.Forget(t)
}
