package job

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_RunsChildrenInOrderWithoutOverlap(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 4})

	var (
		running atomic.Int32
		overlap atomic.Bool
		mu      sync.Mutex
		order   []int
	)
	batch := NewBatch("ordered")
	for i := range 32 {
		batch.AddChild(New(Func(func() {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
		})))
	}

	s.Submit(batch.Task)
	s.Await()

	assert.False(t, overlap.Load())
	require.Len(t, order, 32)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestBatch_ConcurrentBatchesDoNotInterleave(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 2})

	const children = 16
	type run struct {
		running atomic.Int32
		overlap atomic.Bool
		mu      sync.Mutex
		order   []int
	}
	runs := [2]*run{{}, {}}
	var started sync.WaitGroup
	started.Add(len(runs))

	batches := make([]*Batch, len(runs))
	for b, r := range runs {
		batches[b] = NewBatch("concurrent")
		for i := range children {
			batches[b].AddChild(New(Func(func() {
				if r.running.Add(1) > 1 {
					r.overlap.Store(true)
				}
				if i == 0 {
					// Hold both batches open at once so their children run side by side.
					started.Done()
					started.Wait()
				}
				r.mu.Lock()
				r.order = append(r.order, i)
				r.mu.Unlock()
				r.running.Add(-1)
			})))
		}
	}

	for _, batch := range batches {
		s.Submit(batch.Task)
	}
	s.Await()

	for b, r := range runs {
		assert.False(t, r.overlap.Load(), "batch %d ran two children at once", b)
		require.Len(t, r.order, children)
		for i, got := range r.order {
			assert.Equal(t, i, got, "batch %d", b)
		}
	}
}

func TestBatch_ChildrenInheritScheduler(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 1})

	child := New(&counter{})
	batch := NewBatch("inherit")
	batch.AddChild(child)

	s.Submit(batch.Task)
	s.Await()
	assert.Same(t, s, child.Scheduler())
}

func TestBatch_AwaitCoversRequeuedChild(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 2})

	g := newGate()
	dep := New(g)
	s.Submit(dep)

	c := &counter{}
	blocked := New(c, WithDependencies(dep), WithRetryBudget(1<<20))
	batch := NewBatch("blocked")
	batch.AddChild(blocked)
	s.Submit(batch.Task)

	// The batch finishes but its child is requeued on its own and stays pending.
	require.Eventually(t, func() bool { return s.IsPending(blocked) && !s.IsPending(batch.Task) },
		eventuallyWait, eventuallyTick)

	g.open()
	s.Await()
	assert.Equal(t, 1, c.count())
}

func TestBatch_ChildMutation(t *testing.T) {
	t.Parallel()

	a, b := New(&counter{}), New(&counter{})
	batch := NewBatch("mutate")
	batch.AddChild(a)
	batch.AddChild(b)
	batch.AddChild(a)

	assert.True(t, batch.RemoveChild(a))
	assert.Equal(t, []*Task{b, a}, batch.Children(), "only the first occurrence is removed")
	assert.False(t, batch.RemoveChild(New(&counter{})))

	snapshot := batch.Children()
	batch.Clear()
	assert.Equal(t, 0, batch.Len())
	assert.Len(t, snapshot, 2, "snapshots are independent of later mutation")
}

func TestBatch_ConcurrentAddRemove(t *testing.T) {
	t.Parallel()

	batch := NewBatch("concurrent")
	tasks := make([]*Task, 200)
	for i := range tasks {
		tasks[i] = New(&counter{})
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Go(func() { batch.AddChild(task) })
	}
	wg.Wait()
	assert.Equal(t, len(tasks), batch.Len())

	for _, task := range tasks[:100] {
		wg.Go(func() { assert.True(t, batch.RemoveChild(task)) })
	}
	wg.Wait()
	assert.Equal(t, 100, batch.Len())
	assert.ElementsMatch(t, tasks[100:], batch.Children())
}

func TestBatch_ReusedAcrossTicks(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, SchedulerOptions{Workers: 2})

	c := &counter{}
	batch := NewBatch("reused")
	for range 3 {
		batch.Clear()
		batch.AddChild(New(c))
		batch.AddChild(New(c))
		s.SubmitForNextTick(batch.Task)
		s.Advance()
		s.Await()
	}
	assert.Equal(t, 6, c.count())
}
