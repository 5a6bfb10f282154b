package job

import (
	"slices"

	"github.com/sasha-s/go-deadlock"
)

// Batch is a task that runs a collection of child tasks sequentially on the worker executing it.
// It trades parallelism for fewer scheduler submissions when many small tasks would otherwise be
// submitted one by one.
type Batch struct {
	*Task

	mu       deadlock.RWMutex
	children []*Task
}

var _ Executor = (*Batch)(nil)

// NewBatch creates an empty batch.
func NewBatch(name string, opts ...TaskOption) *Batch {
	b := &Batch{}
	b.Task = New(b, append([]TaskOption{WithName(name)}, opts...)...)
	return b
}

// AddChild appends a child task. Safe for concurrent use.
func (b *Batch) AddChild(task *Task) {
	b.mu.Lock()
	b.children = append(b.children, task)
	b.mu.Unlock()
}

// RemoveChild removes the first occurrence of task. It reports whether the task was found.
func (b *Batch) RemoveChild(task *Task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.children, task)
	if i < 0 {
		return false
	}
	b.children = slices.Delete(b.children, i, i+1)
	return true
}

// Clear removes every child while keeping the backing storage for reuse.
func (b *Batch) Clear() {
	b.mu.Lock()
	clear(b.children)
	b.children = b.children[:0]
	b.mu.Unlock()
}

// Len returns the number of children.
func (b *Batch) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.children)
}

// Children returns a snapshot of the children in execution order.
func (b *Batch) Children() []*Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.children)
}

// Execute runs every child's Run in order. Children that are not bound to a scheduler inherit the
// batch's.
func (b *Batch) Execute() {
	children := b.Children()
	s := b.Scheduler()
	for _, child := range children {
		if child.Scheduler() == nil {
			child.Bind(s)
		}
		child.Run()
	}
}
