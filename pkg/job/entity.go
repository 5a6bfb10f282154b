package job

// Entity is a simulated object. UpdateFunc returns the entity's per-frame callback, or nil when
// the entity has no per-frame behavior.
type Entity interface {
	UpdateFunc() func(elapsed float64)
}

// EntityUpdateTask runs one entity's update callback. Instances are long-lived: the frame driver
// keeps one per entity and calls Setup every frame instead of allocating a new task.
type EntityUpdateTask struct {
	*Task

	entity  Entity
	elapsed float64
}

var _ Executor = (*EntityUpdateTask)(nil)

// NewEntityUpdateTask creates the reusable update task for entity. The task does not own entity.
func NewEntityUpdateTask(entity Entity, opts ...TaskOption) *EntityUpdateTask {
	u := &EntityUpdateTask{entity: entity}
	u.Task = New(u, append([]TaskOption{WithName("entity-update")}, opts...)...)
	return u
}

// Setup reconfigures the task for the current frame.
func (u *EntityUpdateTask) Setup(elapsed float64, s *Scheduler) {
	u.elapsed = elapsed
	u.Bind(s)
}

// Execute invokes the entity's update callback with the configured elapsed time.
func (u *EntityUpdateTask) Execute() {
	if u.entity == nil {
		return
	}
	if update := u.entity.UpdateFunc(); update != nil {
		update(u.elapsed)
	}
}

// Entity returns the entity the task updates.
func (u *EntityUpdateTask) Entity() Entity {
	return u.entity
}

// Elapsed returns the elapsed time configured by the last Setup.
func (u *EntityUpdateTask) Elapsed() float64 {
	return u.elapsed
}
