package scene

import (
	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
)

// World owns a scene's entities and tracks which of them are active. Only active entities are
// updated and rendered. World is not safe for concurrent use; mutate it between frames.
type World struct {
	name     string
	entities []*Entity
	byID     map[uuid.UUID]uint32
	active   bitmap.Bitmap
}

// NewWorld creates a world from entities, all of them active. Entity IDs must be unique.
func NewWorld(name string, entities []*Entity) (*World, error) {
	w := &World{
		name:     name,
		entities: make([]*Entity, 0, len(entities)),
		byID:     make(map[uuid.UUID]uint32, len(entities)),
	}
	for _, e := range entities {
		if e == nil {
			return nil, eris.New("world cannot contain a nil entity")
		}
		if _, ok := w.byID[e.ID]; ok {
			return nil, eris.Errorf("duplicate entity id %s (%s)", e.ID, e.Name)
		}
		e.index = uint32(len(w.entities)) //nolint:gosec // bounded by slice length
		w.byID[e.ID] = e.index
		w.entities = append(w.entities, e)
		w.active.Set(e.index)
	}
	return w, nil
}

// Name returns the scene name.
func (w *World) Name() string {
	return w.name
}

// Len returns the number of entities, active or not.
func (w *World) Len() int {
	return len(w.entities)
}

// ActiveCount returns the number of active entities.
func (w *World) ActiveCount() int {
	return w.active.Count()
}

// Entities returns every entity in index order. The slice must not be modified.
func (w *World) Entities() []*Entity {
	return w.entities
}

// Lookup finds an entity by ID.
func (w *World) Lookup(id uuid.UUID) (*Entity, bool) {
	i, ok := w.byID[id]
	if !ok {
		return nil, false
	}
	return w.entities[i], true
}

// Activate marks an entity active. It reports whether the entity exists.
func (w *World) Activate(id uuid.UUID) bool {
	i, ok := w.byID[id]
	if ok {
		w.active.Set(i)
	}
	return ok
}

// Deactivate excludes an entity from updates and rendering. It reports whether the entity exists.
func (w *World) Deactivate(id uuid.UUID) bool {
	i, ok := w.byID[id]
	if ok {
		w.active.Remove(i)
	}
	return ok
}

// IsActive reports whether the entity exists and is active.
func (w *World) IsActive(id uuid.UUID) bool {
	i, ok := w.byID[id]
	return ok && w.active.Contains(i)
}

// Range calls fn for every active entity in index order.
func (w *World) Range(fn func(*Entity)) {
	w.active.Range(func(i uint32) {
		fn(w.entities[i])
	})
}

// EntityState is the renderable view of an entity.
type EntityState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Position Vec3    `json:"position"`
	Angle    float64 `json:"angle"`
	Updates  uint64  `json:"updates"`
}

// Snapshot is a copy of the active entities that stays valid after the world changes.
type Snapshot struct {
	Scene    string        `json:"scene"`
	Entities []EntityState `json:"entities"`
}

// Snapshot copies the state of every active entity.
func (w *World) Snapshot() Snapshot {
	s := Snapshot{Scene: w.name, Entities: make([]EntityState, 0, w.active.Count())}
	w.Range(func(e *Entity) {
		s.Entities = append(s.Entities, EntityState{
			ID:       e.ID.String(),
			Name:     e.Name,
			Kind:     e.Kind.String(),
			Position: e.Position,
			Angle:    e.Angle,
			Updates:  e.Updates,
		})
	})
	return s
}
