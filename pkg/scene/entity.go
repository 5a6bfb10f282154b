package scene

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Vec3 is a position or velocity in world units.
type Vec3 [3]float64

// Add returns v + o*scale.
func (v Vec3) Add(o Vec3, scale float64) Vec3 {
	return Vec3{v[0] + o[0]*scale, v[1] + o[1]*scale, v[2] + o[2]*scale}
}

// UnmarshalYAML decodes a three element sequence.
func (v *Vec3) UnmarshalYAML(node *yaml.Node) error {
	var xs []float64
	if err := node.Decode(&xs); err != nil {
		return eris.Wrapf(err, "line %d: vector must be a sequence of numbers", node.Line)
	}
	if len(xs) != len(v) {
		return eris.Errorf("line %d: vector must have 3 components, got %d", node.Line, len(xs))
	}
	copy(v[:], xs)
	return nil
}

// Kind selects an entity's per-frame behavior.
type Kind uint8

const (
	KindUndefined Kind = iota // Used as the zero value
	KindStatic                // No per-frame update
	KindMover                 // Moves along its velocity
	KindSpinner               // Rotates in place at Spin radians per second
	KindOrbiter               // Circles its anchor at Radius, Spin radians per second
)

var kindNames = [...]string{ //nolint:gochecknoglobals // lookup table
	KindUndefined: "undefined",
	KindStatic:    "static",
	KindMover:     "mover",
	KindSpinner:   "spinner",
	KindOrbiter:   "orbiter",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUndefined]
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) Kind {
	s = strings.ToLower(s)
	for k, name := range kindNames {
		if k != int(KindUndefined) && name == s {
			return Kind(k)
		}
	}
	return KindUndefined
}

// Entity is a simulated object. During a frame it is touched only by its own update task, so its
// fields need no locking; the renderer reads them while updates are staged, never while they run.
type Entity struct {
	ID       uuid.UUID
	Name     string
	Kind     Kind
	Position Vec3
	Velocity Vec3
	Spin     float64 // Radians per second
	Radius   float64
	Angle    float64 // Current rotation or orbit phase, in [0, 2π)
	Updates  uint64  // Number of update callbacks applied

	index  uint32
	anchor Vec3
	update func(elapsed float64)
}

// newEntity builds an entity and binds its update callback. The callback is created once so
// reusing it every frame does not allocate.
func newEntity(id uuid.UUID, name string, kind Kind, position, velocity Vec3, spin, radius, phase float64) *Entity {
	e := &Entity{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Position: position,
		Velocity: velocity,
		Spin:     spin,
		Radius:   radius,
		Angle:    wrapAngle(phase),
		anchor:   position,
	}

	switch kind {
	case KindMover:
		e.update = e.move
	case KindSpinner:
		e.update = e.rotate
	case KindOrbiter:
		e.update = e.orbit
		e.Position = e.orbitPosition()
	case KindStatic, KindUndefined:
	}
	return e
}

// UpdateFunc returns the entity's per-frame callback, or nil for static entities.
func (e *Entity) UpdateFunc() func(elapsed float64) {
	return e.update
}

// Index returns the entity's slot in its world.
func (e *Entity) Index() uint32 {
	return e.index
}

func (e *Entity) move(elapsed float64) {
	e.Position = e.Position.Add(e.Velocity, elapsed)
	e.Updates++
}

func (e *Entity) rotate(elapsed float64) {
	e.Angle = wrapAngle(e.Angle + e.Spin*elapsed)
	e.Updates++
}

func (e *Entity) orbit(elapsed float64) {
	e.Angle = wrapAngle(e.Angle + e.Spin*elapsed)
	e.Position = e.orbitPosition()
	e.Updates++
}

func (e *Entity) orbitPosition() Vec3 {
	sin, cos := math.Sincos(e.Angle)
	return Vec3{e.anchor[0] + e.Radius*cos, e.anchor[1], e.anchor[2] + e.Radius*sin}
}

func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
