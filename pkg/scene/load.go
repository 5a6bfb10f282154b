package scene

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// namespace derives entity IDs, so the same scene always yields the same IDs.
var namespace = uuid.MustParse("6f1c1a52-3d0e-4b8e-9f55-5d0c4be1f0a7") //nolint:gochecknoglobals // constant

const defaultSceneName = "scene"

type sceneFile struct {
	Name     string       `yaml:"name"`
	Entities []entityDef `yaml:"entities"`
}

type entityDef struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"`
	Position Vec3    `yaml:"position"`
	Velocity Vec3    `yaml:"velocity"`
	Spin     float64 `yaml:"spin"`
	Radius   float64 `yaml:"radius"`
	Count    *int    `yaml:"count"`
}

// Load reads a YAML scene file.
func Load(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read scene %s", path)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load scene %s", path)
	}
	return w, nil
}

// Parse decodes a YAML scene. An entity with count N expands into N entities named name-0 to
// name-(N-1); orbiters in a group are spread evenly around their anchor.
func Parse(data []byte) (*World, error) {
	var file sceneFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "invalid scene yaml")
	}
	if file.Name == "" {
		file.Name = defaultSceneName
	}

	var entities []*Entity
	seen := make(map[string]struct{})
	for i, def := range file.Entities {
		expanded, err := def.expand(file.Name)
		if err != nil {
			return nil, eris.Wrapf(err, "entity %d", i)
		}
		for _, e := range expanded {
			if _, dup := seen[e.Name]; dup {
				return nil, eris.Errorf("duplicate entity name %q", e.Name)
			}
			seen[e.Name] = struct{}{}
		}
		entities = append(entities, expanded...)
	}

	return NewWorld(file.Name, entities)
}

func (d entityDef) validate() (Kind, int, error) {
	if d.Name == "" {
		return KindUndefined, 0, eris.New("name is required")
	}
	kind := ParseKind(d.Kind)
	if kind == KindUndefined {
		return kind, 0, eris.Errorf("%s: unknown kind %q (must be static, mover, spinner, or orbiter)", d.Name, d.Kind)
	}
	count := 1
	if d.Count != nil {
		count = *d.Count
	}
	if count < 1 {
		return kind, 0, eris.Errorf("%s: count must be at least 1, got %d", d.Name, count)
	}
	if d.Radius < 0 {
		return kind, 0, eris.Errorf("%s: radius cannot be negative", d.Name)
	}
	if kind == KindOrbiter && d.Radius == 0 {
		return kind, 0, eris.Errorf("%s: orbiter needs a positive radius", d.Name)
	}
	return kind, count, nil
}

func (d entityDef) expand(scene string) ([]*Entity, error) {
	kind, count, err := d.validate()
	if err != nil {
		return nil, err
	}

	entities := make([]*Entity, 0, count)
	for i := range count {
		name := d.Name
		if count > 1 {
			name = fmt.Sprintf("%s-%d", d.Name, i)
		}
		phase := 2 * math.Pi * float64(i) / float64(count)
		entities = append(entities,
			newEntity(entityID(scene, name), name, kind, d.Position, d.Velocity, d.Spin, d.Radius, phase))
	}
	return entities, nil
}

func entityID(scene, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(scene+"/"+name))
}

// Generate builds a scene of n entities with kinds and motion drawn from seed. The same n and seed
// always produce the same scene.
func Generate(n int, seed uint64) (*World, error) {
	if n < 0 {
		return nil, eris.Errorf("entity count cannot be negative, got %d", n)
	}

	const name = "generated"
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // simulation only
	within := func(lo, hi float64) float64 { return lo + r.Float64()*(hi-lo) }
	vec := func(lo, hi float64) Vec3 { return Vec3{within(lo, hi), within(lo, hi), within(lo, hi)} }

	entities := make([]*Entity, 0, n)
	for i := range n {
		kind := KindStatic + Kind(r.IntN(int(KindOrbiter))) //nolint:gosec // small enum
		entityName := fmt.Sprintf("%s-%d", kind, i)

		var velocity Vec3
		var spin, radius float64
		switch kind {
		case KindMover:
			velocity = vec(-5, 5)
		case KindSpinner:
			spin = within(-math.Pi, math.Pi)
		case KindOrbiter:
			spin = within(-math.Pi, math.Pi)
			radius = within(1, 20)
		case KindStatic, KindUndefined:
		}

		entities = append(entities, newEntity(entityID(name, entityName), entityName, kind,
			vec(-100, 100), velocity, spin, radius, within(0, 2*math.Pi)))
	}
	return NewWorld(name, entities)
}
