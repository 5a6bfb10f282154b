package frame

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/argus-labs/frameloop/pkg/scene"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Frame is what a renderer receives: the entity state as it stood before this frame's updates.
type Frame struct {
	Number   uint64
	Elapsed  float64
	Snapshot scene.Snapshot
}

// Renderer consumes frames. Render is called on the driver goroutine between staging a frame's
// updates and running them, so it must not mutate entities.
type Renderer interface {
	Render(ctx context.Context, f Frame) error
}

// RendererKind selects a built-in renderer.
type RendererKind uint8

const (
	RendererUndefined RendererKind = iota // Used as the zero value
	RendererLog                           // Periodic summary through the logger
	RendererJSON                          // One JSON document per frame
	RendererNone                          // Discards frames
)

const (
	logRendererString       = "log"
	jsonRendererString      = "json"
	noneRendererString      = "none"
	undefinedRendererString = "undefined"
)

func (k RendererKind) String() string {
	switch k {
	case RendererLog:
		return logRendererString
	case RendererJSON:
		return jsonRendererString
	case RendererNone:
		return noneRendererString
	case RendererUndefined:
		return undefinedRendererString
	default:
		return undefinedRendererString
	}
}

// ParseRendererKind converts a string to a RendererKind.
func ParseRendererKind(s string) RendererKind {
	switch strings.ToLower(s) {
	case logRendererString:
		return RendererLog
	case jsonRendererString:
		return RendererJSON
	case noneRendererString:
		return RendererNone
	default:
		return RendererUndefined
	}
}

// NewRenderer builds a built-in renderer. JSON frames go to out; log summaries go to logger every
// `every` frames.
func NewRenderer(kind RendererKind, out io.Writer, logger zerolog.Logger, every uint64) (Renderer, error) {
	switch kind {
	case RendererLog:
		return NewLogRenderer(logger, every), nil
	case RendererJSON:
		if out == nil {
			return nil, eris.New("json renderer needs an output")
		}
		return NewJSONRenderer(out), nil
	case RendererNone:
		return NopRenderer{}, nil
	case RendererUndefined:
	}
	return nil, eris.Errorf("unknown renderer %s", kind)
}

// NopRenderer discards frames.
type NopRenderer struct{}

func (NopRenderer) Render(context.Context, Frame) error { return nil }

// LogRenderer logs a one-line summary of every Nth frame.
type LogRenderer struct {
	logger zerolog.Logger
	every  uint64
}

func NewLogRenderer(logger zerolog.Logger, every uint64) *LogRenderer {
	return &LogRenderer{logger: logger, every: max(every, 1)}
}

func (r *LogRenderer) Render(_ context.Context, f Frame) error {
	if f.Number%r.every != 0 {
		return nil
	}

	var centroid scene.Vec3
	var updates uint64
	for _, e := range f.Snapshot.Entities {
		centroid = centroid.Add(e.Position, 1)
		updates += e.Updates
	}
	if n := len(f.Snapshot.Entities); n > 0 {
		centroid = scene.Vec3{centroid[0] / float64(n), centroid[1] / float64(n), centroid[2] / float64(n)}
	}

	r.logger.Info().
		Uint64("frame", f.Number).
		Float64("elapsed", f.Elapsed).
		Str("scene", f.Snapshot.Scene).
		Int("entities", len(f.Snapshot.Entities)).
		Uint64("updates", updates).
		Floats64("centroid", centroid[:]).
		Msg("frame")
	return nil
}

// JSONRenderer writes each frame as a JSON document followed by a newline.
type JSONRenderer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

type jsonFrame struct {
	Frame    uint64              `json:"frame"`
	Elapsed  float64             `json:"elapsed"`
	Scene    string              `json:"scene"`
	Entities []scene.EntityState `json:"entities"`
}

func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) Render(_ context.Context, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.enc.Encode(jsonFrame{
		Frame:    f.Number,
		Elapsed:  f.Elapsed,
		Scene:    f.Snapshot.Scene,
		Entities: f.Snapshot.Entities,
	})
	if err != nil {
		return eris.Wrapf(err, "failed to write frame %d", f.Number)
	}
	return nil
}
