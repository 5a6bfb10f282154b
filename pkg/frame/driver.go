package frame

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/argus-labs/frameloop/pkg/job"
	"github.com/argus-labs/frameloop/pkg/scene"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Driver runs the frame loop. Each frame it waits for the previous frame's updates, stages this
// frame's updates for the next tick, renders the state the previous updates left behind, and then
// advances the tick so the staged updates run while the caller waits for the next frame.
type Driver struct {
	scheduler *job.Scheduler
	world     *scene.World
	renderer  Renderer
	options   DriverOptions
	logger    zerolog.Logger
	tracer    trace.Tracer
	metrics   *metrics

	updates []*job.EntityUpdateTask // Indexed by entity index
	batches []*job.Batch            // Reused across frames
	frame   uint64
	closed  bool
}

// Stats describes one frame.
type Stats struct {
	Frame          uint64
	Elapsed        float64
	Entities       int // Entity updates staged for the next tick
	Batches        int
	RenderDuration time.Duration
	Duration       time.Duration
}

// NewDriver loads the FRAMELOOP_* environment, applies opts on top, and creates the driver and
// its scheduler.
func NewDriver(opts DriverOptions) (*Driver, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load frame config")
	}

	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)

	if options.Tracer == nil {
		options.Tracer = noop.NewTracerProvider().Tracer("frameloop")
	}
	if options.World == nil {
		if options.World, err = loadWorld(cfg); err != nil {
			return nil, err
		}
	}
	if options.Renderer == nil {
		out := options.Output
		if out == nil {
			out = os.Stdout
		}
		every := uint64(max(options.TickRate, 1)) //nolint:gosec // positive
		if options.Renderer, err = NewRenderer(options.RendererKind, out, options.Logger, every); err != nil {
			return nil, eris.Wrap(err, "failed to create renderer")
		}
	}
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid driver options")
	}

	m := newMetrics()
	if err := m.register(options.Registerer); err != nil {
		return nil, err
	}

	scheduler, err := job.NewScheduler(options.schedulerOptions())
	if err != nil {
		m.unregister(options.Registerer)
		return nil, eris.Wrap(err, "failed to create scheduler")
	}

	d := &Driver{
		scheduler: scheduler,
		world:     options.World,
		renderer:  options.Renderer,
		options:   options,
		logger:    options.Logger,
		tracer:    options.Tracer,
		metrics:   m,
		updates:   make([]*job.EntityUpdateTask, options.World.Len()),
	}
	for i, e := range options.World.Entities() {
		d.updates[i] = job.NewEntityUpdateTask(e, job.WithName(e.Name))
	}

	d.logger.Info().
		Str("scene", d.world.Name()).
		Int("entities", d.world.Len()).
		Int("tick_rate", options.TickRate).
		Int("batch_size", options.BatchSize).
		Msg("frame driver created")
	return d, nil
}

func loadWorld(cfg Config) (*scene.World, error) {
	if cfg.ScenePath != "" {
		return scene.Load(cfg.ScenePath)
	}
	w, err := scene.Generate(cfg.SceneEntities, cfg.SceneSeed)
	if err != nil {
		return nil, eris.Wrap(err, "failed to generate scene")
	}
	return w, nil
}

// Step runs one frame with the given elapsed time in seconds. A render error is returned after
// the frame has completed, so the scheduler is always left in a consistent state.
func (d *Driver) Step(ctx context.Context, elapsed float64) (Stats, error) {
	d.frame++
	stats := Stats{Frame: d.frame, Elapsed: elapsed}

	ctx, span := d.tracer.Start(ctx, "frameloop.frame", trace.WithAttributes(
		attribute.Int64("frame.number", int64(d.frame)), //nolint:gosec // frame counts fit
		attribute.Float64("frame.elapsed", elapsed),
	))
	defer span.End()
	start := time.Now()

	// The previous frame's updates must finish before anything reads or restages them.
	d.scheduler.Await()

	fanOut := job.New(job.Func(func() {
		stats.Entities, stats.Batches = d.fanOut(elapsed)
	}), job.WithName("fan-out"))
	d.scheduler.Submit(fanOut)

	renderStart := time.Now()
	renderErr := d.renderer.Render(ctx, Frame{Number: d.frame, Elapsed: elapsed, Snapshot: d.world.Snapshot()})
	stats.RenderDuration = time.Since(renderStart)

	d.scheduler.Await()
	d.scheduler.Advance()
	stats.Duration = time.Since(start)

	d.metrics.frames.Inc()
	d.metrics.updates.Add(float64(stats.Entities))
	d.metrics.duration.Observe(stats.Duration.Seconds())
	d.metrics.render.Observe(stats.RenderDuration.Seconds())
	span.SetAttributes(
		attribute.Int("frame.entities", stats.Entities),
		attribute.Int("frame.batches", stats.Batches),
	)

	if renderErr != nil {
		span.RecordError(renderErr)
		span.SetStatus(codes.Error, "render failed")
		return stats, eris.Wrapf(renderErr, "frame %d render failed", d.frame)
	}
	return stats, nil
}

// fanOut reconfigures the update task of every active entity that has an update callback and
// stages them in batches for the next tick.
func (d *Driver) fanOut(elapsed float64) (entities, batches int) {
	var batch *job.Batch
	d.world.Range(func(e *scene.Entity) {
		if e.UpdateFunc() == nil {
			return
		}
		if batch == nil || batch.Len() == d.options.BatchSize {
			if batch != nil {
				d.scheduler.SubmitForNextTick(batch.Task)
			}
			batch = d.batch(batches)
			batches++
		}

		update := d.updates[e.Index()]
		update.Setup(elapsed, d.scheduler)
		batch.AddChild(update.Task)
		entities++
	})
	if batch != nil {
		d.scheduler.SubmitForNextTick(batch.Task)
	}
	return entities, batches
}

func (d *Driver) batch(i int) *job.Batch {
	if i == len(d.batches) {
		d.batches = append(d.batches, job.NewBatch(fmt.Sprintf("entity-updates-%d", i)))
	}
	b := d.batches[i]
	b.Clear()
	return b
}

// Run steps frames at the configured tick rate until ctx is canceled or MaxFrames is reached,
// then flushes the last staged updates. Cancellation is a clean stop and returns nil.
func (d *Driver) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(d.options.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer d.Flush()

	d.logger.Info().Dur("interval", interval).Uint64("max_frames", d.options.MaxFrames).Msg("frame loop started")

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Uint64("frames", d.frame).Msg("frame loop stopped")
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now

			stats, err := d.Step(ctx, elapsed.Seconds())
			if err != nil {
				return err
			}
			if stats.Duration > interval {
				d.logger.Debug().
					Uint64("frame", stats.Frame).
					Dur("duration", stats.Duration).
					Msg("frame overran its interval")
			}
			if d.options.MaxFrames > 0 && d.frame >= d.options.MaxFrames {
				d.logger.Info().Uint64("frames", d.frame).Msg("frame limit reached")
				return nil
			}
		}
	}
}

// Flush runs the updates staged by the last Step and waits for them.
func (d *Driver) Flush() {
	d.scheduler.Await()
	d.scheduler.Advance()
	d.scheduler.Await()
}

// Close flushes pending work and stops the scheduler. The driver cannot be used afterwards.
func (d *Driver) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.Flush()
	d.scheduler.Close()
}

// Frame returns the number of frames stepped so far.
func (d *Driver) Frame() uint64 {
	return d.frame
}

// Scheduler returns the driver's scheduler.
func (d *Driver) Scheduler() *job.Scheduler {
	return d.scheduler
}

// World returns the simulated world.
func (d *Driver) World() *scene.World {
	return d.world
}
