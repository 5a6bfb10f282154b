package frame

import (
	"io"

	"github.com/argus-labs/frameloop/pkg/job"
	"github.com/argus-labs/frameloop/pkg/scene"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DriverOptions configures a Driver. Zero values mean "use the default", and set fields
// override the FRAMELOOP_* environment.
type DriverOptions struct {
	TickRate        int    // Frames per second for Run
	MaxFrames       uint64 // Stop Run after this many frames, 0 for no limit
	BatchSize       int    // Entity updates per batch task
	Workers         int    // Scheduler core workers, 0 for runtime.NumCPU()
	MaxWorkerFactor int
	FaultPolicy     job.FaultPolicy

	World        *scene.World // Scene to simulate, loaded from config when nil
	Renderer     Renderer     // Frame consumer, built from RendererKind when nil
	RendererKind RendererKind
	Output       io.Writer // Destination of the JSON renderer

	Logger     zerolog.Logger
	Tracer     trace.Tracer
	Registerer prometheus.Registerer

	// OnFault is called when an entity update panics.
	OnFault func(task *job.Task, err error)
}

func newDefaultOptions() DriverOptions {
	// Set these to invalid values to force users to pass in the correct options.
	return DriverOptions{
		TickRate:     0,
		BatchSize:    0,
		FaultPolicy:  job.FaultPolicyUndefined,
		RendererKind: RendererUndefined,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *DriverOptions) apply(newOpt DriverOptions) {
	if newOpt.TickRate != 0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.MaxFrames != 0 {
		opt.MaxFrames = newOpt.MaxFrames
	}
	if newOpt.BatchSize != 0 {
		opt.BatchSize = newOpt.BatchSize
	}
	if newOpt.Workers != 0 {
		opt.Workers = newOpt.Workers
	}
	if newOpt.MaxWorkerFactor != 0 {
		opt.MaxWorkerFactor = newOpt.MaxWorkerFactor
	}
	if newOpt.FaultPolicy != job.FaultPolicyUndefined {
		opt.FaultPolicy = newOpt.FaultPolicy
	}
	if newOpt.World != nil {
		opt.World = newOpt.World
	}
	if newOpt.Renderer != nil {
		opt.Renderer = newOpt.Renderer
	}
	if newOpt.RendererKind != RendererUndefined {
		opt.RendererKind = newOpt.RendererKind
	}
	if newOpt.Output != nil {
		opt.Output = newOpt.Output
	}
	opt.Logger = newOpt.Logger
	if newOpt.Tracer != nil {
		opt.Tracer = newOpt.Tracer
	}
	if newOpt.Registerer != nil {
		opt.Registerer = newOpt.Registerer
	}
	if newOpt.OnFault != nil {
		opt.OnFault = newOpt.OnFault
	}
}

// validate checks that all required options are set and valid.
func (opt *DriverOptions) validate() error {
	if opt.TickRate < 1 {
		return eris.Errorf("tick rate must be at least 1, got %d", opt.TickRate)
	}
	if opt.BatchSize < 1 {
		return eris.Errorf("batch size must be at least 1, got %d", opt.BatchSize)
	}
	if opt.World == nil {
		return eris.New("world must be set")
	}
	if opt.Renderer == nil {
		return eris.New("renderer must be set")
	}
	if opt.Tracer == nil {
		return eris.New("tracer must be set")
	}
	return nil
}

func (opt *DriverOptions) schedulerOptions() job.SchedulerOptions {
	return job.SchedulerOptions{
		Workers:         opt.Workers,
		MaxWorkerFactor: opt.MaxWorkerFactor,
		FaultPolicy:     opt.FaultPolicy,
		Logger:          opt.Logger,
		Registerer:      opt.Registerer,
		OnFault:         opt.OnFault,
	}
}
