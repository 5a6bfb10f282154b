package frame

import (
	"github.com/argus-labs/frameloop/pkg/job"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
)

// Config is the driver configuration read from FRAMELOOP_* environment variables.
type Config struct {
	// TickRate is the number of frames per second Run aims for.
	TickRate int `env:"FRAMELOOP_TICK_RATE" envDefault:"60"`

	// MaxFrames stops Run after this many frames. Zero runs until the context is canceled.
	MaxFrames uint64 `env:"FRAMELOOP_MAX_FRAMES" envDefault:"0"`

	// Workers is the scheduler's core worker count. Zero uses runtime.NumCPU().
	Workers int `env:"FRAMELOOP_WORKERS" envDefault:"0"`

	// MaxWorkerFactor bounds worker pool growth as a multiple of Workers.
	MaxWorkerFactor int `env:"FRAMELOOP_MAX_WORKER_FACTOR" envDefault:"4"`

	// BatchSize is the number of entity updates grouped into one batch task.
	BatchSize int `env:"FRAMELOOP_BATCH_SIZE" envDefault:"64"`

	// FaultPolicy is what the scheduler does when an update panics ("isolate", "crash").
	FaultPolicy string `env:"FRAMELOOP_FAULT_POLICY" envDefault:"isolate"`

	// ScenePath is a YAML scene file. When empty a scene is generated.
	ScenePath string `env:"FRAMELOOP_SCENE_PATH"`

	// SceneEntities is the size of the generated scene.
	SceneEntities int `env:"FRAMELOOP_SCENE_ENTITIES" envDefault:"1000"`

	// SceneSeed seeds the generated scene.
	SceneSeed uint64 `env:"FRAMELOOP_SCENE_SEED" envDefault:"1"`

	// Renderer selects the frame consumer ("log", "json", "none").
	Renderer string `env:"FRAMELOOP_RENDERER" envDefault:"log"`
}

// loadConfig loads the configuration from environment variables.
func loadConfig() (Config, error) {
	cfg := Config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse frame config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate frame config")
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.TickRate < 1 {
		return eris.Errorf("tick rate must be at least 1, got %d", cfg.TickRate)
	}
	if cfg.Workers < 0 {
		return eris.Errorf("workers cannot be negative, got %d", cfg.Workers)
	}
	if cfg.MaxWorkerFactor < 1 {
		return eris.Errorf("max worker factor must be at least 1, got %d", cfg.MaxWorkerFactor)
	}
	if cfg.BatchSize < 1 {
		return eris.Errorf("batch size must be at least 1, got %d", cfg.BatchSize)
	}
	if job.ParseFaultPolicy(cfg.FaultPolicy) == job.FaultPolicyUndefined {
		return eris.Errorf("invalid fault policy: %s (must be 'isolate' or 'crash')", cfg.FaultPolicy)
	}
	if cfg.ScenePath == "" && cfg.SceneEntities < 0 {
		return eris.Errorf("scene entities cannot be negative, got %d", cfg.SceneEntities)
	}
	if ParseRendererKind(cfg.Renderer) == RendererUndefined {
		return eris.Errorf("invalid renderer: %s (must be 'log', 'json', or 'none')", cfg.Renderer)
	}
	return nil
}

func (cfg *Config) applyToOptions(opt *DriverOptions) {
	opt.TickRate = cfg.TickRate
	opt.MaxFrames = cfg.MaxFrames
	opt.BatchSize = cfg.BatchSize
	opt.Workers = cfg.Workers
	opt.MaxWorkerFactor = cfg.MaxWorkerFactor
	opt.FaultPolicy = job.ParseFaultPolicy(cfg.FaultPolicy)
	opt.RendererKind = ParseRendererKind(cfg.Renderer)
}
