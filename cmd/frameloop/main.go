// Command frameloop runs the entity simulation loop on the job scheduler.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-labs/frameloop/pkg/frame"
	"github.com/argus-labs/frameloop/pkg/job"
	"github.com/argus-labs/frameloop/pkg/telemetry"
	"github.com/argus-labs/frameloop/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type config struct {
	// MetricsAddr serves /metrics and /healthz when set, e.g. ":9090".
	MetricsAddr string `env:"FRAMELOOP_METRICS_ADDR"`

	// DeadlockDetection turns on lock-order and stall checks for the scheduler's mutexes.
	DeadlockDetection bool `env:"FRAMELOOP_DEADLOCK_DETECTION" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("frameloop exited")
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return eris.Wrap(err, "failed to parse frameloop config")
	}
	deadlock.Opts.Disable = !cfg.DeadlockDetection

	tel, err := telemetry.New(telemetry.Options{
		ServiceName:   "frameloop",
		SentryOptions: sentry.Options{Tags: map[string]string{"component": "frameloop"}},
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize telemetry")
	}
	defer shutdown(&tel)
	defer tel.RecoverAndFlush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	driver, err := frame.NewDriver(frame.DriverOptions{
		Logger:     tel.GetLogger("frame"),
		Tracer:     tel.Tracer,
		Registerer: registry,
		OnFault: func(task *job.Task, err error) {
			tel.CaptureException(ctx, err, map[string]string{"task": task.Name()})
		},
	})
	if err != nil {
		return eris.Wrap(err, "failed to create frame driver")
	}
	defer driver.Close()

	// The metrics server lives as long as the frame loop.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer cancelLoop()
		return driver.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return telemetry.ServeMetrics(gctx, cfg.MetricsAddr, registry, tel.GetLogger("metrics"))
		})
	}

	if err := g.Wait(); err != nil {
		tel.CaptureException(ctx, err, nil)
		return eris.Wrap(err, "frame loop failed")
	}
	return nil
}

func shutdown(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := tel.Shutdown(ctx); err != nil {
		tel.Logger.Error().Err(err).Msg("telemetry shutdown error")
	}
	tel.Logger.Info().Msg("frameloop shutdown complete")
}
