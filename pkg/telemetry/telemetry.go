package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/argus-labs/frameloop/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// sentryFlushTimeout bounds how long Shutdown waits for buffered Sentry events.
const sentryFlushTimeout = 2 * time.Second

// Telemetry bundles the process logger, tracer and Sentry client.
type Telemetry struct {
	Logger      zerolog.Logger
	Tracer      trace.Tracer
	serviceName string

	shutdown func(context.Context) error
}

// New loads the OTEL_* environment, applies opts on top, and sets up logging, tracing and Sentry.
func New(opts Options) (Telemetry, error) {
	config, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load otel config")
	}

	options := newDefaultOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid otel options")
	}

	logger := newLogger(options)

	tracer, shutdown, err := setupTracing(context.Background(), config.Enabled, options)
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to setup tracing")
	}

	if err := sentry.New(options.SentryOptions); err != nil {
		return Telemetry{}, errors.Join(err, shutdown(context.Background()))
	}

	logger.Debug().
		Bool("tracing", config.Enabled).
		Bool("sentry", sentry.Enabled()).
		Str("log_format", options.LogFormat.String()).
		Msg("telemetry initialized")

	return Telemetry{
		Logger:      logger,
		Tracer:      tracer,
		serviceName: options.ServiceName,
		shutdown:    shutdown,
	}, nil
}

// Shutdown flushes Sentry and the trace exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	sentry.Shutdown(ctx, sentryFlushTimeout)
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// CaptureException reports a handled error to Sentry, tagged with the trace in ctx and the given
// tags. It does nothing when Sentry is disabled.
func (t *Telemetry) CaptureException(ctx context.Context, err error, tags map[string]string) {
	sentry.CaptureException(ctx, err, tags)
}

// RecoverAndFlush reports a panic in progress to Sentry and re-panics. It must be deferred
// directly, at the top of main or of a goroutine that owns its own lifetime.
func (t *Telemetry) RecoverAndFlush() {
	if r := recover(); r != nil {
		t.Logger.Error().Interface("panic", r).Msg("unrecovered panic")
		sentry.CapturePanic(r)
		panic(r)
	}
}
