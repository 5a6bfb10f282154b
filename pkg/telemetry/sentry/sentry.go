package sentry

import (
	"context"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/trace"
)

const flushTimeout = 5 * time.Second

type Options struct {
	Dsn         string
	Environment string
	Release     string
	Tags        map[string]string
}

// New sets up Sentry using the provided options.
// If the DSN is empty, initialization is skipped.
func New(opt Options) error {
	if opt.Dsn == "" {
		return nil
	}

	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         opt.Dsn,
		Environment: opt.Environment,
		Release:     opt.Release,
		Tags:        opt.Tags,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize sentry")
	}

	return nil
}

// Enabled reports whether a Sentry client is installed.
func Enabled() bool {
	return sentrygo.CurrentHub().Client() != nil
}

// RecoverAndFlush captures a panic (if any) and flushes buffered events.
// If repanic is true, the panic is rethrown after flush to preserve crash semantics.
func RecoverAndFlush(repanic bool) {
	if !Enabled() {
		return
	}
	if r := recover(); r != nil {
		CapturePanic(r)
		if repanic {
			panic(r)
		}
		return
	}
	sentrygo.Flush(flushTimeout)
}

// CapturePanic reports a recovered panic value and flushes.
func CapturePanic(r any) {
	if !Enabled() {
		return
	}
	sentrygo.CurrentHub().Recover(r)
	sentrygo.Flush(flushTimeout)
}

// CaptureException reports a handled error to Sentry.
func CaptureException(ctx context.Context, err error, tags map[string]string) {
	if !Enabled() || err == nil {
		return
	}
	sentrygo.WithScope(func(scope *sentrygo.Scope) {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			scope.SetTag("trace_id", spanCtx.TraceID().String())
			scope.SetTag("span_id", spanCtx.SpanID().String())
		}
		scope.SetTags(tags)
		sentrygo.CaptureException(err)
	})
}

// Shutdown flushes buffered events with the provided timeout or context deadline.
func Shutdown(ctx context.Context, timeout time.Duration) {
	if !Enabled() {
		return
	}
	t := timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until > 0 && until < t {
			t = until
		}
	}
	if t <= 0 {
		t = time.Second
	}
	sentrygo.Flush(t)
}
