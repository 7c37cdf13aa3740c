package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxSteps = 250

type options struct {
	maxSteps int
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		tracer:   otel.Tracer("courier/engine"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type Option func(*options)

// WithMaxSteps bounds how many node executions a single invocation may perform.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
