package vecswitch

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/vecswitch/index"
)

// Options configures Open.
type Options struct {
	// Params are passed to the engine constructor.
	Params index.Params

	// Features restricts the selector. Nil runs Detect.
	Features *Features

	// Logger receives fallback warnings and engine logs. Nil discards.
	Logger *Logger

	// MetricsCollector enables instrumentation when set.
	MetricsCollector MetricsCollector

	// Tracer enables instrumentation with spans when set.
	Tracer trace.Tracer
}

// DefaultOptions holds the defaults applied by Open.
var DefaultOptions = Options{
	Params: index.DefaultParams(),
}

// Option configures Open.
type Option func(o *Options)

// WithParams sets the engine construction parameters.
func WithParams(p index.Params) Option {
	return func(o *Options) {
		o.Params = p
	}
}

// WithFeatures sets the feature set used for resolution.
func WithFeatures(f Features) Option {
	return func(o *Options) {
		o.Features = &f
	}
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *Options) {
		o.MetricsCollector = mc
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) {
		o.Tracer = t
	}
}
