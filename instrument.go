package vecswitch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/vecswitch/index"
)

// TracerName is the instrumentation name used when no tracer is given.
const TracerName = "github.com/hupe1980/vecswitch"

// Instrumented decorates an index with logging, metrics and tracing.
// Optional capabilities of the wrapped index are reachable through As.
type Instrumented struct {
	index.Index

	logger  *Logger
	metrics MetricsCollector
	tracer  trace.Tracer
}

// Instrument wraps idx. Nil arguments fall back to a no-op logger, a no-op
// collector and the global tracer.
func Instrument(idx index.Index, logger *Logger, mc MetricsCollector, tracer trace.Tracer) *Instrumented {
	if logger == nil {
		logger = NoopLogger()
	}
	if mc == nil {
		mc = NoopMetricsCollector{}
	}
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &Instrumented{
		Index:   idx,
		logger:  logger.WithEngine(idx.Engine()),
		metrics: mc,
		tracer:  tracer,
	}
}

// Unwrap returns the decorated index.
func (i *Instrumented) Unwrap() index.Index { return i.Index }

func (i *Instrumented) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("vecswitch.engine", i.Engine()),
		attribute.String("vecswitch.space", i.Space().String()),
	)
	return i.tracer.Start(ctx, "vecswitch."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddItems implements index.Index.
func (i *Instrumented) AddItems(ctx context.Context, vectors [][]float32, ids []int64) error {
	ctx, span := i.start(ctx, "add_items", attribute.Int("vecswitch.count", len(vectors)))
	start := time.Now()

	err := i.Index.AddItems(ctx, vectors, ids)

	i.metrics.RecordBatchInsert(len(vectors), time.Since(start), err)
	i.logger.LogBatchInsert(ctx, len(vectors), err)
	finish(span, err)
	return err
}

// GetItems implements index.Index.
func (i *Instrumented) GetItems(ctx context.Context, ids []int64) ([][]float32, error) {
	ctx, span := i.start(ctx, "get_items", attribute.Int("vecswitch.count", len(ids)))
	vectors, err := i.Index.GetItems(ctx, ids)
	finish(span, err)
	return vectors, err
}

// Search implements index.Index.
func (i *Instrumented) Search(ctx context.Context, queries [][]float32, k int) ([][]index.Result, error) {
	ctx, span := i.start(ctx, "search",
		attribute.Int("vecswitch.queries", len(queries)),
		attribute.Int("vecswitch.k", k),
	)
	start := time.Now()

	results, err := i.Index.Search(ctx, queries, k)

	found := 0
	for _, r := range results {
		found += len(r)
	}
	span.SetAttributes(attribute.Int("vecswitch.results", found))

	i.metrics.RecordSearch(len(queries), k, time.Since(start), err)
	i.logger.LogSearch(ctx, len(queries), k, found, err)
	finish(span, err)
	return results, err
}

// Count implements index.Index.
func (i *Instrumented) Count(ctx context.Context) (int, error) {
	ctx, span := i.start(ctx, "count")
	n, err := i.Index.Count(ctx)
	finish(span, err)
	return n, err
}

// Save implements index.Index.
func (i *Instrumented) Save(ctx context.Context, path string) error {
	return i.snapshot(ctx, "save", path, i.Index.Save)
}

// Load implements index.Index.
func (i *Instrumented) Load(ctx context.Context, path string) error {
	return i.snapshot(ctx, "load", path, i.Index.Load)
}

func (i *Instrumented) snapshot(ctx context.Context, op, path string, fn func(context.Context, string) error) error {
	ctx, span := i.start(ctx, op, attribute.String("vecswitch.path", path))
	start := time.Now()

	err := fn(ctx, path)

	i.metrics.RecordSnapshot(op, time.Since(start), err)
	i.logger.LogSnapshot(ctx, op, path, err)
	finish(span, err)
	return err
}

// As finds the first index in the Unwrap chain of idx that implements T.
//
//	if r, ok := vecswitch.As[index.Resizer](idx); ok {
//		_ = r.Resize(ctx, 4096)
//	}
func As[T any](idx index.Index) (T, bool) {
	for idx != nil {
		if t, ok := idx.(T); ok {
			return t, true
		}
		u, ok := idx.(interface{ Unwrap() index.Index })
		if !ok {
			break
		}
		idx = u.Unwrap()
	}
	var zero T
	return zero, false
}
