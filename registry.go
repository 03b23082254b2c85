package vecswitch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/metric"
)

// aliases maps accepted backend names to engines.
var aliases = map[string]string{
	"sklearn":    index.EngineExact,
	"exact":      index.EngineExact,
	"bruteforce": index.EngineExact,
	"hnswlib":    index.EngineHNSW,
	"hnsw":       index.EngineHNSW,
	"faiss":      index.EngineFlat,
	"flatfaiss":  index.EngineFlat,
	"flat":       index.EngineFlat,
	"redis":      index.EngineRedis,
	"redisearch": index.EngineRedis,
	"qdrant":     index.EngineQdrant,
}

// Resolution describes how a backend name was resolved.
type Resolution struct {
	// Requested is the name as passed by the caller.
	Requested string

	// Engine is the engine the constructor builds.
	Engine string

	// Fallback is true when Engine differs from what Requested names,
	// either because the name is unknown or the engine is unavailable.
	Fallback bool

	// Constructor builds the resolved engine.
	Constructor index.Constructor
}

// Lookup resolves name against the available features. It never fails:
// unknown names and unavailable engines resolve to the exact engine.
func Lookup(name string, f Features) Resolution {
	r := Resolution{
		Requested:   name,
		Engine:      index.EngineExact,
		Constructor: compiled[index.EngineExact],
	}

	engine, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok || !f.Has(engine) {
		r.Fallback = engine != index.EngineExact
		return r
	}

	r.Engine = engine
	r.Constructor = compiled[engine]
	return r
}

// Resolve returns the constructor for name, falling back to the exact engine.
func Resolve(name string, f Features) index.Constructor {
	return Lookup(name, f).Constructor
}

// Aliases returns every accepted backend name in sorted order.
func Aliases() []string {
	out := make([]string, 0, len(aliases))
	for a := range aliases {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Open resolves name and constructs the index.
//
// A fallback is logged at warn level; the returned index reports the engine
// it actually runs on. When a metrics collector or tracer is configured the
// index is wrapped with Instrument.
func Open(ctx context.Context, name string, space metric.Space, dim int, optFns ...Option) (index.Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}

	features := opts.Features
	if features == nil {
		f := Detect()
		features = &f
	}

	r := Lookup(name, *features)
	if r.Fallback {
		opts.Logger.LogFallback(ctx, name, r.Engine)
	}

	params := opts.Params
	if params.Logger == nil {
		params.Logger = opts.Logger.WithEngine(r.Engine).Logger
	}

	idx, err := r.Constructor(ctx, space, dim, params)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.Engine, err)
	}

	if opts.MetricsCollector != nil || opts.Tracer != nil {
		return Instrument(idx, opts.Logger, opts.MetricsCollector, opts.Tracer), nil
	}
	return idx, nil
}
