// Package cli implements the vecswitch command.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecswitch"
	"github.com/hupe1980/vecswitch/index"
	"github.com/hupe1980/vecswitch/internal/config"
	"github.com/hupe1980/vecswitch/internal/telemetry"
	"github.com/hupe1980/vecswitch/metric"
)

type app struct {
	cfgFile string
	backend string
	metric  string
	storage string
	path    string

	cfg       *config.Config
	logger    *vecswitch.Logger
	telemetry *telemetry.Provider
}

// NewRootCommand builds the vecswitch command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "vecswitch",
		Short: "Build and query nearest-neighbor indexes on interchangeable backends",
		Long: `vecswitch builds and queries nearest-neighbor indexes through one contract.
The backend is picked by name and falls back to exact search when unavailable.

Example usage:
  vecswitch backends
  vecswitch build --backend hnsw --metric cosine --input "data/**/*.jsonl" --out idx.bin
  vecswitch query --backend hnsw --metric cosine --index idx.bin --k 10 --vector 0.1,0.2,0.3`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml)")
	flags.StringVar(&a.backend, "backend", "", "backend name (overrides index.backend)")
	flags.StringVar(&a.metric, "metric", "", "metric: ip, cosine or l2 (overrides index.metric)")
	flags.StringVar(&a.storage, "storage", "", "snapshot storage: local, memory, bolt, s3, minio (overrides storage.kind)")
	flags.StringVar(&a.path, "storage-path", "", "root directory or bolt file (overrides storage.path)")

	root.AddCommand(
		newBackendsCommand(a),
		newBuildCommand(a),
		newQueryCommand(a),
	)

	return root
}

// Execute runs the command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Index.Backend = a.backend
	}
	if flags.Changed("metric") {
		cfg.Index.Metric = a.metric
	}
	if flags.Changed("storage") {
		cfg.Storage.Kind = a.storage
	}
	if flags.Changed("storage-path") {
		cfg.Storage.Path = a.path
	}

	a.logger, err = cfg.Log.Logger()
	if err != nil {
		return err
	}

	for _, w := range cfg.Validate() {
		a.logger.Warn(w)
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.Environment = cfg.Telemetry.Environment
	tcfg.SampleRate = cfg.Telemetry.SampleRate

	a.telemetry, err = telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.telemetry == nil {
		return nil
	}
	return a.telemetry.Shutdown(cmd.Context())
}

// open constructs the configured index. The returned cleanup releases the
// index and its snapshot store.
func (a *app) open(ctx context.Context, dim int) (index.Index, func(), error) {
	space, err := metric.Parse(a.cfg.Index.Metric)
	if err != nil {
		return nil, nil, err
	}

	features := vecswitch.Detect()
	engine := vecswitch.Lookup(a.cfg.Index.Backend, features).Engine

	params, err := a.cfg.Params(engine)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openStore(ctx, a.cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	params.Store = store

	opts := []vecswitch.Option{
		vecswitch.WithFeatures(features),
		vecswitch.WithParams(params),
		vecswitch.WithLogger(a.logger),
	}
	if a.telemetry.Enabled() {
		opts = append(opts, vecswitch.WithTracer(a.telemetry.Tracer()))
	}

	idx, err := vecswitch.Open(ctx, a.cfg.Index.Backend, space, dim, opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	return idx, func() {
		if err := idx.Close(); err != nil {
			a.logger.Warn("close index", "error", err)
		}
		closeStore()
	}, nil
}
