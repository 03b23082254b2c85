package cli

import (
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecswitch"
	"github.com/hupe1980/vecswitch/index"
)

type buildOptions struct {
	inputs    []string
	out       string
	dim       int
	batchSize int
}

func newBuildCommand(a *app) *cobra.Command {
	o := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Insert JSON-lines vectors and save a snapshot",
		Long: `Build reads JSON lines of the form {"id":1,"vector":[...],"partition":"x"}
from every file matched by --input, inserts them in batches and saves a
snapshot to --out in the configured storage.

Networked backends keep the items remotely and skip the snapshot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBuild(cmd, o)
		},
	}

	cmd.Flags().StringArrayVar(&o.inputs, "input", nil, "input glob, e.g. \"data/**/*.jsonl\" (repeatable)")
	cmd.Flags().StringVar(&o.out, "out", "index.vsw", "snapshot name in the configured storage")
	cmd.Flags().IntVar(&o.dim, "dim", 0, "vector dimension (default: index.dim or the first record)")
	cmd.Flags().IntVar(&o.batchSize, "batch-size", 1000, "items per AddItems call")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, o *buildOptions) error {
	ctx := cmd.Context()

	files, err := expandInputs(o.inputs)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match %v", o.inputs)
	}

	records, err := readRecordFiles(files)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("no records found")
	}

	dim := o.dim
	if dim == 0 {
		dim = a.cfg.Index.Dim
	}
	if dim == 0 {
		dim = len(records[0].Vector)
	}

	idx, cleanup, err := a.open(ctx, dim)
	if err != nil {
		return err
	}
	defer cleanup()

	partitioner, canPartition := vecswitch.As[index.Partitioner](idx)

	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Inserting"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}),
	)

	batchSize := o.batchSize
	if batchSize <= 0 {
		batchSize = len(records)
	}

	for _, group := range groupByPartition(records, batchSize) {
		vectors := make([][]float32, len(group.records))
		ids := make([]int64, len(group.records))
		for i, r := range group.records {
			vectors[i] = r.Vector
			ids[i] = r.ID
		}

		switch {
		case group.partition == "":
			err = idx.AddItems(ctx, vectors, ids)
		case canPartition:
			err = partitioner.AddItemsPartition(ctx, group.partition, vectors, ids)
		default:
			return fmt.Errorf("engine %s does not support partitions", idx.Engine())
		}
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}

		_ = bar.Add(len(group.records))
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Inserted %d items into %s (%s, dim %d)\n", len(records), idx.Engine(), idx.Space(), dim)

	if err := idx.Save(ctx, o.out); err != nil {
		if errors.Is(err, index.ErrNotImplemented) {
			fmt.Fprintf(out, "Engine %s keeps items remotely, no snapshot written\n", idx.Engine())
			return nil
		}
		return fmt.Errorf("save failed: %w", err)
	}

	fmt.Fprintf(out, "Snapshot saved to %s\n", o.out)
	return nil
}

type recordGroup struct {
	partition string
	records   []record
}

// groupByPartition splits records into batches of at most size items that
// share a partition, keeping input order within each partition.
func groupByPartition(records []record, size int) []recordGroup {
	var (
		order  []string
		byPart = make(map[string][]record)
	)
	for _, r := range records {
		if _, ok := byPart[r.Partition]; !ok {
			order = append(order, r.Partition)
		}
		byPart[r.Partition] = append(byPart[r.Partition], r)
	}

	var groups []recordGroup
	for _, p := range order {
		rs := byPart[p]
		for start := 0; start < len(rs); start += size {
			end := min(start+size, len(rs))
			groups = append(groups, recordGroup{partition: p, records: rs[start:end]})
		}
	}
	return groups
}
