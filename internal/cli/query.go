package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecswitch"
	"github.com/hupe1980/vecswitch/index"
)

type queryOptions struct {
	index     string
	vector    string
	k         int
	ef        int
	partition string
}

func newQueryCommand(a *app) *cobra.Command {
	o := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search a snapshot or a networked backend",
		Long: `Query loads the snapshot named by --index (local engines) and prints the
k nearest neighbors of --vector as rank, id and score.

Networked backends are queried directly and ignore --index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runQuery(cmd, o)
		},
	}

	cmd.Flags().StringVar(&o.index, "index", "", "snapshot name in the configured storage")
	cmd.Flags().StringVar(&o.vector, "vector", "", "query vector, comma separated")
	cmd.Flags().IntVar(&o.k, "k", 10, "number of neighbors")
	cmd.Flags().IntVar(&o.ef, "ef", 0, "search breadth for graph engines")
	cmd.Flags().StringVar(&o.partition, "partition", "", "restrict the search to a partition")
	_ = cmd.MarkFlagRequired("vector")

	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, o *queryOptions) error {
	ctx := cmd.Context()

	q, err := parseVector(o.vector)
	if err != nil {
		return err
	}

	idx, cleanup, err := a.open(ctx, len(q))
	if err != nil {
		return err
	}
	defer cleanup()

	if o.index != "" {
		if err := idx.Load(ctx, o.index); err != nil {
			return fmt.Errorf("load %s: %w", o.index, err)
		}
	}

	if o.ef > 0 {
		if s, ok := vecswitch.As[index.EFSetter](idx); ok {
			s.SetEF(o.ef)
		}
	}

	var results [][]index.Result
	if o.partition != "" {
		p, ok := vecswitch.As[index.Partitioner](idx)
		if !ok {
			return fmt.Errorf("engine %s does not support partitions", idx.Engine())
		}
		results, err = p.SearchPartition(ctx, o.partition, [][]float32{q}, o.k)
	} else {
		results, err = idx.Search(ctx, [][]float32{q}, o.k)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for rank, r := range results[0] {
		fmt.Fprintf(out, "%d\t%d\t%.6f\n", rank+1, r.ID, r.Score)
	}
	return nil
}
