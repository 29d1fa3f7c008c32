package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/source"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
)

func newStatsCmd(open OpenFunc, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the store holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := session(cmd, open, g)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			st, err := d.Indexer.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading stats: %w", err)
			}
			if g.format == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model:    %s\n", st.Model)
			fmt.Fprintf(out, "Policies: %d\n", st.Policies)
			fmt.Fprintf(out, "Chunks:   %d\n\n", st.TotalChunks)

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "CHUNK TYPE\tCOUNT\n")
			for _, k := range sortedKeys(st.ByType) {
				fmt.Fprintf(tw, "%s\t%d\n", k, st.ByType[k])
			}
			fmt.Fprintf(tw, "\nCATEGORY\tCOUNT\n")
			for _, k := range sortedKeys(st.ByCategory) {
				fmt.Fprintf(tw, "%s\t%d\n", k, st.ByCategory[k])
			}
			return tw.Flush()
		},
	}
}

func newWatchCmd(open OpenFunc, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Index now, then again whenever the corpus file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := session(cmd, open, g)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if d.WatchPath == "" {
				return errors.New("watch needs a local corpus file (source.path)")
			}

			run := func(ctx context.Context) {
				if d.Invalidate != nil {
					d.Invalidate()
				}
				sum, err := d.Indexer.IndexAll(ctx, indexeruc.Options{})
				if sum != nil {
					_ = printSummary(cmd.OutOrStdout(), g.format, sum)
				}
				if err != nil {
					d.Logger.Warn("Index run failed", zap.Error(err))
				}
			}

			run(cmd.Context())
			w := source.NewWatcher(d.WatchPath, d.WatchDebounce, run, d.Logger)
			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watching %s: %w", d.WatchPath, err)
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
