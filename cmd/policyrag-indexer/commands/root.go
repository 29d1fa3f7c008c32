// Package commands holds the policyrag-indexer command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/policyrag/internal/domain/index"
	"github.com/kailas-cloud/policyrag/internal/version"
	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
)

// Indexer is the indexing surface the commands drive.
type Indexer interface {
	IndexAll(ctx context.Context, opts indexeruc.Options) (*index.Summary, error)
	ReindexPolicy(ctx context.Context, policyID string, force bool) (index.PolicyOutcome, error)
	DeletePolicy(ctx context.Context, policyID string) (int, error)
	Stats(ctx context.Context) (index.Stats, error)
}

// Deps are the wired components one command invocation uses.
type Deps struct {
	Indexer Indexer
	// Invalidate drops the cached corpus so the next run re-reads it.
	Invalidate func()
	// WatchPath is the local corpus file; empty when the corpus is remote.
	WatchPath     string
	WatchDebounce time.Duration
	Logger        *zap.Logger
	Close         func() error
}

// OpenFunc builds Deps for an environment. configPath overrides the
// env-derived config file when set.
type OpenFunc func(ctx context.Context, env, configPath string) (*Deps, error)

type globalFlags struct {
	env        string
	configPath string
	format     string
}

// NewRootCmd creates the root command.
func NewRootCmd(open OpenFunc) *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "policyrag-indexer",
		Short: "Index underwriting policies for retrieval",
		Long: `policyrag-indexer loads the policy corpus, chunks it, embeds what changed
and writes the chunks to the configured store.

Examples:
  policyrag-indexer index
  policyrag-indexer index --policy CVD-BP-001 --force
  policyrag-indexer reindex CVD-BP-001
  policyrag-indexer delete LIF-SMK-001
  policyrag-indexer stats --format json
  policyrag-indexer watch`,
		Version:      version.String(),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.env, "env", "", "environment name (default: $ENV or local)")
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file path, overrides --env")
	cmd.PersistentFlags().StringVar(&g.format, "format", "text", "output format: text or json")

	cmd.AddCommand(
		newIndexCmd(open, g),
		newReindexCmd(open, g),
		newDeleteCmd(open, g),
		newStatsCmd(open, g),
		newWatchCmd(open, g),
	)
	return cmd
}

// session opens Deps for one command and validates the output format.
func session(cmd *cobra.Command, open OpenFunc, g *globalFlags) (*Deps, error) {
	if g.format != "text" && g.format != "json" {
		return nil, fmt.Errorf("--format must be text or json, got %q", g.format)
	}
	d, err := open(cmd.Context(), g.env, g.configPath)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Close == nil {
		d.Close = func() error { return nil }
	}
	return d, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, format string, sum *index.Summary) error {
	if format == "json" {
		return writeJSON(w, summaryView(sum))
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "POLICY\tSTATUS\tADDED\tUPDATED\tUNCHANGED\tREMOVED\tFAILED\n")
	for _, o := range sum.Policies {
		c := o.Counts()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			o.PolicyID(), o.Status(), c.Added, c.Updated, c.Unchanged, c.Removed, c.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d policies, %d failed; %d added, %d updated, %d unchanged, %d removed; %d embedding tokens in %s\n",
		len(sum.Policies), sum.PoliciesFailed,
		sum.Added, sum.Updated, sum.Unchanged, sum.Removed,
		sum.EmbeddingTokens, sum.Duration.Round(time.Millisecond))
	for _, o := range sum.FailedPolicies() {
		fmt.Fprintf(w, "  %s: %v\n", o.PolicyID(), o.Err())
	}
	return nil
}

type outcomeView struct {
	PolicyID string `json:"policy_id"`
	Status   string `json:"status"`
	index.Counts
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func toOutcomeView(o index.PolicyOutcome) outcomeView {
	v := outcomeView{PolicyID: o.PolicyID(), Status: string(o.Status()), Counts: o.Counts(), Warnings: o.Warnings()}
	if err := o.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

func summaryView(sum *index.Summary) map[string]any {
	policies := make([]outcomeView, len(sum.Policies))
	for i, o := range sum.Policies {
		policies[i] = toOutcomeView(o)
	}
	return map[string]any{
		"counts":           sum.Counts,
		"policies":         policies,
		"policies_failed":  sum.PoliciesFailed,
		"partial":          sum.Partial(),
		"cancelled":        sum.Cancelled,
		"embedding_tokens": sum.EmbeddingTokens,
		"embedding_calls":  sum.EmbeddingCalls,
		"duration_ms":      sum.Duration.Milliseconds(),
	}
}
