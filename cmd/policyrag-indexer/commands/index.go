package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	indexeruc "github.com/kailas-cloud/policyrag/internal/usecase/indexer"
)

// errPartial marks a run where some policies failed.
var errPartial = errors.New("some policies failed to index")

func newIndexCmd(open OpenFunc, g *globalFlags) *cobra.Command {
	var (
		policies []string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the corpus incrementally",
		Long: `Index chunks every policy, embeds new and changed chunks and removes
chunks that no longer exist. Unchanged chunks are not re-embedded.

Examples:
  policyrag-indexer index
  policyrag-indexer index --policy CVD-BP-001 --policy LIF-SMK-001
  policyrag-indexer index --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := session(cmd, open, g)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			sum, err := d.Indexer.IndexAll(cmd.Context(), indexeruc.Options{PolicyIDs: policies, Force: force})
			if sum != nil {
				if perr := printSummary(cmd.OutOrStdout(), g.format, sum); perr != nil {
					return perr
				}
			}
			if err != nil {
				return fmt.Errorf("indexing: %w", err)
			}
			if sum.Partial() {
				return errPartial
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&policies, "policy", nil, "policy id to index (repeatable); default all")
	cmd.Flags().BoolVar(&force, "force", false, "re-embed every chunk")
	return cmd
}

func newReindexCmd(open OpenFunc, g *globalFlags) *cobra.Command {
	var (
		all   bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "reindex [policy-id]",
		Short: "Re-index one policy or the whole corpus",
		Long: `Reindex re-processes a single policy, or with --all rebuilds every
chunk of the corpus with fresh embeddings.

Examples:
  policyrag-indexer reindex CVD-BP-001
  policyrag-indexer reindex CVD-BP-001 --force
  policyrag-indexer reindex --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := session(cmd, open, g)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			if all {
				sum, err := d.Indexer.IndexAll(cmd.Context(), indexeruc.Options{Force: true})
				if sum != nil {
					if perr := printSummary(cmd.OutOrStdout(), g.format, sum); perr != nil {
						return perr
					}
				}
				if err != nil {
					return fmt.Errorf("reindexing: %w", err)
				}
				if sum.Partial() {
					return errPartial
				}
				return nil
			}

			o, err := d.Indexer.ReindexPolicy(cmd.Context(), args[0], force)
			if o.PolicyID() != "" {
				if g.format == "json" {
					if perr := writeJSON(cmd.OutOrStdout(), toOutcomeView(o)); perr != nil {
						return perr
					}
				} else {
					c := o.Counts()
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (added %d, updated %d, unchanged %d, removed %d)\n",
						o.PolicyID(), o.Status(), c.Added, c.Updated, c.Unchanged, c.Removed)
				}
			}
			if err != nil {
				return fmt.Errorf("reindexing %s: %w", args[0], err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "rebuild the whole corpus")
	cmd.Flags().BoolVar(&force, "force", false, "re-embed every chunk of the policy")
	return cmd
}

func newDeleteCmd(open OpenFunc, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <policy-id>",
		Short: "Remove every indexed chunk of a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := session(cmd, open, g)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			n, err := d.Indexer.DeletePolicy(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			if g.format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"policy_id": args[0], "removed": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d chunk(s) of %s\n", n, args[0])
			return nil
		},
	}
}
