package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/zjrosen/agentmap/internal/catalog"
	"github.com/zjrosen/agentmap/internal/presentation"
)

var (
	historyOutcome string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history [graph]",
	Short: "List recorded compile results",
	Long: `List compile results recorded in the catalog, newest first.

Examples:
  agentmap history
  agentmap history Onboarding --outcome failed
  agentmap history --limit 5 --text`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(rt *runtime) error {
			if rt.db == nil {
				return errors.New("catalog is disabled or unavailable")
			}
			filter := catalog.ListFilter{
				Outcome: catalog.Outcome(historyOutcome),
				Limit:   historyLimit,
			}
			if len(args) == 1 {
				filter.GraphName = args[0]
			}

			entries, err := rt.db.CompilationRepository().List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return formatter(cmd.OutOrStdout()).FormatHistory(presentation.FromEntries(entries))
		})
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome: compiled, up_to_date, failed")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum entries (0 for all)")
	rootCmd.AddCommand(historyCmd)
}
