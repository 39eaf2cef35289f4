package cmd

import (
	"context"

	"ledger-reconciliation-engine/internal/controller"

	"github.com/spf13/cobra"
)

// matchCmd runs the settlement matching engine alone.
var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match unlinked settlements to obligations",
	Long: `Match runs the tiered matching engine: exact business-key lookup,
amount-within-epsilon with an optional date window, then fuzzy
counterparty resolution against the roster. Ambiguous candidates are
ranked for review, never auto-resolved.

Examples:
  reconciler match --db ledger.db
  reconciler match --db ledger.db --date-window 3 --min-amount 25
  reconciler match --db ledger.db --write`,

	PreRunE: validateRunFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeEngine(cmd.Context(), func(ctx context.Context, c *controller.Controller) (*controller.RunReport, error) {
			return c.RunMatch(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
}
