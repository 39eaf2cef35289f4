package cmd

import (
	"context"

	"ledger-reconciliation-engine/internal/controller"

	"github.com/spf13/cobra"
)

// creditsCmd runs the credit allocator alone.
var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Propose dispositions for overpaid obligations",
	Long: `Credits computes the conservative excess on every overpaid obligation,
categorizes the payment pattern, and proposes a disposition ranked by
excess. Proposals are always advisory; this command never writes,
regardless of mode.

Examples:
  reconciler credits --db ledger.db
  reconciler credits --db ledger.db --output-format csv -o proposals.csv`,

	PreRunE: validateRunFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeEngine(cmd.Context(), func(ctx context.Context, c *controller.Controller) (*controller.RunReport, error) {
			return c.RunCredits(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
}
