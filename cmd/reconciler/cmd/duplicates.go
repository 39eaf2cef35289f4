package cmd

import (
	"context"

	"ledger-reconciliation-engine/internal/controller"

	"github.com/spf13/cobra"
)

// duplicatesCmd runs duplicate classification alone.
var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Classify duplicate settlement groups",
	Long: `Duplicates groups settlements sharing counterparty, amount and date,
and classifies each group on ledger evidence. Only TRUE_DUPLICATE groups
carry delete decisions; every ambiguous pattern is flagged for review.

Applying deletes is the engine's only destructive operation: it requires
--write, a valid --override-key, and archives every row before the first
delete.

Examples:
  reconciler duplicates --db ledger.db
  reconciler duplicates --db ledger.db --write --override-key $KEY`,

	PreRunE: validateRunFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeEngine(cmd.Context(), func(ctx context.Context, c *controller.Controller) (*controller.RunReport, error) {
			return c.RunDuplicates(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)
}
