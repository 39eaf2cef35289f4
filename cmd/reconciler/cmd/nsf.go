package cmd

import (
	"context"

	"ledger-reconciliation-engine/internal/controller"

	"github.com/spf13/cobra"
)

// nsfCmd runs NSF reversal pair detection alone.
var nsfCmd = &cobra.Command{
	Use:   "nsf",
	Short: "Detect failed-transfer reversal pairs in the ledger",
	Long: `Nsf scans ledger transactions per account for debit/credit pairs where
the credit reverses the debit: matching amounts, posted within the
window, and either a reversal-lexicon hit or a counterparty match.
Pairing is exclusive; no transaction joins more than one pair.

With --write both legs are flagged and their narratives prefixed with
the canonical markers.

Examples:
  reconciler nsf --db ledger.db
  reconciler nsf --db ledger.db --exclude-account SUSPENSE --write`,

	PreRunE: validateRunFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeEngine(cmd.Context(), func(ctx context.Context, c *controller.Controller) (*controller.RunReport, error) {
			return c.RunNSF(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(nsfCmd)
}
