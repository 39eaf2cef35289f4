package cmd

import (
	"context"
	"fmt"
	"os"

	"ledger-reconciliation-engine/cmd/reconciler/config"
	"ledger-reconciliation-engine/internal/controller"
	"ledger-reconciliation-engine/internal/reporter"
	"ledger-reconciliation-engine/internal/store"
	enginerrors "ledger-reconciliation-engine/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd executes the full pipeline: match, detect reversal pairs,
// classify duplicates, propose credit dispositions.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full reconciliation pipeline",
	Long: `Run executes every engine in order: settlement matching, NSF reversal
pair detection, duplicate classification, and credit allocation. Each
engine's decisions feed the next.

By default this is a preview: decisions are reported and nothing is
written. Pass --write to persist them.

Examples:
  reconciler run --db ledger.db
  reconciler run --db ledger.db --write --override-key $KEY
  reconciler run --db ledger.db --limit 500 --exclude-account SUSPENSE`,

	PreRunE: validateRunFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeEngine(cmd.Context(), func(ctx context.Context, c *controller.Controller) (*controller.RunReport, error) {
			return c.Run(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// validateRunFlags resolves flag values through viper and checks them.
// Shared by every engine command since they take the same flags.
func validateRunFlags(cmd *cobra.Command, args []string) error {
	dbPath = viper.GetString("db")
	migrationsPath = viper.GetString("migrations")
	dryRun = viper.GetBool("dry-run")
	write = viper.GetBool("write")
	overrideKey = viper.GetString("override-key")
	chunkSize = viper.GetInt("chunk-size")
	limit = viper.GetInt("limit")
	excludeAccounts = viper.GetStringSlice("exclude-account")
	dateWindow = viper.GetInt("date-window")
	minAmount = viper.GetString("min-amount")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")

	if dbPath == "" {
		return enginerrors.Configuration(enginerrors.CodeInvalidConfig, "db", "database path is required")
	}
	if !write && !dryRun {
		return enginerrors.Configuration(enginerrors.CodeConflictingConfig,
			"dry-run", "disabling dry-run without --write leaves no run mode; pass --write to apply")
	}
	if limit < 0 {
		return enginerrors.Configuration(enginerrors.CodeInvalidConfig, "limit", "cannot be negative")
	}
	if chunkSize < 1 {
		return enginerrors.Configuration(enginerrors.CodeInvalidConfig, "chunk-size", "must be at least 1")
	}

	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return enginerrors.Configuration(enginerrors.CodeInvalidConfig, "output-format",
			fmt.Sprintf("invalid format %q; valid formats: console, json, csv", outputFormat))
	}

	return nil
}

// executeEngine opens the store, builds the controller, dispatches one
// engine invocation, and renders the report.
func executeEngine(ctx context.Context, invoke func(context.Context, *controller.Controller) (*controller.RunReport, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if viper.GetBool("verbose") {
		mode := "preview"
		if write {
			mode = "apply"
		}
		fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "Mode: %s\n", mode)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return enginerrors.Store(enginerrors.CodeConnectivity, "open database", err)
	}
	defer db.Close()

	if err := store.RunMigrations(db, migrationsPath); err != nil {
		return enginerrors.Structural(enginerrors.CodeSchemaFailure, "run migrations", err)
	}

	matchConfig, err := config.CreateMatcherConfig(dateWindow, minAmount)
	if err != nil {
		return enginerrors.Configuration(enginerrors.CodeInvalidConfig, "matcher", err.Error())
	}
	creditConfig, err := config.CreateCreditConfig()
	if err != nil {
		return enginerrors.Configuration(enginerrors.CodeInvalidConfig, "credits", err.Error())
	}

	ctrl, err := controller.New(&controller.Options{
		Controller: config.CreateControllerConfig(write, overrideKey, chunkSize),
		Matcher:    matchConfig,
		NSF:        config.CreateNSFConfig(),
		Credits:    creditConfig,
		Selection:  config.CreateSelection(limit, excludeAccounts),
	}, store.New(db))
	if err != nil {
		return err
	}

	report, runErr := invoke(ctx, ctrl)

	// Render whatever the run produced before surfacing a failure, so a
	// partially applied run is still visible to the operator.
	if report != nil {
		if renderErr := renderReport(report); renderErr != nil && runErr == nil {
			runErr = renderErr
		}
	}
	return runErr
}

func renderReport(report *controller.RunReport) error {
	generator, err := reporter.NewReportGenerator(config.CreateReportConfig(outputFormat))
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	output := os.Stdout
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	}

	return generator.GenerateReport(report, output)
}
