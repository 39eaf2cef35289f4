// Package config translates CLI flag and environment values into the
// engine configurations the controller consumes.
package config

import (
	"fmt"

	"ledger-reconciliation-engine/internal/controller"
	"ledger-reconciliation-engine/internal/credits"
	"ledger-reconciliation-engine/internal/matcher"
	"ledger-reconciliation-engine/internal/nsf"
	"ledger-reconciliation-engine/internal/reporter"
	"ledger-reconciliation-engine/internal/store"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// CreateMatcherConfig builds the matching engine configuration from the
// CLI overrides.
func CreateMatcherConfig(dateWindow int, minAmount string) (*matcher.Config, error) {
	config := matcher.DefaultConfig()
	config.DateWindowDays = dateWindow

	if minAmount != "" {
		min, err := decimal.NewFromString(minAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum amount %q: %w", minAmount, err)
		}
		config.MinAmount = min
	}

	config.SafeOverride = viper.GetBool("safe-override")
	if epsilon := viper.GetString("amount-epsilon"); epsilon != "" {
		e, err := decimal.NewFromString(epsilon)
		if err != nil {
			return nil, fmt.Errorf("invalid amount epsilon %q: %w", epsilon, err)
		}
		config.AmountEpsilon = e
	}
	if threshold := viper.GetFloat64("fuzzy-threshold"); threshold > 0 {
		config.FuzzyThreshold = threshold
	}

	return config, nil
}

// CreateNSFConfig builds the pair detector configuration.
func CreateNSFConfig() *nsf.Config {
	config := nsf.DefaultConfig()
	if days := viper.GetInt("nsf-window-days"); days > 0 {
		config.WindowDays = days
	}
	if lexicon := viper.GetStringSlice("nsf-lexicon"); len(lexicon) > 0 {
		config.Lexicon = lexicon
	}
	return config
}

// CreateCreditConfig builds the credit allocator configuration.
func CreateCreditConfig() (*credits.Config, error) {
	config := credits.DefaultConfig()
	if threshold := viper.GetString("large-transfer-threshold"); threshold != "" {
		t, err := decimal.NewFromString(threshold)
		if err != nil {
			return nil, fmt.Errorf("invalid large transfer threshold %q: %w", threshold, err)
		}
		config.LargeTransferThreshold = t
	}
	return config, nil
}

// CreateControllerConfig builds the run controller configuration. The
// mode is decided here, once: --write wins over the default dry run, and
// the override key is offered for every guarded operation family. The
// allow-list comes from the config file or environment, never from a
// flag.
func CreateControllerConfig(write bool, overrideKey string, chunkSize int) *controller.Config {
	config := controller.DefaultConfig()
	if write {
		config.Mode = controller.ModeApply
	}
	if chunkSize > 0 {
		config.ChunkSize = chunkSize
	}

	if overrideKey != "" {
		config.AuthTokens[controller.FamilyLinkWrite] = overrideKey
		config.AuthTokens[controller.FamilyLedgerFlag] = overrideKey
		config.AuthTokens[controller.FamilySettlementDelete] = overrideKey
	}

	config.AllowList[controller.FamilyLinkWrite] = viper.GetStringSlice("allow.link_write")
	config.AllowList[controller.FamilyLedgerFlag] = viper.GetStringSlice("allow.ledger_flag")
	config.AllowList[controller.FamilySettlementDelete] = viper.GetStringSlice("allow.settlement_delete")

	return config
}

// CreateSelection builds the store-level row selection.
func CreateSelection(limit int, excludeAccounts []string) store.Selection {
	return store.Selection{
		Limit:           limit,
		ExcludeAccounts: excludeAccounts,
	}
}

// CreateReportConfig builds the report configuration for the requested
// output format.
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "console":
		config.Format = reporter.FormatConsole
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		config.IncludeLinkedDecisions = true // CSV is the full decision table
	}

	return config
}
