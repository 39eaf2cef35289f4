package config

import (
	"testing"

	"ledger-reconciliation-engine/internal/controller"
	"ledger-reconciliation-engine/internal/reporter"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func TestCreateMatcherConfig(t *testing.T) {
	viper.Reset()

	config, err := CreateMatcherConfig(3, "100.00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.DateWindowDays != 3 {
		t.Errorf("expected date window 3, got %d", config.DateWindowDays)
	}
	if !config.MinAmount.Equal(decimal.NewFromFloat(100.00)) {
		t.Errorf("expected min amount 100.00, got %s", config.MinAmount)
	}
	if config.FuzzyThreshold != 0.86 {
		t.Errorf("expected default fuzzy threshold, got %f", config.FuzzyThreshold)
	}
}

func TestCreateMatcherConfigInvalidAmount(t *testing.T) {
	viper.Reset()

	if _, err := CreateMatcherConfig(-1, "not-a-number"); err == nil {
		t.Error("expected error for invalid minimum amount")
	}
}

func TestCreateMatcherConfigViperOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("safe-override", true)
	viper.Set("amount-epsilon", "0.05")
	viper.Set("fuzzy-threshold", 0.9)

	config, err := CreateMatcherConfig(-1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !config.SafeOverride {
		t.Error("expected safe override enabled")
	}
	if !config.AmountEpsilon.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("expected epsilon 0.05, got %s", config.AmountEpsilon)
	}
	if config.FuzzyThreshold != 0.9 {
		t.Errorf("expected fuzzy threshold 0.9, got %f", config.FuzzyThreshold)
	}
}

func TestCreateNSFConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	config := CreateNSFConfig()
	if config.WindowDays != 3 {
		t.Errorf("expected default window 3, got %d", config.WindowDays)
	}

	viper.Set("nsf-window-days", 5)
	viper.Set("nsf-lexicon", []string{"bounced"})
	config = CreateNSFConfig()
	if config.WindowDays != 5 {
		t.Errorf("expected window 5, got %d", config.WindowDays)
	}
	if len(config.Lexicon) != 1 || config.Lexicon[0] != "bounced" {
		t.Errorf("expected overridden lexicon, got %v", config.Lexicon)
	}
}

func TestCreateControllerConfigModeAndTokens(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("allow.settlement_delete", []string{"ops-key-1"})

	config := CreateControllerConfig(false, "", 0)
	if config.Mode != controller.ModePreview {
		t.Errorf("expected preview mode by default, got %s", config.Mode)
	}
	if config.ChunkSize != 1000 {
		t.Errorf("expected default chunk size, got %d", config.ChunkSize)
	}

	config = CreateControllerConfig(true, "ops-key-1", 500)
	if config.Mode != controller.ModeApply {
		t.Errorf("expected apply mode with --write, got %s", config.Mode)
	}
	if config.ChunkSize != 500 {
		t.Errorf("expected chunk size 500, got %d", config.ChunkSize)
	}

	// One override key is offered to every guarded family; the allow-list
	// decides where it is accepted.
	for _, family := range []controller.OperationFamily{
		controller.FamilyLinkWrite,
		controller.FamilyLedgerFlag,
		controller.FamilySettlementDelete,
	} {
		if config.AuthTokens[family] != "ops-key-1" {
			t.Errorf("expected override key for %s", family)
		}
	}
	if err := config.Authorize(controller.FamilySettlementDelete); err != nil {
		t.Errorf("expected allow-listed key to authorize deletes: %v", err)
	}
}

func TestCreateControllerConfigWithoutKeyFailsDeleteClosed(t *testing.T) {
	viper.Reset()

	config := CreateControllerConfig(true, "", 0)
	if err := config.Authorize(controller.FamilySettlementDelete); err == nil {
		t.Error("expected destructive family to fail closed without a key")
	}
	if err := config.Authorize(controller.FamilyLinkWrite); err != nil {
		t.Errorf("expected link writes to pass without a key: %v", err)
	}
}

func TestCreateSelection(t *testing.T) {
	sel := CreateSelection(50, []string{"PAYROLL"})
	if sel.Limit != 50 {
		t.Errorf("expected limit 50, got %d", sel.Limit)
	}
	if len(sel.ExcludeAccounts) != 1 || sel.ExcludeAccounts[0] != "PAYROLL" {
		t.Errorf("expected PAYROLL excluded, got %v", sel.ExcludeAccounts)
	}
}

func TestCreateReportConfig(t *testing.T) {
	config := CreateReportConfig("console")
	if config.Format != reporter.FormatConsole {
		t.Errorf("expected console format, got %s", config.Format)
	}
	if config.IncludeLinkedDecisions {
		t.Error("expected linked decisions excluded from console output")
	}

	config = CreateReportConfig("csv")
	if config.Format != reporter.FormatCSV {
		t.Errorf("expected csv format, got %s", config.Format)
	}
	if !config.IncludeLinkedDecisions {
		t.Error("expected the CSV export to carry every decision")
	}
}
