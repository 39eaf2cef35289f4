package nsf

import (
	"strings"
	"testing"
	"time"

	"ledger-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func debit(id int64, account string, amount float64, d int, narrative string) *models.LedgerTransaction {
	return &models.LedgerTransaction{
		ID:          id,
		Account:     account,
		OccurredOn:  day(d),
		DebitAmount: decimal.NewFromFloat(amount),
		Narrative:   narrative,
	}
}

func credit(id int64, account string, amount float64, d int, narrative string) *models.LedgerTransaction {
	return &models.LedgerTransaction{
		ID:           id,
		Account:      account,
		OccurredOn:   day(d),
		CreditAmount: decimal.NewFromFloat(amount),
		Narrative:    narrative,
	}
}

func TestNewDetector(t *testing.T) {
	d := NewDetector(nil)
	if d == nil {
		t.Fatal("Expected detector to be created")
	}
}

func TestDetectFailedTransferAndReturn(t *testing.T) {
	d := NewDetector(nil)

	// A transfer goes out on day 1 and comes back the next day marked as
	// returned.
	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 841.00, 1, "transfer to fuel co"),
		credit(2, "OPERATING", 841.00, 2, "returned item - transfer to fuel co"),
	}

	result := d.Detect(transactions)

	if len(result.Pairs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(result.Pairs))
	}
	pair := result.Pairs[0]
	if pair.DebitID != 1 || pair.CreditID != 2 {
		t.Errorf("Expected pair (1, 2), got (%d, %d)", pair.DebitID, pair.CreditID)
	}
	if pair.DateGapDays != 1 {
		t.Errorf("Expected date gap 1, got %d", pair.DateGapDays)
	}
	if !pair.Amount.Equal(decimal.NewFromFloat(841.00)) {
		t.Errorf("Expected pair amount 841.00, got %s", pair.Amount)
	}
	if !result.ReversalIDs[1] || !result.ReversalIDs[2] {
		t.Error("Expected both legs in the reversal id set")
	}
}

func TestDetectWritesCanonicalPrefixes(t *testing.T) {
	d := NewDetector(nil)

	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 100.00, 1, "transfer to fuel co"),
		credit(2, "OPERATING", 100.00, 1, "nsf return of transfer"),
	}

	result := d.Detect(transactions)

	if len(result.Updates) != 2 {
		t.Fatalf("Expected 2 narrative updates, got %d", len(result.Updates))
	}

	byID := make(map[int64]string)
	for _, u := range result.Updates {
		byID[u.LedgerID] = u.NewNarrative
	}
	if byID[1] != DebitPrefix+"transfer to fuel co" {
		t.Errorf("Expected debit prefix, got %q", byID[1])
	}
	if !strings.HasPrefix(byID[2], CreditPrefix) {
		t.Errorf("Expected credit prefix, got %q", byID[2])
	}
}

func TestDetectIdempotentOverFlaggedData(t *testing.T) {
	d := NewDetector(nil)

	// Narratives already carry canonical prefixes from an earlier run; the
	// pair is still reported but no updates are proposed.
	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 100.00, 1, DebitPrefix+"transfer to fuel co"),
		credit(2, "OPERATING", 100.00, 1, CreditPrefix+"nsf return of transfer"),
	}

	result := d.Detect(transactions)

	if len(result.Pairs) != 1 {
		t.Fatalf("Expected the flagged pair to still be detected, got %d pairs", len(result.Pairs))
	}
	if len(result.Updates) != 0 {
		t.Errorf("Expected no updates for already-prefixed legs, got %d", len(result.Updates))
	}
}

func TestDetectGreedySmallestGapWins(t *testing.T) {
	d := NewDetector(nil)

	// Two qualifying credits; the one posted closer to the debit wins.
	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer"),
		credit(2, "OPERATING", 500.00, 3, "reversal of transfer"),
		credit(3, "OPERATING", 500.00, 2, "reversal of transfer"),
	}

	result := d.Detect(transactions)

	if len(result.Pairs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(result.Pairs))
	}
	if result.Pairs[0].CreditID != 3 {
		t.Errorf("Expected credit 3 (gap 1) to win, got %d", result.Pairs[0].CreditID)
	}
}

func TestDetectEqualGapTieBreaksBySmallerID(t *testing.T) {
	d := NewDetector(nil)

	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer"),
		credit(2, "OPERATING", 500.00, 2, "reversal of transfer"),
		credit(3, "OPERATING", 500.00, 2, "reversal of transfer"),
	}

	result := d.Detect(transactions)

	if len(result.Pairs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(result.Pairs))
	}
	if result.Pairs[0].CreditID != 2 {
		t.Errorf("Expected the smaller credit id on an equal gap, got %d", result.Pairs[0].CreditID)
	}
}

func TestDetectExclusivePairing(t *testing.T) {
	d := NewDetector(nil)

	// Two debits, one qualifying credit: the credit reverses exactly one of
	// them.
	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer a"),
		debit(2, "OPERATING", 500.00, 1, "transfer b"),
		credit(3, "OPERATING", 500.00, 2, "reversal"),
	}

	result := d.Detect(transactions)

	if len(result.Pairs) != 1 {
		t.Fatalf("Expected 1 pair with a single credit, got %d", len(result.Pairs))
	}
	if result.Pairs[0].DebitID != 1 {
		t.Errorf("Expected the first debit to claim the credit, got %d", result.Pairs[0].DebitID)
	}
}

func TestDetectWindowBound(t *testing.T) {
	d := NewDetector(nil)

	// Default window is three days; a credit on day 5 is four days out.
	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer"),
		credit(2, "OPERATING", 500.00, 5, "reversal of transfer"),
	}

	if result := d.Detect(transactions); len(result.Pairs) != 0 {
		t.Errorf("Expected no pair outside the window, got %d", len(result.Pairs))
	}

	// A credit posted before the debit never reverses it.
	transactions = []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 3, "transfer"),
		credit(2, "OPERATING", 500.00, 2, "reversal of transfer"),
	}

	if result := d.Detect(transactions); len(result.Pairs) != 0 {
		t.Errorf("Expected no pair for a credit preceding the debit, got %d", len(result.Pairs))
	}
}

func TestDetectAmountBound(t *testing.T) {
	d := NewDetector(nil)

	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer"),
		credit(2, "OPERATING", 500.02, 2, "reversal of transfer"),
	}

	if result := d.Detect(transactions); len(result.Pairs) != 0 {
		t.Errorf("Expected no pair two cents apart, got %d", len(result.Pairs))
	}
}

func TestDetectCounterpartyMatchQualifiesWithoutLexicon(t *testing.T) {
	d := NewDetector(nil)

	// Neither narrative carries a lexicon marker, but both legs extracted
	// the same counterparty.
	out := debit(1, "OPERATING", 500.00, 1, "outgoing wire")
	out.CounterpartyExtracted = "Fuel Co"
	back := credit(2, "OPERATING", 500.00, 2, "incoming wire")
	back.CounterpartyExtracted = "Fuel Co"

	result := d.Detect([]*models.LedgerTransaction{out, back})

	if len(result.Pairs) != 1 {
		t.Fatalf("Expected counterparty match to qualify, got %d pairs", len(result.Pairs))
	}
}

func TestDetectPlainCreditDoesNotQualify(t *testing.T) {
	d := NewDetector(nil)

	// Same amount and day, but no lexicon hit and no counterparty match:
	// an ordinary deposit, not a reversal.
	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer to fuel co"),
		credit(2, "OPERATING", 500.00, 1, "customer deposit"),
	}

	if result := d.Detect(transactions); len(result.Pairs) != 0 {
		t.Errorf("Expected no pair without reversal evidence, got %d", len(result.Pairs))
	}
}

func TestDetectAccountsAreIsolated(t *testing.T) {
	d := NewDetector(nil)

	transactions := []*models.LedgerTransaction{
		debit(1, "OPERATING", 500.00, 1, "transfer"),
		credit(2, "SAVINGS", 500.00, 2, "reversal of transfer"),
	}

	if result := d.Detect(transactions); len(result.Pairs) != 0 {
		t.Errorf("Expected no cross-account pair, got %d", len(result.Pairs))
	}
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}

	config = DefaultConfig()
	config.WindowDays = -1
	if err := config.Validate(); err == nil {
		t.Error("Expected error for negative window")
	}

	config = DefaultConfig()
	config.Lexicon = nil
	if err := config.Validate(); err == nil {
		t.Error("Expected error for empty lexicon")
	}
}
