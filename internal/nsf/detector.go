// Package nsf finds debit/credit pairs in the bank ledger that represent a
// failed transfer and its reversal, so downstream duplicate analysis does
// not mistake them for duplicate or recurring charges.
package nsf

import (
	"fmt"
	"sort"
	"strings"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/similarity"
	"ledger-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Canonical narrative prefixes written onto the two legs of a detected
// pair. The original narrative is preserved after the prefix.
const (
	DebitPrefix  = "NSF FEE - "
	CreditPrefix = "NSF RETURN - "
)

// DefaultLexicon lists the narrative fragments that mark a reversal.
func DefaultLexicon() []string {
	return []string{
		"returned",
		"insufficient funds",
		"nsf",
		"reversed",
		"reversal",
		"chargeback",
		"r01",
	}
}

// Config holds the pair detector thresholds.
type Config struct {
	// AmountEpsilon bounds the debit/credit amount difference.
	AmountEpsilon decimal.Decimal `json:"amount_epsilon"`
	// WindowDays bounds how long after the debit the reversing credit may
	// post.
	WindowDays int `json:"window_days"`
	// Lexicon is the set of narrative fragments that identify a reversal.
	Lexicon []string `json:"lexicon"`
}

// DefaultConfig returns the production thresholds: one cent, three days,
// the standard reversal lexicon.
func DefaultConfig() *Config {
	return &Config{
		AmountEpsilon: decimal.NewFromFloat(0.01),
		WindowDays:    3,
		Lexicon:       DefaultLexicon(),
	}
}

// Validate checks the detector configuration.
func (c *Config) Validate() error {
	if c.AmountEpsilon.IsNegative() {
		return fmt.Errorf("amount epsilon cannot be negative: %s", c.AmountEpsilon)
	}
	if c.WindowDays < 0 {
		return fmt.Errorf("window days cannot be negative: %d", c.WindowDays)
	}
	if len(c.Lexicon) == 0 {
		return fmt.Errorf("reversal lexicon cannot be empty")
	}
	return nil
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Lexicon = append([]string(nil), c.Lexicon...)
	return &clone
}

// NarrativeUpdate is a proposed side effect on one ledger leg: set the
// reversal flag and prepend the canonical prefix.
type NarrativeUpdate struct {
	LedgerID     int64
	NewNarrative string
}

// Result is the outcome of one detection pass.
type Result struct {
	Pairs []models.NSFPair
	// Updates carries the is_reversal/narrative side effects for both legs
	// of every pair. Already-prefixed narratives produce no update, so a
	// second pass over flagged data is a no-op.
	Updates []NarrativeUpdate
	// ReversalIDs is the set of ledger ids participating in a pair, fed to
	// the duplicate classifier as exclusions.
	ReversalIDs map[int64]bool
}

// Detector pairs failed transfers with their reversals.
type Detector struct {
	config *Config
	log    logger.Logger
}

// NewDetector creates a pair detector. A nil config falls back to
// DefaultConfig.
func NewDetector(config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{
		config: config,
		log:    logger.WithComponent("nsf"),
	}
}

// Detect scans a bounded window of ledger transactions for one or more
// accounts and emits an exclusive pairing: no transaction appears in more
// than one pair. Candidates pair within an account only.
func (d *Detector) Detect(transactions []*models.LedgerTransaction) *Result {
	result := &Result{ReversalIDs: make(map[int64]bool)}

	byAccount := make(map[string][]*models.LedgerTransaction)
	for _, tx := range transactions {
		byAccount[tx.Account] = append(byAccount[tx.Account], tx)
	}

	accounts := make([]string, 0, len(byAccount))
	for account := range byAccount {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	for _, account := range accounts {
		d.detectAccount(byAccount[account], result)
	}

	d.log.WithFields(logger.Fields{
		"transactions": len(transactions),
		"pairs":        len(result.Pairs),
	}).Info("nsf detection complete")

	return result
}

// detectAccount runs the greedy pairing for one account. Debits are
// visited in id order; for each debit the qualifying credit with the
// smallest date gap wins, ties broken by smallest credit id. Both legs
// then leave the candidate pool.
func (d *Detector) detectAccount(transactions []*models.LedgerTransaction, result *Result) {
	var debits, credits []*models.LedgerTransaction
	for _, tx := range transactions {
		if tx.IsDebit() {
			debits = append(debits, tx)
		} else if tx.IsCredit() {
			credits = append(credits, tx)
		}
	}
	sort.Slice(debits, func(i, j int) bool { return debits[i].ID < debits[j].ID })
	sort.Slice(credits, func(i, j int) bool { return credits[i].ID < credits[j].ID })

	claimed := make(map[int64]bool)

	for _, debit := range debits {
		var best *models.LedgerTransaction
		bestGap := 0

		for _, credit := range credits {
			if claimed[credit.ID] {
				continue
			}
			gap, ok := d.qualifies(debit, credit)
			if !ok {
				continue
			}
			if best == nil || gap < bestGap {
				best = credit
				bestGap = gap
			}
			// Credits are visited in ascending id order, so an equal gap
			// never displaces the earlier id.
		}

		if best == nil {
			continue
		}

		claimed[best.ID] = true
		result.Pairs = append(result.Pairs, models.NSFPair{
			DebitID:     debit.ID,
			CreditID:    best.ID,
			Amount:      debit.Amount(),
			DateGapDays: bestGap,
		})
		result.ReversalIDs[debit.ID] = true
		result.ReversalIDs[best.ID] = true

		if update, ok := prefixUpdate(debit, DebitPrefix); ok {
			result.Updates = append(result.Updates, update)
		}
		if update, ok := prefixUpdate(best, CreditPrefix); ok {
			result.Updates = append(result.Updates, update)
		}
	}
}

// qualifies checks whether a credit reverses a debit: amounts within
// epsilon, credit posted zero to WindowDays after the debit, and either a
// lexicon hit on the credit narrative or an extracted-counterparty match.
func (d *Detector) qualifies(debit, credit *models.LedgerTransaction) (gapDays int, ok bool) {
	if !models.AmountsWithinEpsilon(debit.Amount(), credit.Amount(), d.config.AmountEpsilon) {
		return 0, false
	}

	if models.TruncateToDay(credit.OccurredOn).Before(models.TruncateToDay(debit.OccurredOn)) {
		return 0, false
	}
	gap := similarity.DaysApart(debit.OccurredOn, credit.OccurredOn)
	if gap > d.config.WindowDays {
		return 0, false
	}

	if d.lexiconHit(credit.Narrative) {
		return gap, true
	}
	if debit.CounterpartyExtracted != "" &&
		debit.CounterpartyExtracted == credit.CounterpartyExtracted {
		return gap, true
	}
	return 0, false
}

// lexiconHit reports whether a narrative contains any reversal marker.
func (d *Detector) lexiconHit(narrative string) bool {
	lowered := strings.ToLower(narrative)
	for _, marker := range d.config.Lexicon {
		if strings.Contains(lowered, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// prefixUpdate builds the canonical narrative for one leg. Legs already
// carrying a canonical prefix are left untouched, which keeps re-runs
// idempotent.
func prefixUpdate(tx *models.LedgerTransaction, prefix string) (NarrativeUpdate, bool) {
	if strings.HasPrefix(tx.Narrative, DebitPrefix) || strings.HasPrefix(tx.Narrative, CreditPrefix) {
		return NarrativeUpdate{}, false
	}
	return NarrativeUpdate{
		LedgerID:     tx.ID,
		NewNarrative: prefix + tx.Narrative,
	}, true
}
