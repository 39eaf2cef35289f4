// Package credits proposes dispositions for obligations paid in excess of
// what was owed. The allocator only ever reads post-reconciliation
// balances; a human-approved subset of its proposals is what the apply
// controller eventually executes.
package credits

import (
	"fmt"
	"sort"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config holds the allocator thresholds.
type Config struct {
	// AmountEpsilon is the minimum excess worth proposing a disposition
	// for.
	AmountEpsilon decimal.Decimal `json:"amount_epsilon"`
	// LargeTransferThreshold marks a single transfer big enough to suggest
	// one payment covering multiple obligations.
	LargeTransferThreshold decimal.Decimal `json:"large_transfer_threshold"`
	// UniformShare is the fraction of settlements the single most frequent
	// amount must account for in an installment pattern.
	UniformShare float64 `json:"uniform_share"`
	// TransferShare is the fraction of total paid above which transfers
	// dominate the payment mix.
	TransferShare float64 `json:"transfer_share"`
	// MinInstallments is the minimum settlement count for the installment
	// pattern.
	MinInstallments int `json:"min_installments"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() *Config {
	return &Config{
		AmountEpsilon:          decimal.NewFromFloat(0.01),
		LargeTransferThreshold: decimal.NewFromInt(2500),
		UniformShare:           0.95,
		TransferShare:          0.50,
		MinInstallments:        3,
	}
}

// Validate checks the allocator configuration.
func (c *Config) Validate() error {
	if c.AmountEpsilon.IsNegative() {
		return fmt.Errorf("amount epsilon cannot be negative: %s", c.AmountEpsilon)
	}
	if !c.LargeTransferThreshold.IsPositive() {
		return fmt.Errorf("large transfer threshold must be positive: %s", c.LargeTransferThreshold)
	}
	if c.UniformShare <= 0.0 || c.UniformShare > 1.0 {
		return fmt.Errorf("uniform share must be in (0.0, 1.0]: %f", c.UniformShare)
	}
	if c.TransferShare <= 0.0 || c.TransferShare > 1.0 {
		return fmt.Errorf("transfer share must be in (0.0, 1.0]: %f", c.TransferShare)
	}
	if c.MinInstallments < 2 {
		return fmt.Errorf("minimum installments must be at least 2: %d", c.MinInstallments)
	}
	return nil
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Allocator categorizes overpayments and proposes dispositions.
type Allocator struct {
	config *Config
	log    logger.Logger
}

// NewAllocator creates a credit allocator. A nil config falls back to
// DefaultConfig.
func NewAllocator(config *Config) *Allocator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Allocator{
		config: config,
		log:    logger.WithComponent("credits"),
	}
}

// Propose computes an excess and disposition proposal for every overpaid
// obligation, ranked by excess descending. Settlements are the records
// linked to each obligation, keyed by obligation id. Nothing here writes
// to the ledger.
func (a *Allocator) Propose(obligations []*models.Obligation, linked map[int64][]*models.SettlementRecord) []models.CreditLedgerEntry {
	var entries []models.CreditLedgerEntry

	for _, ob := range obligations {
		excess := a.conservativeExcess(ob)
		if excess.LessThanOrEqual(a.config.AmountEpsilon) {
			continue
		}

		settlements := linked[ob.ID]
		pattern := a.categorize(settlements)
		action, reason := a.dispose(ob, pattern)

		entries = append(entries, models.CreditLedgerEntry{
			ObligationID:    ob.ID,
			Counterparty:    ob.Counterparty,
			ExcessAmount:    excess,
			PatternCategory: pattern,
			ProposedAction:  action,
			Reason:          reason,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ExcessAmount.GreaterThan(entries[j].ExcessAmount)
	})

	a.log.WithField("proposals", len(entries)).Info("credit allocation pass complete")
	return entries
}

// conservativeExcess computes paid minus due; when a secondary due figure
// exists the smaller of the two excesses wins. Never negative.
func (a *Allocator) conservativeExcess(ob *models.Obligation) decimal.Decimal {
	excess := ob.PaidAmount.Sub(ob.DueAmount)
	if ob.SecondaryDueAmount != nil {
		secondary := ob.PaidAmount.Sub(*ob.SecondaryDueAmount)
		if secondary.LessThan(excess) {
			excess = secondary
		}
	}
	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess
}

// categorize inspects the obligation's settlement list for a payment
// pattern, checked in order: uniform installments, a single large
// transfer, transfer-dominated mix, otherwise mixed.
func (a *Allocator) categorize(settlements []*models.SettlementRecord) models.PaymentPattern {
	if a.isUniformInstallment(settlements) {
		return models.PatternUniformInstallment
	}

	totalPaid := decimal.Zero
	transferTotal := decimal.Zero
	largeTransfer := false
	for _, s := range settlements {
		totalPaid = totalPaid.Add(s.Amount)
		if s.Channel == models.ChannelTransfer {
			transferTotal = transferTotal.Add(s.Amount)
			if s.Amount.GreaterThanOrEqual(a.config.LargeTransferThreshold) {
				largeTransfer = true
			}
		}
	}

	if largeTransfer {
		return models.PatternLargeTransfer
	}
	if totalPaid.IsPositive() {
		share := transferTotal.Div(totalPaid).InexactFloat64()
		if share > a.config.TransferShare {
			return models.PatternTransferDominated
		}
	}
	return models.PatternMixed
}

// isUniformInstallment reports whether the single most frequent amount
// accounts for at least UniformShare of the settlement count.
func (a *Allocator) isUniformInstallment(settlements []*models.SettlementRecord) bool {
	if len(settlements) < a.config.MinInstallments {
		return false
	}
	counts := make(map[string]int)
	mode := 0
	for _, s := range settlements {
		counts[s.Amount.String()]++
		if counts[s.Amount.String()] > mode {
			mode = counts[s.Amount.String()]
		}
	}
	return float64(mode)/float64(len(settlements)) >= a.config.UniformShare
}

// dispose maps lifecycle state and pattern to a proposed action. Cancelled
// obligations always route to the manual retention-policy check: whether a
// deposit is kept is a business decision, never inferred here.
func (a *Allocator) dispose(ob *models.Obligation, pattern models.PaymentPattern) (models.CreditAction, string) {
	if ob.LifecycleState == models.LifecycleCancelled {
		return models.ActionVerifyRetention, "obligation cancelled; retention of excess is a policy decision"
	}

	switch pattern {
	case models.PatternUniformInstallment, models.PatternMixed:
		return models.ActionCreditLedger, fmt.Sprintf("%s pattern; book excess as reusable credit", pattern)
	case models.PatternLargeTransfer, models.PatternTransferDominated:
		return models.ActionReallocate, fmt.Sprintf("%s pattern; search sibling obligations for a matching shortfall", pattern)
	default:
		return models.ActionManualReview, "payment pattern unclassifiable"
	}
}

// FindReallocationTargets returns the same-counterparty obligations with a
// shortfall the excess could cover, largest shortfall first. Used to
// enrich REALLOCATE_MULTI_OBLIGATION proposals for the review export.
func (a *Allocator) FindReallocationTargets(entry models.CreditLedgerEntry, siblings []*models.Obligation) []*models.Obligation {
	var targets []*models.Obligation
	for _, ob := range siblings {
		if ob.ID == entry.ObligationID || ob.Counterparty != entry.Counterparty {
			continue
		}
		if ob.LifecycleState != models.LifecycleOpen {
			continue
		}
		shortfall := ob.DueAmount.Sub(ob.PaidAmount)
		if shortfall.GreaterThan(a.config.AmountEpsilon) {
			targets = append(targets, ob)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].DueAmount.Sub(targets[i].PaidAmount).
			GreaterThan(targets[j].DueAmount.Sub(targets[j].PaidAmount))
	})
	return targets
}
