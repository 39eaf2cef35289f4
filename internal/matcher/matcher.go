// Package matcher links unmatched settlement records to the obligations
// they settle, using tiered strategies evaluated in order:
//
//  1. Business-key match: the settlement's counterparty reference equals an
//     obligation's business key exactly.
//  2. Amount + date-window match: due amount equals the settlement amount
//     within the configured epsilon, date within the configured window.
//  3. Fuzzy counterparty match: for unstructured narrative references, the
//     counterparty is resolved against the roster with a similarity ratio,
//     then amount and date narrow that counterparty's obligations, falling
//     back to its sole open obligation when no amount-exact hit exists.
//
// The first tier yielding a decision wins. Multiple surviving candidates
// are never auto-resolved; they are ranked by date distance and surfaced
// for operator review.
package matcher

import (
	"fmt"
	"sort"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/similarity"
	enginerrors "ledger-reconciliation-engine/pkg/errors"
	"ledger-reconciliation-engine/pkg/logger"
)

// Outcome is the terminal state of one match decision.
type Outcome int

const (
	// OutcomeLinked resolved to exactly one obligation.
	OutcomeLinked Outcome = iota
	// OutcomeAmbiguous found multiple valid candidates; operator review.
	OutcomeAmbiguous
	// OutcomeUnmatched found no acceptable candidate.
	OutcomeUnmatched
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeLinked:
		return "LINKED"
	case OutcomeAmbiguous:
		return "AMBIGUOUS"
	case OutcomeUnmatched:
		return "UNMATCHED"
	default:
		return "UNKNOWN"
	}
}

// Tier identifies which strategy produced a decision.
type Tier int

const (
	TierNone Tier = iota
	TierBusinessKey
	TierAmountDate
	TierFuzzy
)

// String returns the string representation of Tier.
func (t Tier) String() string {
	switch t {
	case TierBusinessKey:
		return "business_key"
	case TierAmountDate:
		return "amount_date"
	case TierFuzzy:
		return "fuzzy_counterparty"
	default:
		return "none"
	}
}

// Decision is the outcome of matching one settlement.
type Decision struct {
	SettlementID int64
	Outcome      Outcome
	Tier         Tier
	// ObligationID is set when Outcome is OutcomeLinked.
	ObligationID int64
	// CandidateIDs carries the ambiguous candidates, ranked by ascending
	// date distance from the settlement.
	CandidateIDs []int64
	// FuzzyRatio is the accepted similarity when Tier is TierFuzzy.
	FuzzyRatio float64
	Reason     string
}

// LinkWrite is a proposed link mutation. Writes only ever set a currently
// NULL link field unless Override is set by the safe-override rule.
type LinkWrite struct {
	SettlementID int64
	ObligationID int64
	Override     bool
}

// BatchResult aggregates a matching pass over a set of settlements.
type BatchResult struct {
	Decisions []Decision
	// LinkWrites are the mutations a subsequent apply run would persist.
	// Re-running against unchanged data yields an empty slice.
	LinkWrites []LinkWrite
	Linked     int
	Ambiguous  int
	Unmatched  int
	Skipped    int
}

// Engine is the tiered matching engine.
type Engine struct {
	config *Config
	roster *similarity.RosterMatcher
	log    logger.Logger
}

// NewEngine creates a matching engine. A nil config falls back to
// DefaultConfig; a nil roster disables the fuzzy tier.
func NewEngine(config *Config, roster *similarity.RosterMatcher) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config: config,
		roster: roster,
		log:    logger.WithComponent("matcher"),
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// Decide matches one unmatched settlement against the candidate
// obligations and produces exactly one decision.
func (e *Engine) Decide(settlement *models.SettlementRecord, candidates []*models.Obligation) Decision {
	if settlement.HasStructuredReference() {
		return e.decideBusinessKey(settlement, candidates)
	}

	decision := e.decideAmountDate(settlement, candidates, "")
	if decision.Outcome != OutcomeUnmatched {
		return decision
	}

	// Unstructured narrative: the fuzzy tier gets a chance before the
	// record is declared unmatched.
	return e.decideFuzzy(settlement, candidates)
}

// decideBusinessKey implements tier one. A unique key match links
// regardless of amount and date. A key that matches no obligation is an
// integrity gap, not a matching failure; a key matching several
// obligations is a data-integrity problem not solved here.
func (e *Engine) decideBusinessKey(settlement *models.SettlementRecord, candidates []*models.Obligation) Decision {
	key := settlement.CounterpartyReference
	var hits []*models.Obligation
	for _, ob := range candidates {
		if ob.BusinessKey != "" && ob.BusinessKey == key {
			hits = append(hits, ob)
		}
	}

	switch len(hits) {
	case 1:
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeLinked,
			Tier:         TierBusinessKey,
			ObligationID: hits[0].ID,
			Reason:       fmt.Sprintf("business key %q", key),
		}
	case 0:
		gap := enginerrors.IntegrityGap(enginerrors.CodeMissingObligation, settlement.ID, key)
		e.log.WithField("settlement_id", settlement.ID).Warn(gap.Error())
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeUnmatched,
			Tier:         TierBusinessKey,
			Reason:       fmt.Sprintf("no obligation carries business key %q", key),
		}
	default:
		dup := enginerrors.New(enginerrors.CategoryAmbiguity, enginerrors.CodeDuplicateKey,
			fmt.Sprintf("business key %q is not unique", key)).
			WithContext("settlement_id", settlement.ID)
		e.log.WithField("settlement_id", settlement.ID).Warn(dup.Error())
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeUnmatched,
			Tier:         TierBusinessKey,
			Reason:       fmt.Sprintf("business key %q matches %d obligations; upstream uniqueness violated", key, len(hits)),
		}
	}
}

// decideAmountDate implements tier two. When counterparty is non-empty the
// candidate set is first narrowed to that counterparty (used by the fuzzy
// tier).
func (e *Engine) decideAmountDate(settlement *models.SettlementRecord, candidates []*models.Obligation, counterparty string) Decision {
	var hits []*models.Obligation
	for _, ob := range candidates {
		if counterparty != "" && ob.Counterparty != counterparty {
			continue
		}
		if !models.AmountsWithinEpsilon(ob.DueAmount, settlement.Amount, e.config.AmountEpsilon) {
			continue
		}
		if e.config.WindowRestricted() &&
			!similarity.WithinDays(ob.OccurredOn, settlement.OccurredOn, e.config.DateWindowDays) {
			continue
		}
		hits = append(hits, ob)
	}

	tier := TierAmountDate
	if counterparty != "" {
		tier = TierFuzzy
	}

	switch len(hits) {
	case 0:
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeUnmatched,
			Tier:         tier,
			Reason:       "no obligation within amount and date tolerance",
		}
	case 1:
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeLinked,
			Tier:         tier,
			ObligationID: hits[0].ID,
			Reason:       "single obligation within amount and date tolerance",
		}
	default:
		// Rank by ascending date distance for operator review; never
		// auto-resolve.
		sort.SliceStable(hits, func(i, j int) bool {
			return similarity.DaysApart(hits[i].OccurredOn, settlement.OccurredOn) <
				similarity.DaysApart(hits[j].OccurredOn, settlement.OccurredOn)
		})
		ids := make([]int64, len(hits))
		for i, ob := range hits {
			ids[i] = ob.ID
		}
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeAmbiguous,
			Tier:         tier,
			CandidateIDs: ids,
			Reason:       fmt.Sprintf("%d obligations within tolerance", len(hits)),
		}
	}
}

// decideFuzzy implements tier three: resolve the narrative fragment to a
// roster counterparty, then narrow that counterparty's obligations by
// amount and date.
func (e *Engine) decideFuzzy(settlement *models.SettlementRecord, candidates []*models.Obligation) Decision {
	if e.roster == nil {
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeUnmatched,
			Tier:         TierFuzzy,
			Reason:       "no counterparty roster configured",
		}
	}

	match, ok := e.roster.Best(settlement.CounterpartyReference)
	if !ok || match.Ratio < e.config.FuzzyThreshold {
		reason := "narrative matched no roster entry"
		if ok {
			reason = fmt.Sprintf("best roster candidate %q ratio %.3f below threshold %.2f",
				match.Name, match.Ratio, e.config.FuzzyThreshold)
		}
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeUnmatched,
			Tier:         TierFuzzy,
			Reason:       reason,
		}
	}

	decision := e.decideAmountDate(settlement, candidates, match.Name)
	if decision.Outcome == OutcomeUnmatched {
		// No amount-exact hit for the resolved counterparty; partial and
		// lump-sum payments still link when the counterparty's open
		// obligations leave no ambiguity.
		decision = e.decideCounterpartyOnly(settlement, candidates, match.Name)
	}
	decision.FuzzyRatio = match.Ratio
	if decision.Outcome == OutcomeLinked {
		decision.Reason = fmt.Sprintf("counterparty %q (ratio %.3f), %s", match.Name, match.Ratio, decision.Reason)
	}
	return decision
}

// decideCounterpartyOnly considers every open obligation of the resolved
// counterparty inside the date window, ignoring amount.
func (e *Engine) decideCounterpartyOnly(settlement *models.SettlementRecord, candidates []*models.Obligation, counterparty string) Decision {
	var hits []*models.Obligation
	for _, ob := range candidates {
		if ob.Counterparty != counterparty || ob.LifecycleState != models.LifecycleOpen {
			continue
		}
		if e.config.WindowRestricted() &&
			!similarity.WithinDays(ob.OccurredOn, settlement.OccurredOn, e.config.DateWindowDays) {
			continue
		}
		hits = append(hits, ob)
	}

	switch len(hits) {
	case 0:
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeUnmatched,
			Tier:         TierFuzzy,
			Reason:       fmt.Sprintf("counterparty %q has no open obligation in window", counterparty),
		}
	case 1:
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeLinked,
			Tier:         TierFuzzy,
			ObligationID: hits[0].ID,
			Reason:       "sole open obligation of the counterparty",
		}
	default:
		sort.SliceStable(hits, func(i, j int) bool {
			return similarity.DaysApart(hits[i].OccurredOn, settlement.OccurredOn) <
				similarity.DaysApart(hits[j].OccurredOn, settlement.OccurredOn)
		})
		ids := make([]int64, len(hits))
		for i, ob := range hits {
			ids[i] = ob.ID
		}
		return Decision{
			SettlementID: settlement.ID,
			Outcome:      OutcomeAmbiguous,
			Tier:         TierFuzzy,
			CandidateIDs: ids,
			Reason:       fmt.Sprintf("%d open obligations for the counterparty", len(hits)),
		}
	}
}

// Run matches a batch of settlements and collects the link writes an apply
// run would persist. Settlements that already carry an obligation link are
// skipped unless safe override is enabled, which makes a second run over
// unchanged data a no-op.
func (e *Engine) Run(settlements []*models.SettlementRecord, obligations []*models.Obligation) *BatchResult {
	result := &BatchResult{}
	byID := make(map[int64]*models.Obligation, len(obligations))
	for _, ob := range obligations {
		byID[ob.ID] = ob
	}

	for _, s := range settlements {
		if e.config.MinAmount.IsPositive() && s.Amount.Abs().LessThan(e.config.MinAmount) {
			result.Skipped++
			continue
		}

		if s.IsLinkedToObligation() && !e.config.SafeOverride {
			result.Skipped++
			continue
		}

		decision := e.Decide(s, obligations)
		result.Decisions = append(result.Decisions, decision)

		switch decision.Outcome {
		case OutcomeLinked:
			result.Linked++
			if write, ok := e.proposeWrite(s, decision, byID); ok {
				result.LinkWrites = append(result.LinkWrites, write)
			}
		case OutcomeAmbiguous:
			result.Ambiguous++
		case OutcomeUnmatched:
			result.Unmatched++
		}
	}

	e.log.WithFields(logger.Fields{
		"linked":    result.Linked,
		"ambiguous": result.Ambiguous,
		"unmatched": result.Unmatched,
		"skipped":   result.Skipped,
		"writes":    len(result.LinkWrites),
	}).Info("matching pass complete")

	return result
}

// proposeWrite decides whether a linked decision becomes a mutation. An
// existing link is only replaced under safe override, and only when the
// new target verifies on amount and date while the existing one does not.
func (e *Engine) proposeWrite(s *models.SettlementRecord, decision Decision, byID map[int64]*models.Obligation) (LinkWrite, bool) {
	if !s.IsLinkedToObligation() {
		return LinkWrite{SettlementID: s.ID, ObligationID: decision.ObligationID}, true
	}

	if !e.config.SafeOverride {
		return LinkWrite{}, false
	}
	if *s.LinkedObligationID == decision.ObligationID {
		// Already pointing at the decided target.
		return LinkWrite{}, false
	}

	newTarget := byID[decision.ObligationID]
	existing := byID[*s.LinkedObligationID]
	if newTarget == nil {
		return LinkWrite{}, false
	}
	if existing != nil && e.verifies(s, existing) {
		// The existing link holds up on its own evidence; leave it.
		return LinkWrite{}, false
	}
	if !e.verifies(s, newTarget) {
		return LinkWrite{}, false
	}

	e.log.WithFields(logger.Fields{
		"settlement_id":  s.ID,
		"old_obligation": *s.LinkedObligationID,
		"new_obligation": decision.ObligationID,
	}).Warn("safe override replacing unverifiable link")
	return LinkWrite{SettlementID: s.ID, ObligationID: decision.ObligationID, Override: true}, true
}

// verifies checks a settlement/obligation pairing on both amount and date
// within the configured tolerances.
func (e *Engine) verifies(s *models.SettlementRecord, ob *models.Obligation) bool {
	if ob == nil {
		return false
	}
	if !models.AmountsWithinEpsilon(ob.DueAmount, s.Amount, e.config.AmountEpsilon) {
		return false
	}
	if e.config.WindowRestricted() {
		return similarity.WithinDays(ob.OccurredOn, s.OccurredOn, e.config.DateWindowDays)
	}
	return true
}
