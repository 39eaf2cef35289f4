// Package duplicates groups settlement records sharing (counterparty,
// amount, date) and decides whether each group is one real event recorded
// multiple times or several genuinely independent events.
//
// The discriminator is independent evidence in the bank ledger: how many
// distinct ledger rows the group's members reference, and whether members
// serve distinct downstream targets. Only TRUE_DUPLICATE groups are ever
// auto-resolved; every ambiguous pattern is flagged for manual review.
package duplicates

import (
	"fmt"
	"sort"
	"time"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/similarity"
	"ledger-reconciliation-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// GroupKey identifies a duplicate candidate group.
type GroupKey struct {
	Counterparty string
	Amount       string
	Day          time.Time
}

// Input carries the cross-engine context a classification pass needs.
type Input struct {
	Settlements []*models.SettlementRecord
	// LedgerByID resolves the members' ledger links for date comparison.
	LedgerByID map[int64]*models.LedgerTransaction
	// ReversalLegIDs is the set of ledger ids participating in a detected
	// NSF pair. A group touching one is routed to the pair detector's
	// output for confirmation, never classified as a duplicate here.
	ReversalLegIDs map[int64]bool
	// NSFRiskCounterparties is the allow-list of counterparties known to
	// retry failed transfers.
	NSFRiskCounterparties map[string]bool
}

// Result aggregates one classification pass.
type Result struct {
	Groups []models.DuplicateGroup
	// TotalInflation sums the inflation amounts across TRUE_DUPLICATE
	// groups: money the books claim was settled more often than it moved.
	TotalInflation decimal.Decimal
	TrueDuplicates int
	Flagged        int
}

// Classifier decides keep/delete for duplicate candidate groups.
type Classifier struct {
	log logger.Logger
}

// NewClassifier creates a duplicate classifier.
func NewClassifier() *Classifier {
	return &Classifier{log: logger.WithComponent("duplicates")}
}

// Classify groups the settlements by (counterparty, amount, day) and
// classifies every group with more than one member.
func (c *Classifier) Classify(input *Input) *Result {
	result := &Result{TotalInflation: decimal.Zero}

	groups := make(map[GroupKey][]*models.SettlementRecord)
	var order []GroupKey
	for _, s := range input.Settlements {
		key := GroupKey{
			Counterparty: counterpartyIdentity(s),
			Amount:       s.Amount.String(),
			Day:          models.TruncateToDay(s.OccurredOn),
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], s)
	}

	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		group := c.classifyGroup(key, members, input)
		result.Groups = append(result.Groups, group)

		if group.Classification == models.ClassTrueDuplicate {
			result.TrueDuplicates++
			result.TotalInflation = result.TotalInflation.Add(group.InflationAmount)
		} else {
			result.Flagged++
		}
	}

	c.log.WithFields(logger.Fields{
		"groups":          len(result.Groups),
		"true_duplicates": result.TrueDuplicates,
		"flagged":         result.Flagged,
		"inflation":       result.TotalInflation.String(),
	}).Info("duplicate classification complete")

	return result
}

// classifyGroup applies the classification rules in priority order.
func (c *Classifier) classifyGroup(key GroupKey, members []*models.SettlementRecord, input *Input) models.DuplicateGroup {
	// Enumerate members in ingestion order so "first enumerated" is
	// deterministic.
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].SequenceNo < members[j].SequenceNo
	})

	group := models.DuplicateGroup{
		Counterparty: key.Counterparty,
		Amount:       members[0].Amount,
		OccurredOn:   key.Day,
		MemberIDs:    memberIDs(members),
	}

	// A group touching a detected reversal pair is one failed-then-retried
	// economic event; it must not be treated as duplicate rows.
	if touchesReversal(members, input.ReversalLegIDs) {
		group.Classification = models.ClassCandidateNSFRetry
		group.InflationAmount = decimal.Zero
		group.Reason = "members reference a detected NSF reversal pair; confirm against pair detector output"
		return group
	}

	ledgerIDs := distinctLedgerIDs(members)
	distinctLedger := len(ledgerIDs)
	size := len(members)

	switch {
	case distinctLedger == 0:
		c.resolveTrueDuplicate(&group, members, 1,
			"no ledger evidence that more than one transaction occurred")

	case distinctLedger == 1:
		c.resolveTrueDuplicate(&group, members, 1,
			"all members map to a single ledger transaction")

	case distinctLedger == size:
		allDatesDiffer, allDatesSame := ledgerDateSpread(ledgerIDs, input.LedgerByID)
		distinctTargets := distinctTargetCount(members)

		if allDatesDiffer || distinctTargets == size {
			group.Classification = models.ClassLegitimateIndependent
			group.InflationAmount = decimal.Zero
			group.Reason = "each member backed by its own ledger transaction"
		} else if allDatesSame && distinctTargets == 0 {
			if input.NSFRiskCounterparties[key.Counterparty] {
				group.Classification = models.ClassCandidateNSFRetry
				group.Reason = "same-day ledger rows against a known NSF-risk counterparty"
			} else {
				group.Classification = models.ClassSuspiciousSameDay
				group.Reason = "distinct same-day ledger rows with no distinguishing targets"
			}
			group.InflationAmount = decimal.Zero
		} else {
			group.Classification = models.ClassMixedPartial
			group.InflationAmount = decimal.Zero
			group.Reason = "partially overlapping ledger evidence"
		}

	default:
		group.Classification = models.ClassMixedPartial
		group.InflationAmount = decimal.Zero
		group.Reason = fmt.Sprintf("%d members share %d ledger transactions", size, distinctLedger)
	}

	return group
}

// resolveTrueDuplicate fills in the keep/delete decision. Keep priority:
// authoritative-import provenance, then highest sequence number, then first
// enumerated.
func (c *Classifier) resolveTrueDuplicate(group *models.DuplicateGroup, members []*models.SettlementRecord, realEvents int, reason string) {
	group.Classification = models.ClassTrueDuplicate
	group.Reason = reason

	keep := members[0]
	for _, m := range members[1:] {
		if betterKeep(m, keep) {
			keep = m
		}
	}
	group.KeepID = keep.ID
	for _, m := range members {
		if m.ID != keep.ID {
			group.DeleteIDs = append(group.DeleteIDs, m.ID)
		}
	}

	inflationCount := len(members) - realEvents
	if inflationCount < 0 {
		inflationCount = 0
	}
	group.InflationAmount = group.Amount.Mul(decimal.NewFromInt(int64(inflationCount)))
}

// betterKeep reports whether candidate outranks current under the keep
// priority. Equal provenance rank falls back to the higher sequence
// number; a strict tie keeps the earlier enumerated record.
func betterKeep(candidate, current *models.SettlementRecord) bool {
	candAuth := candidate.Provenance == models.ProvenanceAuthoritativeImport
	curAuth := current.Provenance == models.ProvenanceAuthoritativeImport
	if candAuth != curAuth {
		return candAuth
	}
	return candidate.SequenceNo > current.SequenceNo
}

// counterpartyIdentity prefers the resolved identity and falls back to the
// normalized free-text reference.
func counterpartyIdentity(s *models.SettlementRecord) string {
	if s.Counterparty != "" {
		return s.Counterparty
	}
	return similarity.Normalize(s.CounterpartyReference)
}

func memberIDs(members []*models.SettlementRecord) []int64 {
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

func touchesReversal(members []*models.SettlementRecord, reversalLegs map[int64]bool) bool {
	if len(reversalLegs) == 0 {
		return false
	}
	for _, m := range members {
		if m.LinkedLedgerID != nil && reversalLegs[*m.LinkedLedgerID] {
			return true
		}
	}
	return false
}

func distinctLedgerIDs(members []*models.SettlementRecord) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, m := range members {
		if m.LinkedLedgerID == nil {
			continue
		}
		if !seen[*m.LinkedLedgerID] {
			seen[*m.LinkedLedgerID] = true
			ids = append(ids, *m.LinkedLedgerID)
		}
	}
	return ids
}

// ledgerDateSpread inspects the linked ledger rows' dates. Rows that
// cannot be resolved count as neither all-differ nor all-same.
func ledgerDateSpread(ledgerIDs []int64, ledgerByID map[int64]*models.LedgerTransaction) (allDiffer, allSame bool) {
	days := make(map[time.Time]int)
	resolved := 0
	for _, id := range ledgerIDs {
		tx, ok := ledgerByID[id]
		if !ok {
			continue
		}
		resolved++
		days[models.TruncateToDay(tx.OccurredOn)]++
	}
	if resolved == 0 || resolved != len(ledgerIDs) {
		return false, false
	}
	return len(days) == resolved, len(days) == 1
}

// distinctTargetCount counts distinct downstream targets, returning zero
// unless every member carries one and they are all different from each
// other. Partial target coverage is not evidence of independence.
func distinctTargetCount(members []*models.SettlementRecord) int {
	seen := make(map[string]bool)
	for _, m := range members {
		if m.TargetRef == "" {
			return 0
		}
		if seen[m.TargetRef] {
			return 0
		}
		seen[m.TargetRef] = true
	}
	return len(seen)
}
