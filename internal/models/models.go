// Package models defines the core domain records shared by every engine:
// obligations (amounts owed), settlement records (money received or spent),
// ledger transactions (the authoritative bank feed), and the derived
// reconciliation artifacts built from them.
//
// All monetary values use decimal.Decimal; float arithmetic is never used
// for money. Dates that the engines compare at day granularity are
// normalized with TruncateToDay before comparison.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LifecycleState represents the lifecycle of an obligation.
type LifecycleState string

const (
	// LifecycleOpen is an obligation still awaiting full settlement.
	LifecycleOpen LifecycleState = "open"
	// LifecycleClosed is an obligation settled in full.
	LifecycleClosed LifecycleState = "closed"
	// LifecycleCancelled is an obligation voided by the business.
	LifecycleCancelled LifecycleState = "cancelled"
)

// IsValid checks if the lifecycle state is one of the known states.
func (s LifecycleState) IsValid() bool {
	return s == LifecycleOpen || s == LifecycleClosed || s == LifecycleCancelled
}

// String returns the string representation of LifecycleState.
func (s LifecycleState) String() string {
	return string(s)
}

// Provenance records how a settlement entered the system.
type Provenance string

const (
	// ProvenanceAuthoritativeImport marks rows from a trusted bulk import.
	ProvenanceAuthoritativeImport Provenance = "authoritative-import"
	// ProvenancePointOfSaleFeed marks rows from the point-of-sale feed.
	ProvenancePointOfSaleFeed Provenance = "point-of-sale-feed"
	// ProvenanceManualEntry marks rows keyed in by an operator.
	ProvenanceManualEntry Provenance = "manual-entry"
	// ProvenanceInferred marks rows synthesized by earlier cleanup passes.
	ProvenanceInferred Provenance = "inferred"
)

// IsValid checks if the provenance is one of the known origins.
func (p Provenance) IsValid() bool {
	switch p {
	case ProvenanceAuthoritativeImport, ProvenancePointOfSaleFeed, ProvenanceManualEntry, ProvenanceInferred:
		return true
	default:
		return false
	}
}

// Channel represents the payment channel of a settlement.
type Channel string

const (
	ChannelCash     Channel = "cash"
	ChannelCard     Channel = "card"
	ChannelTransfer Channel = "transfer"
	ChannelCheque   Channel = "cheque"
	ChannelOther    Channel = "other"
)

// Obligation is an invoice-like record representing an amount owed by a
// counterparty. Obligations are created by upstream booking systems; the
// engine only ever recomputes PaidAmount and Balance after link changes.
type Obligation struct {
	ID           int64           `json:"id"`
	BusinessKey  string          `json:"business_key"`
	Counterparty string          `json:"counterparty"`
	DueAmount    decimal.Decimal `json:"due_amount"`
	// SecondaryDueAmount is an optional independent source of truth for the
	// due figure; when present the credit allocator uses the more
	// conservative of the two excess computations.
	SecondaryDueAmount *decimal.Decimal `json:"secondary_due_amount,omitempty"`
	PaidAmount         decimal.Decimal  `json:"paid_amount"`
	Balance            decimal.Decimal  `json:"balance"`
	OccurredOn         time.Time        `json:"occurred_on"`
	LifecycleState     LifecycleState   `json:"lifecycle_state"`
}

// Validate performs basic validation on the Obligation.
func (o *Obligation) Validate() error {
	if o.ID <= 0 {
		return fmt.Errorf("obligation id must be positive")
	}
	if o.DueAmount.IsNegative() {
		return fmt.Errorf("obligation due amount cannot be negative")
	}
	if !o.LifecycleState.IsValid() {
		return fmt.Errorf("invalid lifecycle state: %s", o.LifecycleState)
	}
	if o.OccurredOn.IsZero() {
		return fmt.Errorf("obligation date cannot be zero")
	}
	return nil
}

// String returns a string representation of the Obligation.
func (o *Obligation) String() string {
	return fmt.Sprintf("Obligation{ID: %d, Key: %s, Due: %s, Paid: %s, State: %s}",
		o.ID, o.BusinessKey, o.DueAmount.String(), o.PaidAmount.String(), o.LifecycleState)
}

// Excess returns paid minus due (positive when overpaid).
func (o *Obligation) Excess() decimal.Decimal {
	return o.PaidAmount.Sub(o.DueAmount)
}

// SettlementRecord is an application-level record of money received or
// spent (a payment or an expense entry).
type SettlementRecord struct {
	ID int64 `json:"id"`
	// SequenceNo is a monotonic ordinal assigned at ingestion time. All
	// "most recently recorded" tie-breaks order on it rather than on
	// storage-assigned identity.
	SequenceNo            int64           `json:"sequence_no"`
	Amount                decimal.Decimal `json:"amount"`
	OccurredOn            time.Time       `json:"occurred_on"`
	Channel               Channel         `json:"channel"`
	CounterpartyReference string          `json:"counterparty_reference"`
	// Counterparty is the resolved counterparty identity (roster name),
	// distinct from the free-text reference it was resolved from.
	Counterparty string `json:"counterparty"`
	// TargetRef identifies the downstream entity this settlement serves
	// (e.g. a vehicle or booking id), where upstream recorded one.
	TargetRef          string     `json:"target_ref,omitempty"`
	LinkedObligationID *int64     `json:"linked_obligation_id,omitempty"`
	LinkedLedgerID     *int64     `json:"linked_ledger_id,omitempty"`
	Provenance         Provenance `json:"provenance"`
}

// Validate performs basic validation on the SettlementRecord.
func (s *SettlementRecord) Validate() error {
	if s.ID <= 0 {
		return fmt.Errorf("settlement id must be positive")
	}
	if s.SequenceNo <= 0 {
		return fmt.Errorf("settlement sequence number must be positive")
	}
	if s.Amount.IsZero() {
		return fmt.Errorf("settlement amount cannot be zero")
	}
	if s.OccurredOn.IsZero() {
		return fmt.Errorf("settlement date cannot be zero")
	}
	if !s.Provenance.IsValid() {
		return fmt.Errorf("invalid provenance: %s", s.Provenance)
	}
	return nil
}

// String returns a string representation of the SettlementRecord.
func (s *SettlementRecord) String() string {
	return fmt.Sprintf("Settlement{ID: %d, Amount: %s, Date: %s, Ref: %s}",
		s.ID, s.Amount.String(), s.OccurredOn.Format("2006-01-02"), s.CounterpartyReference)
}

// IsLinkedToObligation reports whether the settlement already carries an
// obligation link.
func (s *SettlementRecord) IsLinkedToObligation() bool {
	return s.LinkedObligationID != nil
}

// IsLinkedToLedger reports whether the settlement already carries a ledger
// link.
func (s *SettlementRecord) IsLinkedToLedger() bool {
	return s.LinkedLedgerID != nil
}

// HasStructuredReference reports whether the counterparty reference looks
// like a business key rather than unstructured narrative text. Business
// keys are compact and contain no whitespace.
func (s *SettlementRecord) HasStructuredReference() bool {
	ref := strings.TrimSpace(s.CounterpartyReference)
	if ref == "" {
		return false
	}
	return !strings.ContainsAny(ref, " \t")
}

// LedgerTransaction is a row from an authoritative bank/processor feed, the
// ground truth for whether money actually moved. Immutable except for
// IsReversal, the canonical narrative prefix, and the settlement link.
type LedgerTransaction struct {
	ID                    int64           `json:"id"`
	Account               string          `json:"account"`
	OccurredOn            time.Time       `json:"occurred_on"`
	DebitAmount           decimal.Decimal `json:"debit_amount"`
	CreditAmount          decimal.Decimal `json:"credit_amount"`
	Narrative             string          `json:"narrative"`
	CounterpartyExtracted string          `json:"counterparty_extracted"`
	IsReversal            bool            `json:"is_reversal"`
	LinkedSettlementID    *int64          `json:"linked_settlement_id,omitempty"`
}

// Validate performs basic validation on the LedgerTransaction.
func (lt *LedgerTransaction) Validate() error {
	if lt.ID <= 0 {
		return fmt.Errorf("ledger transaction id must be positive")
	}
	if lt.OccurredOn.IsZero() {
		return fmt.Errorf("ledger transaction date cannot be zero")
	}
	if lt.DebitAmount.IsNegative() || lt.CreditAmount.IsNegative() {
		return fmt.Errorf("ledger amounts cannot be negative")
	}
	if lt.DebitAmount.IsZero() && lt.CreditAmount.IsZero() {
		return fmt.Errorf("ledger transaction must carry a debit or a credit")
	}
	return nil
}

// String returns a string representation of the LedgerTransaction.
func (lt *LedgerTransaction) String() string {
	return fmt.Sprintf("Ledger{ID: %d, Debit: %s, Credit: %s, Date: %s}",
		lt.ID, lt.DebitAmount.String(), lt.CreditAmount.String(), lt.OccurredOn.Format("2006-01-02"))
}

// IsDebit reports whether the row moves money out of the account.
func (lt *LedgerTransaction) IsDebit() bool {
	return lt.DebitAmount.IsPositive()
}

// IsCredit reports whether the row moves money into the account.
func (lt *LedgerTransaction) IsCredit() bool {
	return lt.CreditAmount.IsPositive()
}

// Amount returns the moved amount regardless of direction.
func (lt *LedgerTransaction) Amount() decimal.Decimal {
	if lt.IsDebit() {
		return lt.DebitAmount
	}
	return lt.CreditAmount
}

// DuplicateClass is the outcome of classifying a group of settlements that
// share (counterparty, amount, date).
type DuplicateClass string

const (
	// ClassTrueDuplicate is one real-world event recorded multiple times.
	// The only class ever auto-resolved.
	ClassTrueDuplicate DuplicateClass = "TRUE_DUPLICATE"
	// ClassLegitimateIndependent is multiple genuinely independent events
	// that happen to share the grouping key.
	ClassLegitimateIndependent DuplicateClass = "LEGITIMATE_INDEPENDENT_EVENTS"
	// ClassCandidateNSFRetry is a same-day pattern against a known
	// NSF-risk counterparty, routed to the pair detector for confirmation.
	ClassCandidateNSFRetry DuplicateClass = "CANDIDATE_NSF_RETRY"
	// ClassSuspiciousSameDay is a same-day pattern with no distinguishing
	// evidence; flagged, never auto-deleted.
	ClassSuspiciousSameDay DuplicateClass = "SUSPICIOUS_SAME_DAY_DUPLICATE"
	// ClassMixedPartial is any other overlap pattern; manual review.
	ClassMixedPartial DuplicateClass = "MIXED_PARTIAL_DUPLICATE"
)

// String returns the string representation of DuplicateClass.
func (c DuplicateClass) String() string {
	return string(c)
}

// DuplicateGroup is the derived decision for a set of settlements sharing a
// grouping key. DeleteIDs is non-empty only for TRUE_DUPLICATE groups.
type DuplicateGroup struct {
	Counterparty    string          `json:"counterparty"`
	Amount          decimal.Decimal `json:"amount"`
	OccurredOn      time.Time       `json:"occurred_on"`
	MemberIDs       []int64         `json:"member_ids"`
	Classification  DuplicateClass  `json:"classification"`
	KeepID          int64           `json:"keep_id"`
	DeleteIDs       []int64         `json:"delete_ids"`
	InflationAmount decimal.Decimal `json:"inflation_amount"`
	Reason          string          `json:"reason"`
}

// NSFPair is a detected failed-transfer/reversal pair in the ledger.
type NSFPair struct {
	DebitID     int64           `json:"debit_id"`
	CreditID    int64           `json:"credit_id"`
	Amount      decimal.Decimal `json:"amount"`
	DateGapDays int             `json:"date_gap_days"`
}

// CreditAction is the proposed disposition of an overpayment.
type CreditAction string

const (
	// ActionCreditLedger books the excess as a reusable customer credit.
	ActionCreditLedger CreditAction = "CREDIT_LEDGER"
	// ActionReallocate searches sibling obligations of the same
	// counterparty for a shortfall the excess could cover.
	ActionReallocate CreditAction = "REALLOCATE_MULTI_OBLIGATION"
	// ActionVerifyRetention routes cancelled obligations to the manual
	// retention-of-deposit policy check.
	ActionVerifyRetention CreditAction = "VERIFY_RETENTION_POLICY"
	// ActionManualReview is the fallback for unclassifiable patterns.
	ActionManualReview CreditAction = "MANUAL_REVIEW"
)

// PaymentPattern categorizes how an obligation was overpaid.
type PaymentPattern string

const (
	PatternUniformInstallment PaymentPattern = "UNIFORM_INSTALLMENT"
	PatternLargeTransfer      PaymentPattern = "LARGE_TRANSFER"
	PatternTransferDominated  PaymentPattern = "TRANSFER_DOMINATED"
	PatternMixed              PaymentPattern = "MIXED"
)

// CreditLedgerEntry is a disposition proposal for an overpaid obligation,
// materialized for human approval before it becomes a persisted credit.
type CreditLedgerEntry struct {
	ObligationID    int64           `json:"obligation_id"`
	Counterparty    string          `json:"counterparty"`
	ExcessAmount    decimal.Decimal `json:"excess_amount"`
	PatternCategory PaymentPattern  `json:"pattern_category"`
	ProposedAction  CreditAction    `json:"proposed_action"`
	Reason          string          `json:"reason"`
}

// RosterEntry is a known counterparty used for fuzzy matching. Order
// reflects roster insertion order, which is the final tie-break.
type RosterEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Shared helpers

// TruncateToDay drops the time-of-day component, keeping the UTC date.
func TruncateToDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same UTC date.
func SameDay(a, b time.Time) bool {
	return TruncateToDay(a).Equal(TruncateToDay(b))
}

// AmountsWithinEpsilon compares two decimal amounts against a tolerance.
func AmountsWithinEpsilon(a, b, epsilon decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

// DefaultAmountEpsilon is the currency tolerance used when a caller does
// not configure one.
func DefaultAmountEpsilon() decimal.Decimal {
	return decimal.NewFromFloat(0.01)
}
