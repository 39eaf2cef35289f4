// Package controller drives reconciliation runs. It loads the data set,
// executes the matching, pair detection, duplicate classification and
// credit allocation engines in order, and either reports what would
// change (preview) or persists it in chunked transactions (apply).
//
// The mode is decided once when a run starts. Preview never opens a write
// transaction. Apply commits one transaction per chunk, appends one audit
// entry per executed batch, and snapshots rows before any destructive
// operation so an operator can reverse a bad run.
package controller

import (
	"context"
	"database/sql"
	"time"

	"ledger-reconciliation-engine/internal/credits"
	"ledger-reconciliation-engine/internal/duplicates"
	"ledger-reconciliation-engine/internal/matcher"
	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/nsf"
	"ledger-reconciliation-engine/internal/similarity"
	"ledger-reconciliation-engine/internal/store"
	enginerrors "ledger-reconciliation-engine/pkg/errors"
	"ledger-reconciliation-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options bundles the per-engine configurations for one run.
type Options struct {
	Controller *Config
	Matcher    *matcher.Config
	NSF        *nsf.Config
	Credits    *credits.Config
	Selection  store.Selection
}

// AppliedCounts summarizes what an apply run persisted. All zero in
// preview mode.
type AppliedCounts struct {
	LinkWrites            int `json:"link_writes"`
	ReversalFlags         int `json:"reversal_flags"`
	SettlementDeletes     int `json:"settlement_deletes"`
	ObligationsRebalanced int `json:"obligations_rebalanced"`
	Batches               int `json:"batches"`
}

// RunReport aggregates the outcome of one run across all engines.
type RunReport struct {
	RunID      string                     `json:"run_id"`
	Mode       string                     `json:"mode"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Match      *matcher.BatchResult       `json:"match,omitempty"`
	NSF        *nsf.Result                `json:"nsf,omitempty"`
	Duplicates *duplicates.Result         `json:"duplicates,omitempty"`
	Credits    []models.CreditLedgerEntry `json:"credits,omitempty"`
	Applied    AppliedCounts              `json:"applied"`
}

// Controller orchestrates runs over one store.
type Controller struct {
	config       *Config
	matchConfig  *matcher.Config
	nsfConfig    *nsf.Config
	creditConfig *credits.Config
	selection    store.Selection
	store        *store.Store
	log          logger.Logger
}

// New creates a controller. Nil engine configs fall back to their
// defaults.
func New(opts *Options, st *store.Store) (*Controller, error) {
	if opts == nil || opts.Controller == nil {
		return nil, enginerrors.Configuration(enginerrors.CodeInvalidConfig,
			"controller", "options are required")
	}
	if err := opts.Controller.Validate(); err != nil {
		return nil, enginerrors.Configuration(enginerrors.CodeInvalidConfig,
			"controller", err.Error())
	}
	c := &Controller{
		config:       opts.Controller,
		matchConfig:  opts.Matcher,
		nsfConfig:    opts.NSF,
		creditConfig: opts.Credits,
		selection:    opts.Selection,
		store:        st,
		log:          logger.WithComponent("controller"),
	}
	if c.matchConfig == nil {
		c.matchConfig = matcher.DefaultConfig()
	}
	if c.nsfConfig == nil {
		c.nsfConfig = nsf.DefaultConfig()
	}
	if c.creditConfig == nil {
		c.creditConfig = credits.DefaultConfig()
	}
	if err := c.matchConfig.Validate(); err != nil {
		return nil, enginerrors.Configuration(enginerrors.CodeInvalidConfig, "matcher", err.Error())
	}
	if err := c.nsfConfig.Validate(); err != nil {
		return nil, enginerrors.Configuration(enginerrors.CodeInvalidConfig, "nsf", err.Error())
	}
	if err := c.creditConfig.Validate(); err != nil {
		return nil, enginerrors.Configuration(enginerrors.CodeInvalidConfig, "credits", err.Error())
	}
	return c, nil
}

// snapshot is one consistent read of the data set a run operates on.
type snapshot struct {
	obligations []*models.Obligation
	settlements []*models.SettlementRecord
	ledger      []*models.LedgerTransaction
	ledgerByID  map[int64]*models.LedgerTransaction
	rosterNames []string
	nsfRisk     map[string]bool
}

func (c *Controller) load(ctx context.Context) (*snapshot, error) {
	obligations, err := c.store.Obligations.List(ctx, store.Selection{})
	if err != nil {
		return nil, enginerrors.Store(enginerrors.CodeQueryFailed, "load obligations", err)
	}
	settlements, err := c.store.Settlements.List(ctx, c.selection)
	if err != nil {
		return nil, enginerrors.Store(enginerrors.CodeQueryFailed, "load settlements", err)
	}
	ledger, err := c.store.Ledger.List(ctx, c.selection)
	if err != nil {
		return nil, enginerrors.Store(enginerrors.CodeQueryFailed, "load ledger", err)
	}
	names, err := c.store.Roster.Names(ctx)
	if err != nil {
		return nil, enginerrors.Store(enginerrors.CodeQueryFailed, "load roster", err)
	}
	nsfRisk, err := c.store.Roster.NSFRiskSet(ctx)
	if err != nil {
		return nil, enginerrors.Store(enginerrors.CodeQueryFailed, "load nsf risk list", err)
	}

	byID := make(map[int64]*models.LedgerTransaction, len(ledger))
	for _, lt := range ledger {
		byID[lt.ID] = lt
	}
	return &snapshot{
		obligations: obligations,
		settlements: settlements,
		ledger:      ledger,
		ledgerByID:  byID,
		rosterNames: names,
		nsfRisk:     nsfRisk,
	}, nil
}

func (c *Controller) newReport() *RunReport {
	return &RunReport{
		RunID:     uuid.New().String(),
		Mode:      c.config.Mode.String(),
		StartedAt: time.Now().UTC(),
	}
}

// Run executes the full pipeline: match, detect reversal pairs, classify
// duplicates, propose credit dispositions. In apply mode each engine's
// decisions are persisted before the next engine reads the data, so the
// classifier sees the links the matcher just wrote.
func (c *Controller) Run(ctx context.Context) (*RunReport, error) {
	report := c.newReport()
	c.log.WithFields(logger.Fields{
		"run_id": report.RunID,
		"mode":   report.Mode,
	}).Info("reconciliation run starting")

	snap, err := c.load(ctx)
	if err != nil {
		return report, err
	}

	engine := matcher.NewEngine(c.matchConfig, similarity.NewRosterMatcher(snap.rosterNames, similarity.NewLevenshteinScorer()))
	report.Match = engine.Run(snap.settlements, snap.obligations)

	if c.config.Mode == ModeApply {
		applied, err := c.applyLinkWrites(ctx, report, report.Match.LinkWrites)
		if err != nil {
			return report, err
		}
		report.Applied.LinkWrites = applied
	}
	// Downstream engines see the proposed links in both modes; in apply
	// mode they were just committed, in preview this simulates them.
	applyLinksInMemory(snap.settlements, report.Match.LinkWrites)

	detector := nsf.NewDetector(c.nsfConfig)
	report.NSF = detector.Detect(snap.ledger)

	if c.config.Mode == ModeApply {
		applied, err := c.applyReversalFlags(ctx, report, report.NSF.Updates)
		if err != nil {
			return report, err
		}
		report.Applied.ReversalFlags = applied
	}

	classifier := duplicates.NewClassifier()
	report.Duplicates = classifier.Classify(&duplicates.Input{
		Settlements:           snap.settlements,
		LedgerByID:            snap.ledgerByID,
		ReversalLegIDs:        report.NSF.ReversalIDs,
		NSFRiskCounterparties: snap.nsfRisk,
	})

	if c.config.Mode == ModeApply {
		deleted, err := c.applySettlementDeletes(ctx, report, report.Duplicates.Groups)
		if err != nil {
			return report, err
		}
		report.Applied.SettlementDeletes = deleted

		rebalanced, err := c.rebalance(ctx, report, affectedObligations(report, settlementIndex(snap.settlements)))
		if err != nil {
			return report, err
		}
		report.Applied.ObligationsRebalanced = rebalanced
	}

	// Credit allocation reads post-reconciliation balances: reload in
	// apply mode, recompute in memory for preview.
	obligations, linked, err := c.creditInputs(ctx, snap, report)
	if err != nil {
		return report, err
	}
	allocator := credits.NewAllocator(c.creditConfig)
	report.Credits = allocator.Propose(obligations, linked)

	report.FinishedAt = time.Now().UTC()
	c.log.WithFields(logger.Fields{
		"run_id":  report.RunID,
		"batches": report.Applied.Batches,
	}).Info("reconciliation run complete")
	return report, nil
}

// RunMatch executes the matching engine alone.
func (c *Controller) RunMatch(ctx context.Context) (*RunReport, error) {
	report := c.newReport()
	snap, err := c.load(ctx)
	if err != nil {
		return report, err
	}

	engine := matcher.NewEngine(c.matchConfig, similarity.NewRosterMatcher(snap.rosterNames, similarity.NewLevenshteinScorer()))
	report.Match = engine.Run(snap.settlements, snap.obligations)

	if c.config.Mode == ModeApply {
		applied, err := c.applyLinkWrites(ctx, report, report.Match.LinkWrites)
		if err != nil {
			return report, err
		}
		report.Applied.LinkWrites = applied

		rebalanced, err := c.rebalance(ctx, report, affectedObligations(report, settlementIndex(snap.settlements)))
		if err != nil {
			return report, err
		}
		report.Applied.ObligationsRebalanced = rebalanced
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// RunNSF executes reversal pair detection alone.
func (c *Controller) RunNSF(ctx context.Context) (*RunReport, error) {
	report := c.newReport()
	snap, err := c.load(ctx)
	if err != nil {
		return report, err
	}

	detector := nsf.NewDetector(c.nsfConfig)
	report.NSF = detector.Detect(snap.ledger)

	if c.config.Mode == ModeApply {
		applied, err := c.applyReversalFlags(ctx, report, report.NSF.Updates)
		if err != nil {
			return report, err
		}
		report.Applied.ReversalFlags = applied
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// RunDuplicates executes duplicate classification alone. Pair detection
// still runs read-only so reversal legs are excluded, but its side
// effects are not persisted here.
func (c *Controller) RunDuplicates(ctx context.Context) (*RunReport, error) {
	report := c.newReport()
	snap, err := c.load(ctx)
	if err != nil {
		return report, err
	}

	detector := nsf.NewDetector(c.nsfConfig)
	pairs := detector.Detect(snap.ledger)

	classifier := duplicates.NewClassifier()
	report.Duplicates = classifier.Classify(&duplicates.Input{
		Settlements:           snap.settlements,
		LedgerByID:            snap.ledgerByID,
		ReversalLegIDs:        pairs.ReversalIDs,
		NSFRiskCounterparties: snap.nsfRisk,
	})

	if c.config.Mode == ModeApply {
		deleted, err := c.applySettlementDeletes(ctx, report, report.Duplicates.Groups)
		if err != nil {
			return report, err
		}
		report.Applied.SettlementDeletes = deleted
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// RunCredits executes the credit allocator alone. It proposes only and
// never mutates, regardless of mode.
func (c *Controller) RunCredits(ctx context.Context) (*RunReport, error) {
	report := c.newReport()
	obligations, err := c.store.Obligations.List(ctx, store.Selection{})
	if err != nil {
		return report, enginerrors.Store(enginerrors.CodeQueryFailed, "load obligations", err)
	}
	linked, err := c.store.Settlements.ListByObligation(ctx)
	if err != nil {
		return report, enginerrors.Store(enginerrors.CodeQueryFailed, "load linked settlements", err)
	}

	allocator := credits.NewAllocator(c.creditConfig)
	report.Credits = allocator.Propose(obligations, linked)
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// applyLinkWrites persists link mutations in chunks, one transaction and
// one audit entry per chunk. Returns the number of rows actually changed;
// writes that find a non-NULL link are no-ops, not failures.
func (c *Controller) applyLinkWrites(ctx context.Context, report *RunReport, writes []matcher.LinkWrite) (int, error) {
	if len(writes) == 0 {
		return 0, nil
	}
	if err := c.config.Authorize(FamilyLinkWrite); err != nil {
		return 0, err
	}

	applied := 0
	for _, batch := range chunk(writes, c.config.ChunkSize) {
		changed := 0
		err := store.WithTx(ctx, c.store.DB, func(tx *sql.Tx) error {
			for _, w := range batch {
				ok, err := c.store.Settlements.LinkObligation(ctx, tx, w.SettlementID, w.ObligationID, w.Override)
				if err != nil {
					return err
				}
				if ok {
					changed++
				}
			}
			return nil
		})
		c.audit(ctx, report, string(FamilyLinkWrite), changed, err)
		if err != nil {
			return applied, enginerrors.Store(enginerrors.CodeWriteFailed, "link writes", err)
		}
		applied += changed
	}
	return applied, nil
}

// applyReversalFlags persists the is_reversal flag and canonical
// narrative on both legs of every detected pair.
func (c *Controller) applyReversalFlags(ctx context.Context, report *RunReport, updates []nsf.NarrativeUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	if err := c.config.Authorize(FamilyLedgerFlag); err != nil {
		return 0, err
	}

	applied := 0
	for _, batch := range chunk(updates, c.config.ChunkSize) {
		err := store.WithTx(ctx, c.store.DB, func(tx *sql.Tx) error {
			for _, u := range batch {
				if err := c.store.Ledger.MarkReversal(ctx, tx, u.LedgerID, u.NewNarrative); err != nil {
					return err
				}
			}
			return nil
		})
		c.audit(ctx, report, string(FamilyLedgerFlag), len(batch), err)
		if err != nil {
			return applied, enginerrors.Store(enginerrors.CodeWriteFailed, "reversal flags", err)
		}
		applied += len(batch)
	}
	return applied, nil
}

// applySettlementDeletes removes the redundant rows of TRUE_DUPLICATE
// groups. Every doomed row is snapshotted into the archive before the
// first delete executes; rows in any other classification are never
// touched.
func (c *Controller) applySettlementDeletes(ctx context.Context, report *RunReport, groups []models.DuplicateGroup) (int, error) {
	var doomed []int64
	for _, g := range groups {
		if g.Classification != models.ClassTrueDuplicate {
			continue
		}
		doomed = append(doomed, g.DeleteIDs...)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := c.config.Authorize(FamilySettlementDelete); err != nil {
		return 0, err
	}

	if err := c.snapshotSettlements(ctx, report, doomed); err != nil {
		return 0, err
	}

	deleted := 0
	for _, batch := range chunk(doomed, c.config.ChunkSize) {
		removed := 0
		err := store.WithTx(ctx, c.store.DB, func(tx *sql.Tx) error {
			for _, id := range batch {
				ok, err := c.store.Settlements.Delete(ctx, tx, id)
				if err != nil {
					return err
				}
				if ok {
					removed++
				}
			}
			return nil
		})
		c.audit(ctx, report, string(FamilySettlementDelete), removed, err)
		if err != nil {
			return deleted, enginerrors.Store(enginerrors.CodeWriteFailed, "settlement deletes", err)
		}
		deleted += removed
	}
	return deleted, nil
}

// snapshotSettlements archives every row about to be deleted. Rows that
// no longer exist are logged and skipped; a missing row is an integrity
// gap, not a reason to abort the run.
func (c *Controller) snapshotSettlements(ctx context.Context, report *RunReport, ids []int64) error {
	for _, batch := range chunk(ids, c.config.ChunkSize) {
		// Load outside the transaction: the single sqlite connection is
		// pinned once the tx opens, so an inner read would deadlock.
		rows := make([]*models.SettlementRecord, 0, len(batch))
		for _, id := range batch {
			s, err := c.store.Settlements.Get(ctx, id)
			if err != nil {
				return enginerrors.Store(enginerrors.CodeQueryFailed, "load rows for snapshot", err)
			}
			if s == nil {
				gap := enginerrors.IntegrityGap(enginerrors.CodeMissingSettlement, id, "settlements")
				c.log.WithField("settlement_id", id).Warn(gap.Error())
				continue
			}
			rows = append(rows, s)
		}

		archived := 0
		err := store.WithTx(ctx, c.store.DB, func(tx *sql.Tx) error {
			for _, s := range rows {
				if err := c.store.Archive.SnapshotSettlement(ctx, tx, report.RunID, s); err != nil {
					return err
				}
				archived++
			}
			return nil
		})
		c.audit(ctx, report, "row_archive", archived, err)
		if err != nil {
			return enginerrors.Store(enginerrors.CodeWriteFailed, "pre-delete snapshots", err)
		}
	}
	return nil
}

// rebalance recomputes paid_amount and balance for the obligations a run
// touched, from the surviving linked settlements.
func (c *Controller) rebalance(ctx context.Context, report *RunReport, obligationIDs []int64) (int, error) {
	if len(obligationIDs) == 0 {
		return 0, nil
	}

	linked, err := c.store.Settlements.ListByObligation(ctx)
	if err != nil {
		return 0, enginerrors.Store(enginerrors.CodeQueryFailed, "load linked settlements", err)
	}

	rebalanced := 0
	for _, batch := range chunk(obligationIDs, c.config.ChunkSize) {
		// Load outside the transaction: the single sqlite connection is
		// pinned once the tx opens, so an inner read would deadlock.
		obs := make([]*models.Obligation, 0, len(batch))
		for _, id := range batch {
			ob, err := c.store.Obligations.Get(ctx, id)
			if err != nil {
				return rebalanced, enginerrors.Store(enginerrors.CodeQueryFailed, "load obligations", err)
			}
			if ob == nil {
				gap := enginerrors.IntegrityGap(enginerrors.CodeMissingObligation, id, "obligations")
				c.log.WithField("obligation_id", id).Warn(gap.Error())
				continue
			}
			obs = append(obs, ob)
		}

		updated := 0
		err := store.WithTx(ctx, c.store.DB, func(tx *sql.Tx) error {
			for _, ob := range obs {
				paid := sumAmounts(linked[ob.ID])
				if err := c.store.Obligations.UpdateDerived(ctx, tx, ob.ID, paid, ob.DueAmount.Sub(paid)); err != nil {
					return err
				}
				updated++
			}
			return nil
		})
		c.audit(ctx, report, "rebalance", updated, err)
		if err != nil {
			return rebalanced, enginerrors.Store(enginerrors.CodeWriteFailed, "balance recompute", err)
		}
		rebalanced += updated
	}
	return rebalanced, nil
}

// audit appends one entry for an executed batch. The entry is written on
// its own connection so it survives the batch failing, and an audit write
// failure is logged but never masks the batch outcome.
func (c *Controller) audit(ctx context.Context, report *RunReport, operation string, rowCount int, batchErr error) {
	report.Applied.Batches++
	outcome := "committed"
	if batchErr != nil {
		outcome = "failed: " + enginerrors.TruncateReason(batchErr.Error(), 200)
	}
	entry := store.AuditEntry{
		RunID:     report.RunID,
		BatchID:   uuid.New().String(),
		Operation: operation,
		RowCount:  rowCount,
		Predicate: c.selection.Predicate(),
		Outcome:   outcome,
	}
	if err := c.store.Audit.Append(ctx, entry); err != nil {
		c.log.WithError(err).WithField("operation", operation).Error("audit append failed")
	}
}

// creditInputs returns the obligations and linked settlements the credit
// allocator reads. Apply mode reloads from the store; preview simulates
// the run's link writes and balance recompute in memory.
func (c *Controller) creditInputs(ctx context.Context, snap *snapshot, report *RunReport) ([]*models.Obligation, map[int64][]*models.SettlementRecord, error) {
	if c.config.Mode == ModeApply {
		obligations, err := c.store.Obligations.List(ctx, store.Selection{})
		if err != nil {
			return nil, nil, enginerrors.Store(enginerrors.CodeQueryFailed, "reload obligations", err)
		}
		linked, err := c.store.Settlements.ListByObligation(ctx)
		if err != nil {
			return nil, nil, enginerrors.Store(enginerrors.CodeQueryFailed, "reload linked settlements", err)
		}
		return obligations, linked, nil
	}

	// Preview: drop the rows a true-duplicate decision would delete, then
	// recompute paid and balance from the simulated links.
	doomed := make(map[int64]bool)
	if report.Duplicates != nil {
		for _, g := range report.Duplicates.Groups {
			if g.Classification != models.ClassTrueDuplicate {
				continue
			}
			for _, id := range g.DeleteIDs {
				doomed[id] = true
			}
		}
	}

	linked := make(map[int64][]*models.SettlementRecord)
	for _, s := range snap.settlements {
		if doomed[s.ID] || s.LinkedObligationID == nil {
			continue
		}
		linked[*s.LinkedObligationID] = append(linked[*s.LinkedObligationID], s)
	}

	touched := make(map[int64]bool)
	for _, id := range affectedObligations(report, settlementIndex(snap.settlements)) {
		touched[id] = true
	}
	obligations := make([]*models.Obligation, 0, len(snap.obligations))
	for _, ob := range snap.obligations {
		if !touched[ob.ID] {
			obligations = append(obligations, ob)
			continue
		}
		sim := *ob
		sim.PaidAmount = sumAmounts(linked[ob.ID])
		sim.Balance = sim.DueAmount.Sub(sim.PaidAmount)
		obligations = append(obligations, &sim)
	}
	return obligations, linked, nil
}

// affectedObligations collects the obligation ids whose derived figures a
// run's link writes or deletes could have changed. Deleted settlements
// contribute the obligation they were linked to.
func affectedObligations(report *RunReport, settlementsByID map[int64]*models.SettlementRecord) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if report.Match != nil {
		for _, w := range report.Match.LinkWrites {
			add(w.ObligationID)
		}
	}
	if report.Duplicates != nil {
		for _, g := range report.Duplicates.Groups {
			if g.Classification != models.ClassTrueDuplicate {
				continue
			}
			for _, sid := range g.DeleteIDs {
				if s, ok := settlementsByID[sid]; ok && s.LinkedObligationID != nil {
					add(*s.LinkedObligationID)
				}
			}
		}
	}
	return ids
}

func settlementIndex(settlements []*models.SettlementRecord) map[int64]*models.SettlementRecord {
	byID := make(map[int64]*models.SettlementRecord, len(settlements))
	for _, s := range settlements {
		byID[s.ID] = s
	}
	return byID
}

// applyLinksInMemory mirrors committed (or simulated) link writes onto
// the loaded settlement structs so downstream engines see them.
func applyLinksInMemory(settlements []*models.SettlementRecord, writes []matcher.LinkWrite) {
	byID := settlementIndex(settlements)
	for _, w := range writes {
		if s, ok := byID[w.SettlementID]; ok {
			id := w.ObligationID
			s.LinkedObligationID = &id
		}
	}
}

func sumAmounts(settlements []*models.SettlementRecord) decimal.Decimal {
	total := decimal.Zero
	for _, s := range settlements {
		total = total.Add(s.Amount)
	}
	return total
}

// chunk splits items into batches of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var batches [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
