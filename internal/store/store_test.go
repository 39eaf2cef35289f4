package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ledger-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(db, "../../migrations"))
	return New(db)
}

func testDay(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func insertObligation(t *testing.T, st *Store, id int64, counterparty string, due float64) {
	t.Helper()
	require.NoError(t, st.Obligations.Insert(context.Background(), &models.Obligation{
		ID:             id,
		BusinessKey:    fmt.Sprintf("%06d", 7236+id),
		Counterparty:   counterparty,
		DueAmount:      decimal.NewFromFloat(due),
		PaidAmount:     decimal.Zero,
		Balance:        decimal.NewFromFloat(due),
		OccurredOn:     testDay(10),
		LifecycleState: models.LifecycleOpen,
	}))
}

func insertSettlement(t *testing.T, st *Store, id int64, amount float64) {
	t.Helper()
	require.NoError(t, st.Settlements.Insert(context.Background(), &models.SettlementRecord{
		ID:                    id,
		SequenceNo:            id,
		Amount:                decimal.NewFromFloat(amount),
		OccurredOn:            testDay(12),
		Channel:               models.ChannelCard,
		CounterpartyReference: "007237",
		Counterparty:          "Fuel Co",
		Provenance:            models.ProvenancePointOfSaleFeed,
	}))
}

func TestRunMigrationsLeavesHandleOpen(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db, "../../migrations"))

	// The caller keeps using the handle after migrating, and a re-run
	// against an up-to-date schema is a no-op.
	st := New(db)
	insertObligation(t, st, 1, "Fuel Co", 500.00)
	require.NoError(t, RunMigrations(db, "../../migrations"))

	got, err := st.Obligations.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestObligationRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	secondary := decimal.NewFromFloat(520.50)
	original := &models.Obligation{
		ID:                 1,
		BusinessKey:        "007237",
		Counterparty:       "Fuel Co",
		DueAmount:          decimal.NewFromFloat(500.00),
		SecondaryDueAmount: &secondary,
		PaidAmount:         decimal.NewFromFloat(100.25),
		Balance:            decimal.NewFromFloat(399.75),
		OccurredOn:         testDay(10),
		LifecycleState:     models.LifecycleOpen,
	}
	require.NoError(t, st.Obligations.Insert(ctx, original))

	got, err := st.Obligations.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "007237", got.BusinessKey)
	assert.True(t, got.DueAmount.Equal(decimal.NewFromFloat(500.00)))
	assert.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(100.25)))
	require.NotNil(t, got.SecondaryDueAmount)
	assert.True(t, got.SecondaryDueAmount.Equal(secondary))

	missing, err := st.Obligations.Get(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestObligationUpdateDerived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertObligation(t, st, 1, "Fuel Co", 500.00)

	err := WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		return st.Obligations.UpdateDerived(ctx, tx, 1,
			decimal.NewFromFloat(500.00), decimal.Zero)
	})
	require.NoError(t, err)

	got, err := st.Obligations.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.Equal(decimal.NewFromFloat(500.00)))
	assert.True(t, got.Balance.IsZero())
}

func TestSettlementListAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		insertSettlement(t, st, i, 100.00)
	}

	all, err := st.Settlements.List(ctx, Selection{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	capped, err := st.Settlements.List(ctx, Selection{Limit: 2})
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, int64(1), capped[0].ID)
}

func TestLinkObligationIdempotence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertObligation(t, st, 1, "Fuel Co", 500.00)
	insertSettlement(t, st, 10, 500.00)

	// First write sets the NULL link; the replay touches nothing.
	var first, second bool
	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		var err error
		first, err = st.Settlements.LinkObligation(ctx, tx, 10, 1, false)
		return err
	}))
	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		var err error
		second, err = st.Settlements.LinkObligation(ctx, tx, 10, 1, false)
		return err
	}))

	assert.True(t, first)
	assert.False(t, second)

	got, err := st.Settlements.Get(ctx, 10)
	require.NoError(t, err)
	require.NotNil(t, got.LinkedObligationID)
	assert.Equal(t, int64(1), *got.LinkedObligationID)
}

func TestLinkObligationOverride(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertObligation(t, st, 1, "Fuel Co", 500.00)
	insertObligation(t, st, 2, "Fleet Services", 500.00)
	insertSettlement(t, st, 10, 500.00)

	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		_, err := st.Settlements.LinkObligation(ctx, tx, 10, 1, false)
		return err
	}))

	var moved bool
	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		var err error
		moved, err = st.Settlements.LinkObligation(ctx, tx, 10, 2, true)
		return err
	}))
	assert.True(t, moved)

	got, err := st.Settlements.Get(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), *got.LinkedObligationID)
}

func TestListUnlinkedAndByObligation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertObligation(t, st, 1, "Fuel Co", 500.00)
	insertSettlement(t, st, 10, 500.00)
	insertSettlement(t, st, 11, 250.00)

	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		_, err := st.Settlements.LinkObligation(ctx, tx, 10, 1, false)
		return err
	}))

	unlinked, err := st.Settlements.ListUnlinked(ctx, Selection{})
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.Equal(t, int64(11), unlinked[0].ID)

	byObligation, err := st.Settlements.ListByObligation(ctx)
	require.NoError(t, err)
	require.Len(t, byObligation[1], 1)
	assert.Equal(t, int64(10), byObligation[1][0].ID)
}

func TestSettlementDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSettlement(t, st, 10, 500.00)

	var deleted bool
	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		var err error
		deleted, err = st.Settlements.Delete(ctx, tx, 10)
		return err
	}))
	assert.True(t, deleted)

	got, err := st.Settlements.Get(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent row reports false, not an error.
	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		var err error
		deleted, err = st.Settlements.Delete(ctx, tx, 10)
		return err
	}))
	assert.False(t, deleted)
}

func TestNextSequenceNo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	next, err := st.Settlements.NextSequenceNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	insertSettlement(t, st, 7, 100.00)
	next, err = st.Settlements.NextSequenceNo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), next)
}

func TestLedgerListExcludesAccounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rows := []*models.LedgerTransaction{
		{ID: 1, Account: "OPERATING", OccurredOn: testDay(10), DebitAmount: decimal.NewFromFloat(100.00), CreditAmount: decimal.Zero, Narrative: "transfer"},
		{ID: 2, Account: "PAYROLL", OccurredOn: testDay(10), DebitAmount: decimal.NewFromFloat(200.00), CreditAmount: decimal.Zero, Narrative: "salaries"},
		{ID: 3, Account: "OPERATING", OccurredOn: testDay(11), CreditAmount: decimal.NewFromFloat(100.00), DebitAmount: decimal.Zero, Narrative: "returned"},
	}
	for _, lt := range rows {
		require.NoError(t, st.Ledger.Insert(ctx, lt))
	}

	got, err := st.Ledger.List(ctx, Selection{ExcludeAccounts: []string{"PAYROLL"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, lt := range got {
		assert.Equal(t, "OPERATING", lt.Account)
	}

	capped, err := st.Ledger.List(ctx, Selection{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func TestMarkReversal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Ledger.Insert(ctx, &models.LedgerTransaction{
		ID: 1, Account: "OPERATING", OccurredOn: testDay(10),
		DebitAmount: decimal.NewFromFloat(100.00), CreditAmount: decimal.Zero,
		Narrative: "transfer to fuel co",
	}))

	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		return st.Ledger.MarkReversal(ctx, tx, 1, "NSF FEE - transfer to fuel co")
	}))

	byID, err := st.Ledger.MapByID(ctx, Selection{})
	require.NoError(t, err)
	require.Contains(t, byID, int64(1))
	assert.True(t, byID[1].IsReversal)
	assert.Equal(t, "NSF FEE - transfer to fuel co", byID[1].Narrative)
}

func TestRosterOrderAndNSFRisk(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Fuel Co", "Fleet Services", "Fresh Foods"} {
		require.NoError(t, st.Roster.Insert(ctx, name))
	}

	names, err := st.Roster.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fuel Co", "Fleet Services", "Fresh Foods"}, names)

	require.NoError(t, st.Roster.AddNSFRisk(ctx, "Fuel Co"))
	require.NoError(t, st.Roster.AddNSFRisk(ctx, "Fuel Co"))

	risk, err := st.Roster.NSFRiskSet(ctx)
	require.NoError(t, err)
	assert.True(t, risk["Fuel Co"])
	assert.False(t, risk["Fleet Services"])
}

func TestAuditAppendAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entries := []AuditEntry{
		{RunID: "run-1", BatchID: "batch-1", Operation: "link_write", RowCount: 10, Predicate: "all rows", Outcome: "committed"},
		{RunID: "run-1", BatchID: "batch-2", Operation: "settlement_delete", RowCount: 2, Predicate: "all rows", Outcome: "committed"},
		{RunID: "run-2", BatchID: "batch-1", Operation: "link_write", RowCount: 1, Predicate: "all rows", Outcome: "failed: disk full"},
	}
	for _, e := range entries {
		require.NoError(t, st.Audit.Append(ctx, e))
	}

	got, err := st.Audit.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "link_write", got[0].Operation)
	assert.Equal(t, "settlement_delete", got[1].Operation)
	assert.Equal(t, 10, got[0].RowCount)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestArchiveSnapshotAndRestore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	obligationID := int64(1)
	s := &models.SettlementRecord{
		ID:                    10,
		SequenceNo:            10,
		Amount:                decimal.NewFromFloat(500.00),
		OccurredOn:            testDay(12),
		Channel:               models.ChannelCard,
		CounterpartyReference: "007237",
		Counterparty:          "Fuel Co",
		LinkedObligationID:    &obligationID,
		Provenance:            models.ProvenancePointOfSaleFeed,
	}

	require.NoError(t, WithTx(ctx, st.DB, func(tx *sql.Tx) error {
		return st.Archive.SnapshotSettlement(ctx, tx, "run-1", s)
	}))

	count, err := st.Archive.CountByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	restored, err := st.Archive.RestoreSettlements(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, int64(10), restored[0].ID)
	assert.True(t, restored[0].Amount.Equal(decimal.NewFromFloat(500.00)))
	require.NotNil(t, restored[0].LinkedObligationID)
	assert.Equal(t, int64(1), *restored[0].LinkedObligationID)
}

func TestSelectionPredicate(t *testing.T) {
	assert.Equal(t, "all rows", Selection{}.Predicate())
	assert.Equal(t, "all rows limit 10", Selection{Limit: 10}.Predicate())
	assert.Contains(t, Selection{ExcludeAccounts: []string{"PAYROLL"}}.Predicate(), "PAYROLL")
}
