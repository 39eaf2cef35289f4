package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ledger-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// SettlementRepo handles the settlements table.
type SettlementRepo struct {
	db *sql.DB
}

// NewSettlementRepo creates a settlement repository.
func NewSettlementRepo(db *sql.DB) *SettlementRepo {
	return &SettlementRepo{db: db}
}

const settlementColumns = `id, sequence_no, amount, occurred_on, channel,
 counterparty_reference, counterparty, target_ref, linked_obligation_id, linked_ledger_id, provenance`

// Insert stores a settlement row.
func (r *SettlementRepo) Insert(ctx context.Context, s *models.SettlementRecord) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO settlements(id, sequence_no, amount, occurred_on, channel,
	 counterparty_reference, counterparty, target_ref, linked_obligation_id, linked_ledger_id, provenance)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		s.ID, s.SequenceNo, s.Amount.String(), s.OccurredOn, string(s.Channel),
		s.CounterpartyReference, s.Counterparty, s.TargetRef,
		s.LinkedObligationID, s.LinkedLedgerID, string(s.Provenance))
	return err
}

// Get fetches one settlement by id; nil when absent.
func (r *SettlementRepo) Get(ctx context.Context, id int64) (*models.SettlementRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	s, err := scanSettlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// List returns settlements in sequence order, capped by the selection
// limit when positive.
func (r *SettlementRepo) List(ctx context.Context, sel Selection) ([]*models.SettlementRecord, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements ORDER BY sequence_no`
	args := []interface{}{}
	if sel.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, sel.Limit)
	}
	return r.queryMany(ctx, query, args...)
}

// ListUnlinked returns settlements with no obligation link, the matching
// engine's input set.
func (r *SettlementRepo) ListUnlinked(ctx context.Context, sel Selection) ([]*models.SettlementRecord, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements
	 WHERE linked_obligation_id IS NULL ORDER BY sequence_no`
	args := []interface{}{}
	if sel.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, sel.Limit)
	}
	return r.queryMany(ctx, query, args...)
}

// ListByObligation returns the settlements linked to each obligation id.
func (r *SettlementRepo) ListByObligation(ctx context.Context) (map[int64][]*models.SettlementRecord, error) {
	all, err := r.queryMany(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE linked_obligation_id IS NOT NULL ORDER BY sequence_no`)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]*models.SettlementRecord)
	for _, s := range all {
		out[*s.LinkedObligationID] = append(out[*s.LinkedObligationID], s)
	}
	return out, nil
}

// LinkObligation sets the obligation link inside an apply transaction.
// Without override the write only touches a NULL link, so replaying a
// completed chunk changes nothing.
func (r *SettlementRepo) LinkObligation(ctx context.Context, tx *sql.Tx, settlementID, obligationID int64, override bool) (bool, error) {
	query := `UPDATE settlements SET linked_obligation_id = ?
	 WHERE id = ? AND linked_obligation_id IS NULL`
	if override {
		query = `UPDATE settlements SET linked_obligation_id = ? WHERE id = ?`
	}
	res, err := tx.ExecContext(ctx, query, obligationID, settlementID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes one settlement row inside an apply transaction. Only the
// apply controller calls this, acting on a TRUE_DUPLICATE decision.
func (r *SettlementRepo) Delete(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM settlements WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// NextSequenceNo returns the next monotonic ordinal for ingestion.
func (r *SettlementRepo) NextSequenceNo(ctx context.Context) (int64, error) {
	var maxSeq sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(sequence_no) FROM settlements`).Scan(&maxSeq)
	if err != nil {
		return 0, err
	}
	return maxSeq.Int64 + 1, nil
}

func (r *SettlementRepo) queryMany(ctx context.Context, query string, args ...interface{}) ([]*models.SettlementRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SettlementRecord
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSettlement(row rowScanner) (*models.SettlementRecord, error) {
	var s models.SettlementRecord
	var amount, channel, provenance string
	var obligationID, ledgerID sql.NullInt64
	if err := row.Scan(&s.ID, &s.SequenceNo, &amount, &s.OccurredOn, &channel,
		&s.CounterpartyReference, &s.Counterparty, &s.TargetRef,
		&obligationID, &ledgerID, &provenance); err != nil {
		return nil, err
	}
	s.Channel = models.Channel(channel)
	s.Provenance = models.Provenance(provenance)
	if obligationID.Valid {
		s.LinkedObligationID = &obligationID.Int64
	}
	if ledgerID.Valid {
		s.LinkedLedgerID = &ledgerID.Int64
	}

	var err error
	if s.Amount, err = decimal.NewFromString(strings.TrimSpace(amount)); err != nil {
		return nil, fmt.Errorf("settlement %d: invalid amount %q: %w", s.ID, amount, err)
	}
	return &s, nil
}
