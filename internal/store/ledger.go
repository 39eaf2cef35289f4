package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ledger-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerRepo handles the ledger_transactions table.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo creates a ledger repository.
func NewLedgerRepo(db *sql.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

const ledgerColumns = `id, account, occurred_on, debit_amount, credit_amount,
 narrative, counterparty_extracted, is_reversal, linked_settlement_id`

// Insert stores a ledger row.
func (r *LedgerRepo) Insert(ctx context.Context, lt *models.LedgerTransaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO ledger_transactions(id, account, occurred_on, debit_amount, credit_amount,
	 narrative, counterparty_extracted, is_reversal, linked_settlement_id)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		lt.ID, lt.Account, lt.OccurredOn, lt.DebitAmount.String(), lt.CreditAmount.String(),
		lt.Narrative, lt.CounterpartyExtracted, lt.IsReversal, lt.LinkedSettlementID)
	return err
}

// List returns ledger rows ordered by id, honoring the account exclusions
// and row cap of the selection.
func (r *LedgerRepo) List(ctx context.Context, sel Selection) ([]*models.LedgerTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_transactions`
	args := []interface{}{}
	if len(sel.ExcludeAccounts) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(sel.ExcludeAccounts)), ",")
		query += ` WHERE account NOT IN (` + placeholders + `)`
		for _, a := range sel.ExcludeAccounts {
			args = append(args, a)
		}
	}
	query += ` ORDER BY id`
	if sel.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, sel.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerTransaction
	for rows.Next() {
		lt, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

// MapByID returns the rows keyed by id for link resolution.
func (r *LedgerRepo) MapByID(ctx context.Context, sel Selection) (map[int64]*models.LedgerTransaction, error) {
	rows, err := r.List(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*models.LedgerTransaction, len(rows))
	for _, lt := range rows {
		out[lt.ID] = lt
	}
	return out, nil
}

// MarkReversal sets the reversal flag and the canonicalized narrative on
// one leg inside an apply transaction.
func (r *LedgerRepo) MarkReversal(ctx context.Context, tx *sql.Tx, id int64, narrative string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_transactions SET is_reversal = 1, narrative = ? WHERE id = ?`,
		narrative, id)
	return err
}

func scanLedger(row rowScanner) (*models.LedgerTransaction, error) {
	var lt models.LedgerTransaction
	var debit, credit string
	var linked sql.NullInt64
	if err := row.Scan(&lt.ID, &lt.Account, &lt.OccurredOn, &debit, &credit,
		&lt.Narrative, &lt.CounterpartyExtracted, &lt.IsReversal, &linked); err != nil {
		return nil, err
	}
	if linked.Valid {
		lt.LinkedSettlementID = &linked.Int64
	}

	var err error
	if lt.DebitAmount, err = decimal.NewFromString(debit); err != nil {
		return nil, fmt.Errorf("ledger %d: invalid debit %q: %w", lt.ID, debit, err)
	}
	if lt.CreditAmount, err = decimal.NewFromString(credit); err != nil {
		return nil, fmt.Errorf("ledger %d: invalid credit %q: %w", lt.ID, credit, err)
	}
	return &lt, nil
}
