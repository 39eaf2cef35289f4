package store

import (
	"context"
	"database/sql"
	"fmt"

	"ledger-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// ObligationRepo handles the obligations table. Amounts are stored as
// decimal strings so no precision is lost crossing the driver boundary.
type ObligationRepo struct {
	db *sql.DB
}

// NewObligationRepo creates an obligation repository.
func NewObligationRepo(db *sql.DB) *ObligationRepo {
	return &ObligationRepo{db: db}
}

const obligationColumns = `id, business_key, counterparty, due_amount, secondary_due_amount,
 paid_amount, balance, occurred_on, lifecycle_state`

// Insert stores an obligation row (used by ingestion collaborators and
// test fixtures; the engine itself never creates obligations).
func (r *ObligationRepo) Insert(ctx context.Context, o *models.Obligation) error {
	var secondary *string
	if o.SecondaryDueAmount != nil {
		s := o.SecondaryDueAmount.String()
		secondary = &s
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO obligations(id, business_key, counterparty, due_amount, secondary_due_amount,
	 paid_amount, balance, occurred_on, lifecycle_state)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		o.ID, nullableString(o.BusinessKey), o.Counterparty, o.DueAmount.String(), secondary,
		o.PaidAmount.String(), o.Balance.String(), o.OccurredOn, string(o.LifecycleState))
	return err
}

// Get fetches one obligation by id; nil when absent.
func (r *ObligationRepo) Get(ctx context.Context, id int64) (*models.Obligation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// List returns all obligations ordered by id, capped by the selection
// limit when positive.
func (r *ObligationRepo) List(ctx context.Context, sel Selection) ([]*models.Obligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations ORDER BY id`
	args := []interface{}{}
	if sel.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, sel.Limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateDerived writes the recomputed paid amount and balance inside an
// apply transaction.
func (r *ObligationRepo) UpdateDerived(ctx context.Context, tx *sql.Tx, id int64, paid, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE obligations SET paid_amount = ?, balance = ? WHERE id = ?`,
		paid.String(), balance.String(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObligation(row rowScanner) (*models.Obligation, error) {
	var o models.Obligation
	var businessKey, secondary sql.NullString
	var due, paid, balance, state string
	if err := row.Scan(&o.ID, &businessKey, &o.Counterparty, &due, &secondary,
		&paid, &balance, &o.OccurredOn, &state); err != nil {
		return nil, err
	}
	o.BusinessKey = businessKey.String
	o.LifecycleState = models.LifecycleState(state)

	var err error
	if o.DueAmount, err = decimal.NewFromString(due); err != nil {
		return nil, fmt.Errorf("obligation %d: invalid due amount %q: %w", o.ID, due, err)
	}
	if o.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("obligation %d: invalid paid amount %q: %w", o.ID, paid, err)
	}
	if o.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("obligation %d: invalid balance %q: %w", o.ID, balance, err)
	}
	if secondary.Valid {
		d, err := decimal.NewFromString(secondary.String)
		if err != nil {
			return nil, fmt.Errorf("obligation %d: invalid secondary due %q: %w", o.ID, secondary.String, err)
		}
		o.SecondaryDueAmount = &d
	}
	return &o, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
