package store

import (
	"context"
	"database/sql"

	"ledger-reconciliation-engine/internal/models"
)

// RosterRepo handles the counterparty roster and the NSF-risk allow-list.
type RosterRepo struct {
	db *sql.DB
}

// NewRosterRepo creates a roster repository.
func NewRosterRepo(db *sql.DB) *RosterRepo {
	return &RosterRepo{db: db}
}

// Insert adds a roster entry. Insertion order is significant: it is the
// fuzzy matcher's final tie-break.
func (r *RosterRepo) Insert(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO counterparty_roster(name) VALUES(?)`, name)
	return err
}

// List returns roster entries in insertion order.
func (r *RosterRepo) List(ctx context.Context) ([]models.RosterEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM counterparty_roster ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RosterEntry
	for rows.Next() {
		var e models.RosterEntry
		if err := rows.Scan(&e.ID, &e.Name); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Names returns the roster names in insertion order.
func (r *RosterRepo) Names(ctx context.Context) ([]string, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// AddNSFRisk adds a counterparty to the NSF-risk allow-list.
func (r *RosterRepo) AddNSFRisk(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nsf_risk_counterparties(name) VALUES(?)`, name)
	return err
}

// NSFRiskSet returns the NSF-risk counterparties as a lookup set.
func (r *RosterRepo) NSFRiskSet(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM nsf_risk_counterparties`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
