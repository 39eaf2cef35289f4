// Package store persists the reconciliation data model in sqlite and
// exposes repository types per table. The engines never touch the
// database directly; they receive rows from here and hand mutations back
// to the apply controller, which drives them through WithTx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the sqlite database with foreign keys enforced and a busy
// timeout suitable for a single-writer batch process.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	return db, nil
}

// WithTx runs fn inside a transaction, rolling back on error. Each apply
// chunk commits through exactly one WithTx call.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Now returns UTC time truncated to seconds, consistent with how sqlite
// renders CURRENT_TIMESTAMP.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Store bundles the per-table repositories over one database handle.
type Store struct {
	DB          *sql.DB
	Obligations *ObligationRepo
	Settlements *SettlementRepo
	Ledger      *LedgerRepo
	Roster      *RosterRepo
	Audit       *AuditRepo
	Archive     *ArchiveRepo
}

// New builds a Store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		DB:          db,
		Obligations: NewObligationRepo(db),
		Settlements: NewSettlementRepo(db),
		Ledger:      NewLedgerRepo(db),
		Roster:      NewRosterRepo(db),
		Audit:       NewAuditRepo(db),
		Archive:     NewArchiveRepo(db),
	}
}

// Selection restricts which rows a run processes: a staged-rollout row
// cap and excluded ledger accounts.
type Selection struct {
	Limit           int
	ExcludeAccounts []string
}

// Predicate renders the selection as a human-readable predicate string for
// the audit log.
func (s Selection) Predicate() string {
	p := "all rows"
	if len(s.ExcludeAccounts) > 0 {
		p = fmt.Sprintf("account not in %v", s.ExcludeAccounts)
	}
	if s.Limit > 0 {
		p = fmt.Sprintf("%s limit %d", p, s.Limit)
	}
	return p
}
