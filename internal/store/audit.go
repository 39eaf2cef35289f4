package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ledger-reconciliation-engine/internal/models"
)

// AuditEntry is one append-only record per executed batch.
type AuditEntry struct {
	RunID     string
	BatchID   string
	Operation string
	RowCount  int
	Predicate string
	Outcome   string
	CreatedAt time.Time
}

// AuditRepo handles the append-only audit log.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates an audit repository.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append writes one audit entry on its own connection, outside any chunk
// transaction, so the entry survives a batch that partially fails.
func (r *AuditRepo) Append(ctx context.Context, e AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO audit_log(run_id, batch_id, operation, row_count, predicate, outcome, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.RunID, e.BatchID, e.Operation, e.RowCount, e.Predicate, e.Outcome, Now())
	return err
}

// ListByRun returns the audit entries for one run in append order.
func (r *AuditRepo) ListByRun(ctx context.Context, runID string) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT run_id, batch_id, operation, row_count, predicate, outcome, created_at
	FROM audit_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.RunID, &e.BatchID, &e.Operation, &e.RowCount,
			&e.Predicate, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ArchiveRepo stores verbatim pre-mutation snapshots of rows about to be
// deleted, keyed by run id.
type ArchiveRepo struct {
	db *sql.DB
}

// NewArchiveRepo creates an archive repository.
func NewArchiveRepo(db *sql.DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// SnapshotSettlement copies one settlement into the archive before any
// delete in the same run executes.
func (r *ArchiveRepo) SnapshotSettlement(ctx context.Context, tx *sql.Tx, runID string, s *models.SettlementRecord) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO row_archive(run_id, table_name, row_id, payload, archived_at)
	VALUES(?, 'settlements', ?, ?, ?);`,
		runID, s.ID, string(payload), Now())
	return err
}

// CountByRun returns how many rows a run archived.
func (r *ArchiveRepo) CountByRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM row_archive WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// RestoreSettlements decodes the archived settlement payloads for one run,
// newest first, for operator-driven rollback.
func (r *ArchiveRepo) RestoreSettlements(ctx context.Context, runID string) ([]*models.SettlementRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT payload FROM row_archive
	WHERE run_id = ? AND table_name = 'settlements' ORDER BY id DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SettlementRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var s models.SettlementRecord
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
