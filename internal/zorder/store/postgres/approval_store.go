// Package postgres is the ApprovalStore for deployments that run more
// than one coordinator replica against a shared database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
  seq         BIGSERIAL UNIQUE,
  id          TEXT PRIMARY KEY,
  invoice_id  TEXT NOT NULL,
  biller_id   TEXT NOT NULL,
  machine_id  TEXT NOT NULL,
  admin_url   TEXT NOT NULL DEFAULT '',
  status      TEXT NOT NULL DEFAULT 'pending'
                CHECK (status IN ('pending', 'allowed', 'denied')),
  created_at  TIMESTAMPTZ NOT NULL,
  decided_at  TIMESTAMPTZ,
  consumed    BOOLEAN NOT NULL DEFAULT FALSE,
  consumed_at TIMESTAMPTZ,
  CHECK (NOT consumed OR status = 'allowed')
);
CREATE INDEX IF NOT EXISTS idx_approvals_tasks
  ON approvals(machine_id, status, consumed, created_at DESC);`

const approvalColumns = `id, invoice_id, biller_id, machine_id, admin_url, status,
  created_at, decided_at, consumed, consumed_at`

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = pq.ErrorCode("23505")

type ApprovalStore struct {
	db *sql.DB
}

func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

// EnsureSchema creates the approvals table if it does not exist.
func (s *ApprovalStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure approvals schema: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ApprovalStore) Insert(ctx context.Context, rec store.ApprovalRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = types.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO approvals(id, invoice_id, biller_id, machine_id, admin_url, status, created_at, consumed)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		rec.ID, rec.InvoiceID, rec.BillerID, rec.MachineID, rec.AdminURL, string(rec.Status), rec.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return store.ErrDuplicateID
		}
		return fmt.Errorf("Insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (store.ApprovalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
	rec, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ApprovalRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ApprovalRecord{}, fmt.Errorf("Get approval: %w", err)
	}
	return rec, nil
}

func (s *ApprovalStore) Decide(ctx context.Context, id string, status types.Status, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE approvals SET status = $1, decided_at = $2
WHERE id = $3 AND status = 'pending'`, string(status), at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("Decide approval: %w", err)
	}
	return affected(res)
}

func (s *ApprovalStore) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE approvals SET consumed = TRUE, consumed_at = $1
WHERE id = $2 AND status = 'allowed' AND NOT consumed`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("Consume approval: %w", err)
	}
	return affected(res)
}

func (s *ApprovalStore) ListTasks(ctx context.Context, machineID string, limit int) ([]store.ApprovalRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+approvalColumns+` FROM approvals
WHERE machine_id = $1 AND status = 'allowed' AND NOT consumed
ORDER BY created_at DESC, seq DESC
LIMIT $2`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListTasks query: %w", err)
	}
	defer rows.Close()

	var out []store.ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTasks scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTasks rows: %w", err)
	}
	return out, nil
}

func (s *ApprovalStore) PruneTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM approvals
WHERE created_at < $1
  AND (status = 'denied' OR (status = 'allowed' AND consumed))`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("PruneTerminalOlderThan: %w", err)
	}
	return res.RowsAffected()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(r rowScanner) (store.ApprovalRecord, error) {
	var (
		rec                  store.ApprovalRecord
		status               string
		decidedAt, consumeAt sql.NullTime
	)
	if err := r.Scan(&rec.ID, &rec.InvoiceID, &rec.BillerID, &rec.MachineID, &rec.AdminURL,
		&status, &rec.CreatedAt, &decidedAt, &rec.Consumed, &consumeAt); err != nil {
		return store.ApprovalRecord{}, err
	}
	rec.Status = types.Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		rec.DecidedAt = &t
	}
	if consumeAt.Valid {
		t := consumeAt.Time.UTC()
		rec.ConsumedAt = &t
	}
	return rec, nil
}
