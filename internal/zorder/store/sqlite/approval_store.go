package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/zorder/internal/db"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

const approvalColumns = `id, invoice_id, biller_id, machine_id, admin_url, status,
  created_at_ms, decided_at_ms, consumed, consumed_at_ms`

type ApprovalStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewApprovalStore(db *sql.DB, writer *dbpkg.Worker) *ApprovalStore {
	return &ApprovalStore{db: db, writer: writer}
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

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO approvals(id, invoice_id, biller_id, machine_id, admin_url, status, created_at_ms, consumed)
VALUES (?, ?, ?, ?, ?, ?, ?, 0);
`, rec.ID, rec.InvoiceID, rec.BillerID, rec.MachineID, rec.AdminURL, string(rec.Status), toMs(rec.CreatedAt))
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return store.ErrDuplicateID
			}
			return fmt.Errorf("Insert approval: %w", err)
		}
		return nil
	})
}

func (s *ApprovalStore) Get(ctx context.Context, id string) (store.ApprovalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?;`, id)
	rec, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ApprovalRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ApprovalRecord{}, fmt.Errorf("Get approval: %w", err)
	}
	return rec, nil
}

// Decide moves a pending approval to status. The WHERE clause makes a
// second or conflicting decision a no-op.
func (s *ApprovalStore) Decide(ctx context.Context, id string, status types.Status, at time.Time) (bool, error) {
	var changed bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE approvals SET status = ?, decided_at_ms = ?
WHERE id = ? AND status = 'pending';
`, string(status), toMs(at), id)
		if err != nil {
			return fmt.Errorf("Decide approval: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Decide rows affected: %w", err)
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

func (s *ApprovalStore) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE approvals SET consumed = 1, consumed_at_ms = ?
WHERE id = ? AND status = 'allowed' AND consumed = 0;
`, toMs(at), id)
		if err != nil {
			return fmt.Errorf("Consume approval: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Consume rows affected: %w", err)
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

func (s *ApprovalStore) ListTasks(ctx context.Context, machineID string, limit int) ([]store.ApprovalRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+approvalColumns+` FROM approvals
WHERE machine_id = ? AND status = 'allowed' AND consumed = 0
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?;
`, machineID, limit)
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
	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM approvals
WHERE created_at_ms < ?
  AND (status = 'denied' OR (status = 'allowed' AND consumed = 1));
`, toMs(cutoff))
		if err != nil {
			return fmt.Errorf("PruneTerminalOlderThan: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(r rowScanner) (store.ApprovalRecord, error) {
	var (
		rec               store.ApprovalRecord
		status            string
		createdMs         int64
		decidedMs, consMs sql.NullInt64
		consumed          int
	)
	if err := r.Scan(&rec.ID, &rec.InvoiceID, &rec.BillerID, &rec.MachineID, &rec.AdminURL,
		&status, &createdMs, &decidedMs, &consumed, &consMs); err != nil {
		return store.ApprovalRecord{}, err
	}
	rec.Status = types.Status(status)
	rec.CreatedAt = fromMs(createdMs)
	rec.Consumed = consumed == 1
	if decidedMs.Valid {
		t := fromMs(decidedMs.Int64)
		rec.DecidedAt = &t
	}
	if consMs.Valid {
		t := fromMs(consMs.Int64)
		rec.ConsumedAt = &t
	}
	return rec, nil
}

func toMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
