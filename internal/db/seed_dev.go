package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DevMachineID = "dev-machine"
	devActionID  = "00000000-0000-4000-8000-000000000001"
)

type SeedDevOptions struct {
	// MachineID receives the seeded approval. Defaults to DevMachineID.
	MachineID string
}

// SeedDev inserts one allowed, unconsumed approval so an agent can be
// armed locally without a messaging round trip. Re-seeding re-opens the
// same record.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	machine := opt.MachineID
	if machine == "" {
		machine = DevMachineID
	}
	now := time.Now().UTC().UnixMilli()

	if _, err := db.ExecContext(ctx, `
INSERT INTO approvals(
  id, invoice_id, biller_id, machine_id, admin_url,
  status, created_at_ms, decided_at_ms, consumed
) VALUES (?, 'INV-DEV-1', 'biller-dev', ?, 'http://localhost/admin', 'allowed', ?, ?, 0)
ON CONFLICT(id) DO UPDATE SET
  machine_id = excluded.machine_id,
  status = 'allowed',
  consumed = 0,
  consumed_at_ms = NULL,
  created_at_ms = excluded.created_at_ms;
`, devActionID, machine, now, now); err != nil {
		return fmt.Errorf("seed dev approval: %w", err)
	}
	return nil
}
