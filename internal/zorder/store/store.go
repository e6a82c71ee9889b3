package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

var ErrNotFound = errors.New("approval not found")

// ErrDuplicateID is returned by Insert when the id already exists.
var ErrDuplicateID = errors.New("approval id already exists")

type ApprovalRecord struct {
	ID        string
	InvoiceID string
	BillerID  string
	MachineID string
	AdminURL  string
	Status    types.Status
	CreatedAt time.Time
	DecidedAt *time.Time
	Consumed  bool
	// ConsumedAt is set together with Consumed.
	ConsumedAt *time.Time
}

func (r ApprovalRecord) Task() types.Task {
	return types.Task{
		ID:        r.ID,
		InvoiceID: r.InvoiceID,
		BillerID:  r.BillerID,
		AdminURL:  r.AdminURL,
		Status:    r.Status,
	}
}

// ApprovalStore persists approvals. Decide and Consume are conditional
// updates: Decide only moves a pending record, Consume only marks an
// allowed one. Both report whether a row changed.
type ApprovalStore interface {
	Insert(ctx context.Context, rec ApprovalRecord) error
	Get(ctx context.Context, id string) (ApprovalRecord, error)
	Decide(ctx context.Context, id string, status types.Status, at time.Time) (bool, error)
	Consume(ctx context.Context, id string, at time.Time) (bool, error)
	// ListTasks returns allowed, unconsumed approvals for machineID,
	// newest first.
	ListTasks(ctx context.Context, machineID string, limit int) ([]ApprovalRecord, error)
	// PruneTerminalOlderThan deletes denied and consumed records created
	// before cutoff.
	PruneTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pinger is implemented by stores backed by a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}
