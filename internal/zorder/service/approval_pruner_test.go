package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/zorder/service"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store/memory"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, ms *memory.Store, id string, created time.Time, status types.Status, consumed bool) {
	t.Helper()
	ctx := context.Background()
	if err := ms.Insert(ctx, store.ApprovalRecord{
		ID: id, InvoiceID: "INV", BillerID: "B", MachineID: "M1", CreatedAt: created,
	}); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	if status != types.StatusPending {
		if _, err := ms.Decide(ctx, id, status, created); err != nil {
			t.Fatalf("decide %s: %v", id, err)
		}
	}
	if consumed {
		if _, err := ms.Consume(ctx, id, created); err != nil {
			t.Fatalf("consume %s: %v", id, err)
		}
	}
}

func TestApprovalPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewApprovalPruner(memory.New(), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Returns immediately when disabled.
	pruner.Stop()
}

func TestApprovalPruner_PrunesOnlyTerminalRecords(t *testing.T) {
	ms := memory.New()
	old := time.Now().UTC().AddDate(0, 0, -40)
	recent := time.Now().UTC().AddDate(0, 0, -1)

	seed(t, ms, "old-denied", old, types.StatusDenied, false)
	seed(t, ms, "old-consumed", old, types.StatusAllowed, true)
	seed(t, ms, "old-armed", old, types.StatusAllowed, false)
	seed(t, ms, "old-pending", old, types.StatusPending, false)
	seed(t, ms, "recent-denied", recent, types.StatusDenied, false)

	pruner := service.NewApprovalPruner(ms, service.PrunerConfig{RetentionDays: 30}, quietLogger())
	if got := pruner.PruneOnce(context.Background()); got != 2 {
		t.Fatalf("PruneOnce deleted %d, want 2", got)
	}

	for _, id := range []string{"old-armed", "old-pending", "recent-denied"} {
		if _, err := ms.Get(context.Background(), id); err != nil {
			t.Fatalf("%s should survive: %v", id, err)
		}
	}
}

func TestApprovalPruner_StartStop(t *testing.T) {
	ms := memory.New()
	seed(t, ms, "old-denied", time.Now().UTC().AddDate(0, 0, -40), types.StatusDenied, false)

	pruner := service.NewApprovalPruner(ms, service.PrunerConfig{RetentionDays: 30, IntervalHours: 1}, quietLogger())
	pruner.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := ms.Get(context.Background(), "old-denied"); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup prune did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	pruner.Stop()
}
