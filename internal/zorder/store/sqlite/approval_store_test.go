package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/store/sqlite"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

func newStore(t *testing.T) *sqlite.ApprovalStore {
	t.Helper()
	conn := openTestDB(t)
	return sqlite.NewApprovalStore(conn, newTestWriter(t, conn))
}

func insertPending(t *testing.T, s *sqlite.ApprovalStore, id, machine string, created time.Time) {
	t.Helper()
	err := s.Insert(context.Background(), store.ApprovalRecord{
		ID: id, InvoiceID: "INV-" + id, BillerID: "B1", MachineID: machine,
		AdminURL: "https://admin.example/" + id, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Insert %s: %v", id, err)
	}
}

// ── Insert / Get ────────────────────────────────────────────────────

func TestInsertAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	insertPending(t, s, "a1", "M1", created)

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.StatusPending || got.Consumed {
		t.Fatalf("new record = %s consumed=%v", got.Status, got.Consumed)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.DecidedAt != nil || got.ConsumedAt != nil {
		t.Fatal("audit timestamps should be empty for a pending record")
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get unknown err = %v, want ErrNotFound", err)
	}
	err = s.Insert(ctx, store.ApprovalRecord{ID: "a1", InvoiceID: "x", BillerID: "x", MachineID: "x"})
	if !errors.Is(err, store.ErrDuplicateID) {
		t.Fatalf("duplicate insert err = %v", err)
	}
}

// ── Decide ──────────────────────────────────────────────────────────

func TestDecideOnlyFromPending(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	insertPending(t, s, "a1", "M1", now)

	changed, err := s.Decide(ctx, "a1", types.StatusAllowed, now)
	if err != nil || !changed {
		t.Fatalf("allow: changed=%v err=%v", changed, err)
	}
	changed, err = s.Decide(ctx, "a1", types.StatusDenied, now)
	if err != nil || changed {
		t.Fatalf("deny after allow: changed=%v err=%v", changed, err)
	}
	changed, _ = s.Decide(ctx, "a1", types.StatusAllowed, now)
	if changed {
		t.Fatal("re-applying allow should be a no-op")
	}

	got, _ := s.Get(ctx, "a1")
	if got.Status != types.StatusAllowed || got.DecidedAt == nil {
		t.Fatalf("status=%s decidedAt=%v", got.Status, got.DecidedAt)
	}
}

func TestDecideConcurrentConflict(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	insertPending(t, s, "race", "M1", time.Now())

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for _, st := range []types.Status{types.StatusAllowed, types.StatusDenied} {
		wg.Add(1)
		go func(st types.Status) {
			defer wg.Done()
			changed, err := s.Decide(ctx, "race", st, time.Now())
			if err != nil {
				t.Errorf("Decide: %v", err)
			}
			results <- changed
		}(st)
	}
	wg.Wait()
	close(results)

	wins := 0
	for r := range results {
		if r {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one decision should win, got %d", wins)
	}
}

func TestDecisionIsFirstWriteWins(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)
	properties.Property("status equals the first decision applied", prop.ForAll(
		func(decisions []bool) bool {
			id := uuid.NewString()
			insertPending(t, s, id, "M1", time.Now())

			want := types.StatusPending
			for _, allow := range decisions {
				st := types.StatusDenied
				if allow {
					st = types.StatusAllowed
				}
				if _, err := s.Decide(ctx, id, st, time.Now()); err != nil {
					return false
				}
				if want == types.StatusPending {
					want = st
				}
			}
			got, err := s.Get(ctx, id)
			return err == nil && got.Status == want
		},
		gen.SliceOf(gen.Bool()),
	))
	properties.TestingRun(t)
}

// ── Consume ─────────────────────────────────────────────────────────

func TestConsumeRequiresAllowed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	insertPending(t, s, "p", "M1", now)
	insertPending(t, s, "d", "M1", now)
	_, _ = s.Decide(ctx, "d", types.StatusDenied, now)

	for _, id := range []string{"p", "d", "unknown"} {
		changed, err := s.Consume(ctx, id, now)
		if err != nil || changed {
			t.Fatalf("Consume(%s): changed=%v err=%v", id, changed, err)
		}
	}
	got, _ := s.Get(ctx, "d")
	if got.Consumed {
		t.Fatal("denied record must never be consumed")
	}
}

func TestConsumeIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	insertPending(t, s, "a", "M1", now)
	_, _ = s.Decide(ctx, "a", types.StatusAllowed, now)

	if changed, err := s.Consume(ctx, "a", now); err != nil || !changed {
		t.Fatalf("first consume: changed=%v err=%v", changed, err)
	}
	if changed, err := s.Consume(ctx, "a", now); err != nil || changed {
		t.Fatalf("second consume: changed=%v err=%v", changed, err)
	}
	got, _ := s.Get(ctx, "a")
	if !got.Consumed || got.ConsumedAt == nil {
		t.Fatalf("consumed=%v consumedAt=%v", got.Consumed, got.ConsumedAt)
	}
}

// ── ListTasks ───────────────────────────────────────────────────────

func TestListTasksFiltersAndOrders(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("t%02d", i)
		insertPending(t, s, id, "M1", base.Add(time.Duration(i)*time.Minute))
		_, _ = s.Decide(ctx, id, types.StatusAllowed, base)
	}
	insertPending(t, s, "pending", "M1", base.Add(time.Hour))
	insertPending(t, s, "denied", "M1", base.Add(time.Hour))
	_, _ = s.Decide(ctx, "denied", types.StatusDenied, base)
	insertPending(t, s, "elsewhere", "M2", base.Add(time.Hour))
	_, _ = s.Decide(ctx, "elsewhere", types.StatusAllowed, base)
	_, _ = s.Consume(ctx, "t11", base)

	got, err := s.ListTasks(ctx, "M1", 10)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0].ID != "t10" || got[9].ID != "t01" {
		t.Fatalf("order = %s..%s, want t10..t01", got[0].ID, got[9].ID)
	}
	for _, r := range got {
		if r.Status != types.StatusAllowed || r.Consumed || r.MachineID != "M1" {
			t.Fatalf("unexpected record in task list: %+v", r)
		}
	}
}

func TestListTasksSameMillisecondNewestInsertFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"first", "second"} {
		insertPending(t, s, id, "M1", at)
		_, _ = s.Decide(ctx, id, types.StatusAllowed, at)
	}
	got, _ := s.ListTasks(ctx, "M1", 10)
	if len(got) != 2 || got[0].ID != "second" {
		t.Fatalf("got %+v", got)
	}
}

// ── Prune ───────────────────────────────────────────────────────────

func TestPruneTerminalOlderThan(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-72 * time.Hour)
	fresh := time.Now().UTC()

	insertPending(t, s, "old-pending", "M1", old)
	insertPending(t, s, "old-denied", "M1", old)
	_, _ = s.Decide(ctx, "old-denied", types.StatusDenied, old)
	insertPending(t, s, "old-armed", "M1", old)
	_, _ = s.Decide(ctx, "old-armed", types.StatusAllowed, old)
	insertPending(t, s, "old-used", "M1", old)
	_, _ = s.Decide(ctx, "old-used", types.StatusAllowed, old)
	_, _ = s.Consume(ctx, "old-used", old)
	insertPending(t, s, "new-denied", "M1", fresh)
	_, _ = s.Decide(ctx, "new-denied", types.StatusDenied, fresh)

	n, err := s.PruneTerminalOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	for _, id := range []string{"old-pending", "old-armed", "new-denied"} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Fatalf("%s should survive: %v", id, err)
		}
	}
}
