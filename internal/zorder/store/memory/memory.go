package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/zorder/internal/zorder/store"
	"github.com/BrandonDHaskell/zorder/internal/zorder/types"
)

type entry struct {
	rec store.ApprovalRecord
	seq uint64
}

// Store is an in-process ApprovalStore. Records are lost on restart.
type Store struct {
	mu   sync.RWMutex
	seq  uint64
	data map[string]*entry
}

func New() *Store {
	return &Store{
		data: make(map[string]*entry),
	}
}

func (s *Store) Insert(_ context.Context, rec store.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[rec.ID]; ok {
		return store.ErrDuplicateID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = types.StatusPending
	}
	s.seq++
	s.data[rec.ID] = &entry{rec: rec, seq: s.seq}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (store.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[id]
	if !ok {
		return store.ApprovalRecord{}, store.ErrNotFound
	}
	return e.rec, nil
}

func (s *Store) Decide(_ context.Context, id string, status types.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[id]
	if !ok || e.rec.Status != types.StatusPending {
		return false, nil
	}
	e.rec.Status = status
	at = at.UTC()
	e.rec.DecidedAt = &at
	return true, nil
}

func (s *Store) Consume(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[id]
	if !ok || e.rec.Status != types.StatusAllowed || e.rec.Consumed {
		return false, nil
	}
	e.rec.Consumed = true
	at = at.UTC()
	e.rec.ConsumedAt = &at
	return true, nil
}

func (s *Store) ListTasks(_ context.Context, machineID string, limit int) ([]store.ApprovalRecord, error) {
	s.mu.RLock()
	var hits []*entry
	for _, e := range s.data {
		if e.rec.MachineID == machineID && e.rec.Status == types.StatusAllowed && !e.rec.Consumed {
			hits = append(hits, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].rec.CreatedAt.Equal(hits[j].rec.CreatedAt) {
			return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
		}
		return hits[i].seq > hits[j].seq
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]store.ApprovalRecord, 0, len(hits))
	for _, e := range hits {
		out = append(out, e.rec)
	}
	return out, nil
}

func (s *Store) PruneTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.data {
		terminal := e.rec.Status == types.StatusDenied ||
			(e.rec.Status == types.StatusAllowed && e.rec.Consumed)
		if terminal && e.rec.CreatedAt.Before(cutoff) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}
