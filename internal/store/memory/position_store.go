// Package memory provides process-local implementations of the durable
// stores, used when no database is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// PositionStore keeps position snapshots in memory and assigns monotonic
// identities starting at 1.
type PositionStore struct {
	mu       sync.Mutex
	nextID   int64
	rows     map[int64]domain.PositionSnapshot
	archived map[int64]bool
}

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		nextID:   1,
		rows:     make(map[int64]domain.PositionSnapshot),
		archived: make(map[int64]bool),
	}
}

var _ domain.PositionRepository = (*PositionStore)(nil)

// Save stores snap, assigning an identity when it has none.
func (s *PositionStore) Save(_ context.Context, snap domain.PositionSnapshot) (domain.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == 0 {
		snap.ID = s.nextID
		s.nextID++
	} else if snap.ID >= s.nextID {
		s.nextID = snap.ID + 1
	}
	snap = snap.Position().Snapshot()
	s.rows[snap.ID] = snap
	return snap, nil
}

// LoadAll returns every snapshot ordered by identity.
func (s *PositionStore) LoadAll(_ context.Context) ([]domain.PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PositionSnapshot, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListClosedBefore returns closed, unarchived positions last updated before
// the cut-off.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.PositionSnapshot, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: list closed: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PositionSnapshot
	for _, r := range all {
		if r.Status == domain.PositionClosed && !s.archived[r.ID] && r.UpdatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkArchived flags positions as exported.
func (s *PositionStore) MarkArchived(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.rows[id]; !ok {
			return fmt.Errorf("memory: mark archived %d: %w", id, domain.ErrNotFound)
		}
		s.archived[id] = true
	}
	return nil
}
