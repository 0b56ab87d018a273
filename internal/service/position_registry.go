package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// PositionRegistry is the in-memory index of every position, open or
// closed, backed by a PositionRepository. Readers always receive copies.
type PositionRegistry struct {
	mu    sync.RWMutex
	byID  map[int64]domain.Position
	order []int64

	repo   domain.PositionRepository
	logger *slog.Logger
}

// NewPositionRegistry creates an empty registry persisting through repo.
func NewPositionRegistry(repo domain.PositionRepository, logger *slog.Logger) *PositionRegistry {
	return &PositionRegistry{
		byID:   make(map[int64]domain.Position),
		repo:   repo,
		logger: logger.With(slog.String("component", "position_registry")),
	}
}

// Create saves a new snapshot to obtain its identity and indexes the
// resulting position.
func (r *PositionRegistry) Create(ctx context.Context, snap domain.PositionSnapshot) (domain.Position, error) {
	saved, err := r.repo.Save(ctx, snap)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_registry: save new position: %w", err)
	}
	pos := saved.Position()
	if err := r.Insert(pos); err != nil {
		return domain.Position{}, err
	}
	return pos.Clone(), nil
}

// Insert indexes p. It fails with ErrDuplicatePosition when the identity is
// already present.
func (r *PositionRegistry) Insert(p domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return fmt.Errorf("position_registry: insert %d: %w", p.ID, domain.ErrDuplicatePosition)
	}
	r.byID[p.ID] = p.Clone()
	r.order = append(r.order, p.ID)
	return nil
}

// Replace overwrites the indexed copy of p.
func (r *PositionRegistry) Replace(p domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		return fmt.Errorf("position_registry: replace %d: %w", p.ID, domain.ErrNotFound)
	}
	r.byID[p.ID] = p.Clone()
	return nil
}

// Get returns a copy of the position with the given identity.
func (r *PositionRegistry) Get(id int64) (domain.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

// List returns copies of every position in creation order.
func (r *PositionRegistry) List() []domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Position, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Len returns the number of indexed positions.
func (r *PositionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ActivePairs returns the distinct pairs of positions that are not closed.
func (r *PositionRegistry) ActivePairs() []domain.CurrencyPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[domain.CurrencyPair]bool)
	var out []domain.CurrencyPair
	for _, id := range r.order {
		p := r.byID[id]
		if p.Status == domain.PositionClosed || seen[p.Pair] {
			continue
		}
		seen[p.Pair] = true
		out = append(out, p.Pair)
	}
	return out
}

// Backup writes the durable snapshot of p.
func (r *PositionRegistry) Backup(ctx context.Context, p domain.Position) error {
	if _, err := r.repo.Save(ctx, p.Snapshot()); err != nil {
		return fmt.Errorf("position_registry: backup %d: %w", p.ID, err)
	}
	return nil
}

// Restore loads every snapshot from the repository and indexes the ones not
// already present. It returns the number of positions restored.
func (r *PositionRegistry) Restore(ctx context.Context) (int, error) {
	snaps, err := r.repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("position_registry: load all: %w", err)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	restored := 0
	for _, s := range snaps {
		if !s.Status.Valid() {
			r.logger.WarnContext(ctx, "position_registry: skipping snapshot with unknown status",
				slog.Int64("position_id", s.ID),
				slog.String("status", string(s.Status)),
			)
			continue
		}
		if err := r.Insert(s.Position()); err != nil {
			r.logger.WarnContext(ctx, "position_registry: skipping snapshot",
				slog.Int64("position_id", s.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}
	return restored, nil
}
