package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionRepository is the durable backup of positions. Save assigns an
// identity when the snapshot has none and returns the stored snapshot.
// ListClosedBefore only returns positions not yet marked archived.
type PositionRepository interface {
	Save(ctx context.Context, snap PositionSnapshot) (PositionSnapshot, error)
	LoadAll(ctx context.Context) ([]PositionSnapshot, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]PositionSnapshot, error)
	MarkArchived(ctx context.Context, ids []int64) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
