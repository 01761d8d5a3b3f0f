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

// RunStore persists market-creation runs and their step rows.
type RunStore interface {
	Create(ctx context.Context, run MarketCreationRun) error
	UpdateSteps(ctx context.Context, runID string, steps []Step) error
	Finish(ctx context.Context, run MarketCreationRun) error
	GetByID(ctx context.Context, id string) (MarketCreationRun, error)
	List(ctx context.Context, opts ListOpts) ([]MarketCreationRun, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
