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

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Append(ctx context.Context, rec AuditRecord) error
	List(ctx context.Context, opts ListOpts) ([]AuditRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditRecord, error)
}

// AttemptStore persists attempt outcomes.
type AttemptStore interface {
	Save(ctx context.Context, res ExecutionResult) error
	Get(ctx context.Context, attemptID string) (ExecutionResult, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionResult, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionResult, error)
}

// StrategyStateStore persists strategy configuration and counters so they
// survive restarts.
type StrategyStateStore interface {
	Upsert(ctx context.Context, snap StrategySnapshot) error
	Get(ctx context.Context, id string) (StrategySnapshot, error)
	List(ctx context.Context) ([]StrategySnapshot, error)
}
