package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AuditRecord is one structured append-only audit entry.
type AuditRecord struct {
	ID         int64           `json:"id,omitempty"`
	Event      string          `json:"event"`
	OpHash     common.Hash     `json:"op_hash"`
	AttemptID  string          `json:"attempt_id,omitempty"`
	Asset      common.Address  `json:"asset"`
	Actor      common.Address  `json:"actor"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Outcome    string          `json:"outcome"`
	Class      ErrorClass      `json:"class,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Profit     decimal.Decimal `json:"profit"`
	Detail     map[string]any  `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditSink receives every admitted or rejected attempt and every
// administrative mutation.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// Alerter pushes operator notifications for fatal or systemic events.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}
