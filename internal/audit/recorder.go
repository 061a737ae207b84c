// Package audit fans every attempt and administrative record out to the
// durable store, the live signal bus and the audit stream.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Recorder implements domain.AuditSink.
type Recorder struct {
	store  domain.AuditStore
	bus    domain.SignalBus
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBus publishes every record on the signal bus.
func WithBus(b domain.SignalBus) Option {
	return func(r *Recorder) { r.bus = b }
}

// WithClock overrides the time source used for records without a
// timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store domain.AuditStore, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "audit")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ChannelFor returns the bus channel an event is published on.
func ChannelFor(event string) string {
	switch {
	case event == "attempt":
		return domain.ChannelAttempt
	case strings.HasPrefix(event, "attack"):
		return domain.ChannelAttack
	default:
		return domain.ChannelAdmin
	}
}

// Record appends rec to the store, then publishes it. Only the store
// error is returned; bus failures are logged because the record is
// already durable.
func (r *Recorder) Record(ctx context.Context, rec domain.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if r.store != nil {
		if err := r.store.Append(ctx, rec); err != nil {
			return fmt.Errorf("audit: append %s: %w", rec.Event, err)
		}
	}
	if r.bus == nil {
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		r.logger.WarnContext(ctx, "audit record not encoded", slog.String("error", err.Error()))
		return nil
	}
	if err := r.bus.Publish(ctx, ChannelFor(rec.Event), payload); err != nil {
		r.logger.WarnContext(ctx, "audit publish failed",
			slog.String("event", rec.Event),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.StreamAppend(ctx, domain.StreamAudit, payload); err != nil {
		r.logger.WarnContext(ctx, "audit stream append failed",
			slog.String("event", rec.Event),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

var _ domain.AuditSink = (*Recorder)(nil)
