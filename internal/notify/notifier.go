// Package notify pushes operator alerts for fatal and systemic engine
// events (repayment shortfall, latched volatility breaker, emergency stop)
// to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier implements domain.Alerter over a set of senders. Events outside
// the allow list are dropped, and each event is sent at most once per
// throttle interval so a halted engine does not flood the channel.
type Notifier struct {
	senders  []Sender
	events   map[string]bool
	throttle time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithThrottle sets the minimum interval between two alerts of one event.
func WithThrottle(d time.Duration) Option {
	return func(n *Notifier) { n.throttle = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders: senders,
		events:  allowed,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "notifier")),
		last:    make(map[string]time.Time),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify delivers the alert to every sender. One failing sender does not
// stop the others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if !n.admit(event) {
		n.logger.DebugContext(ctx, "event throttled", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

func (n *Notifier) admit(event string) bool {
	if n.throttle <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.last[event]; ok && now.Sub(last) < n.throttle {
		return false
	}
	n.last[event] = now
	return true
}

// LogSender writes alerts to the log. Paper mode uses it when no webhook
// is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "alert"))}
}

func (l *LogSender) Send(ctx context.Context, title, message string) error {
	l.logger.WarnContext(ctx, title, slog.String("message", message))
	return nil
}

func (l *LogSender) Name() string { return "log" }

var _ domain.Alerter = (*Notifier)(nil)
