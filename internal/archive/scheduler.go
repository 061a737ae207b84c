// Package archive runs the retention job that moves old audit records and
// attempt results into cold storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Scheduler drives a domain.Archiver on a cron schedule.
type Scheduler struct {
	archiver  domain.Archiver
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler archives everything older than retention on each run.
func NewScheduler(archiver domain.Archiver, retention time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		archiver:  archiver,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunReport counts what one run moved.
type RunReport struct {
	Cutoff   time.Time
	Audit    int64
	Attempts int64
}

// RunOnce archives both record kinds older than the retention cutoff. A
// failure on one kind does not stop the other.
func (s *Scheduler) RunOnce(ctx context.Context) (RunReport, error) {
	rep := RunReport{Cutoff: s.now().UTC().Add(-s.retention)}
	s.logger.InfoContext(ctx, "archive run started", slog.Time("cutoff", rep.Cutoff))

	var errs []error
	n, err := s.archiver.ArchiveAudit(ctx, rep.Cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}
	rep.Audit = n

	n, err = s.archiver.ArchiveAttempts(ctx, rep.Cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("attempts: %w", err))
	}
	rep.Attempts = n

	if len(errs) > 0 {
		return rep, fmt.Errorf("archive: %w", errors.Join(errs...))
	}
	s.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("audit", rep.Audit),
		slog.Int64("attempts", rep.Attempts),
	)
	return rep, nil
}

// RunCron runs the archiver on a 5-field cron expression until ctx is done.
// Failed runs are logged and the schedule continues.
func (s *Scheduler) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "archive schedule started", slog.String("cron", expr))

	for {
		next, err := sched.Next(s.now().UTC())
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
