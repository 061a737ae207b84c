package archive

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron is a parsed "minute hour day-of-month month day-of-week" schedule.
type Cron struct {
	sched cron.Schedule
}

// ParseCron parses a standard 5-field expression. Descriptors such as
// "@daily" are accepted too.
func ParseCron(expr string) (Cron, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Cron{}, fmt.Errorf("archive: cron %q: %w", expr, err)
	}
	return Cron{sched: sched}, nil
}

// Next returns the first matching minute strictly after t.
func (c Cron) Next(t time.Time) (time.Time, error) {
	next := c.sched.Next(t)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("archive: cron never fires after %s", t.Format(time.RFC3339))
	}
	return next, nil
}
