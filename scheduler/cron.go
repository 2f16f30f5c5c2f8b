package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	fiveField = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sixField  = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// ParseCron parses expr as a standard 5-field (minute granularity) or
// 6-field (second granularity) cron expression, selecting the parser by
// field count per spec.md §4.5 ("the parser selects by field count").
func ParseCron(expr string) (cron.Schedule, error) {
	fields := len(strings.Fields(expr))
	switch fields {
	case 5:
		return fiveField.Parse(expr)
	case 6:
		return sixField.Parse(expr)
	default:
		return nil, fmt.Errorf("scheduler: cron expression %q has %d fields, want 5 or 6", expr, fields)
	}
}

// NextOccurrence returns the next time expr fires strictly after from.
func NextOccurrence(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
