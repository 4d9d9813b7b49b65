package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/saorsa-labs/fae/internal/ferr"
)

// ScheduledTask is one recurring background job (a briefing refresh, a
// research sweep) described by a standard cron expression.
type ScheduledTask struct {
	Name     string
	Schedule string
	RunKey   string
}

// NextFireTimes parses task's cron schedule and returns the next count
// fire times strictly after from.
func NextFireTimes(task ScheduledTask, from time.Time, count int) ([]time.Time, error) {
	sched, err := cron.ParseStandard(task.Schedule)
	if err != nil {
		return nil, ferr.Lifecycle("parse schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	times := make([]time.Time, 0, count)
	next := from
	for i := 0; i < count; i++ {
		next = sched.Next(next)
		times = append(times, next)
	}
	return times, nil
}

// RunKeyForFireTime derives a dedupe run key for a task firing at a given
// time, unique per task name and minute-granular fire time.
func RunKeyForFireTime(task ScheduledTask, fireTime time.Time) string {
	return task.Name + "@" + fireTime.UTC().Format("2006-01-02T15:04")
}
