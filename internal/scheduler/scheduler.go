// Package scheduler provides cron-based job scheduling for SurveyPipe.
//
// It runs recurring maintenance jobs such as the stale-session sweeper.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// JobID identifies a scheduled job for later removal.
type JobID = cron.EntryID

// Scheduler runs recurring jobs on cron expressions.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a scheduler. Expressions use the standard
// 5-field cron format (min, hour, dom, month, dow); panicking jobs are
// recovered and logged instead of taking down the process.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task and returns its handle. It returns an error if the
// expression does not parse.
func (s *Scheduler) AddJob(expr string, task func()) (JobID, error) {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		slog.Error("Scheduler.AddJob: invalid cron expression", "expr", expr, "error", err)
		return 0, err
	}
	slog.Debug("Scheduler.AddJob: job scheduled", "expr", expr, "job_id", id)
	return id, nil
}

// RemoveJob cancels a scheduled job. Removing an unknown handle is a no-op.
func (s *Scheduler) RemoveJob(id JobID) {
	s.cron.Remove(id)
	slog.Debug("Scheduler.RemoveJob: job removed", "job_id", id)
}

// Stop stops the scheduler and blocks until running jobs finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
