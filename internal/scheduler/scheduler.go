// Package scheduler runs periodic maintenance jobs, such as the expired
// session sweep, on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes expired sessions and reports how many it removed.
type Sweeper interface {
	ReapExpired(ctx context.Context) (int, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Expressions use the
// standard 5-field form or a descriptor such as "@hourly" or "@every 15m".
// A job that is still running when its next tick fires is skipped.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cron.PrintfLogger(slogPrintf{})
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddSweep runs sw.ReapExpired every interval. Each run gets its own context
// bounded by the interval.
func (s *Scheduler) AddSweep(interval time.Duration, sw Sweeper) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	return s.AddJob("@every "+interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		n, err := sw.ReapExpired(ctx)
		if err != nil {
			slog.Error("Scheduler.AddSweep: sweep failed", "error", err, "reaped", n)
			return
		}
		slog.Debug("Scheduler.AddSweep: sweep done", "reaped", n)
	})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// slogPrintf routes cron's internal logging through slog.
type slogPrintf struct{}

func (slogPrintf) Printf(format string, args ...interface{}) {
	slog.Warn("cron: " + fmt.Sprintf(format, args...))
}
