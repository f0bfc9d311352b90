// Package maintenance runs periodic housekeeping jobs on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one unit of periodic work.
type Job struct {
	Name     string
	Schedule string // standard 5-field cron expression or @every descriptor
	Run      func(ctx context.Context)
	// RunOnStart also runs the job once when the scheduler starts.
	RunOnStart bool
}

// Scheduler owns a cron runner and the jobs registered on it.
type Scheduler struct {
	c    *cron.Cron
	log  *zap.Logger
	jobs []Job
}

// NewScheduler creates a scheduler using the standard 5-field cron syntax.
// Overlapping runs of the same job are skipped.
func NewScheduler(log *zap.Logger) *Scheduler {
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{c: c, log: log}
}

// Add registers job. It must be called before Run.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Run starts all jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if _, err := s.c.AddFunc(job.Schedule, func() { s.runJob(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}

	s.c.Start()
	s.log.Info("maintenance scheduler started", zap.Int("jobs", len(s.jobs)))

	var startup sync.WaitGroup
	for _, job := range s.jobs {
		if job.RunOnStart {
			startup.Add(1)
			go func() {
				defer startup.Done()
				s.runJob(ctx, job)
			}()
		}
	}

	<-ctx.Done()
	stopped := s.c.Stop()
	<-stopped.Done()
	startup.Wait()
	s.log.Info("maintenance scheduler stopped")
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := time.Now()
	job.Run(ctx)
	s.log.Debug("maintenance job finished",
		zap.String("job", job.Name),
		zap.Duration("took", time.Since(start)),
	)
}
