package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kelo-pay/kelo/internal/logging"
	"github.com/kelo-pay/kelo/internal/metrics"
)

const defaultJobTimeout = 10 * time.Minute

// Job is a named unit of background work run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    map[string]Job
}

// New creates a scheduler whose jobs recover from panics and skip a tick while
// the previous run of the same job is still going.
func New(logger *slog.Logger) *Scheduler {
	logger = logging.OrDiscard(logger)
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		logger:  logger,
		timeout: defaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    map[string]Job{},
	}
}

// Register schedules jobs. An empty schedule disables a job.
func (s *Scheduler) Register(jobs ...Job) error {
	for _, job := range jobs {
		if job.Schedule == "" {
			s.logger.Info("job disabled", "job", job.Name)
			continue
		}
		if _, err := s.cron.AddFunc(job.Schedule, s.wrap(job)); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", job.Name, job.Schedule, err)
		}
		s.jobs[job.Name] = job
		s.logger.Info("scheduled job", "job", job.Name, "schedule", job.Schedule)
	}
	return nil
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		if err := s.execute(s.ctx, job); err != nil {
			s.logger.Error("job failed", "job", job.Name, "error", err)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	err := job.Run(ctx)
	metrics.JobRun(job.Name, time.Since(start), err == nil)
	return err
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and cancels running jobs. The returned context is done
// once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.cancel()
	return s.cron.Stop()
}
