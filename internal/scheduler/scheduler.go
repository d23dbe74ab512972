package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one recurring unit of work. Jobs receive a context bounded by
// their own budget and must be safe to rerun; overlapping protection is
// the job's responsibility (optimistic claims, conditional writes).
type Job struct {
	Name     string
	Interval time.Duration
	Budget   time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives periodic jobs on independent tickers. It is the
// in-process stand-in for external cron: each job runs in its own
// goroutine and a slow job never delays the others.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
	wg     sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 {
		job.Interval = time.Minute
	}
	if job.Budget <= 0 {
		job.Budget = job.Interval
	}
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job and blocks until ctx is done and
// all in-flight runs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler job started",
		zap.String("job", job.Name),
		zap.Duration("interval", job.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	runCtx, cancel := context.WithTimeout(ctx, job.Budget)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		s.logger.Error("Scheduler job failed",
			zap.String("job", job.Name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Scheduler job finished",
		zap.String("job", job.Name),
		zap.Duration("took", time.Since(start)),
	)
}
