// Package scheduler invokes monitors on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/grace/internal/pipeline"
	"github.com/kalambet/grace/internal/storage"
)

// Runner is one schedulable unit of work. *pipeline.Monitor satisfies it.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
}

// Job describes a scheduled runner.
type Job struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`

	runner Runner
}

// Scheduler runs each job on its own interval until the context ends.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
}

// New creates an empty Scheduler. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add registers runner to run every interval. Non-positive intervals are
// ignored. Add must not be called after Run.
func (s *Scheduler) Add(name string, runner Runner, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("not scheduling job with non-positive interval", "job", name, "interval", interval)
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, runner: runner})
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Run starts one goroutine per job and blocks until ctx is cancelled. The
// first run of each job happens one interval after start.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job Job) {
	sum, err := job.runner.Run(ctx)
	if err != nil {
		var perr *storage.PersistenceError
		if errors.Is(err, pipeline.ErrInterrupted) {
			s.logger.Info("scheduled run interrupted", "job", job.Name, "run_id", sum.RunID)
		} else if errors.As(err, &perr) {
			s.logger.Error("scheduled run failed to persist, retrying next tick", "job", job.Name, "error", err)
		} else {
			s.logger.Error("scheduled run failed", "job", job.Name, "error", err)
		}
		return
	}

	switch sum.Status {
	case pipeline.StatusError:
		s.logger.Warn("scheduled run could not fetch", "job", job.Name, "run_id", sum.RunID, "error", sum.Error)
	case pipeline.StatusActed:
		s.logger.Info("scheduled run acted", "job", job.Name, "run_id", sum.RunID, "count", sum.Count, "acted", sum.ActedCount)
	default:
		s.logger.Debug("scheduled run", "job", job.Name, "run_id", sum.RunID, "status", sum.Status, "count", sum.Count)
	}
}
