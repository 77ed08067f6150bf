package service

import (
	"context"
	"time"

	"github.com/damon-houk/fx-rate-pipeline/internal/infrastructure/logger"
)

// Runner runs the pipeline once
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// Scheduler re-invokes the pipeline at a fixed interval. A failed run is not retried;
// the next tick runs the whole pipeline again.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   logger.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(runner Runner, interval time.Duration, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   log.WithField("component", "scheduler"),
	}
}

// Start runs the pipeline immediately and then on every tick until ctx is done.
// A non-positive interval runs once.
func (s *Scheduler) Start(ctx context.Context) {
	s.runOnce(ctx)
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("Stopping scheduled pipeline runs", nil)
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.runner.Run(ctx)
	if err != nil {
		fields := map[string]interface{}{
			"error": err.Error(),
			"stage": string(FailedStage(err)),
		}
		if result != nil {
			fields["run_id"] = result.RunID
		}
		s.logger.Error("Scheduled pipeline run failed", fields)
		return
	}

	s.logger.Info("Scheduled pipeline run succeeded", map[string]interface{}{
		"run_id":   result.RunID,
		"inserted": result.Inserted,
		"skipped":  result.Skipped,
		"next_run": time.Now().Add(s.interval).Format(time.RFC3339),
	})
}
