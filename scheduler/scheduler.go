package scheduler

import (
	"context"
	"errors"
	"fmt"

	"articlerec/pipeline"
	"articlerec/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner interface {
	Run(ctx context.Context) (repository.RunRecord, error)
}

// Scheduler triggers vectorization runs on a cron schedule.
type Scheduler struct {
	runner   Runner
	schedule string
	logger   *zap.Logger
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(runner Runner, schedule string, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.trigger)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("vectorization cron job started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the schedule, cancels a run in flight and waits for it.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		done := s.cron.Stop()
		s.cancel()
		<-done.Done()
		s.logger.Info("vectorization cron job stopped")
	}
}

func (s *Scheduler) trigger() {
	_, err := s.runner.Run(s.ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Warn("previous vectorization run still active, skipping trigger")
	case err != nil:
		s.logger.Error("scheduled vectorization run failed", zap.Error(err))
	}
}
