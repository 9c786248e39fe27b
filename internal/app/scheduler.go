/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/yieldrelay/ledger-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.RebalanceSchedule, s.jobs.EvaluateRelocations); err != nil {
		s.logger.Error("failed to schedule relocation evaluation job", "error", err)
	} else {
		s.logger.Info("scheduled relocation evaluation job", "schedule", s.config.RebalanceSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.StaleIntentSweepSchedule, s.jobs.SweepStaleIntents); err != nil {
		s.logger.Error("failed to schedule stale intent sweep job", "error", err)
	} else {
		s.logger.Info("scheduled stale intent sweep job", "schedule", s.config.StaleIntentSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.RemoteRatePruneSchedule, s.jobs.PruneRemoteRates); err != nil {
		s.logger.Error("failed to schedule remote rate prune job", "error", err)
	} else {
		s.logger.Info("scheduled remote rate prune job", "schedule", s.config.RemoteRatePruneSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
