// Package sweep runs the background maintenance pass: it re-checks
// completion for active jobs whose final stop call crashed before
// archival, and clears machine claims orphaned by steps that reverted to
// planned.
package sweep

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/corrugo/prodflow/pkg/core"
	"github.com/corrugo/prodflow/pkg/orchestrator"
)

// Sweeper periodically reconciles engine state.
type Sweeper struct {
	storage core.Storage
	engine  *orchestrator.Engine
	logger  *slog.Logger
	cron    *cron.Cron
}

// New creates a Sweeper over the engine's storage.
func New(storage core.Storage, engine *orchestrator.Engine, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{storage: storage, engine: engine, logger: logger}
}

// Start schedules the sweep with the given cron expression (robfig/cron
// syntax, descriptors like "@every 1m" included) and runs it until Stop.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() { s.Sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	released, err := s.storage.ReleaseOrphanedClaims(ctx)
	if err != nil {
		s.logger.Error("failed to release orphaned claims", "error", err)
	} else if released > 0 {
		s.logger.Info("released orphaned machine claims", "count", released)
	}

	jobs, err := s.storage.ActiveJobs(ctx)
	if err != nil {
		s.logger.Error("failed to list active jobs", "error", err)
		return
	}
	for i := range jobs {
		archived, err := s.engine.CheckCompletion(ctx, jobs[i].NrcJobNo)
		if err != nil {
			s.logger.Error("completion check failed", "job", jobs[i].NrcJobNo, "error", err)
			continue
		}
		if archived {
			s.logger.Info("sweep archived completed job", "job", jobs[i].NrcJobNo)
		}
	}
}
