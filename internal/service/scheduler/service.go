// Package scheduler runs the periodic maintenance jobs of the economy engine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fieldlink/reputation-engine/internal/config"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// TrustJobs interface for the trust score background work.
type TrustJobs interface {
	ProcessQueue(ctx context.Context) (int, error)
	ExpireCreditHides(ctx context.Context) (int, error)
}

// Reconciler interface for the ledger consistency check.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (int, int, error)
}

// CounterPruner interface for connection counter cleanup.
type CounterPruner interface {
	PruneCounters(ctx context.Context, retentionDays int) (int64, error)
}

// Service handles job scheduling.
type Service struct {
	config     *config.SchedulerConfig
	trust      TrustJobs
	reconciler Reconciler
	pruner     CounterPruner
	log        *logger.Logger
	cron       *cron.Cron
}

// NewService creates a new scheduler service.
func NewService(
	cfg *config.SchedulerConfig,
	trust TrustJobs,
	reconciler Reconciler,
	pruner CounterPruner,
	log *logger.Logger,
) *Service {
	return &Service{
		config:     cfg,
		trust:      trust,
		reconciler: reconciler,
		pruner:     pruner,
		log:        log,
	}
}

// Start registers every configured job and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := s.config.GetLocation()
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Timezone, err)
	}

	// A job still running when its next tick fires is skipped, not stacked.
	s.cron = cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	for _, j := range s.jobs() {
		if j.schedule == "" {
			s.log.Info().Str("job", j.name).Msg("Job has no schedule, not registered")
			continue
		}

		run := j.run
		name := j.name
		if _, err := s.cron.AddFunc(j.schedule, func() {
			s.runJob(context.Background(), name, run)
		}); err != nil {
			return fmt.Errorf("failed to register %s job: %w", j.name, err)
		}

		s.log.Info().
			Str("job", j.name).
			Str("schedule", j.schedule).
			Msg("Job registered")
	}

	s.cron.Start()

	nextRun := ""
	if entries := s.cron.Entries(); len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}

	s.log.Info().
		Str("timezone", s.config.Timezone).
		Int("jobs", len(s.cron.Entries())).
		Str("next_run", nextRun).
		Msg("Scheduler started successfully")

	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

// runJob executes one job and records its outcome.
func (s *Service) runJob(ctx context.Context, name string, run func(ctx context.Context) error) {
	start := time.Now()

	// Track job duration and update last run timestamp on exit
	defer func() {
		prommetrics.ObserveSchedulerJobDuration(name, time.Since(start).Seconds())
		prommetrics.SetSchedulerLastRun(name)
	}()

	if err := run(ctx); err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Dur("duration", time.Since(start)).
			Msg("Scheduled job failed")
		prommetrics.RecordSchedulerJobRun(name, "error")
		return
	}

	prommetrics.RecordSchedulerJobRun(name, "success")
}
