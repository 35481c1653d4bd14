package scheduler

import (
	"context"
)

// Job names, also used as metric labels.
const (
	JobRecomputeQueue = "recompute_queue"
	JobHideExpiry     = "hide_expiry"
	JobReconcile      = "reconcile"
	JobCounterPrune   = "counter_prune"
)

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

// jobs lists the maintenance jobs with their configured schedules.
func (s *Service) jobs() []job {
	return []job{
		{name: JobRecomputeQueue, schedule: s.config.RecomputeQueue, run: s.runRecomputeQueue},
		{name: JobHideExpiry, schedule: s.config.HideExpiry, run: s.runHideExpiry},
		{name: JobReconcile, schedule: s.config.Reconcile, run: s.runReconcile},
		{name: JobCounterPrune, schedule: s.config.CounterPrune, run: s.runCounterPrune},
	}
}

func (s *Service) runRecomputeQueue(ctx context.Context) error {
	_, err := s.trust.ProcessQueue(ctx)
	return err
}

func (s *Service) runHideExpiry(ctx context.Context) error {
	_, err := s.trust.ExpireCreditHides(ctx)
	return err
}

func (s *Service) runReconcile(ctx context.Context) error {
	s.log.Info().Msg("Running ledger reconcile job")
	checked, mismatched, err := s.reconciler.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	if mismatched > 0 {
		s.log.Warn().
			Int("checked", checked).
			Int("mismatched", mismatched).
			Msg("Ledger reconcile found mismatches")
	}
	return nil
}

func (s *Service) runCounterPrune(ctx context.Context) error {
	_, err := s.pruner.PruneCounters(ctx, s.config.CounterRetentionDays)
	return err
}
