package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fieldlink/reputation-engine/internal/config"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

type mockTrust struct {
	queueRuns  int
	expiryRuns int
	queueErr   error
}

func (m *mockTrust) ProcessQueue(ctx context.Context) (int, error) {
	m.queueRuns++
	return 0, m.queueErr
}

func (m *mockTrust) ExpireCreditHides(ctx context.Context) (int, error) {
	m.expiryRuns++
	return 0, nil
}

type mockReconciler struct {
	runs int
}

func (m *mockReconciler) ReconcileAll(ctx context.Context) (int, int, error) {
	m.runs++
	return 3, 1, nil
}

type mockPruner struct {
	retention int
}

func (m *mockPruner) PruneCounters(ctx context.Context, retentionDays int) (int64, error) {
	m.retention = retentionDays
	return 0, nil
}

func newTestService(cfg *config.SchedulerConfig) (*Service, *mockTrust, *mockReconciler, *mockPruner) {
	trust := &mockTrust{}
	reconciler := &mockReconciler{}
	pruner := &mockPruner{}
	return NewService(cfg, trust, reconciler, pruner, logger.Nop()), trust, reconciler, pruner
}

func TestStart_Disabled(t *testing.T) {
	s, _, _, _ := newTestService(&config.SchedulerConfig{Enabled: false})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.cron != nil {
		t.Error("Expected no cron scheduler when disabled")
	}
	s.Stop()
}

func TestStart_RegistersConfiguredJobs(t *testing.T) {
	s, _, _, _ := newTestService(&config.SchedulerConfig{
		Enabled:        true,
		Timezone:       "UTC",
		RecomputeQueue: "@every 10s",
		HideExpiry:     "@every 5m",
		Reconcile:      "0 3 * * *",
		// CounterPrune left empty on purpose.
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if got := len(s.cron.Entries()); got != 3 {
		t.Errorf("Expected 3 registered jobs, got %d", got)
	}
}

func TestStart_InvalidSchedule(t *testing.T) {
	s, _, _, _ := newTestService(&config.SchedulerConfig{
		Enabled:        true,
		Timezone:       "UTC",
		RecomputeQueue: "every ten seconds",
	})

	if err := s.Start(); err == nil {
		t.Fatal("Expected error for invalid cron expression")
	}
}

func TestStart_InvalidTimezone(t *testing.T) {
	s, _, _, _ := newTestService(&config.SchedulerConfig{Enabled: true, Timezone: "Nowhere/Land"})

	if err := s.Start(); err == nil {
		t.Fatal("Expected error for invalid timezone")
	}
}

func TestJobs_CallServices(t *testing.T) {
	s, trust, reconciler, pruner := newTestService(&config.SchedulerConfig{CounterRetentionDays: 30})
	ctx := context.Background()

	for _, j := range s.jobs() {
		s.runJob(ctx, j.name, j.run)
	}

	if trust.queueRuns != 1 || trust.expiryRuns != 1 {
		t.Errorf("Expected trust jobs to run once, got queue=%d expiry=%d", trust.queueRuns, trust.expiryRuns)
	}
	if reconciler.runs != 1 {
		t.Errorf("Expected reconcile to run once, got %d", reconciler.runs)
	}
	if pruner.retention != 30 {
		t.Errorf("Expected retention 30, got %d", pruner.retention)
	}
}

func TestRunJob_RecordsOutcome(t *testing.T) {
	prommetrics.SchedulerJobsRunTotal.Reset()
	s, trust, _, _ := newTestService(&config.SchedulerConfig{})
	ctx := context.Background()

	s.runJob(ctx, JobRecomputeQueue, s.runRecomputeQueue)
	trust.queueErr = errors.New("boom")
	s.runJob(ctx, JobRecomputeQueue, s.runRecomputeQueue)

	if got := testutil.ToFloat64(prommetrics.SchedulerJobsRunTotal.WithLabelValues(JobRecomputeQueue, "success")); got != 1 {
		t.Errorf("Expected 1 success, got %f", got)
	}
	if got := testutil.ToFloat64(prommetrics.SchedulerJobsRunTotal.WithLabelValues(JobRecomputeQueue, "error")); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
}
