package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAward(t *testing.T) {
	AwardsTotal.Reset()

	RecordAward("review_submitted", OutcomeSuccess)
	RecordAward("review_submitted", OutcomeSuccess)
	RecordAward("review_submitted", "daily_limit_exceeded")

	count := testutil.ToFloat64(AwardsTotal.WithLabelValues("review_submitted", OutcomeSuccess))
	if count != 2 {
		t.Errorf("Expected success count = 2, got %f", count)
	}

	count = testutil.ToFloat64(AwardsTotal.WithLabelValues("review_submitted", "daily_limit_exceeded"))
	if count != 1 {
		t.Errorf("Expected daily_limit_exceeded count = 1, got %f", count)
	}
}

func TestAddCreditsAwarded(t *testing.T) {
	CreditsAwardedTotal.Reset()

	AddCreditsAwarded("profile_complete", "earned", 10)
	AddCreditsAwarded("profile_complete", "earned", 5)

	total := testutil.ToFloat64(CreditsAwardedTotal.WithLabelValues("profile_complete", "earned"))
	if total != 15 {
		t.Errorf("Expected 15 credits awarded, got %f", total)
	}
}

func TestRecordSpendAndCreditsSpent(t *testing.T) {
	SpendsTotal.Reset()
	CreditsSpentTotal.Reset()

	RecordSpend("earned_first", OutcomeSuccess)
	AddCreditsSpent("earned", 3)
	AddCreditsSpent("paid", 7)

	if count := testutil.ToFloat64(SpendsTotal.WithLabelValues("earned_first", OutcomeSuccess)); count != 1 {
		t.Errorf("Expected spend count = 1, got %f", count)
	}
	if total := testutil.ToFloat64(CreditsSpentTotal.WithLabelValues("paid")); total != 7 {
		t.Errorf("Expected 7 paid credits spent, got %f", total)
	}
}

func TestRecordQuotaConsume(t *testing.T) {
	QuotaConsumeTotal.Reset()

	RecordQuotaConsume("vendor", OutcomeSuccess)
	RecordQuotaConsume("vendor", "quota_exceeded")

	if count := testutil.ToFloat64(QuotaConsumeTotal.WithLabelValues("vendor", "quota_exceeded")); count != 1 {
		t.Errorf("Expected quota_exceeded count = 1, got %f", count)
	}
}

func TestTrustScoreMetrics(t *testing.T) {
	TrustScoreRecomputesTotal.Reset()
	BadgeChangesTotal.Reset()

	RecordTrustScoreRecompute(OutcomeSuccess)
	RecordBadgeChange("field_rep", "trusted")
	SetRecomputeQueueDepth(4)

	if count := testutil.ToFloat64(TrustScoreRecomputesTotal.WithLabelValues(OutcomeSuccess)); count != 1 {
		t.Errorf("Expected recompute count = 1, got %f", count)
	}
	if count := testutil.ToFloat64(BadgeChangesTotal.WithLabelValues("field_rep", "trusted")); count != 1 {
		t.Errorf("Expected badge change count = 1, got %f", count)
	}
	if depth := testutil.ToFloat64(RecomputeQueueDepth); depth != 4 {
		t.Errorf("Expected queue depth = 4, got %f", depth)
	}
}

func TestRecordReconcileMismatch(t *testing.T) {
	before := testutil.ToFloat64(ReconcileMismatchesTotal)
	RecordReconcileMismatch()
	if after := testutil.ToFloat64(ReconcileMismatchesTotal); after != before+1 {
		t.Errorf("Expected mismatch counter to increase by 1, got %f -> %f", before, after)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	SchedulerJobsRunTotal.Reset()

	RecordSchedulerJobRun("reconcile", "success")
	SetSchedulerLastRun("reconcile")
	ObserveSchedulerJobDuration("reconcile", 0.5)

	if count := testutil.ToFloat64(SchedulerJobsRunTotal.WithLabelValues("reconcile", "success")); count != 1 {
		t.Errorf("Expected job run count = 1, got %f", count)
	}
	if ts := testutil.ToFloat64(SchedulerLastRunTimestamp.WithLabelValues("reconcile")); ts <= 0 {
		t.Errorf("Expected last run timestamp to be set, got %f", ts)
	}
}
