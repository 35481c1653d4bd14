// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the economy counters. Failures use the error kind.
const (
	OutcomeSuccess  = "success"
	OutcomeReplayed = "replayed"
	OutcomeError    = "error"
)

// Prometheus metrics for the reputation engine.
var (
	// Ledger and earning counters.
	AwardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_awards_total",
			Help: "Total award attempts by rule and outcome",
		},
		[]string{"rule", "outcome"},
	)

	CreditsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_credits_awarded_total",
			Help: "Total credits or points awarded by rule and currency",
		},
		[]string{"rule", "currency"},
	)

	SpendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_spends_total",
			Help: "Total spend attempts by preference and outcome",
		},
		[]string{"preference", "outcome"},
	)

	CreditsSpentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_credits_spent_total",
			Help: "Total credits or points spent by currency",
		},
		[]string{"currency"},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_purchases_total",
			Help: "Total recorded paid credit purchases by outcome",
		},
		[]string{"outcome"},
	)

	QuotaConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connection_quota_consume_total",
			Help: "Total connection quota consume attempts by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	RuleChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "earning_rule_changes_total",
			Help: "Total earning rule mutations by rule",
		},
		[]string{"rule"},
	)

	ReconcileMismatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_reconcile_mismatches_total",
			Help: "Total accounts whose balance projection disagreed with the transaction log",
		},
	)

	// Latency.
	OperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "economy_operation_duration_seconds",
			Help:    "Duration of economy operations including lock waits",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"operation"},
	)

	// Trust score metrics.
	TrustScoreRecomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_score_recomputes_total",
			Help: "Total trust score recomputes by status",
		},
		[]string{"status"},
	)

	BadgeChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_badge_changes_total",
			Help: "Total badge level changes by role and new badge",
		},
		[]string{"role", "badge"},
	)

	ReviewHidesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_review_hides_total",
			Help: "Total review hide operations by source",
		},
		[]string{"source"},
	)

	RecomputeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trust_recompute_queue_depth",
			Help: "Number of queued trust score recompute jobs",
		},
	)

	// Scheduler metrics.
	SchedulerJobsRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_run_total",
			Help: "Total scheduler job executions",
		},
		[]string{"job", "status"},
	)

	SchedulerLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_last_run_timestamp",
			Help: "Unix timestamp of last scheduler run",
		},
		[]string{"job"},
	)

	SchedulerJobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Time taken to execute a scheduler job",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"job"},
	)
)

// OutcomeOf returns the outcome label for a failure of the given kind.
func OutcomeOf(kind string) string {
	if kind == "" {
		return OutcomeError
	}
	return kind
}

// RecordAward records an award attempt.
func RecordAward(rule, outcome string) {
	AwardsTotal.WithLabelValues(rule, outcome).Inc()
}

// AddCreditsAwarded adds awarded credits.
func AddCreditsAwarded(rule, currency string, amount int64) {
	CreditsAwardedTotal.WithLabelValues(rule, currency).Add(float64(amount))
}

// RecordSpend records a spend attempt.
func RecordSpend(preference, outcome string) {
	SpendsTotal.WithLabelValues(preference, outcome).Inc()
}

// AddCreditsSpent adds spent credits for one leg.
func AddCreditsSpent(currency string, amount int64) {
	CreditsSpentTotal.WithLabelValues(currency).Add(float64(amount))
}

// RecordPurchase records a purchase attempt.
func RecordPurchase(outcome string) {
	PurchasesTotal.WithLabelValues(outcome).Inc()
}

// RecordQuotaConsume records a quota consume attempt.
func RecordQuotaConsume(role, outcome string) {
	QuotaConsumeTotal.WithLabelValues(role, outcome).Inc()
}

// RecordRuleChange records an earning rule mutation.
func RecordRuleChange(rule string) {
	RuleChangesTotal.WithLabelValues(rule).Inc()
}

// RecordReconcileMismatch records an account whose projection drifted.
func RecordReconcileMismatch() {
	ReconcileMismatchesTotal.Inc()
}

// ObserveOperationDuration observes the duration of an economy operation.
func ObserveOperationDuration(operation string, seconds float64) {
	OperationDurationSeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordTrustScoreRecompute records a trust score recompute.
func RecordTrustScoreRecompute(status string) {
	TrustScoreRecomputesTotal.WithLabelValues(status).Inc()
}

// RecordBadgeChange records a badge level change.
func RecordBadgeChange(role, badge string) {
	BadgeChangesTotal.WithLabelValues(role, badge).Inc()
}

// RecordReviewHide records a review hide by source (moderator, credits).
func RecordReviewHide(source string) {
	ReviewHidesTotal.WithLabelValues(source).Inc()
}

// SetRecomputeQueueDepth sets the number of queued recompute jobs.
func SetRecomputeQueueDepth(count int64) {
	RecomputeQueueDepth.Set(float64(count))
}

// RecordSchedulerJobRun records a scheduler job execution.
func RecordSchedulerJobRun(job, status string) {
	SchedulerJobsRunTotal.WithLabelValues(job, status).Inc()
}

// SetSchedulerLastRun sets the timestamp of the last run of a job.
func SetSchedulerLastRun(job string) {
	SchedulerLastRunTimestamp.WithLabelValues(job).SetToCurrentTime()
}

// ObserveSchedulerJobDuration observes the duration of a scheduler job.
func ObserveSchedulerJobDuration(job string, seconds float64) {
	SchedulerJobDurationSeconds.WithLabelValues(job).Observe(seconds)
}
