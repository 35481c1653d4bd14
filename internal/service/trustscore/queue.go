package trustscore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
)

const (
	claimLease      = 5 * time.Minute
	maxRetryBackoff = time.Hour
)

type jobGroup struct {
	userID uuid.UUID
	role   string
	ids    []uint
	// attempts is the highest attempt count in the group.
	attempts int
}

// ProcessQueue drains one batch of due recompute jobs. Jobs for the same user and role
// are coalesced into one recompute. Failed jobs are retried later, never dropped.
// It returns the number of recomputes that succeeded.
func (s *Service) ProcessQueue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	jobs, err := s.jobs.Claim(ctx, now, claimLease, s.batchSize())
	if err != nil {
		return 0, fmt.Errorf("failed to claim recompute jobs: %w", err)
	}

	groups := groupJobs(jobs)
	results := make([]error, len(groups))

	p := pool.New().WithMaxGoroutines(s.workers())
	for i, g := range groups {
		p.Go(func() {
			// Claimed jobs bypass the manual singleflight group.
			_, results[i] = s.recompute(ctx, g.userID, g.role)
			outcome := prommetrics.OutcomeSuccess
			if results[i] != nil {
				outcome = prommetrics.OutcomeError
			}
			prommetrics.RecordTrustScoreRecompute(outcome)
		})
	}
	p.Wait()

	succeeded := 0
	var done []uint
	for i, g := range groups {
		if results[i] == nil {
			done = append(done, g.ids...)
			succeeded++
			continue
		}

		retryAt := now.Add(s.retryDelay(g.attempts))
		event := s.log.Warn()
		if s.cfg.MaxJobAttempts > 0 && g.attempts+1 >= s.cfg.MaxJobAttempts {
			event = s.log.Error()
		}
		event.
			Err(results[i]).
			Str("user_id", g.userID.String()).
			Str("role", g.role).
			Int("attempts", g.attempts+1).
			Time("retry_at", retryAt).
			Msg("Failed to recompute trust score")

		if err := s.jobs.Fail(ctx, g.ids, results[i], retryAt); err != nil {
			s.log.Error().Err(err).Msg("Failed to reschedule recompute jobs")
		}
	}

	if err := s.jobs.Complete(ctx, done); err != nil {
		return succeeded, err
	}

	if pending, err := s.jobs.Pending(ctx); err == nil {
		prommetrics.SetRecomputeQueueDepth(pending)
	}

	if len(jobs) > 0 {
		s.log.Debug().
			Int("jobs", len(jobs)).
			Int("recomputes", len(groups)).
			Int("succeeded", succeeded).
			Msg("Processed recompute queue")
	}
	return succeeded, nil
}

func groupJobs(jobs []models.RecomputeJob) []*jobGroup {
	index := make(map[string]*jobGroup)
	var groups []*jobGroup
	for _, job := range jobs {
		key := job.UserID.String() + ":" + job.Role
		g, ok := index[key]
		if !ok {
			g = &jobGroup{userID: job.UserID, role: job.Role}
			index[key] = g
			groups = append(groups, g)
		}
		g.ids = append(g.ids, job.ID)
		g.attempts = max(g.attempts, job.Attempts)
	}
	return groups
}

// retryDelay doubles the configured backoff per earlier attempt, capped at an hour.
func (s *Service) retryDelay(attempts int) time.Duration {
	delay := s.cfg.JobRetryBackoff
	if delay <= 0 {
		delay = 30 * time.Second
	}
	for i := 0; i < attempts && delay < maxRetryBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxRetryBackoff)
}

func (s *Service) workers() int {
	if s.cfg.Workers <= 0 {
		return 1
	}
	return s.cfg.Workers
}
