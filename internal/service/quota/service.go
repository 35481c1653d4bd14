// Package quota derives and enforces daily connection request limits.
package quota

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/internal/lock"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/internal/service/trustscore"
	"github.com/fieldlink/reputation-engine/pkg/clock"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// Store interface for overrides and request counters.
type Store interface {
	GetOverride(ctx context.Context, userID uuid.UUID) (*models.ConnectionLimitOverride, error)
	SetOverride(ctx context.Context, userID uuid.UUID, limit *int, actor string, now time.Time) (*models.ConnectionLimitOverride, error)
	CountOn(ctx context.Context, userID uuid.UUID, day string) (int, error)
	Consume(ctx context.Context, userID uuid.UUID, day string, allow func(count int) error) (int, error)
	PruneCounters(ctx context.Context, beforeDay string) (int64, error)
}

// AccountReader interface for account roles.
type AccountReader interface {
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
}

// BadgeReader interface for current trust scores.
type BadgeReader interface {
	Get(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error)
}

// Guard serialises work per key across processes.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Service handles connection request quotas.
type Service struct {
	store    Store
	accounts AccountReader
	badges   BadgeReader
	guard    Guard
	cfg      config.QuotaConfig
	clock    clock.Clock
	boundary clock.DayBoundary
	log      *logger.Logger
}

// NewService creates a new quota service.
func NewService(
	quotaRepo *repository.QuotaRepository,
	ledgerRepo *repository.LedgerRepository,
	trustService *trustscore.Service,
	guard *lock.Guard,
	cfg config.QuotaConfig,
	clk clock.Clock,
	boundary clock.DayBoundary,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(quotaRepo, ledgerRepo, trustService, guard, cfg, clk, boundary, log)
}

// NewServiceWithInterfaces creates a new quota service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	store Store,
	accounts AccountReader,
	badges BadgeReader,
	guard Guard,
	cfg config.QuotaConfig,
	clk clock.Clock,
	boundary clock.DayBoundary,
	log *logger.Logger,
) *Service {
	return &Service{
		store:    store,
		accounts: accounts,
		badges:   badges,
		guard:    guard,
		cfg:      cfg,
		clock:    clk,
		boundary: boundary,
		log:      log,
	}
}

// DeriveLimit returns the effective daily limit, or nil when unlimited.
// An admin override wins, then an unlimited badge, then the role default.
func DeriveLimit(customLimit *int, badge, role string, cfg config.QuotaConfig) (*int, error) {
	if customLimit != nil {
		limit := *customLimit
		return &limit, nil
	}
	if slices.Contains(cfg.UnlimitedBadges, badge) {
		return nil, nil
	}
	limit, ok := cfg.RoleDefaults[role]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "no default connection limit for role %q", role)
	}
	return &limit, nil
}

// GetQuota returns today's connection request allowance of userID.
func (s *Service) GetQuota(ctx context.Context, userID uuid.UUID) (*models.Quota, error) {
	limit, _, err := s.effectiveLimit(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	count, err := s.store.CountOn(ctx, userID, s.boundary.Key(now))
	if err != nil {
		return nil, err
	}
	return s.build(userID, limit, count, now), nil
}

// TryConsume records one connection request if the user has allowance left today.
// The check and the increment happen under the user's counter lock.
func (s *Service) TryConsume(ctx context.Context, userID uuid.UUID) (*models.Quota, error) {
	var result *models.Quota
	role := ""

	err := s.guard.Do(ctx, lock.QuotaKey(userID), func(ctx context.Context) error {
		limit, r, err := s.effectiveLimit(ctx, userID)
		if err != nil {
			return err
		}
		role = r

		now := s.clock.Now()
		count, err := s.store.Consume(ctx, userID, s.boundary.Key(now), func(count int) error {
			if limit != nil && count >= *limit {
				resetsAt := s.boundary.Next(now)
				e := apperrors.New(apperrors.KindQuotaExceeded,
					"daily connection request limit of %d reached, resets at %s",
					*limit, resetsAt.Format(time.RFC3339))
				e.RetryAfter = resetsAt.Sub(now)
				return e
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = s.build(userID, limit, count, now)
		return nil
	})
	if err != nil {
		prommetrics.RecordQuotaConsume(role, prommetrics.OutcomeOf(string(apperrors.KindOf(err))))
		s.log.Warn().
			Err(err).
			Str("user_id", userID.String()).
			Str("role", role).
			Str("kind", string(apperrors.KindOf(err))).
			Msg("Failed to consume connection quota")
		return nil, err
	}

	prommetrics.RecordQuotaConsume(role, prommetrics.OutcomeSuccess)
	return result, nil
}

// SetCustomLimit sets or, with a nil limit, clears the admin override of userID.
func (s *Service) SetCustomLimit(ctx context.Context, userID uuid.UUID, limit *int, actor string) (*models.ConnectionLimitOverride, error) {
	if limit != nil && *limit < 0 {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "custom limit must be >= 0, got %d", *limit)
	}
	if actor == "" {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "actor is required")
	}

	override, err := s.store.SetOverride(ctx, userID, limit, actor, s.clock.Now())
	if err != nil {
		return nil, err
	}

	event := s.log.Info().Str("user_id", userID.String()).Str("actor", actor)
	if limit != nil {
		event = event.Int("custom_limit", *limit)
	}
	event.Msg("Connection limit override set")
	return override, nil
}

// PruneCounters deletes request counters older than retentionDays accounting days.
func (s *Service) PruneCounters(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		retentionDays = 1
	}
	before := s.boundary.Key(s.clock.Now().AddDate(0, 0, -retentionDays))
	deleted, err := s.store.PruneCounters(ctx, before)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Str("before", before).Msg("Pruned connection request counters")
	}
	return deleted, nil
}

func (s *Service) effectiveLimit(ctx context.Context, userID uuid.UUID) (*int, string, error) {
	account, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if account == nil || account.Role == "" {
		return nil, "", apperrors.New(apperrors.KindNotFound, "user %s has no account role", userID)
	}

	override, err := s.store.GetOverride(ctx, userID)
	if err != nil {
		return nil, account.Role, err
	}
	var custom *int
	if override != nil {
		custom = override.CustomLimit
	}

	badge := models.BadgeUnrated
	if custom == nil {
		score, err := s.badges.Get(ctx, userID, account.Role)
		if err != nil {
			return nil, account.Role, err
		}
		badge = score.BadgeLevel
	}

	limit, err := DeriveLimit(custom, badge, account.Role, s.cfg)
	return limit, account.Role, err
}

func (s *Service) build(userID uuid.UUID, limit *int, count int, now time.Time) *models.Quota {
	q := &models.Quota{
		UserID:         userID,
		EffectiveLimit: limit,
		Unlimited:      limit == nil,
		TodayCount:     count,
		ResetsAt:       s.boundary.Next(now),
	}
	if limit != nil {
		remaining := max(0, *limit-count)
		q.RemainingToday = &remaining
	}
	return q
}
