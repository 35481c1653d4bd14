// Package trustscore aggregates reviews into trust scores and badges.
package trustscore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/config"
	"github.com/fieldlink/reputation-engine/internal/lock"
	"github.com/fieldlink/reputation-engine/internal/mattermost"
	prommetrics "github.com/fieldlink/reputation-engine/internal/metrics"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/internal/repository"
	"github.com/fieldlink/reputation-engine/internal/service/spend"
	"github.com/fieldlink/reputation-engine/pkg/clock"
	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// Recompute reasons recorded on queued jobs.
const (
	ReasonReviewCreated     = "review_created"
	ReasonReviewHidden      = "review_hidden"
	ReasonReviewUnhidden    = "review_unhidden"
	ReasonDisputeOpened     = "dispute_opened"
	ReasonDisputeResolved   = "dispute_resolved"
	ReasonCreditHide        = "credit_hide"
	ReasonCreditHideExpired = "credit_hide_expired"
	ReasonManual            = "manual"
)

// HideReferenceType is the spend reference type of credit-funded review hides.
const HideReferenceType = "review_hide"

// ReviewStore interface for review persistence.
type ReviewStore interface {
	Create(ctx context.Context, review *models.TrustScoreReview, reason string) error
	GetByID(ctx context.Context, id uint) (*models.TrustScoreReview, error)
	Mutate(ctx context.Context, id uint, reason string, now time.Time, fn func(review *models.TrustScoreReview) error) (*models.TrustScoreReview, error)
	ListVisible(ctx context.Context, userID uuid.UUID, role string) ([]models.TrustScoreReview, error)
	ListExpiredCreditHides(ctx context.Context, now time.Time, limit int) ([]models.TrustScoreReview, error)
}

// ScoreStore interface for stored aggregates.
type ScoreStore interface {
	Get(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error)
	Replace(ctx context.Context, score *models.TrustScore) (*models.TrustScore, error)
}

// JobQueue interface for the durable recompute queue.
type JobQueue interface {
	Enqueue(ctx context.Context, userID uuid.UUID, role, reason string, at time.Time) error
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.RecomputeJob, error)
	Complete(ctx context.Context, ids []uint) error
	Fail(ctx context.Context, ids []uint, cause error, retryAt time.Time) error
	Pending(ctx context.Context) (int64, error)
}

// Spender interface for paying credit-funded hides.
type Spender interface {
	TrySpend(ctx context.Context, userID uuid.UUID, req spend.Request) (*spend.Receipt, error)
}

// Guard serialises work per key across processes.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Notifier interface for badge change announcements.
type Notifier interface {
	NotifyBadgeChanged(ctx context.Context, userID uuid.UUID, role, from, to string, score float64) error
}

// Service maintains trust scores.
type Service struct {
	reviews  ReviewStore
	scores   ScoreStore
	jobs     JobQueue
	spender  Spender
	guard    Guard
	notifier Notifier
	cfg      config.TrustConfig
	clock    clock.Clock
	log      *logger.Logger
	group    singleflight.Group
}

// NewService creates a new trust score service.
func NewService(
	reviewRepo *repository.ReviewRepository,
	scoreRepo *repository.TrustScoreRepository,
	jobRepo *repository.JobRepository,
	spendService *spend.Service,
	guard *lock.Guard,
	notifier *mattermost.Client,
	cfg config.TrustConfig,
	clk clock.Clock,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(reviewRepo, scoreRepo, jobRepo, spendService, guard, notifier, cfg, clk, log)
}

// NewServiceWithInterfaces creates a new trust score service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	reviews ReviewStore,
	scores ScoreStore,
	jobs JobQueue,
	spender Spender,
	guard Guard,
	notifier Notifier,
	cfg config.TrustConfig,
	clk clock.Clock,
	log *logger.Logger,
) *Service {
	return &Service{
		reviews:  reviews,
		scores:   scores,
		jobs:     jobs,
		spender:  spender,
		guard:    guard,
		notifier: notifier,
		cfg:      cfg,
		clock:    clk,
		log:      log,
	}
}

// Recompute rebuilds and stores the trust score of userID in role from its reviews.
// Concurrent manual calls for the same user and role share one computation.
func (s *Service) Recompute(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error) {
	if !models.ValidRole(role) {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "unknown role %q", role)
	}

	key := userID.String() + ":" + role
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.recompute(ctx, userID, role)
	})
	if err != nil {
		prommetrics.RecordTrustScoreRecompute(prommetrics.OutcomeError)
		return nil, err
	}
	prommetrics.RecordTrustScoreRecompute(prommetrics.OutcomeSuccess)
	return v.(*models.TrustScore), nil
}

// recompute holds the trust lease of userID and role from the review read until the
// score is stored, so an older snapshot never replaces a newer one.
func (s *Service) recompute(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error) {
	var score *models.TrustScore
	err := s.guard.Do(ctx, lock.TrustKey(userID, role), func(ctx context.Context) error {
		var err error
		score, err = s.recomputeLocked(ctx, userID, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

func (s *Service) recomputeLocked(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error) {
	reviews, err := s.reviews.ListVisible(ctx, userID, role)
	if err != nil {
		return nil, err
	}

	score := Compute(userID, role, reviews, s.clock.Now())
	previous, err := s.scores.Replace(ctx, score)
	if err != nil {
		return nil, err
	}

	from := models.BadgeUnrated
	if previous != nil {
		from = previous.BadgeLevel
	}
	if from != score.BadgeLevel {
		prommetrics.RecordBadgeChange(role, score.BadgeLevel)
		s.log.Info().
			Str("user_id", userID.String()).
			Str("role", role).
			Str("from", from).
			Str("to", score.BadgeLevel).
			Float64("score", score.OverallScore).
			Msg("Trust badge changed")
		if err := s.notifier.NotifyBadgeChanged(ctx, userID, role, from, score.BadgeLevel, score.OverallScore); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to send badge notification")
		}
	}

	return score, nil
}

// ScheduleRecompute queues a recompute of userID in role for the next queue drain.
func (s *Service) ScheduleRecompute(ctx context.Context, userID uuid.UUID, role string) error {
	if !models.ValidRole(role) {
		return apperrors.New(apperrors.KindInvalidArgument, "unknown role %q", role)
	}
	return s.jobs.Enqueue(ctx, userID, role, ReasonManual, s.clock.Now())
}

// Get returns the stored trust score of userID in role, or an unrated score when none exists.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error) {
	if !models.ValidRole(role) {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "unknown role %q", role)
	}

	score, err := s.scores.Get(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if score == nil {
		return &models.TrustScore{
			UserID:     userID,
			Role:       role,
			BadgeLevel: models.BadgeUnrated,
		}, nil
	}
	return score, nil
}

// ReviewInput is a new review.
type ReviewInput struct {
	ReviewerID     uuid.UUID `json:"reviewer_id"`
	ReviewedUserID uuid.UUID `json:"reviewed_user_id"`
	ReviewedRole   string    `json:"reviewed_role"`
	Communication  *int      `json:"communication"`
	OnTime         *int      `json:"on_time"`
	Quality        *int      `json:"quality"`
	PaidOnTime     *int      `json:"paid_on_time"`
	ProvidedNeeded *int      `json:"provided_needed"`
	CompletionDate time.Time `json:"completion_date"`
}

func (in *ReviewInput) validate() error {
	if in.ReviewerID == uuid.Nil || in.ReviewedUserID == uuid.Nil {
		return apperrors.New(apperrors.KindInvalidArgument, "reviewer and reviewed user are required")
	}
	if in.ReviewerID == in.ReviewedUserID {
		return apperrors.New(apperrors.KindInvalidArgument, "users cannot review themselves")
	}
	if !models.ValidRole(in.ReviewedRole) {
		return apperrors.New(apperrors.KindInvalidArgument, "unknown role %q", in.ReviewedRole)
	}
	if in.CompletionDate.IsZero() {
		return apperrors.New(apperrors.KindInvalidArgument, "completion date is required")
	}

	rated := 0
	for _, v := range []*int{in.Communication, in.OnTime, in.Quality, in.PaidOnTime, in.ProvidedNeeded} {
		if v == nil {
			continue
		}
		if *v < 1 || *v > 5 {
			return apperrors.New(apperrors.KindInvalidArgument, "component scores must be between 1 and 5, got %d", *v)
		}
		rated++
	}
	if rated == 0 {
		return apperrors.New(apperrors.KindInvalidArgument, "at least one component score is required")
	}
	return nil
}

// SubmitReview stores a review and queues a recompute of the reviewed user.
func (s *Service) SubmitReview(ctx context.Context, in ReviewInput) (*models.TrustScoreReview, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	review := &models.TrustScoreReview{
		ReviewerID:     in.ReviewerID,
		ReviewedUserID: in.ReviewedUserID,
		ReviewedRole:   in.ReviewedRole,
		Communication:  in.Communication,
		OnTime:         in.OnTime,
		Quality:        in.Quality,
		PaidOnTime:     in.PaidOnTime,
		ProvidedNeeded: in.ProvidedNeeded,
		CompletionDate: in.CompletionDate.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.reviews.Create(ctx, review, ReasonReviewCreated); err != nil {
		return nil, err
	}

	s.log.Info().
		Uint("review_id", review.ID).
		Str("reviewed_user_id", review.ReviewedUserID.String()).
		Str("role", review.ReviewedRole).
		Msg("Review submitted")
	return review, nil
}

// GetReview returns one review.
func (s *Service) GetReview(ctx context.Context, id uint) (*models.TrustScoreReview, error) {
	review, err := s.reviews.GetByID(ctx, id)
	if err != nil {
		return nil, s.reviewError(id, err)
	}
	return review, nil
}

// HideReview hides a review on behalf of a moderator.
func (s *Service) HideReview(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error) {
	review, err := s.mutate(ctx, id, ReasonReviewHidden, func(r *models.TrustScoreReview) error {
		r.IsHidden = true
		r.HiddenByCredits = false
		r.HiddenUntil = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	prommetrics.RecordReviewHide("moderator")
	s.log.Info().Uint("review_id", id).Str("actor", actor).Msg("Review hidden")
	return review, nil
}

// UnhideReview makes a hidden review count again.
func (s *Service) UnhideReview(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error) {
	review, err := s.mutate(ctx, id, ReasonReviewUnhidden, func(r *models.TrustScoreReview) error {
		if !r.IsHidden {
			return apperrors.New(apperrors.KindInvalidArgument, "review %d is not hidden", id)
		}
		r.IsHidden = false
		r.HiddenByCredits = false
		r.HiddenUntil = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("review_id", id).Str("actor", actor).Msg("Review unhidden")
	return review, nil
}

// OpenDispute excludes a review from the score until the dispute is resolved.
func (s *Service) OpenDispute(ctx context.Context, id uint, actor string) (*models.TrustScoreReview, error) {
	review, err := s.mutate(ctx, id, ReasonDisputeOpened, func(r *models.TrustScoreReview) error {
		if r.IsDisputed && r.DisputeResolution == models.DisputeUnresolved {
			return apperrors.New(apperrors.KindInvalidArgument, "review %d already has an open dispute", id)
		}
		r.IsDisputed = true
		r.DisputeResolution = models.DisputeUnresolved
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Uint("review_id", id).Str("actor", actor).Msg("Review dispute opened")
	return review, nil
}

// ResolveDispute closes an open dispute. An upheld review counts again; a removed one stays excluded.
func (s *Service) ResolveDispute(ctx context.Context, id uint, resolution, actor string) (*models.TrustScoreReview, error) {
	if resolution != models.DisputeUpheld && resolution != models.DisputeRemoved {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "resolution must be %q or %q",
			models.DisputeUpheld, models.DisputeRemoved)
	}

	review, err := s.mutate(ctx, id, ReasonDisputeResolved, func(r *models.TrustScoreReview) error {
		if !r.IsDisputed || r.DisputeResolution != models.DisputeUnresolved {
			return apperrors.New(apperrors.KindInvalidArgument, "review %d has no open dispute", id)
		}
		r.DisputeResolution = resolution
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Uint("review_id", id).
		Str("resolution", resolution).
		Str("actor", actor).
		Msg("Review dispute resolved")
	return review, nil
}

// HideReviewWithCredits lets the reviewed user pay to hide a review for the configured duration.
// The review lease is held from the state check through the charge and the write, so the
// review cannot change after it has been paid for. Each hide is charged under its own
// reference, so a retry after a failed write does not pay twice.
func (s *Service) HideReviewWithCredits(ctx context.Context, id uint, userID uuid.UUID) (*models.TrustScoreReview, error) {
	var review *models.TrustScoreReview
	var until time.Time
	err := s.guard.Do(ctx, lock.ReviewKey(id), func(ctx context.Context) error {
		current, err := s.GetReview(ctx, id)
		if err != nil {
			return err
		}
		if current.ReviewedUserID != userID {
			return apperrors.New(apperrors.KindInvalidArgument, "only the reviewed user can hide review %d", id)
		}
		if current.IsHidden {
			return apperrors.New(apperrors.KindInvalidArgument, "review %d is already hidden", id)
		}

		hideNumber := current.CreditHideCount + 1
		_, err = s.spender.TrySpend(ctx, userID, spend.Request{
			Amount:        s.cfg.HideCost,
			Preference:    spend.PreferenceEarnedFirst,
			ReferenceType: HideReferenceType,
			ReferenceID:   fmt.Sprintf("%d:%d", id, hideNumber),
		})
		if err != nil && !errors.Is(err, apperrors.ErrDuplicateReference) {
			return err
		}

		until = s.clock.Now().Add(s.cfg.HideDuration)
		review, err = s.mutateLocked(ctx, id, ReasonCreditHide, func(r *models.TrustScoreReview) error {
			if r.IsHidden || r.CreditHideCount+1 != hideNumber {
				return apperrors.New(apperrors.KindInvalidArgument, "review %d changed while hiding, try again", id)
			}
			r.IsHidden = true
			r.HiddenByCredits = true
			r.HiddenUntil = &until
			r.CreditHideCount = hideNumber
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	prommetrics.RecordReviewHide("credits")
	s.log.Info().
		Uint("review_id", id).
		Str("user_id", userID.String()).
		Int64("cost", s.cfg.HideCost).
		Time("hidden_until", until).
		Msg("Review hidden with credits")
	return review, nil
}

// ExpireCreditHides unhides credit-funded hides whose window has passed.
func (s *Service) ExpireCreditHides(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired, err := s.reviews.ListExpiredCreditHides(ctx, now, s.batchSize())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, review := range expired {
		_, err := s.mutate(ctx, review.ID, ReasonCreditHideExpired, func(r *models.TrustScoreReview) error {
			if !r.IsHidden || !r.HiddenByCredits || r.HiddenUntil == nil || r.HiddenUntil.After(now) {
				return errNothingToDo
			}
			r.IsHidden = false
			r.HiddenByCredits = false
			r.HiddenUntil = nil
			return nil
		})
		if errors.Is(err, errNothingToDo) {
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Uint("review_id", review.ID).Msg("Failed to expire credit hide")
			continue
		}
		count++
	}

	if count > 0 {
		s.log.Info().Int("count", count).Msg("Expired credit-funded review hides")
	}
	return count, nil
}

var errNothingToDo = errors.New("nothing to do")

// mutate applies fn to a review under its lease.
func (s *Service) mutate(ctx context.Context, id uint, reason string, fn func(*models.TrustScoreReview) error) (*models.TrustScoreReview, error) {
	var review *models.TrustScoreReview
	err := s.guard.Do(ctx, lock.ReviewKey(id), func(ctx context.Context) error {
		var err error
		review, err = s.mutateLocked(ctx, id, reason, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

func (s *Service) mutateLocked(ctx context.Context, id uint, reason string, fn func(*models.TrustScoreReview) error) (*models.TrustScoreReview, error) {
	review, err := s.reviews.Mutate(ctx, id, reason, s.clock.Now(), fn)
	if err != nil {
		return nil, s.reviewError(id, err)
	}
	return review, nil
}

func (s *Service) reviewError(id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.New(apperrors.KindNotFound, "review %d not found", id)
	}
	return err
}

func (s *Service) batchSize() int {
	if s.cfg.BatchSize <= 0 {
		return 50
	}
	return s.cfg.BatchSize
}
