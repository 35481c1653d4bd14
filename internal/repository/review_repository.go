package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// ReviewRepository handles trust score review operations.
// Every mutation enqueues a recompute job in the same transaction.
type ReviewRepository struct {
	db *DB
}

// NewReviewRepository creates a new review repository.
func NewReviewRepository(db *DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create stores a new review and enqueues a recompute of the reviewed user.
func (r *ReviewRepository) Create(ctx context.Context, review *models.TrustScoreReview, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(review).Error; err != nil {
			return fmt.Errorf("failed to create review: %w", err)
		}
		return enqueueRecompute(tx, review.ReviewedUserID, review.ReviewedRole, reason, review.CreatedAt)
	})
}

// GetByID retrieves a review by its ID. Returns gorm.ErrRecordNotFound when missing.
func (r *ReviewRepository) GetByID(ctx context.Context, id uint) (*models.TrustScoreReview, error) {
	var review models.TrustScoreReview
	if err := r.db.WithContext(ctx).First(&review, id).Error; err != nil {
		return nil, err
	}
	return &review, nil
}

// Mutate locks review id, applies fn and saves the result with a recompute job.
// Returning an error from fn rolls back without enqueueing.
func (r *ReviewRepository) Mutate(
	ctx context.Context,
	id uint,
	reason string,
	now time.Time,
	fn func(review *models.TrustScoreReview) error,
) (*models.TrustScoreReview, error) {
	var review models.TrustScoreReview

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&review, id).Error
		if err != nil {
			return err
		}

		if err := fn(&review); err != nil {
			return err
		}

		review.UpdatedAt = now
		if err := tx.Save(&review).Error; err != nil {
			return fmt.Errorf("failed to save review: %w", err)
		}
		return enqueueRecompute(tx, review.ReviewedUserID, review.ReviewedRole, reason, now)
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// ListVisible retrieves the non-hidden reviews of a user in a role.
func (r *ReviewRepository) ListVisible(ctx context.Context, userID uuid.UUID, role string) ([]models.TrustScoreReview, error) {
	var reviews []models.TrustScoreReview
	err := r.db.WithContext(ctx).
		Where("reviewed_user_id = ? AND reviewed_role = ? AND is_hidden = ?", userID, role, false).
		Order("id ASC").
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

// ListExpiredCreditHides retrieves credit-funded hides whose window ended before now.
func (r *ReviewRepository) ListExpiredCreditHides(ctx context.Context, now time.Time, limit int) ([]models.TrustScoreReview, error) {
	var reviews []models.TrustScoreReview
	err := r.db.WithContext(ctx).
		Where("is_hidden = ? AND hidden_by_credits = ? AND hidden_until IS NOT NULL AND hidden_until <= ?", true, true, now.UTC()).
		Order("hidden_until ASC").
		Limit(limit).
		Find(&reviews).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired hides: %w", err)
	}
	return reviews, nil
}
