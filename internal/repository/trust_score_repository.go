package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// TrustScoreRepository handles stored trust score aggregates.
type TrustScoreRepository struct {
	db *DB
}

// NewTrustScoreRepository creates a new trust score repository.
func NewTrustScoreRepository(db *DB) *TrustScoreRepository {
	return &TrustScoreRepository{db: db}
}

// Get retrieves the score of a user in a role, or nil when never computed.
func (r *TrustScoreRepository) Get(ctx context.Context, userID uuid.UUID, role string) (*models.TrustScore, error) {
	var score models.TrustScore
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND role = ?", userID, role).
		Limit(1).
		Find(&score).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get trust score: %w", err)
	}
	if score.ID == 0 {
		return nil, nil
	}
	return &score, nil
}

// Replace stores score as the aggregate of its user and role and returns the one it replaced, if any.
func (r *TrustScoreRepository) Replace(ctx context.Context, score *models.TrustScore) (*models.TrustScore, error) {
	var previous *models.TrustScore

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TrustScore
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND role = ?", score.UserID, score.Role).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to load trust score: %w", err)
		}

		if existing.ID == 0 {
			score.ID = 0
			if err := tx.Create(score).Error; err != nil {
				return fmt.Errorf("failed to create trust score: %w", err)
			}
			return nil
		}

		previous = &existing
		score.ID = existing.ID
		if err := tx.Save(score).Error; err != nil {
			return fmt.Errorf("failed to update trust score: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}
