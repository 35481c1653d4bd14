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

// QuotaRepository handles connection limit overrides and daily request counters.
type QuotaRepository struct {
	db          *DB
	lockTimeout time.Duration
}

// NewQuotaRepository creates a new quota repository.
func NewQuotaRepository(db *DB, lockTimeout time.Duration) *QuotaRepository {
	return &QuotaRepository{db: db, lockTimeout: lockTimeout}
}

// GetOverride retrieves the admin override of a user, or nil.
func (r *QuotaRepository) GetOverride(ctx context.Context, userID uuid.UUID) (*models.ConnectionLimitOverride, error) {
	var override models.ConnectionLimitOverride
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&override).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get connection limit override: %w", err)
	}
	if override.UserID == uuid.Nil {
		return nil, nil
	}
	return &override, nil
}

// SetOverride stores the custom limit of a user (nil clears it) with an audit entry.
func (r *QuotaRepository) SetOverride(ctx context.Context, userID uuid.UUID, limit *int, actor string, now time.Time) (*models.ConnectionLimitOverride, error) {
	override := &models.ConnectionLimitOverride{
		UserID:      userID,
		CustomLimit: limit,
		SetBy:       actor,
		UpdatedAt:   now,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ConnectionLimitOverride
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to load connection limit override: %w", err)
		}

		var before interface{}
		if existing.UserID != uuid.Nil {
			before = &existing
		}

		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"custom_limit", "set_by", "updated_at"}),
		}).Create(override).Error
		if err != nil {
			return fmt.Errorf("failed to save connection limit override: %w", err)
		}

		return writeAudit(tx, models.AuditEntityConnectionLimit, userID.String(), actor, before, override, now)
	})
	if err != nil {
		return nil, err
	}
	return override, nil
}

// CountOn returns the number of requests a user sent on day.
func (r *QuotaRepository) CountOn(ctx context.Context, userID uuid.UUID, day string) (int, error) {
	var counter models.ConnectionRequestCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Limit(1).
		Find(&counter).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get request counter: %w", err)
	}
	return counter.Count, nil
}

// Consume locks the counter of userID on day and increments it unless allow rejects the current count.
// It returns the count after the increment.
func (r *QuotaRepository) Consume(ctx context.Context, userID uuid.UUID, day string, allow func(count int) error) (int, error) {
	var count int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setLockTimeout(tx, r.lockTimeout); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		seed := &models.ConnectionRequestCounter{UserID: userID, Day: day}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).Create(seed).Error
		if err != nil {
			return fmt.Errorf("failed to create request counter: %w", err)
		}

		var counter models.ConnectionRequestCounter
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND day = ?", userID, day).
			First(&counter).Error
		if err != nil {
			return fmt.Errorf("failed to lock request counter: %w", err)
		}

		if err := allow(counter.Count); err != nil {
			return err
		}

		counter.Count++
		if err := tx.Save(&counter).Error; err != nil {
			return fmt.Errorf("failed to increment request counter: %w", err)
		}
		count = counter.Count
		return nil
	})
	if err != nil {
		return 0, translateLockError(err)
	}
	return count, nil
}

// PruneCounters deletes counters of days before beforeDay.
func (r *QuotaRepository) PruneCounters(ctx context.Context, beforeDay string) (int64, error) {
	result := r.db.WithContext(ctx).Where("day < ?", beforeDay).Delete(&models.ConnectionRequestCounter{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune request counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}
