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

// JobRepository is the durable queue of trust score recompute jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func enqueueRecompute(tx *gorm.DB, userID uuid.UUID, role, reason string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	job := &models.RecomputeJob{
		UserID:      userID,
		Role:        role,
		Reason:      reason,
		AvailableAt: at,
		CreatedAt:   at,
	}
	if err := tx.Create(job).Error; err != nil {
		return fmt.Errorf("failed to enqueue recompute: %w", err)
	}
	return nil
}

// Enqueue adds a recompute job outside of any review mutation.
func (r *JobRepository) Enqueue(ctx context.Context, userID uuid.UUID, role, reason string, at time.Time) error {
	return enqueueRecompute(r.db.WithContext(ctx), userID, role, reason, at)
}

// Claim leases up to limit due jobs by pushing their availability past lease.
// Rows locked by another worker are skipped on PostgreSQL.
func (r *JobRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.RecomputeJob, error) {
	var jobs []models.RecomputeJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("available_at <= ?", now.UTC()).
			Order("available_at ASC").
			Order("id ASC").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return fmt.Errorf("failed to select due jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]uint, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
		}
		err = tx.Model(&models.RecomputeJob{}).
			Where("id IN ?", ids).
			Update("available_at", now.Add(lease).UTC()).Error
		if err != nil {
			return fmt.Errorf("failed to lease jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Complete deletes finished jobs.
func (r *JobRepository) Complete(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.RecomputeJob{}).Error
	if err != nil {
		return fmt.Errorf("failed to complete jobs: %w", err)
	}
	return nil
}

// Fail records a failed attempt and makes the jobs available again at retryAt.
func (r *JobRepository) Fail(ctx context.Context, ids []uint, cause error, retryAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.RecomputeJob{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + 1"),
			"last_error":   cause.Error(),
			"available_at": retryAt.UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule jobs: %w", err)
	}
	return nil
}

// Pending counts queued jobs.
func (r *JobRepository) Pending(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.RecomputeJob{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}
