package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// AuditRepository reads the administrative audit trail.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// List retrieves audit entries of one entity, newest first.
func (r *AuditRepository) List(ctx context.Context, entityType, entityKey string, limit int) ([]models.AuditEntry, error) {
	query := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_key = ?", entityType, entityKey).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.AuditEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// writeAudit appends an audit entry inside tx. A nil before or after is stored as NULL.
func writeAudit(tx *gorm.DB, entityType, entityKey, actor string, before, after interface{}, at time.Time) error {
	entry := &models.AuditEntry{
		EntityType: entityType,
		EntityKey:  entityKey,
		Actor:      actor,
		CreatedAt:  at,
	}

	var err error
	if before != nil {
		if entry.Before, err = json.Marshal(before); err != nil {
			return fmt.Errorf("failed to encode audit state: %w", err)
		}
	}
	if after != nil {
		if entry.After, err = json.Marshal(after); err != nil {
			return fmt.Errorf("failed to encode audit state: %w", err)
		}
	}

	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}
