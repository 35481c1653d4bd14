package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// RuleRepository handles earning rule database operations.
type RuleRepository struct {
	db *DB
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// GetByName retrieves a rule by its name. Returns gorm.ErrRecordNotFound when missing.
func (r *RuleRepository) GetByName(ctx context.Context, name string) (*models.EarningRule, error) {
	var rule models.EarningRule
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// List retrieves all rules ordered by name.
func (r *RuleRepository) List(ctx context.Context) ([]models.EarningRule, error) {
	var rules []models.EarningRule
	err := r.db.WithContext(ctx).Order("name ASC").Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// Mutate locks the rule called name, or prepares a new one when it does not exist,
// lets fn change it, then saves it together with an audit entry.
// Nothing is written when fn returns an error.
func (r *RuleRepository) Mutate(
	ctx context.Context,
	name, actor string,
	fn func(rule *models.EarningRule, created bool) error,
) (*models.EarningRule, error) {
	var saved *models.EarningRule

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.EarningRule
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", name).
			First(&rule).Error

		created := false
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			rule = models.EarningRule{
				Name:      name,
				Currency:  models.CurrencyEarned,
				IsEnabled: true,
			}
		case err != nil:
			return fmt.Errorf("failed to load rule: %w", err)
		}

		var before interface{}
		if !created {
			snapshot := rule
			before = &snapshot
		}

		if err := fn(&rule, created); err != nil {
			return err
		}

		now := time.Now().UTC()
		rule.UpdatedAt = now
		if created {
			rule.CreatedAt = now
			err = tx.Create(&rule).Error
		} else {
			err = tx.Save(&rule).Error
		}
		if err != nil {
			return fmt.Errorf("failed to save rule: %w", err)
		}

		if err := writeAudit(tx, models.AuditEntityRule, name, actor, before, &rule, now); err != nil {
			return err
		}

		saved = &rule
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// InsertIfMissing creates rule unless a rule with the same name exists.
// It reports whether the rule was inserted; inserts are audited under actor.
func (r *RuleRepository) InsertIfMissing(ctx context.Context, rule *models.EarningRule, actor string) (bool, error) {
	inserted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(rule)
		if result.Error != nil {
			return fmt.Errorf("failed to insert rule: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		inserted = true
		return writeAudit(tx, models.AuditEntityRule, rule.Name, actor, nil, rule, time.Now().UTC())
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}
