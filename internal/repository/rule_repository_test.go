package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/fieldlink/reputation-engine/internal/models"
)

func TestRuleRepository_MutateCreatesAndAudits(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	audit := NewAuditRepository(db)
	ctx := context.Background()

	rule, err := repo.Mutate(ctx, "profile_complete", "admin-1", func(r *models.EarningRule, created bool) error {
		if !created {
			t.Error("Expected created=true for a new rule")
		}
		r.CreditAmount = 10
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}
	if rule.ID == 0 || !rule.IsEnabled || rule.Currency != models.CurrencyEarned {
		t.Errorf("Unexpected new rule defaults: %+v", rule)
	}

	_, err = repo.Mutate(ctx, "profile_complete", "admin-2", func(r *models.EarningRule, created bool) error {
		if created {
			t.Error("Expected created=false for an existing rule")
		}
		r.IsEnabled = false
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}

	stored, err := repo.GetByName(ctx, "profile_complete")
	if err != nil {
		t.Fatalf("GetByName() failed: %v", err)
	}
	if stored.IsEnabled {
		t.Error("Expected rule to be disabled")
	}

	entries, err := audit.List(ctx, models.AuditEntityRule, "profile_complete", 0)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(entries))
	}

	latest := entries[0]
	if latest.Actor != "admin-2" {
		t.Errorf("Expected newest entry by admin-2, got %q", latest.Actor)
	}
	var before, after models.EarningRule
	if err := json.Unmarshal(latest.Before, &before); err != nil {
		t.Fatalf("Failed to decode before state: %v", err)
	}
	if err := json.Unmarshal(latest.After, &after); err != nil {
		t.Fatalf("Failed to decode after state: %v", err)
	}
	if !before.IsEnabled || after.IsEnabled {
		t.Errorf("Expected audit to capture enabled -> disabled, got %v -> %v", before.IsEnabled, after.IsEnabled)
	}
	if len(entries[1].Before) != 0 {
		t.Errorf("Expected creation entry without before state, got %s", entries[1].Before)
	}
}

func TestRuleRepository_MutateRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := context.Background()
	invalid := errors.New("invalid")

	_, err := repo.Mutate(ctx, "new_rule", "admin", func(r *models.EarningRule, created bool) error {
		return invalid
	})
	if !errors.Is(err, invalid) {
		t.Fatalf("Expected callback error, got %v", err)
	}

	_, err = repo.GetByName(ctx, "new_rule")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("Expected rule not to exist, got %v", err)
	}

	entries, _ := NewAuditRepository(db).List(ctx, models.AuditEntityRule, "new_rule", 0)
	if len(entries) != 0 {
		t.Errorf("Expected no audit entries, got %d", len(entries))
	}
}

func TestRuleRepository_InsertIfMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := context.Background()

	inserted, err := repo.InsertIfMissing(ctx, &models.EarningRule{
		Name: "review_submitted", CreditAmount: 2, Currency: models.CurrencyEarned, IsEnabled: true,
	}, "seed")
	if err != nil {
		t.Fatalf("InsertIfMissing() failed: %v", err)
	}
	if !inserted {
		t.Error("Expected first insert to succeed")
	}

	_, err = repo.Mutate(ctx, "review_submitted", "admin", func(r *models.EarningRule, created bool) error {
		r.CreditAmount = 3
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}

	inserted, err = repo.InsertIfMissing(ctx, &models.EarningRule{
		Name: "review_submitted", CreditAmount: 2, Currency: models.CurrencyEarned, IsEnabled: true,
	}, "seed")
	if err != nil {
		t.Fatalf("InsertIfMissing() failed: %v", err)
	}
	if inserted {
		t.Error("Expected existing rule not to be overwritten")
	}

	rule, _ := repo.GetByName(ctx, "review_submitted")
	if rule.CreditAmount != 3 {
		t.Errorf("Expected admin edit to survive, got credit amount %d", rule.CreditAmount)
	}

	rules, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(rules))
	}
}
