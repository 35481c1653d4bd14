package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/models"
)

func TestQuotaRepository_ConsumeRespectsAllow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQuotaRepository(db, time.Second)
	ctx := context.Background()
	userID := uuid.New()
	full := errors.New("full")

	allowTwo := func(count int) error {
		if count >= 2 {
			return full
		}
		return nil
	}

	for i := 1; i <= 2; i++ {
		count, err := repo.Consume(ctx, userID, "2026-06-01", allowTwo)
		if err != nil {
			t.Fatalf("Consume() #%d failed: %v", i, err)
		}
		if count != i {
			t.Errorf("Expected count %d, got %d", i, count)
		}
	}

	if _, err := repo.Consume(ctx, userID, "2026-06-01", allowTwo); !errors.Is(err, full) {
		t.Fatalf("Expected refusal on third consume, got %v", err)
	}

	count, err := repo.CountOn(ctx, userID, "2026-06-01")
	if err != nil {
		t.Fatalf("CountOn() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count to stay at 2, got %d", count)
	}

	other, _ := repo.CountOn(ctx, userID, "2026-06-02")
	if other != 0 {
		t.Errorf("Expected a new day to start at 0, got %d", other)
	}
}

func TestQuotaRepository_OverrideAndPrune(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQuotaRepository(db, time.Second)
	audit := NewAuditRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	limit := 2
	if _, err := repo.SetOverride(ctx, userID, &limit, "admin", now); err != nil {
		t.Fatalf("SetOverride() failed: %v", err)
	}
	override, err := repo.GetOverride(ctx, userID)
	if err != nil {
		t.Fatalf("GetOverride() failed: %v", err)
	}
	if override == nil || override.CustomLimit == nil || *override.CustomLimit != 2 {
		t.Fatalf("Expected custom limit 2, got %+v", override)
	}

	if _, err := repo.SetOverride(ctx, userID, nil, "admin", now); err != nil {
		t.Fatalf("SetOverride() clear failed: %v", err)
	}
	override, _ = repo.GetOverride(ctx, userID)
	if override.CustomLimit != nil {
		t.Errorf("Expected cleared limit, got %v", *override.CustomLimit)
	}

	entries, _ := audit.List(ctx, models.AuditEntityConnectionLimit, userID.String(), 0)
	if len(entries) != 2 {
		t.Errorf("Expected 2 audit entries, got %d", len(entries))
	}

	allow := func(int) error { return nil }
	for _, day := range []string{"2026-05-01", "2026-05-30", "2026-06-01"} {
		if _, err := repo.Consume(ctx, userID, day, allow); err != nil {
			t.Fatalf("Consume() failed: %v", err)
		}
	}
	pruned, err := repo.PruneCounters(ctx, "2026-05-30")
	if err != nil {
		t.Fatalf("PruneCounters() failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned counter, got %d", pruned)
	}
}
