package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/models"
)

func intPtr(v int) *int { return &v }

func createTestReview(t *testing.T, repo *ReviewRepository, userID uuid.UUID, at time.Time) *models.TrustScoreReview {
	t.Helper()

	review := &models.TrustScoreReview{
		ReviewerID:     uuid.New(),
		ReviewedUserID: userID,
		ReviewedRole:   models.RoleFieldRep,
		Communication:  intPtr(5),
		OnTime:         intPtr(4),
		CompletionDate: at,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := repo.Create(context.Background(), review, "review_submitted"); err != nil {
		t.Fatalf("Failed to create test review: %v", err)
	}
	return review
}

func TestReviewRepository_MutationsEnqueueJobs(t *testing.T) {
	db := setupTestDB(t)
	reviews := NewReviewRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	review := createTestReview(t, reviews, userID, now)

	_, err := reviews.Mutate(ctx, review.ID, "review_hidden", now, func(r *models.TrustScoreReview) error {
		r.IsHidden = true
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() failed: %v", err)
	}

	pending, err := jobs.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if pending != 2 {
		t.Errorf("Expected 2 queued jobs, got %d", pending)
	}

	visible, err := reviews.ListVisible(ctx, userID, models.RoleFieldRep)
	if err != nil {
		t.Fatalf("ListVisible() failed: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("Expected hidden review to be excluded, got %d", len(visible))
	}
}

func TestReviewRepository_MutateErrorDoesNotEnqueue(t *testing.T) {
	db := setupTestDB(t)
	reviews := NewReviewRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	review := createTestReview(t, reviews, uuid.New(), now)
	refused := errors.New("refused")

	_, err := reviews.Mutate(ctx, review.ID, "review_hidden", now, func(r *models.TrustScoreReview) error {
		r.IsHidden = true
		return refused
	})
	if !errors.Is(err, refused) {
		t.Fatalf("Expected callback error, got %v", err)
	}

	pending, _ := jobs.Pending(ctx)
	if pending != 1 {
		t.Errorf("Expected only the creation job, got %d", pending)
	}

	stored, err := reviews.GetByID(ctx, review.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if stored.IsHidden {
		t.Error("Expected review to stay visible after rollback")
	}
}

func TestReviewRepository_ListExpiredCreditHides(t *testing.T) {
	db := setupTestDB(t)
	reviews := NewReviewRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	expired := createTestReview(t, reviews, userID, now)
	active := createTestReview(t, reviews, userID, now)
	moderated := createTestReview(t, reviews, userID, now)

	hide := func(id uint, byCredits bool, until *time.Time) {
		_, err := reviews.Mutate(ctx, id, "review_hidden", now, func(r *models.TrustScoreReview) error {
			r.IsHidden = true
			r.HiddenByCredits = byCredits
			r.HiddenUntil = until
			return nil
		})
		if err != nil {
			t.Fatalf("Mutate() failed: %v", err)
		}
	}
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	hide(expired.ID, true, &past)
	hide(active.ID, true, &future)
	hide(moderated.ID, false, nil)

	found, err := reviews.ListExpiredCreditHides(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredCreditHides() failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != expired.ID {
		t.Errorf("Expected only review %d, got %+v", expired.ID, found)
	}
}

func TestJobRepository_ClaimCompleteFail(t *testing.T) {
	db := setupTestDB(t)
	jobs := NewJobRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	if err := jobs.Enqueue(ctx, userID, models.RoleVendor, "manual", now); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := jobs.Enqueue(ctx, userID, models.RoleVendor, "manual", now.Add(time.Hour)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	claimed, err := jobs.Claim(ctx, now, time.Minute, 10)
	if err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected 1 due job, got %d", len(claimed))
	}

	again, _ := jobs.Claim(ctx, now, time.Minute, 10)
	if len(again) != 0 {
		t.Errorf("Expected leased job not to be claimed twice, got %d", len(again))
	}

	if err := jobs.Fail(ctx, []uint{claimed[0].ID}, errors.New("db down"), now.Add(30*time.Second)); err != nil {
		t.Fatalf("Fail() failed: %v", err)
	}
	retried, _ := jobs.Claim(ctx, now.Add(30*time.Second), time.Minute, 10)
	if len(retried) != 1 || retried[0].Attempts != 1 || retried[0].LastError != "db down" {
		t.Fatalf("Expected failed job to be retried with attempts=1, got %+v", retried)
	}

	if err := jobs.Complete(ctx, []uint{retried[0].ID}); err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	pending, _ := jobs.Pending(ctx)
	if pending != 1 {
		t.Errorf("Expected 1 job left, got %d", pending)
	}
}

func TestTrustScoreRepository_Replace(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTrustScoreRepository(db)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	missing, err := repo.Get(ctx, userID, models.RoleVendor)
	if err != nil || missing != nil {
		t.Fatalf("Expected no score, got %+v, %v", missing, err)
	}

	previous, err := repo.Replace(ctx, &models.TrustScore{
		UserID: userID, Role: models.RoleVendor, OverallScore: 60, TotalReviews: 3, BadgeLevel: models.BadgeStandard, ComputedAt: now,
	})
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if previous != nil {
		t.Errorf("Expected no previous score, got %+v", previous)
	}

	previous, err = repo.Replace(ctx, &models.TrustScore{
		UserID: userID, Role: models.RoleVendor, OverallScore: 80, TotalReviews: 5, BadgeLevel: models.BadgeTrusted, ComputedAt: now,
	})
	if err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	if previous == nil || previous.BadgeLevel != models.BadgeStandard {
		t.Errorf("Expected previous standard score, got %+v", previous)
	}

	stored, _ := repo.Get(ctx, userID, models.RoleVendor)
	if stored.OverallScore != 80 || stored.BadgeLevel != models.BadgeTrusted {
		t.Errorf("Unexpected stored score: %+v", stored)
	}
}
