package trustscore

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// Badge thresholds.
const (
	minRatedReviews       = 3
	verifiedProScore      = 90.0
	verifiedProMinReviews = 20
	trustedScore          = 75.0
	trustedMinReviews     = 5
)

// BadgeFor derives the badge of a score backed by totalReviews eligible reviews.
func BadgeFor(overallScore float64, totalReviews int) string {
	switch {
	case totalReviews < minRatedReviews:
		return models.BadgeUnrated
	case overallScore >= verifiedProScore && totalReviews >= verifiedProMinReviews:
		return models.BadgeVerifiedPro
	case overallScore >= trustedScore && totalReviews >= trustedMinReviews:
		return models.BadgeTrusted
	default:
		return models.BadgeStandard
	}
}

// Compute builds the trust score of userID in role from scratch.
// Ineligible reviews are skipped; each component is averaged over the reviews that rate it.
func Compute(userID uuid.UUID, role string, reviews []models.TrustScoreReview, now time.Time) *models.TrustScore {
	var sums [5]float64
	var counts [5]int
	var lastReview *time.Time
	total := 0

	for i := range reviews {
		review := &reviews[i]
		if !review.Eligible() {
			continue
		}
		total++

		for c, v := range review.Components() {
			if v == nil {
				continue
			}
			sums[c] += float64(*v)
			counts[c]++
		}

		completed := review.CompletionDate.UTC()
		if lastReview == nil || completed.After(*lastReview) {
			lastReview = &completed
		}
	}

	var averages [5]*float64
	var avgSum float64
	rated := 0
	for c := range sums {
		if counts[c] == 0 {
			continue
		}
		avg := sums[c] / float64(counts[c])
		averages[c] = &avg
		avgSum += avg
		rated++
	}

	overall := 0.0
	if rated > 0 {
		overall = clamp(round2(avgSum/float64(rated)*20), 0, 100)
	}

	return &models.TrustScore{
		UserID:            userID,
		Role:              role,
		CommunicationAvg:  averages[0],
		OnTimeAvg:         averages[1],
		QualityAvg:        averages[2],
		PaidOnTimeAvg:     averages[3],
		ProvidedNeededAvg: averages[4],
		OverallScore:      overall,
		TotalReviews:      total,
		BadgeLevel:        BadgeFor(overall, total),
		LastReviewDate:    lastReview,
		ComputedAt:        now.UTC(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
