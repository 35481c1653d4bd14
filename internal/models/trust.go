package models

import (
	"time"

	"github.com/google/uuid"
)

// Badge levels, in ascending tier order.
const (
	BadgeUnrated     = "unrated"
	BadgeStandard    = "standard"
	BadgeTrusted     = "trusted"
	BadgeVerifiedPro = "verified_pro"
)

// BadgeRank orders badge levels; unknown levels rank below unrated.
func BadgeRank(level string) int {
	switch level {
	case BadgeUnrated:
		return 0
	case BadgeStandard:
		return 1
	case BadgeTrusted:
		return 2
	case BadgeVerifiedPro:
		return 3
	default:
		return -1
	}
}

// Dispute resolutions.
const (
	DisputeUnresolved = ""
	DisputeUpheld     = "upheld"
	DisputeRemoved    = "removed"
)

// TrustScoreReview is a rating of a user by a counterpart. Component scores are 1-5 or nil.
type TrustScoreReview struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ReviewerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"reviewer_id"`
	ReviewedUserID uuid.UUID `gorm:"type:uuid;not null;index:idx_reviews_reviewed,priority:1" json:"reviewed_user_id"`
	ReviewedRole   string    `gorm:"size:20;not null;index:idx_reviews_reviewed,priority:2" json:"reviewed_role"`

	Communication  *int `json:"communication"`
	OnTime         *int `json:"on_time"`
	Quality        *int `json:"quality"`
	PaidOnTime     *int `json:"paid_on_time"`
	ProvidedNeeded *int `json:"provided_needed"`

	IsHidden        bool       `gorm:"not null" json:"is_hidden"`
	HiddenByCredits bool       `gorm:"not null" json:"hidden_by_credits"`
	HiddenUntil     *time.Time `gorm:"index" json:"hidden_until,omitempty"`
	CreditHideCount int        `gorm:"not null;default:0" json:"credit_hide_count"`

	IsDisputed        bool   `gorm:"not null" json:"is_disputed"`
	DisputeResolution string `gorm:"size:20" json:"dispute_resolution"`

	CompletionDate time.Time `gorm:"not null" json:"completion_date"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for TrustScoreReview model.
func (TrustScoreReview) TableName() string {
	return "trust_score_reviews"
}

// Eligible reports whether the review counts towards the trust score.
// A dispute only excludes the review until it is resolved as upheld.
func (r *TrustScoreReview) Eligible() bool {
	if r.IsHidden {
		return false
	}
	return !r.IsDisputed || r.DisputeResolution == DisputeUpheld
}

// Components returns the five component scores in a fixed order.
func (r *TrustScoreReview) Components() [5]*int {
	return [5]*int{r.Communication, r.OnTime, r.Quality, r.PaidOnTime, r.ProvidedNeeded}
}

// TrustScore is the stored aggregate of one user's eligible reviews in one role.
type TrustScore struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_trust_scores_user_role,priority:1" json:"user_id"`
	Role              string     `gorm:"size:20;not null;uniqueIndex:idx_trust_scores_user_role,priority:2" json:"role"`
	CommunicationAvg  *float64   `json:"communication_avg"`
	OnTimeAvg         *float64   `json:"on_time_avg"`
	QualityAvg        *float64   `json:"quality_avg"`
	PaidOnTimeAvg     *float64   `json:"paid_on_time_avg"`
	ProvidedNeededAvg *float64   `json:"provided_needed_avg"`
	OverallScore      float64    `gorm:"not null" json:"overall_score"`
	TotalReviews      int        `gorm:"not null" json:"total_reviews"`
	BadgeLevel        string     `gorm:"size:20;not null" json:"badge_level"`
	LastReviewDate    *time.Time `json:"last_review_date"`
	ComputedAt        time.Time  `gorm:"not null" json:"computed_at"`
}

// TableName specifies the table name for TrustScore model.
func (TrustScore) TableName() string {
	return "trust_scores"
}

// SameAggregate reports whether two scores carry the same derived values.
func (s *TrustScore) SameAggregate(o *TrustScore) bool {
	return s.OverallScore == o.OverallScore &&
		s.TotalReviews == o.TotalReviews &&
		s.BadgeLevel == o.BadgeLevel
}

// RecomputeJob is a durable trust score recompute trigger written alongside review mutations.
type RecomputeJob struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Role        string    `gorm:"size:20;not null" json:"role"`
	Reason      string    `gorm:"size:50;not null" json:"reason"`
	Attempts    int       `gorm:"not null;default:0" json:"attempts"`
	LastError   string    `gorm:"type:text" json:"last_error,omitempty"`
	AvailableAt time.Time `gorm:"not null;index" json:"available_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for RecomputeJob model.
func (RecomputeJob) TableName() string {
	return "recompute_jobs"
}
