package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionLimitOverride is an admin-set daily connection request limit. A nil CustomLimit means none.
type ConnectionLimitOverride struct {
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	CustomLimit *int      `json:"custom_limit"`
	SetBy       string    `gorm:"size:255;not null" json:"set_by"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for ConnectionLimitOverride model.
func (ConnectionLimitOverride) TableName() string {
	return "connection_limit_overrides"
}

// ConnectionRequestCounter counts connection requests sent by a user on one accounting day.
type ConnectionRequestCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_connection_counters_user_day,priority:1" json:"user_id"`
	Day       string    `gorm:"size:10;not null;uniqueIndex:idx_connection_counters_user_day,priority:2;index" json:"day"`
	Count     int       `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for ConnectionRequestCounter model.
func (ConnectionRequestCounter) TableName() string {
	return "connection_request_counters"
}

// Quota is the derived connection request allowance of a user for today.
type Quota struct {
	UserID uuid.UUID `json:"user_id"`
	// EffectiveLimit is nil when unlimited.
	EffectiveLimit *int `json:"effective_limit"`
	Unlimited      bool `json:"unlimited"`
	TodayCount     int  `json:"today_count"`
	// RemainingToday is nil when unlimited.
	RemainingToday *int      `json:"remaining_today"`
	ResetsAt       time.Time `json:"resets_at"`
}
