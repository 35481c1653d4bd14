// Package models defines the persisted entities of the reputation and credit economy.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleVendor   = "vendor"
	RoleFieldRep = "field_rep"
)

// ValidRole reports whether role is a known account role.
func ValidRole(role string) bool {
	return role == RoleVendor || role == RoleFieldRep
}

// Currency types carried by transactions.
const (
	CurrencyEarned     = "earned"
	CurrencyPaid       = "paid"
	CurrencyReputation = "reputation"
)

// Account holds the balance projection of a user. It is never deleted.
type Account struct {
	UserID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Role             string    `gorm:"size:20;not null" json:"role"`
	EarnedCredits    int64     `gorm:"not null;default:0" json:"earned_credits"`
	PaidCredits      int64     `gorm:"not null;default:0" json:"paid_credits"`
	ReputationPoints int64     `gorm:"not null;default:0" json:"reputation_points"`
	Version          int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for Account model.
func (Account) TableName() string {
	return "accounts"
}

// CurrentBalance is the spendable credit balance. It is derived, never stored.
func (a *Account) CurrentBalance() int64 {
	return a.EarnedCredits + a.PaidCredits
}

// Balance is the read view of an account.
type Balance struct {
	UserID           uuid.UUID `json:"user_id"`
	EarnedCredits    int64     `json:"earned_credits"`
	PaidCredits      int64     `json:"paid_credits"`
	CurrentBalance   int64     `json:"current_balance"`
	ReputationPoints int64     `json:"reputation_points"`
}

// BalanceOf builds the read view of a.
func BalanceOf(a *Account) Balance {
	return Balance{
		UserID:           a.UserID,
		EarnedCredits:    a.EarnedCredits,
		PaidCredits:      a.PaidCredits,
		CurrentBalance:   a.CurrentBalance(),
		ReputationPoints: a.ReputationPoints,
	}
}
