package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction is an immutable ledger entry. Amount is positive for credits and negative for spends.
type Transaction struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index:idx_transactions_user_created,priority:1;index:idx_transactions_user_rule_target,priority:1" json:"user_id"`
	Amount         int64     `gorm:"not null" json:"amount"`
	CurrencyType   string    `gorm:"size:20;not null" json:"currency_type"`
	RuleID         *uint     `gorm:"index:idx_transactions_user_rule_target,priority:2" json:"rule_id,omitempty"`
	ReferenceType  *string   `gorm:"size:50" json:"reference_type,omitempty"`
	ReferenceID    *string   `gorm:"size:255" json:"reference_id,omitempty"`
	TargetID       *string   `gorm:"size:255;index:idx_transactions_user_rule_target,priority:3" json:"target_id,omitempty"`
	IdempotencyKey *string   `gorm:"size:512;uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `gorm:"not null;index:idx_transactions_user_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for Transaction model.
func (Transaction) TableName() string {
	return "transactions"
}

// AwardKey is the idempotency key of a rule award. It is nil unless the whole triple is present.
func AwardKey(ruleID uint, referenceType, referenceID *string) *string {
	if referenceType == nil || referenceID == nil || *referenceType == "" || *referenceID == "" {
		return nil
	}
	key := fmt.Sprintf("award:%d:%s:%s", ruleID, *referenceType, *referenceID)
	return &key
}

// SpendKey is the idempotency key of the first leg of a spend.
func SpendKey(referenceType, referenceID string) string {
	return fmt.Sprintf("spend:%s:%s", referenceType, referenceID)
}

// PurchaseKey is the idempotency key of a paid credit purchase.
func PurchaseKey(referenceType, referenceID string) string {
	return fmt.Sprintf("purchase:%s:%s", referenceType, referenceID)
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	CurrencyType string
	RuleID       *uint
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// DailyEarningAggregate counts awards of one rule to one user on one accounting day.
type DailyEarningAggregate struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_daily_user_rule_day,priority:1" json:"user_id"`
	RuleID       uint      `gorm:"not null;uniqueIndex:idx_daily_user_rule_day,priority:2" json:"rule_id"`
	Day          string    `gorm:"size:10;not null;uniqueIndex:idx_daily_user_rule_day,priority:3" json:"day"`
	TimesEarned  int       `gorm:"not null;default:0" json:"times_earned"`
	TotalCredits int64     `gorm:"not null;default:0" json:"total_credits"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for DailyEarningAggregate model.
func (DailyEarningAggregate) TableName() string {
	return "daily_earning_aggregates"
}

// ReconcileReport compares the balance projection with sums over the transaction log.
type ReconcileReport struct {
	UserID           uuid.UUID `json:"user_id"`
	Projection       Balance   `json:"projection"`
	LedgerEarned     int64     `json:"ledger_earned"`
	LedgerPaid       int64     `json:"ledger_paid"`
	LedgerReputation int64     `json:"ledger_reputation"`
}

// Consistent reports whether the projection matches the ledger sums.
func (r ReconcileReport) Consistent() bool {
	return r.Projection.EarnedCredits == r.LedgerEarned &&
		r.Projection.PaidCredits == r.LedgerPaid &&
		r.Projection.ReputationPoints == r.LedgerReputation
}
