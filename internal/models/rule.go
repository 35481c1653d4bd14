package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// EarningRule configures how many credits an event awards and under which limits.
type EarningRule struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"uniqueIndex;not null;size:100" json:"name"`
	Description  string `gorm:"type:text" json:"description"`
	CreditAmount int64  `gorm:"not null" json:"credit_amount"`
	// Currency is earned or reputation.
	Currency             string    `gorm:"size:20;not null" json:"currency"`
	CooldownHours        *int      `json:"cooldown_hours"`
	DailyLimit           *int      `json:"daily_limit"`
	MaxPerTarget         *int      `json:"max_per_target"`
	RequiresVerification bool      `gorm:"not null" json:"requires_verification"`
	IsEnabled            bool      `gorm:"not null" json:"is_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName specifies the table name for EarningRule model.
func (EarningRule) TableName() string {
	return "earning_rules"
}

// NullableInt distinguishes an absent field from an explicit null in a patch.
type NullableInt struct {
	Set   bool
	Value *int
}

// UnmarshalJSON marks the field as present and decodes null or a number.
func (n *NullableInt) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// NullInt returns a present patch value that clears the field.
func NullInt() NullableInt {
	return NullableInt{Set: true}
}

// SomeInt returns a present patch value.
func SomeInt(v int) NullableInt {
	return NullableInt{Set: true, Value: &v}
}

// RulePatch is a partial update of an EarningRule. Nil pointers and unset NullableInts are left unchanged.
type RulePatch struct {
	Description          *string     `json:"description"`
	CreditAmount         *int64      `json:"credit_amount"`
	Currency             *string     `json:"currency"`
	CooldownHours        NullableInt `json:"cooldown_hours"`
	DailyLimit           NullableInt `json:"daily_limit"`
	MaxPerTarget         NullableInt `json:"max_per_target"`
	RequiresVerification *bool       `json:"requires_verification"`
	IsEnabled            *bool       `json:"is_enabled"`
}

// Apply writes the present fields of p onto r.
func (p *RulePatch) Apply(r *EarningRule) {
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.CreditAmount != nil {
		r.CreditAmount = *p.CreditAmount
	}
	if p.Currency != nil {
		r.Currency = *p.Currency
	}
	if p.CooldownHours.Set {
		r.CooldownHours = p.CooldownHours.Value
	}
	if p.DailyLimit.Set {
		r.DailyLimit = p.DailyLimit.Value
	}
	if p.MaxPerTarget.Set {
		r.MaxPerTarget = p.MaxPerTarget.Value
	}
	if p.RequiresVerification != nil {
		r.RequiresVerification = *p.RequiresVerification
	}
	if p.IsEnabled != nil {
		r.IsEnabled = *p.IsEnabled
	}
}

// AuditEntry records one administrative mutation. Never updated or deleted.
type AuditEntry struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	EntityType string          `gorm:"size:50;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityKey  string          `gorm:"size:255;not null;index:idx_audit_entity,priority:2" json:"entity_key"`
	Actor      string          `gorm:"size:255;not null" json:"actor"`
	Before     json.RawMessage `gorm:"type:jsonb" json:"before"`
	After      json.RawMessage `gorm:"type:jsonb" json:"after"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TableName specifies the table name for AuditEntry model.
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// Audited entity types.
const (
	AuditEntityRule            = "earning_rule"
	AuditEntityConnectionLimit = "connection_limit"
)
