package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldlink/reputation-engine/internal/models"
)

// BadgeChange is one recorded badge notification.
type BadgeChange struct {
	UserID uuid.UUID
	Role   string
	From   string
	To     string
	Score  float64
}

// MockNotifier records notifications instead of posting them.
type MockNotifier struct {
	mu sync.Mutex

	RuleChanges []string
	Badges      []BadgeChange
	Mismatches  []models.ReconcileReport
	ReturnError error
}

// NotifyRuleChanged records a rule change.
func (m *MockNotifier) NotifyRuleChanged(ctx context.Context, rule *models.EarningRule, actor string, created bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RuleChanges = append(m.RuleChanges, rule.Name)
	return m.ReturnError
}

// NotifyBadgeChanged records a badge change.
func (m *MockNotifier) NotifyBadgeChanged(ctx context.Context, userID uuid.UUID, role, from, to string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Badges = append(m.Badges, BadgeChange{UserID: userID, Role: role, From: from, To: to, Score: score})
	return m.ReturnError
}

// NotifyReconcileMismatch records a reconcile mismatch.
func (m *MockNotifier) NotifyReconcileMismatch(ctx context.Context, report models.ReconcileReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mismatches = append(m.Mismatches, report)
	return m.ReturnError
}

// BadgeChanges returns a copy of the recorded badge changes.
func (m *MockNotifier) BadgeChanges() []BadgeChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BadgeChange(nil), m.Badges...)
}
