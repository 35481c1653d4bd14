package earning

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/pkg/clock"
)

func intPtr(v int) *int              { return &v }
func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	boundary := clock.DayBoundary{}

	base := func() *models.EarningRule {
		return &models.EarningRule{Name: "rule", CreditAmount: 5, Currency: models.CurrencyEarned, IsEnabled: true}
	}

	tests := []struct {
		name     string
		rule     func() *models.EarningRule
		state    State
		req      AwardRequest
		wantKind apperrors.Kind
	}{
		{
			name: "no constraints",
			rule: base,
		},
		{
			name: "disabled",
			rule: func() *models.EarningRule {
				r := base()
				r.IsEnabled = false
				return r
			},
			wantKind: apperrors.KindRuleDisabled,
		},
		{
			name: "verification missing",
			rule: func() *models.EarningRule {
				r := base()
				r.RequiresVerification = true
				return r
			},
			wantKind: apperrors.KindVerificationRequired,
		},
		{
			name: "verification present",
			rule: func() *models.EarningRule {
				r := base()
				r.RequiresVerification = true
				return r
			},
			req: AwardRequest{UserVerified: true},
		},
		{
			name: "cooldown active",
			rule: func() *models.EarningRule {
				r := base()
				r.CooldownHours = intPtr(24)
				return r
			},
			state:    State{LastAwardAt: timePtr(now.Add(-time.Hour))},
			wantKind: apperrors.KindCooldownActive,
		},
		{
			name: "cooldown elapsed",
			rule: func() *models.EarningRule {
				r := base()
				r.CooldownHours = intPtr(24)
				return r
			},
			state: State{LastAwardAt: timePtr(now.Add(-25 * time.Hour))},
		},
		{
			name: "zero cooldown never blocks",
			rule: func() *models.EarningRule {
				r := base()
				r.CooldownHours = intPtr(0)
				return r
			},
			state: State{LastAwardAt: timePtr(now)},
		},
		{
			name: "daily limit reached",
			rule: func() *models.EarningRule {
				r := base()
				r.DailyLimit = intPtr(2)
				return r
			},
			state:    State{TimesEarnedToday: 2},
			wantKind: apperrors.KindDailyLimitExceeded,
		},
		{
			name: "daily limit zero",
			rule: func() *models.EarningRule {
				r := base()
				r.DailyLimit = intPtr(0)
				return r
			},
			wantKind: apperrors.KindDailyLimitExceeded,
		},
		{
			name: "target limit reached",
			rule: func() *models.EarningRule {
				r := base()
				r.MaxPerTarget = intPtr(1)
				return r
			},
			state:    State{TargetAwards: 1},
			req:      AwardRequest{TargetID: strPtr("vendor-9")},
			wantKind: apperrors.KindTargetLimitExceeded,
		},
		{
			name: "target limit without target",
			rule: func() *models.EarningRule {
				r := base()
				r.MaxPerTarget = intPtr(1)
				return r
			},
			state: State{TargetAwards: 1},
		},
		{
			name: "verification checked before limits",
			rule: func() *models.EarningRule {
				r := base()
				r.RequiresVerification = true
				r.DailyLimit = intPtr(0)
				return r
			},
			wantKind: apperrors.KindVerificationRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Evaluate(tt.rule(), tt.state, tt.req, now, boundary)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Evaluate() unexpected error: %v", err)
				}
				return
			}
			if got := apperrors.KindOf(err); got != tt.wantKind {
				t.Fatalf("Evaluate() kind = %q, want %q (err: %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestEvaluate_CooldownRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	rule := &models.EarningRule{Name: "r", IsEnabled: true, CooldownHours: intPtr(24)}

	err := Evaluate(rule, State{LastAwardAt: timePtr(now.Add(-time.Hour))}, AwardRequest{}, now, clock.DayBoundary{})
	if !errors.Is(err, apperrors.ErrCooldownActive) {
		t.Fatalf("Expected CooldownActive, got %v", err)
	}
	if got := apperrors.RetryAfterOf(err); got != 23*time.Hour {
		t.Errorf("Expected retry after 23h, got %v", got)
	}
}

func TestEvaluate_DailyLimitMessageNamesReset(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	rule := &models.EarningRule{Name: "r", IsEnabled: true, DailyLimit: intPtr(1)}

	err := Evaluate(rule, State{TimesEarnedToday: 1}, AwardRequest{}, now, clock.DayBoundary{})
	if err == nil {
		t.Fatal("Expected DailyLimitExceeded")
	}
	if !strings.Contains(err.Error(), "resets at 2026-10-17T00:00:00Z") {
		t.Errorf("Expected reset time in message, got %q", err.Error())
	}
	if got := apperrors.RetryAfterOf(err); got != 9*time.Hour {
		t.Errorf("Expected retry after 9h, got %v", got)
	}
}
