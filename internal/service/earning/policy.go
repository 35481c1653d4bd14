package earning

import (
	"time"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/models"
	"github.com/fieldlink/reputation-engine/pkg/clock"
)

// State is what the ledger knows about earlier awards of one rule to one user.
type State struct {
	// LastAwardAt is the time of the most recent award of the rule, if any.
	LastAwardAt *time.Time
	// TimesEarnedToday is the daily aggregate count for the current accounting day.
	TimesEarnedToday int
	// TargetAwards is the lifetime award count for the requested target.
	TargetAwards int64
}

// Evaluate decides whether rule may award the user described by state at now.
// Checks run in a fixed order: enabled, verification, cooldown, daily limit, per-target limit.
func Evaluate(rule *models.EarningRule, state State, req AwardRequest, now time.Time, boundary clock.DayBoundary) error {
	if !rule.IsEnabled {
		return apperrors.New(apperrors.KindRuleDisabled, "earning rule %q is disabled", rule.Name)
	}

	if rule.RequiresVerification && !req.UserVerified {
		return apperrors.New(apperrors.KindVerificationRequired, "earning rule %q requires a verified account", rule.Name)
	}

	if rule.CooldownHours != nil && *rule.CooldownHours > 0 && state.LastAwardAt != nil {
		availableAt := state.LastAwardAt.Add(time.Duration(*rule.CooldownHours) * time.Hour)
		if now.Before(availableAt) {
			e := apperrors.New(apperrors.KindCooldownActive,
				"earning rule %q is cooling down, available again at %s",
				rule.Name, availableAt.UTC().Format(time.RFC3339))
			e.RetryAfter = availableAt.Sub(now)
			return e
		}
	}

	if rule.DailyLimit != nil && state.TimesEarnedToday >= *rule.DailyLimit {
		resetsAt := boundary.Next(now)
		e := apperrors.New(apperrors.KindDailyLimitExceeded,
			"daily limit of %d reached for %q, resets at %s",
			*rule.DailyLimit, rule.Name, resetsAt.Format(time.RFC3339))
		e.RetryAfter = resetsAt.Sub(now)
		return e
	}

	if rule.MaxPerTarget != nil && req.TargetID != nil && state.TargetAwards >= int64(*rule.MaxPerTarget) {
		return apperrors.New(apperrors.KindTargetLimitExceeded,
			"earning rule %q already awarded %d time(s) for target %s", rule.Name, state.TargetAwards, *req.TargetID)
	}

	return nil
}
