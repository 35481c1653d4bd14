package spend

import (
	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/models"
)

// Currency preferences.
const (
	PreferenceEarnedFirst = "earned_first"
	PreferencePaidFirst   = "paid_first"
	PreferenceReputation  = "reputation"
)

// ValidPreference reports whether p is a known currency preference.
func ValidPreference(p string) bool {
	switch p {
	case PreferenceEarnedFirst, PreferencePaidFirst, PreferenceReputation:
		return true
	}
	return false
}

// Leg is the part of a spend drawn from one currency.
type Leg struct {
	Currency string
	Amount   int64
}

// Split divides amount over the balances of account according to preference.
// Credits may span earned and paid; reputation points are a separate pool.
func Split(account *models.Account, amount int64, preference string) ([]Leg, error) {
	if preference == PreferenceReputation {
		if account.ReputationPoints < amount {
			return nil, apperrors.New(apperrors.KindInsufficientBalance,
				"insufficient reputation points: have %d, need %d", account.ReputationPoints, amount)
		}
		return []Leg{{Currency: models.CurrencyReputation, Amount: amount}}, nil
	}

	if account.CurrentBalance() < amount {
		return nil, apperrors.New(apperrors.KindInsufficientBalance,
			"insufficient credits: have %d, need %d", account.CurrentBalance(), amount)
	}

	first, second := models.CurrencyEarned, models.CurrencyPaid
	firstAvailable := account.EarnedCredits
	if preference == PreferencePaidFirst {
		first, second = models.CurrencyPaid, models.CurrencyEarned
		firstAvailable = account.PaidCredits
	}

	fromFirst := min(firstAvailable, amount)
	legs := make([]Leg, 0, 2)
	if fromFirst > 0 {
		legs = append(legs, Leg{Currency: first, Amount: fromFirst})
	}
	if rest := amount - fromFirst; rest > 0 {
		legs = append(legs, Leg{Currency: second, Amount: rest})
	}
	return legs, nil
}
