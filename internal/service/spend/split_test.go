package spend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
	"github.com/fieldlink/reputation-engine/internal/models"
)

func TestSplit(t *testing.T) {
	account := &models.Account{EarnedCredits: 4, PaidCredits: 10, ReputationPoints: 2}

	tests := []struct {
		name       string
		amount     int64
		preference string
		want       []Leg
		wantKind   apperrors.Kind
	}{
		{
			name:       "earned covers all",
			amount:     3,
			preference: PreferenceEarnedFirst,
			want:       []Leg{{Currency: models.CurrencyEarned, Amount: 3}},
		},
		{
			name:       "earned then paid",
			amount:     6,
			preference: PreferenceEarnedFirst,
			want: []Leg{
				{Currency: models.CurrencyEarned, Amount: 4},
				{Currency: models.CurrencyPaid, Amount: 2},
			},
		},
		{
			name:       "paid first",
			amount:     12,
			preference: PreferencePaidFirst,
			want: []Leg{
				{Currency: models.CurrencyPaid, Amount: 10},
				{Currency: models.CurrencyEarned, Amount: 2},
			},
		},
		{
			name:       "exact total",
			amount:     14,
			preference: PreferenceEarnedFirst,
			want: []Leg{
				{Currency: models.CurrencyEarned, Amount: 4},
				{Currency: models.CurrencyPaid, Amount: 10},
			},
		},
		{
			name:       "credits short",
			amount:     15,
			preference: PreferenceEarnedFirst,
			wantKind:   apperrors.KindInsufficientBalance,
		},
		{
			name:       "reputation",
			amount:     2,
			preference: PreferenceReputation,
			want:       []Leg{{Currency: models.CurrencyReputation, Amount: 2}},
		},
		{
			name:       "reputation does not borrow credits",
			amount:     3,
			preference: PreferenceReputation,
			wantKind:   apperrors.KindInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			legs, err := Split(account, tt.amount, tt.preference)
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, apperrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, legs)
		})
	}
}

func TestSplit_PaidFirstWithNoPaidCredits(t *testing.T) {
	legs, err := Split(&models.Account{EarnedCredits: 5}, 5, PreferencePaidFirst)
	require.NoError(t, err)
	assert.Equal(t, []Leg{{Currency: models.CurrencyEarned, Amount: 5}}, legs)
}
