package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulePatch_TriStateDecoding(t *testing.T) {
	var p RulePatch
	require.NoError(t, json.Unmarshal([]byte(`{"daily_limit": null, "cooldown_hours": 24}`), &p))

	assert.True(t, p.DailyLimit.Set)
	assert.Nil(t, p.DailyLimit.Value)
	assert.True(t, p.CooldownHours.Set)
	require.NotNil(t, p.CooldownHours.Value)
	assert.Equal(t, 24, *p.CooldownHours.Value)
	assert.False(t, p.MaxPerTarget.Set)
}

func TestRulePatch_Apply(t *testing.T) {
	limit := 3
	target := 1
	rule := &EarningRule{Name: "review_submitted", CreditAmount: 5, DailyLimit: &limit, MaxPerTarget: &target, IsEnabled: true}

	disabled := false
	amount := int64(8)
	p := RulePatch{CreditAmount: &amount, DailyLimit: NullInt(), IsEnabled: &disabled}
	p.Apply(rule)

	assert.Equal(t, int64(8), rule.CreditAmount)
	assert.Nil(t, rule.DailyLimit)
	require.NotNil(t, rule.MaxPerTarget)
	assert.Equal(t, 1, *rule.MaxPerTarget)
	assert.False(t, rule.IsEnabled)
}

func TestAwardKey(t *testing.T) {
	refType, refID := "review", "42"
	key := AwardKey(7, &refType, &refID)
	require.NotNil(t, key)
	assert.Equal(t, "award:7:review:42", *key)

	assert.Nil(t, AwardKey(7, nil, &refID))
	empty := ""
	assert.Nil(t, AwardKey(7, &refType, &empty))
}

func TestTrustScoreReview_Eligible(t *testing.T) {
	assert.True(t, (&TrustScoreReview{}).Eligible())
	assert.False(t, (&TrustScoreReview{IsHidden: true}).Eligible())
	assert.False(t, (&TrustScoreReview{IsDisputed: true}).Eligible())
	assert.False(t, (&TrustScoreReview{IsDisputed: true, DisputeResolution: DisputeRemoved}).Eligible())
	assert.True(t, (&TrustScoreReview{IsDisputed: true, DisputeResolution: DisputeUpheld}).Eligible())
}
