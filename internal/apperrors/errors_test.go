package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := New(KindDailyLimitExceeded, "daily limit reached, resets at %s", "2026-10-17T00:00:00Z")

	assert.True(t, errors.Is(err, ErrDailyLimitExceeded))
	assert.False(t, errors.Is(err, ErrCooldownActive))
	assert.Equal(t, "daily limit reached, resets at 2026-10-17T00:00:00Z", err.Error())
}

func TestError_WrappedChain(t *testing.T) {
	cause := errors.New("lock timeout")
	err := fmt.Errorf("failed to append: %w", Wrap(KindContended, cause, "account busy"))

	assert.True(t, errors.Is(err, ErrContended))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindContended, KindOf(err))
	assert.Contains(t, err.Error(), "account busy: lock timeout")
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindCooldownActive, Message: "cooldown", RetryAfter: 30 * time.Minute}

	assert.Equal(t, 30*time.Minute, RetryAfterOf(err))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestError_EmptyMessageFallsBackToKind(t *testing.T) {
	assert.Equal(t, "quota_exceeded", ErrQuotaExceeded.Error())
}
