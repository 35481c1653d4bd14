// Package apperrors defines the typed business failures returned by the economy services.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a business failure.
type Kind string

// Failure kinds.
const (
	KindRuleNotFound         Kind = "rule_not_found"
	KindRuleDisabled         Kind = "rule_disabled"
	KindVerificationRequired Kind = "verification_required"
	KindCooldownActive       Kind = "cooldown_active"
	KindDailyLimitExceeded   Kind = "daily_limit_exceeded"
	KindTargetLimitExceeded  Kind = "target_limit_exceeded"
	KindInsufficientBalance  Kind = "insufficient_balance"
	KindDuplicateReference   Kind = "duplicate_reference"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindContended            Kind = "contended"
	KindInvalidRuleConfig    Kind = "invalid_rule_config"
	KindInvalidArgument      Kind = "invalid_argument"
	KindNotFound             Kind = "not_found"
)

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrRuleNotFound         = &Error{Kind: KindRuleNotFound}
	ErrRuleDisabled         = &Error{Kind: KindRuleDisabled}
	ErrVerificationRequired = &Error{Kind: KindVerificationRequired}
	ErrCooldownActive       = &Error{Kind: KindCooldownActive}
	ErrDailyLimitExceeded   = &Error{Kind: KindDailyLimitExceeded}
	ErrTargetLimitExceeded  = &Error{Kind: KindTargetLimitExceeded}
	ErrInsufficientBalance  = &Error{Kind: KindInsufficientBalance}
	ErrDuplicateReference   = &Error{Kind: KindDuplicateReference}
	ErrQuotaExceeded        = &Error{Kind: KindQuotaExceeded}
	ErrContended            = &Error{Kind: KindContended}
	ErrInvalidRuleConfig    = &Error{Kind: KindInvalidRuleConfig}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

// Error is a classified business failure.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for time-bound refusals (cooldowns).
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfterOf returns the retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
