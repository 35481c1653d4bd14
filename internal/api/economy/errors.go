package economy

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldlink/reputation-engine/internal/apperrors"
)

var kindStatus = map[apperrors.Kind]int{
	apperrors.KindNotFound:             http.StatusNotFound,
	apperrors.KindRuleNotFound:         http.StatusNotFound,
	apperrors.KindDuplicateReference:   http.StatusConflict,
	apperrors.KindRuleDisabled:         http.StatusConflict,
	apperrors.KindInvalidArgument:      http.StatusUnprocessableEntity,
	apperrors.KindInvalidRuleConfig:    http.StatusUnprocessableEntity,
	apperrors.KindVerificationRequired: http.StatusUnprocessableEntity,
	apperrors.KindInsufficientBalance:  http.StatusUnprocessableEntity,
	apperrors.KindTargetLimitExceeded:  http.StatusUnprocessableEntity,
	apperrors.KindCooldownActive:       http.StatusTooManyRequests,
	apperrors.KindDailyLimitExceeded:   http.StatusTooManyRequests,
	apperrors.KindQuotaExceeded:        http.StatusTooManyRequests,
	apperrors.KindContended:            http.StatusServiceUnavailable,
}

// statusFor maps a service error to its HTTP status. Unclassified errors are 500.
func statusFor(err error) int {
	if status, ok := kindStatus[apperrors.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError sends a classified failure. Internal errors are logged and never echoed.
func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		h.errorResponse(c, status, "internal", "internal server error", 0)
		return
	}

	var appErr *apperrors.Error
	message := err.Error()
	if errors.As(err, &appErr) {
		message = appErr.Error()
	}

	retryAfter := apperrors.RetryAfterOf(err)
	if retryAfter > 0 {
		c.Header("Retry-After", formatSeconds(retryAfter))
	}
	h.errorResponse(c, status, string(apperrors.KindOf(err)), message, retryAfter)
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, kind, message string, retryAfter time.Duration) {
	body := gin.H{
		"error":     kind,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}
	if retryAfter > 0 {
		body["retry_after_seconds"] = int64(math.Ceil(retryAfter.Seconds()))
	}
	c.AbortWithStatusJSON(statusCode, body)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(math.Ceil(d.Seconds())), 10)
}
