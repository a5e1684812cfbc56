package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ClassifiedError is implemented by errors that know whether a retry can help.
type ClassifiedError interface {
	error
	Retryable() bool
	Kind() string
}

// RateLimitedError is implemented by provider errors that carry a 429.
type RateLimitedError interface {
	error
	RateLimited() bool
}

var quotaIndicators = []string{
	"429",
	"quota",
	"rate limit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
}

var connectionIndicators = []string{
	"connection refused",
	"no such host",
	"network is unreachable",
	"connection reset",
	"dial tcp",
	"unexpected eof",
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// Context canceled - 调用方放弃，不重试
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	if IsRateLimit(err) {
		return true, "rate_limited"
	}

	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable(), ce.Kind()
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	// Database errors
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "duplicate key") {
		// 唯一约束冲突 - 不可重试（幂等性）
		return false, "duplicate_key"
	}

	// Context timeout - 可重试
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true, "connection_error"
		}
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// IsRateLimit reports provider throttling, typed or by message.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl RateLimitedError
	if errors.As(err, &rl) && rl.RateLimited() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsConnectionError reports transport-level failures worth a provider failover.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// ShouldRetry checks if an error should be retried based on attempt count
func ShouldRetry(attempt int, maxAttempts int, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return attempt < maxAttempts
}
