package ai

import (
	"math/rand"
	"regexp"
	"time"
)

// retryablePatterns matches transport-level failures worth retrying:
// rate limits, 5xx responses, connection resets, timeouts.
var retryablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rate.?limit`),
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)\b5\d\d\b`),
	regexp.MustCompile(`(?i)overloaded`),
	regexp.MustCompile(`(?i)connection (reset|refused)`),
	regexp.MustCompile(`(?i)(timeout|timed out|deadline exceeded)`),
	regexp.MustCompile(`(?i)stream (reset|closed unexpectedly)`),
	regexp.MustCompile(`(?i)EOF$`),
}

// IsRetryable reports whether the error message of a failed model call
// represents a transient transport fault. Context overflows, auth failures,
// and malformed-request errors are not retryable.
func IsRetryable(errMsg string) bool {
	if errMsg == "" {
		return false
	}
	if IsContextOverflow(&AssistantMessage{StopReason: StopReasonError, ErrorMessage: errMsg}, 0) {
		return false
	}
	for _, re := range retryablePatterns {
		if re.MatchString(errMsg) {
			return true
		}
	}
	return false
}

// RetryDelay returns the backoff delay before retry attempt (0-based):
// base * 2^attempt with ±25% jitter, capped at 30s.
func RetryDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	const maxDelay = 30 * time.Second
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	// ±25% jitter so synchronized clients don't retry in lockstep.
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	return d + jitter
}
