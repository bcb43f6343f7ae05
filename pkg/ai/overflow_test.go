package ai

import (
	"testing"
	"time"
)

func TestIsContextOverflow_ErrorPatterns(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want bool
	}{
		{"anthropic", "prompt is too long: 210000 tokens > 200000 maximum", true},
		{"bedrock", "Input is too long for requested model.", true},
		{"openai", "This model's maximum context length exceeded: your messages exceed the context window", true},
		{"generic underscore", "context_length_exceeded", true},
		{"bare 413", "413 status code (no body)", true},
		{"rate limit is not overflow", "429 rate limit exceeded", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &AssistantMessage{StopReason: StopReasonError, ErrorMessage: tc.msg}
			if got := IsContextOverflow(m, 0); got != tc.want {
				t.Errorf("IsContextOverflow(%q) = %v, want %v", tc.msg, got, tc.want)
			}
		})
	}
}

func TestIsContextOverflow_Silent(t *testing.T) {
	m := &AssistantMessage{
		StopReason: StopReasonStop,
		Usage:      Usage{Input: 250000},
	}
	if !IsContextOverflow(m, 200000) {
		t.Error("silent overflow not detected when input > window")
	}
	if IsContextOverflow(m, 0) {
		t.Error("silent overflow check should be skipped when window is 0")
	}
	if IsContextOverflow(nil, 200000) {
		t.Error("nil message should never be an overflow")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []string{
		"429 Too Many Requests",
		"rate limit exceeded, retry after 2s",
		"502 Bad Gateway",
		"connection reset by peer",
		"context deadline exceeded",
	}
	for _, s := range retryable {
		if !IsRetryable(s) {
			t.Errorf("IsRetryable(%q) = false, want true", s)
		}
	}

	notRetryable := []string{
		"",
		"invalid api key",
		"prompt is too long: context overflow",
	}
	for _, s := range notRetryable {
		if IsRetryable(s) {
			t.Errorf("IsRetryable(%q) = true, want false", s)
		}
	}
}

func TestRetryDelay_GrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	prev := time.Duration(0)
	for attempt := 0; attempt < 4; attempt++ {
		d := RetryDelay(attempt, base)
		// Jitter is ±25%, so the nominal doubling still dominates.
		if d < prev/2 {
			t.Errorf("attempt %d: delay %v shrank below half of previous %v", attempt, d, prev)
		}
		prev = d
	}
	if d := RetryDelay(30, base); d > 45*time.Second {
		t.Errorf("delay should cap near 30s, got %v", d)
	}
}
