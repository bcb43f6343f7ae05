// Context overflow detection.
//
// IsContextOverflow checks whether an assistant message represents a
// context-window overflow. Two detection strategies are used in order:
//
//  1. Error message pattern matching, covering the known provider error formats.
//  2. Silent overflow: usage.Input exceeds the known context window, for
//     providers that accept over-long requests without an error.
//
// Strategy 1 relies on string matching; if a provider changes its error
// format, detection fails until the pattern list is updated.

package ai

import "regexp"

// overflowPatterns matches error messages returned by providers when the
// input exceeds the model's context window.
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)prompt is too long`),                    // Anthropic
	regexp.MustCompile(`(?i)input is too long for requested model`), // Amazon Bedrock
	regexp.MustCompile(`(?i)exceed.*context window`),                // OpenAI
	regexp.MustCompile(`(?i)maximum context length is \d+ tokens`),  // OpenRouter backends
	regexp.MustCompile(`(?i)reduce the length of the messages`),     // Groq
	regexp.MustCompile(`(?i)context[_ ]length[_ ]exceeded`),         // Generic fallback
	regexp.MustCompile(`(?i)too many tokens`),                       // Generic fallback
	regexp.MustCompile(`(?i)token limit exceeded`),                  // Generic fallback
}

// statusOverflowPattern matches providers that return a bare 400/413 with no
// body for context overflow (distinct from 429 rate limiting).
var statusOverflowPattern = regexp.MustCompile(`(?i)^4(00|13)\s*(status code)?\s*\(no body\)`)

// IsContextOverflow reports whether msg represents a context-window overflow.
// Pass contextWindow = 0 to skip the silent-overflow check.
func IsContextOverflow(msg *AssistantMessage, contextWindow int) bool {
	if msg == nil {
		return false
	}

	if msg.StopReason == StopReasonError && msg.ErrorMessage != "" {
		for _, re := range overflowPatterns {
			if re.MatchString(msg.ErrorMessage) {
				return true
			}
		}
		if statusOverflowPattern.MatchString(msg.ErrorMessage) {
			return true
		}
	}

	// Silent overflow: successful response but input > context window.
	if contextWindow > 0 && msg.StopReason == StopReasonStop {
		if msg.Usage.Input+msg.Usage.CacheRead > contextWindow {
			return true
		}
	}

	return false
}
