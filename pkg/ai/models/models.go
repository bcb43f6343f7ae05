// Package models is a static registry of model metadata. The compressor
// uses it to size context windows; the CLI uses it to validate profiles.
package models

import "strings"

// Info holds static metadata for a known model.
type Info struct {
	ID              string
	Provider        string
	DisplayName     string
	ContextWindow   int // max prompt tokens
	MaxOutputTokens int
	Thinking        bool // has an extended-reasoning mode
}

// DefaultContextWindow is assumed for models not in the registry.
const DefaultContextWindow = 128000

var registry = buildRegistry()

// Lookup returns metadata for id, or nil when unknown. Exact match wins;
// otherwise a prefix match handles date-suffixed IDs such as
// "claude-sonnet-4-5-20251219" against the "claude-sonnet-4-5" key.
func Lookup(id string) *Info {
	if m, ok := registry[id]; ok {
		return m
	}
	id = strings.ToLower(id)
	for k, m := range registry {
		kl := strings.ToLower(k)
		if strings.HasPrefix(id, kl) || strings.HasPrefix(kl, id) {
			return m
		}
	}
	return nil
}

// ContextWindowFor returns the context window for id, falling back to
// DefaultContextWindow for unknown models.
func ContextWindowFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.ContextWindow
	}
	return DefaultContextWindow
}

// MaxOutputFor returns the output token ceiling for id, or 0 if unknown.
func MaxOutputFor(id string) int {
	if m := Lookup(id); m != nil {
		return m.MaxOutputTokens
	}
	return 0
}

// All returns every registered model, unsorted.
func All() []*Info {
	out := make([]*Info, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	return out
}

func buildRegistry() map[string]*Info {
	ms := []*Info{
		// Anthropic
		{ID: "claude-opus-4-5", Provider: "anthropic", DisplayName: "Claude Opus 4.5",
			ContextWindow: 200000, MaxOutputTokens: 32000, Thinking: true},
		{ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
			ContextWindow: 200000, MaxOutputTokens: 64000, Thinking: true},
		{ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
			ContextWindow: 200000, MaxOutputTokens: 16000},
		{ID: "claude-3-7-sonnet-20250219", Provider: "anthropic", DisplayName: "Claude 3.7 Sonnet",
			ContextWindow: 200000, MaxOutputTokens: 64000, Thinking: true},
		{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku",
			ContextWindow: 200000, MaxOutputTokens: 8192},

		// OpenAI
		{ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
			ContextWindow: 128000, MaxOutputTokens: 16384},
		{ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
			ContextWindow: 128000, MaxOutputTokens: 16384},
		{ID: "o3", Provider: "openai", DisplayName: "o3",
			ContextWindow: 200000, MaxOutputTokens: 100000, Thinking: true},
		{ID: "o4-mini", Provider: "openai", DisplayName: "o4-mini",
			ContextWindow: 200000, MaxOutputTokens: 100000, Thinking: true},

		// Claude on Bedrock
		{ID: "us.anthropic.claude-3-7-sonnet-20250219-v1:0", Provider: "bedrock",
			DisplayName: "Claude 3.7 Sonnet (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 64000, Thinking: true},
		{ID: "us.anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "bedrock",
			DisplayName: "Claude 3.5 Sonnet (Bedrock)",
			ContextWindow: 200000, MaxOutputTokens: 8192},
	}

	out := make(map[string]*Info, len(ms))
	for _, m := range ms {
		out[m.ID] = m
	}
	return out
}
