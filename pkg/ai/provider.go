package ai

import "context"

// Provider is a streaming LLM backend. The runtime drives every model round
// through this interface: it consumes the event channel for live display
// while the round runs, then calls the wait function for the sealed message
// that goes into the conversation.
type Provider interface {
	// Name is the stable backend identifier used in config and logs
	// ("anthropic", "openai", "bedrock").
	Name() string

	// Stream opens one streaming completion over llmCtx. The event channel
	// closes when the stream ends, including on cancellation and transport
	// failure, so consumers can always range over it. The wait function
	// blocks until the channel has closed and returns the final assistant
	// message, or the first error the stream hit.
	Stream(
		ctx context.Context,
		model string,
		llmCtx Context,
		opts StreamOptions,
	) (<-chan StreamEvent, func() (*AssistantMessage, error))
}
