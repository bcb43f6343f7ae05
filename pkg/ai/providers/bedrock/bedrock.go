// Package bedrock implements ai.Provider on Amazon Bedrock's ConverseStream
// API. Credentials come from the standard AWS SDK chain: environment
// variables, shared config profiles, then instance/task roles.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/writeflow-dev/writeflow/pkg/ai"
)

// Provider streams from Amazon Bedrock.
type Provider struct {
	Region  string
	Profile string

	// client is built lazily on first Stream and reused.
	client *bedrockruntime.Client
}

func New(region, profile string) *Provider {
	return &Provider{Region: region, Profile: profile}
}

func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) Stream(
	ctx context.Context,
	model string,
	llmCtx ai.Context,
	opts ai.StreamOptions,
) (<-chan ai.StreamEvent, func() (*ai.AssistantMessage, error)) {
	events := make(chan ai.StreamEvent, 64)
	var finalMsg *ai.AssistantMessage
	var finalErr error
	done := make(chan struct{})

	go func() {
		defer close(events)
		defer close(done)
		finalMsg, finalErr = p.stream(ctx, model, llmCtx, opts, events)
		if finalErr != nil {
			events <- ai.StreamEvent{Type: ai.StreamEventError, Error: finalErr}
		}
	}()

	return events, func() (*ai.AssistantMessage, error) {
		<-done
		return finalMsg, finalErr
	}
}

func (p *Provider) stream(
	ctx context.Context,
	model string,
	llmCtx ai.Context,
	opts ai.StreamOptions,
	events chan<- ai.StreamEvent,
) (*ai.AssistantMessage, error) {
	if p.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if p.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(p.Region))
		}
		if p.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(p.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("bedrock: load config: %w", err)
		}
		p.client = bedrockruntime.NewFromConfig(cfg)
	}

	input, err := buildInput(model, llmCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("bedrock: build input: %w", err)
	}

	resp, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	partial := &ai.AssistantMessage{
		Role:      ai.RoleAssistant,
		Model:     model,
		Provider:  "bedrock",
		Timestamp: time.Now().UnixMilli(),
	}
	events <- ai.StreamEvent{Type: ai.StreamEventStart, Partial: snapshot(partial)}

	// Bedrock block index → index into partial.Content.
	blockIdx := map[int32]int{}
	// Bedrock block index → accumulated tool-use argument JSON.
	toolArgs := map[int32]string{}

	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			idx := aws.ToInt32(ev.Value.ContentBlockIndex)
			switch s := ev.Value.Start.(type) {
			case *types.ContentBlockStartMemberToolUse:
				partial.Content = append(partial.Content, ai.ToolCall{
					Type:      "tool_call",
					ID:        aws.ToString(s.Value.ToolUseId),
					Name:      aws.ToString(s.Value.Name),
					Arguments: map[string]any{},
				})
				blockIdx[idx] = len(partial.Content) - 1
				events <- ai.StreamEvent{
					Type:    ai.StreamEventToolCallStart,
					Partial: snapshot(partial),
					Delta:   aws.ToString(s.Value.Name),
					CallID:  aws.ToString(s.Value.ToolUseId),
				}
			default:
				partial.Content = append(partial.Content, ai.TextContent{Type: "text"})
				blockIdx[idx] = len(partial.Content) - 1
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			idx := aws.ToInt32(ev.Value.ContentBlockIndex)
			ci, ok := blockIdx[idx]
			if !ok {
				// Text deltas may arrive without a preceding block start.
				if _, isText := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); isText {
					partial.Content = append(partial.Content, ai.TextContent{Type: "text"})
					ci = len(partial.Content) - 1
					blockIdx[idx] = ci
				} else {
					continue
				}
			}
			switch d := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				tb := partial.Content[ci].(ai.TextContent)
				tb.Text += d.Value
				partial.Content[ci] = tb
				events <- ai.StreamEvent{Type: ai.StreamEventTextDelta, Partial: snapshot(partial), Delta: d.Value}
			case *types.ContentBlockDeltaMemberToolUse:
				toolArgs[idx] += aws.ToString(d.Value.Input)
				if tc, ok := partial.Content[ci].(ai.ToolCall); ok {
					events <- ai.StreamEvent{Type: ai.StreamEventToolCallDelta, Partial: snapshot(partial), Delta: aws.ToString(d.Value.Input), CallID: tc.ID}
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			idx := aws.ToInt32(ev.Value.ContentBlockIndex)
			ci, ok := blockIdx[idx]
			if !ok {
				continue
			}
			if tc, ok := partial.Content[ci].(ai.ToolCall); ok {
				if argsStr := toolArgs[idx]; argsStr != "" {
					var args map[string]any
					_ = json.Unmarshal([]byte(argsStr), &args)
					tc.Arguments = args
					partial.Content[ci] = tc
				}
				events <- ai.StreamEvent{Type: ai.StreamEventToolCallEnd, Partial: snapshot(partial), CallID: tc.ID}
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			partial.StopReason = mapStopReason(ev.Value.StopReason)

		case *types.ConverseStreamOutputMemberMetadata:
			if u := ev.Value.Usage; u != nil {
				partial.Usage.Input = int(aws.ToInt32(u.InputTokens))
				partial.Usage.Output = int(aws.ToInt32(u.OutputTokens))
				partial.Usage.TotalTokens = partial.Usage.Input + partial.Usage.Output
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("bedrock: stream: %w", err)
	}

	if partial.StopReason == "" {
		partial.StopReason = ai.StopReasonStop
	}
	events <- ai.StreamEvent{Type: ai.StreamEventDone, Partial: snapshot(partial)}
	return partial, nil
}

// ---------------------------------------------------------------------------
// Input building
// ---------------------------------------------------------------------------

func buildInput(model string, llmCtx ai.Context, opts ai.StreamOptions) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(model),
	}

	if llmCtx.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: llmCtx.SystemPrompt},
			// Cache breakpoint after the stable system prefix.
			&types.SystemContentBlockMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			},
		}
	}

	ic := &types.InferenceConfiguration{}
	if opts.MaxTokens > 0 {
		ic.MaxTokens = aws.Int32(int32(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		ic.Temperature = aws.Float32(float32(*opts.Temperature))
	}
	input.InferenceConfig = ic

	msgs, err := convertMessages(llmCtx.Messages)
	if err != nil {
		return nil, err
	}
	input.Messages = msgs

	if len(llmCtx.Tools) > 0 {
		tools := make([]types.Tool, 0, len(llmCtx.Tools))
		for _, t := range llmCtx.Tools {
			var schema map[string]any
			_ = json.Unmarshal(t.Parameters, &schema)
			tools = append(tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(t.Name),
					Description: aws.String(t.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{
						Value: document.NewLazyDocument(schema),
					},
				},
			})
		}
		input.ToolConfig = &types.ToolConfiguration{
			Tools:      tools,
			ToolChoice: &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}},
		}
	}

	return input, nil
}

func convertMessages(msgs []ai.Message) ([]types.Message, error) {
	var out []types.Message
	for _, m := range msgs {
		switch msg := m.(type) {
		case ai.UserMessage:
			var blocks []types.ContentBlock
			for _, c := range msg.Content {
				if tc, ok := c.(ai.TextContent); ok {
					blocks = append(blocks, &types.ContentBlockMemberText{Value: tc.Text})
				}
			}
			out = append(out, types.Message{Role: types.ConversationRoleUser, Content: blocks})

		case ai.AssistantMessage:
			var blocks []types.ContentBlock
			for _, c := range msg.Content {
				switch blk := c.(type) {
				case ai.TextContent:
					if strings.TrimSpace(blk.Text) != "" {
						blocks = append(blocks, &types.ContentBlockMemberText{Value: blk.Text})
					}
				case ai.ToolCall:
					blocks = append(blocks, &types.ContentBlockMemberToolUse{
						Value: types.ToolUseBlock{
							ToolUseId: aws.String(blk.ID),
							Name:      aws.String(blk.Name),
							Input:     document.NewLazyDocument(blk.Arguments),
						},
					})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})

		case ai.ToolResultMessage:
			var content []types.ToolResultContentBlock
			for _, c := range msg.Content {
				if tc, ok := c.(ai.TextContent); ok {
					content = append(content, &types.ToolResultContentBlockMemberText{Value: tc.Text})
				}
			}
			status := types.ToolResultStatusSuccess
			if msg.IsError {
				status = types.ToolResultStatusError
			}
			block := &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(msg.ToolCallID),
					Status:    status,
					Content:   content,
				},
			}
			// Consecutive tool results must share one user message.
			if len(out) > 0 && out[len(out)-1].Role == types.ConversationRoleUser {
				out[len(out)-1].Content = append(out[len(out)-1].Content, block)
			} else {
				out = append(out, types.Message{
					Role:    types.ConversationRoleUser,
					Content: []types.ContentBlock{block},
				})
			}
		}
	}
	return out, nil
}

func snapshot(msg *ai.AssistantMessage) *ai.AssistantMessage {
	cp := *msg
	cp.Content = make([]ai.ContentBlock, len(msg.Content))
	copy(cp.Content, msg.Content)
	return &cp
}

func mapStopReason(r types.StopReason) ai.StopReason {
	switch r {
	case types.StopReasonEndTurn:
		return ai.StopReasonStop
	case types.StopReasonMaxTokens:
		return ai.StopReasonLength
	case types.StopReasonToolUse:
		return ai.StopReasonTool
	default:
		return ai.StopReasonStop
	}
}
