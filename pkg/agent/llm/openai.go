package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"
)

// openaiClient backs Client via github.com/openai/openai-go/v3, adapted from
// the same Chat Completions request-construction pattern used for the
// Anthropic backend, retargeted at OpenAI's message/tool-call shapes.
type openaiClient struct {
	sdk *openai.Client
}

func newOpenAIClient(apiKey, baseURL string) *openaiClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &openaiClient{sdk: &client}
}

func (c *openaiClient) Close() error { return nil }

func (c *openaiClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	params := buildOpenAIParams(req)

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		toolCalls := map[int64]*ToolCall{}
		begun := map[int64]bool{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				events <- Event{Kind: EventDeltaText, DeltaText: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := tc.Index
				existing, ok := toolCalls[idx]
				if !ok {
					existing = &ToolCall{}
					toolCalls[idx] = existing
				}
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				if !begun[idx] && existing.ID != "" && existing.Name != "" {
					begun[idx] = true
					events <- Event{Kind: EventToolCallBegin, ToolCallID: existing.ID, ToolName: existing.Name}
				}
				if tc.Function.Arguments != "" {
					existing.Arguments += tc.Function.Arguments
					if begun[idx] {
						events <- Event{Kind: EventToolCallArgs, ToolCallID: existing.ID, ArgsDelta: tc.Function.Arguments}
					}
				}
			}

			if choice.FinishReason != "" {
				for idx, tc := range toolCalls {
					final := *tc
					events <- Event{Kind: EventToolCallEnd, ToolCallID: tc.ID, FinalToolCall: &final}
					delete(toolCalls, idx)
				}
			}

			if u := chunk.Usage; u.TotalTokens > 0 {
				events <- Event{Kind: EventUsage, Usage: Usage{
					InputTokens:  int(u.PromptTokens),
					OutputTokens: int(u.CompletionTokens),
					TotalTokens:  int(u.TotalTokens),
				}}
			}
		}

		if err := stream.Err(); err != nil && !errors.Is(err, ssestream.ErrStreamClosed) {
			var apiErr *openai.Error
			retryable := errors.As(err, &apiErr) && apiErr.StatusCode >= 500
			events <- Event{Kind: EventError, Err: err, Retryable: retryable}
			return
		}

		events <- Event{Kind: EventDone}
	}()

	return events, nil
}

func buildOpenAIParams(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				msg.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case RoleTool:
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	var tools []openai.ChatCompletionToolParam
	for _, t := range req.Tools {
		var schema map[string]any
		if t.ParametersSchema != "" {
			_ = json.Unmarshal([]byte(t.ParametersSchema), &schema)
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
		Tools:    tools,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ToolChoice == ToolChoiceRequired && len(tools) > 0 {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("required"),
		}
	}
	return params
}
