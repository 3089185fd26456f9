package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicClient backs Client via github.com/anthropics/anthropic-sdk-go.
// Message/tool conversion is grounded on the request-construction pattern
// (NewUserMessage/NewTextBlock/ToolUnionParamOfTool/NewToolResultBlock) seen
// in the Anthropic-backed agent loop of the retrieval pack.
type anthropicClient struct {
	sdk *anthropic.Client
}

func newAnthropicClient(apiKey string) *anthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &anthropicClient{sdk: &client}
}

func (c *anthropicClient) Close() error { return nil }

func (c *anthropicClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		stream := c.sdk.Messages.NewStreaming(ctx, params)

		var currentToolCall *ToolCall
		var argBuf strings.Builder

		for stream.Next() {
			evt := stream.Current()
			switch delta := evt.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if tu, ok := delta.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					currentToolCall = &ToolCall{ID: tu.ID, Name: tu.Name}
					argBuf.Reset()
					events <- Event{Kind: EventToolCallBegin, ToolCallID: tu.ID, ToolName: tu.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					events <- Event{Kind: EventDeltaText, DeltaText: d.Text}
				case anthropic.InputJSONDelta:
					if currentToolCall != nil {
						argBuf.WriteString(d.PartialJSON)
						events <- Event{Kind: EventToolCallArgs, ToolCallID: currentToolCall.ID, ArgsDelta: d.PartialJSON}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if currentToolCall != nil {
					currentToolCall.Arguments = argBuf.String()
					events <- Event{Kind: EventToolCallEnd, ToolCallID: currentToolCall.ID, FinalToolCall: currentToolCall}
					currentToolCall = nil
				}
			case anthropic.MessageDeltaEvent:
				if u := delta.Usage; u.OutputTokens > 0 {
					events <- Event{Kind: EventUsage, Usage: Usage{OutputTokens: int(u.OutputTokens)}}
				}
			}
		}

		if err := stream.Err(); err != nil {
			var apiErr *anthropic.Error
			retryable := errors.As(err, &apiErr) && apiErr.StatusCode >= 500
			events <- Event{Kind: EventError, Err: err, Retryable: retryable}
			return
		}

		events <- Event{Kind: EventDone}
	}()

	return events, nil
}

func buildAnthropicParams(req Request) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	var tools []anthropic.ToolUnionParam
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if t.ParametersSchema != "" {
			if err := json.Unmarshal([]byte(t.ParametersSchema), &schema); err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("invalid schema for tool %q: %w", t.Name, err)
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
		tool.OfTool.Description = anthropic.String(t.Description)
		tools = append(tools, tool)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(defaultInt(req.MaxTokens, 4096)),
		Messages:  messages,
		Tools:     tools,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.ToolChoice == ToolChoiceRequired && len(tools) > 0 {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAny: &anthropic.ToolChoiceAnyParam{},
		}
	}
	return params, nil
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
