// Package anthropic adapts the Anthropic Messages API to llm.Client.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"rework/pkg/llm"
	"rework/pkg/llm/llmerrors"
	"rework/pkg/tools"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "claude-sonnet-4-5"

// Client streams completions from Claude.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New builds a raw client; middleware is applied by the factory.
func New(apiKey, model, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: anthropic.NewClient(opts...), model: anthropic.Model(model)}
}

func (c *Client) ModelName() string {
	return string(c.model)
}

// Stream implements llm.Client.
//
//nolint:gocritic // Request passed by value to match the interface
func (c *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.Event, error) {
	system, messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		params.Tools = convertTools(in.Tools)
		if name, forced := in.ForcedTool(); forced {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: name}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	out := make(chan llm.Event)
	go func() {
		defer close(out)
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				llm.Send(ctx, out, llm.ErrEvent(llmerrors.NewStreamError(err)))
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
					if !llm.Send(ctx, out, llm.TextDelta(text.Text)) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			llm.Send(ctx, out, llm.ErrEvent(classifyError(err)))
			return
		}

		for i := range message.Content {
			block := &message.Content[i]
			if block.Type != "tool_use" {
				continue
			}
			use := block.AsToolUse()
			var args map[string]any
			if len(use.Input) > 0 {
				if err := json.Unmarshal(use.Input, &args); err != nil {
					llm.Send(ctx, out, llm.ErrEvent(llmerrors.NewStreamError(fmt.Errorf("tool %s input: %w", use.Name, err))))
					return
				}
			}
			if !llm.Send(ctx, out, llm.ToolCallEvent(llm.ToolCall{ID: use.ID, Name: use.Name, Parameters: args})) {
				return
			}
		}
		llm.Send(ctx, out, llm.DoneEvent(string(message.StopReason)))
	}()
	return out, nil
}

// convertMessages extracts the system prompt and folds the rest into strict
// user/assistant alternation. Tool results become tool_result blocks on a
// user message; consecutive user-side messages are merged.
func convertMessages(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return "", nil, errors.New("no non-system messages")
	}

	var (
		out     []anthropic.MessageParam
		pending []anthropic.ContentBlockParamUnion
	)
	flushUser := func() {
		if len(pending) > 0 {
			out = append(out, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for i := range rest {
		msg := &rest[i]
		switch msg.Role {
		case llm.RoleAssistant:
			flushUser()
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Parameters
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock("(no content)"))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		case llm.RoleUser:
			if msg.Content != "" {
				pending = append(pending, anthropic.NewTextBlock(msg.Content))
			}
		default:
			return "", nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}
	flushUser()

	if len(out) == 0 {
		return "", nil, errors.New("all messages are empty")
	}
	if out[0].Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got %s", out[0].Role)
	}
	return system, out, nil
}

func convertTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]any, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			props[name] = propertySchema(&prop)
		}
		schema := anthropic.ToolInputSchemaParam{Properties: props, Required: def.InputSchema.Required}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool != nil && def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
}

func propertySchema(prop *tools.Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Items != nil {
		schema["items"] = propertySchema(prop.Items)
	}
	return schema
}

// classifyError maps SDK errors onto llmerrors types.
func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request interrupted")
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmerrors.ClassifyStatus(apiErr.StatusCode, err)
	}
	return llmerrors.ClassifyMessage(err)
}
