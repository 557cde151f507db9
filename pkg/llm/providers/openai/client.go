// Package openai adapts the OpenAI chat-completions API to llm.Client. Any
// OpenAI-compatible endpoint works through the base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"rework/pkg/llm"
	"rework/pkg/llm/llmerrors"
	"rework/pkg/tools"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4.1"

// Client streams chat completions.
type Client struct {
	client openai.Client
	model  string
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
	return &Client{client: openai.NewClient(opts...), model: model}
}

func (c *Client) ModelName() string {
	return c.model
}

// Stream implements llm.Client.
//
//nolint:gocritic // Request passed by value to match the interface
func (c *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.Event, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    convertMessages(in.Messages),
		Temperature: openai.Float(float64(in.Temperature)),
	}
	if in.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(in.MaxTokens))
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		params.Tools = convertTools(in.Tools)
		if name, forced := in.ForcedTool(); forced {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: name},
				},
			}
		} else {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(llm.ToolChoiceAuto)}
		}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan llm.Event)
	go func() {
		defer close(out)
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !llm.Send(ctx, out, llm.TextDelta(chunk.Choices[0].Delta.Content)) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			llm.Send(ctx, out, llm.ErrEvent(classifyError(err)))
			return
		}
		if len(acc.Choices) == 0 {
			llm.Send(ctx, out, llm.DoneEvent("end_turn"))
			return
		}

		choice := acc.Choices[0]
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					llm.Send(ctx, out, llm.ErrEvent(llmerrors.NewStreamError(fmt.Errorf("tool %s arguments: %w", tc.Function.Name, err))))
					return
				}
			}
			if !llm.Send(ctx, out, llm.ToolCallEvent(llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Parameters: args})) {
				return
			}
		}
		llm.Send(ctx, out, llm.DoneEvent(string(choice.FinishReason)))
	}()
	return out, nil
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Parameters)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

func convertTools(defs []tools.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]any, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			props[name] = propertySchema(&prop)
		}
		required := def.InputSchema.Required
		if required == nil {
			required = []string{}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return out
}

func propertySchema(prop *tools.Property) map[string]any {
	schema := map[string]any{"type": prop.Type, "description": prop.Description}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = propertySchema(prop.Items)
	}
	return schema
}

func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request interrupted")
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.ClassifyStatus(apiErr.StatusCode, err)
	}
	return llmerrors.ClassifyMessage(err)
}
