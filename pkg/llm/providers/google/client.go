// Package google adapts the Gemini API (google.golang.org/genai) to llm.Client.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"rework/pkg/llm"
	"rework/pkg/llm/llmerrors"
	"rework/pkg/tools"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-pro"

// Client streams Gemini responses. The SDK client needs a context to be
// built, so it is created on first use.
type Client struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

func New(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{apiKey: apiKey, model: model}
}

func (g *Client) ModelName() string {
	return g.model
}

func (g *Client) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	cfg := &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	g.client = client
	return client, nil
}

// Stream implements llm.Client.
//
//nolint:gocritic // Request passed by value to match the interface
func (g *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.Event, error) {
	client, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}
	contents, system, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion: %v", err))
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if in.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(in.MaxTokens, 1<<30)) //nolint:gosec // bounded above
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(in.Tools)}}
		calling := &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
		if name, forced := in.ForcedTool(); forced {
			calling = &genai.FunctionCallingConfig{
				Mode:                 genai.FunctionCallingConfigModeAny,
				AllowedFunctionNames: []string{name},
			}
		}
		config.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: calling}
	}

	out := make(chan llm.Event)
	go func() {
		defer close(out)
		var (
			calls  []llm.ToolCall
			finish string
		)
		for result, err := range client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				llm.Send(ctx, out, llm.ErrEvent(classifyError(err)))
				return
			}
			if result == nil {
				continue
			}
			if text := result.Text(); text != "" {
				if !llm.Send(ctx, out, llm.TextDelta(text)) {
					return
				}
			}
			for _, fc := range result.FunctionCalls() {
				id := fc.ID
				if id == "" {
					id = fmt.Sprintf("%s_%d", fc.Name, len(calls)+1)
				}
				calls = append(calls, llm.ToolCall{ID: id, Name: fc.Name, Parameters: fc.Args})
			}
			if len(result.Candidates) > 0 && result.Candidates[0].FinishReason != "" {
				finish = string(result.Candidates[0].FinishReason)
			}
		}
		for i := range calls {
			if !llm.Send(ctx, out, llm.ToolCallEvent(calls[i])) {
				return
			}
		}
		llm.Send(ctx, out, llm.DoneEvent(finish))
	}()
	return out, nil
}

// convertMessages maps messages onto Gemini contents. Assistant turns use the
// "model" role and tool results travel as function responses on a user turn.
func convertMessages(messages []llm.Message) ([]*genai.Content, string, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return nil, "", errors.New("no non-system messages")
	}
	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		msg := &rest[i]
		var (
			role  string
			parts []*genai.Part
		)
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
			parts = append(parts, &genai.Part{Text: msg.Content})
		case llm.RoleAssistant:
			role = "model"
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Parameters}})
			}
		case llm.RoleTool:
			role = "user"
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:   msg.ToolCallID,
				Name: msg.ToolName,
				Response: map[string]any{
					"content":  msg.Content,
					"is_error": msg.IsError,
				},
			}})
		default:
			return nil, "", fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, system, nil
}

func convertTools(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			props[name] = propertySchema(&prop)
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: props,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return out
}

func propertySchema(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{Description: prop.Description, Enum: prop.Enum}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = propertySchema(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
	default:
		schema.Type = genai.TypeString
	}
	return schema
}

func classifyError(err error) *llmerrors.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request interrupted")
	}
	return llmerrors.ClassifyMessage(err)
}
