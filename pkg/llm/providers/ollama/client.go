// Package ollama adapts a local Ollama server to llm.Client.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"rework/pkg/llm"
	"rework/pkg/llm/llmerrors"
	"rework/pkg/tools"
)

// DefaultHost is the server used when no base URL is configured.
const DefaultHost = "http://localhost:11434"

// Client streams chat responses from Ollama.
type Client struct {
	client *api.Client
	model  string
}

// New builds a client for hostURL, falling back to DefaultHost when it does
// not parse.
func New(hostURL, model string) *Client {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Client{client: api.NewClient(parsed, http.DefaultClient), model: model}
}

func (o *Client) ModelName() string {
	return o.model
}

// Stream implements llm.Client. Ollama reports tool calls on the chunk that
// carries them; they are forwarded once the final chunk arrives.
//
//nolint:gocritic // Request passed by value to match the interface
func (o *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.Event, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion: %v", err))
	}
	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
		},
	}
	if in.MaxTokens > 0 {
		req.Options["num_predict"] = in.MaxTokens
	}
	if len(in.Tools) > 0 && in.ToolChoice != llm.ToolChoiceNone {
		defs := in.Tools
		// Ollama cannot force a choice; narrowing the list is the closest match.
		if name, forced := in.ForcedTool(); forced {
			defs = nil
			for i := range in.Tools {
				if in.Tools[i].Name == name {
					defs = append(defs, in.Tools[i])
				}
			}
		}
		req.Tools = convertTools(defs)
	}

	out := make(chan llm.Event)
	go func() {
		defer close(out)
		var (
			calls  []llm.ToolCall
			reason string
		)
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !llm.Send(ctx, out, llm.TextDelta(resp.Message.Content)) {
					return ctx.Err()
				}
			}
			calls = append(calls, convertToolCalls(resp.Message.ToolCalls, len(calls))...)
			if resp.Done {
				reason = stopReason(&resp)
			}
			return nil
		})
		if err != nil {
			llm.Send(ctx, out, llm.ErrEvent(classifyError(err)))
			return
		}
		for i := range calls {
			if !llm.Send(ctx, out, llm.ToolCallEvent(calls[i])) {
				return
			}
		}
		llm.Send(ctx, out, llm.DoneEvent(reason))
	}()
	return out, nil
}

func convertMessages(messages []llm.Message) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("message list cannot be empty")
	}
	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser:
		case llm.RoleTool:
			m.ToolCallID = msg.ToolCallID
		case llm.RoleAssistant:
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				m.ToolCalls = append(m.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: api.ToolCallFunctionArguments(tc.Parameters),
					},
				})
			}
		default:
			return nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
		out = append(out, m)
	}
	return out, nil
}

func convertTools(defs []tools.ToolDefinition) api.Tools {
	out := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		props := make(map[string]api.ToolProperty, len(def.InputSchema.Properties))
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			props[name] = convertProperty(&prop)
		}
		schemaType := def.InputSchema.Type
		if schemaType == "" {
			schemaType = "object"
		}
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       schemaType,
					Properties: props,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return out
}

func convertProperty(prop *tools.Property) api.ToolProperty {
	p := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		p.Enum = make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			p.Enum[i] = v
		}
	}
	if prop.Items != nil {
		p.Items = convertProperty(prop.Items)
	}
	return p
}

// convertToolCalls assigns ids to calls the server left unnamed, numbering
// after the offset calls already collected.
func convertToolCalls(calls []api.ToolCall, offset int) []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(calls))
	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", offset+i+1)
		}
		out = append(out, llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: map[string]any(call.Function.Arguments),
		})
	}
	return out
}

func stopReason(resp *api.ChatResponse) string {
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "request interrupted")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "Ollama server not reachable")
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
	default:
		return llmerrors.ClassifyMessage(err)
	}
}
