package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"rework/pkg/conversation"
	"rework/pkg/llm"
)

const summaryPrompt = `Summarize the conversation below between a user and a coding assistant.
Keep every decision, file name, identifier and open question; drop pleasantries
and tool output details. Write plain prose, at most a few paragraphs.`

// maxSummaryInput caps how much of each turn is shown to the summarizer.
const maxSummaryInput = 2000

// NewModelSummarizer condenses turns with one tool-free call to client.
func NewModelSummarizer(client llm.Client) conversation.Summarizer {
	return conversation.SummarizerFunc(func(ctx context.Context, turns []conversation.Turn) (string, error) {
		var b strings.Builder
		for i := range turns {
			t := &turns[i]
			content := t.Content
			if len(content) > maxSummaryInput {
				content = content[:maxSummaryInput] + " [...]"
			}
			switch {
			case t.Role == conversation.RoleTool:
				fmt.Fprintf(&b, "[%s result] %s\n", t.ToolName, content)
			case len(t.ToolCalls) > 0:
				names := make([]string, 0, len(t.ToolCalls))
				for _, c := range t.ToolCalls {
					names = append(names, c.Name)
				}
				fmt.Fprintf(&b, "%s: %s (called %s)\n", t.Role, content, strings.Join(names, ", "))
			default:
				fmt.Fprintf(&b, "%s: %s\n", t.Role, content)
			}
		}

		events, err := client.Stream(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: summaryPrompt},
				{Role: llm.RoleUser, Content: b.String()},
			},
			ToolChoice:  llm.ToolChoiceNone,
			MaxTokens:   1024,
			Temperature: llm.TemperatureDeterministic,
		})
		if err != nil {
			return "", err
		}
		resp, err := llm.Collect(ctx, events, nil)
		if err != nil {
			return "", err
		}
		summary := strings.TrimSpace(resp.Content)
		if summary == "" {
			return "", fmt.Errorf("model returned an empty summary")
		}
		return summary, nil
	})
}
