package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"rework/pkg/codec"
	"rework/pkg/config"
	"rework/pkg/llm"
	"rework/pkg/tools"
)

const basePrompt = `You are an expert software engineer working inside the user's repository.
Make the smallest change that fully answers the request. Keep the existing
style, naming and structure of the code you touch. Never invent file
contents you have not been shown; ask for a file when you need it.`

const autonomousPrompt = `Work through the request with the tools below. Read before you edit,
apply edits with the apply tool, and call done with a short summary once
the request is complete. Reply with plain text only when you have a
question for the user.`

const deterministicPrompt = `Reply by calling %s exactly once with all of your edits.`

const implementPrompt = `Implement the plan above. Emit every change it describes as edits in the %s format.`

const retryPrompt = `The edits could not be applied:
%s

Send the corrected edits again in the %s format. Only resend files that failed.`

// promptInput is what one invocation's system prompt is assembled from.
type promptInput struct {
	format  codec.Format
	mode    string
	tool    string // forced tool, deterministic mode only
	repoMap string
	docs    string // tool documentation, autonomous mode only
}

// systemPrompt renders the instructions for format, the repo map and the
// current contents of every context file.
func (s *Session) systemPrompt(ctx context.Context, in promptInput) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if c, err := codec.Lookup(in.format); err == nil {
		b.WriteString("\n\n# Response format\n\n")
		b.WriteString(c.Instructions())
	}
	switch {
	case in.mode == config.ModeAutonomous && in.docs != "":
		b.WriteString("\n\n")
		b.WriteString(autonomousPrompt)
		b.WriteString("\n\n")
		b.WriteString(in.docs)
	case in.tool != "":
		b.WriteString("\n\n")
		fmt.Fprintf(&b, deterministicPrompt, in.tool)
	}

	if in.repoMap != "" {
		b.WriteString("\n\n# Repository map\n\n")
		b.WriteString(in.repoMap)
	}

	files := s.ContextFiles()
	if len(files) > 0 {
		b.WriteString("\n\n# Files in the chat\n\nThese are the current contents. Edit only these files unless you add others.\n")
		for _, rel := range files {
			if ctx.Err() != nil {
				break
			}
			content, exists, err := s.ws.ReadFile(rel)
			if err != nil || !exists {
				s.logger.Warn("Context file %s unreadable, skipping: %v", rel, err)
				continue
			}
			fence := "```"
			for strings.Contains(content, fence) {
				fence += "`"
			}
			fmt.Fprintf(&b, "\n%s\n%s\n%s", rel, fence, content)
			if !strings.HasSuffix(content, "\n") {
				b.WriteString("\n")
			}
			b.WriteString(fence)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// request assembles one model request from the live log.
func (s *Session) request(ctx context.Context, in promptInput, defs []tools.ToolDefinition, choice string) llm.Request {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: s.systemPrompt(ctx, in)}}
	msgs = append(msgs, llm.FromTurns(s.conv().Turns())...)
	return llm.Request{
		Messages:    msgs,
		Tools:       defs,
		ToolChoice:  choice,
		MaxTokens:   s.cfg.Model.MaxTokens,
		Temperature: float32(s.cfg.Model.Temperature),
	}
}

// mentionedWords pulls identifier-like words from a message for repo map
// ranking.
func mentionedWords(message string) []string {
	return strings.FieldsFunc(message, func(r rune) bool {
		return !(r == '_' || r == '.' || r == '/' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
}
