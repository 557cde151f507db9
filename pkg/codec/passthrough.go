package codec

import (
	"strings"

	"rework/pkg/edit"
)

// architect returns the design narrative of a two-phase edit. The caller
// re-prompts with the narrative in an edit-producing format.
type architect struct{}

func (architect) Format() Format { return FormatArchitect }

func (architect) Instructions() string {
	return "Explain how to make the requested change: which files change and what changes in each. " +
		"Be precise but do not write the edits themselves; an editor will apply your plan."
}

func (architect) Parse(response string, _ Snapshot) (*Result, error) {
	narrative := strings.TrimSpace(response)
	if narrative == "" {
		return nil, edit.Malformed(edit.ReasonEmptyResponse, "", "architect response is empty")
	}
	return &Result{Narrative: narrative, Text: narrative}, nil
}

func (architect) Render([]edit.FileEdit, Snapshot) string { return "" }

// passThrough serves ask and help: the response is shown as-is.
type passThrough struct {
	format Format
}

func (p passThrough) Format() Format { return p.format }

func (p passThrough) Instructions() string {
	if p.format == FormatHelp {
		return "Answer questions about how to use this tool. Do not propose code edits."
	}
	return "Answer the question about the code. Do not propose edits."
}

func (passThrough) Parse(response string, _ Snapshot) (*Result, error) {
	return &Result{Text: strings.TrimSpace(response)}, nil
}

func (passThrough) Render([]edit.FileEdit, Snapshot) string { return "" }
