package codec

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"rework/pkg/edit"
)

var listMarkerRe = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)

// contextSelect reads the files the model wants added to the chat.
type contextSelect struct{}

func (contextSelect) Format() Format { return FormatContext }

func (contextSelect) Instructions() string {
	return "List the files you need to see to make the change, one path per line. " +
		"Glob patterns such as pkg/**/*.go are allowed. Do not edit anything yet."
}

func (contextSelect) Parse(response string, snap Snapshot) (*Result, error) {
	if strings.TrimSpace(response) == "" {
		return nil, edit.Malformed(edit.ReasonEmptyResponse, "", "response is empty")
	}

	res := &Result{}
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			res.ContextPaths = append(res.ContextPaths, p)
		}
	}

	var prose []string
	for _, line := range splitResponse(response) {
		if _, isFence := fence(line); isFence {
			continue
		}
		token := strings.TrimSpace(listMarkerRe.ReplaceAllString(line, ""))
		token = strings.Trim(token, "`*'\",:")
		if token == "" {
			continue
		}
		if strings.ContainsAny(token, " \t") {
			prose = append(prose, line)
			continue
		}

		if strings.ContainsAny(token, "*?[{") {
			matched := false
			for _, p := range snap.Paths() {
				if ok, _ := doublestar.Match(token, p); ok {
					add(p)
					matched = true
				}
			}
			if !matched {
				res.Warnings = append(res.Warnings, edit.Warning{Path: token, Hunk: -1, Message: "pattern matched no files"})
			}
			continue
		}

		p, warn := resolve(token, snap)
		if !snap.Has(p) {
			if looksLikePath(token) {
				res.Warnings = append(res.Warnings, edit.Warning{Path: token, Hunk: -1, Message: "file not found"})
			} else {
				prose = append(prose, line)
			}
			continue
		}
		if warn != nil {
			res.Warnings = append(res.Warnings, *warn)
		}
		add(p)
	}

	res.Text = strings.TrimSpace(strings.Join(prose, "\n"))
	return res, nil
}

func (contextSelect) Render(edits []edit.FileEdit, _ Snapshot) string {
	var b strings.Builder
	for _, e := range edits {
		b.WriteString(e.Path + "\n")
	}
	return b.String()
}
