package codec

import (
	"fmt"
	"strings"

	"rework/pkg/edit"
)

// wholeFile expects one fenced block per file holding the complete new content.
type wholeFile struct{}

func (wholeFile) Format() Format { return FormatWhole }

func (wholeFile) Instructions() string {
	return "Return every file you change in full. Put the file path on its own line, " +
		"then the complete file content in a fenced code block. Do not elide any lines."
}

func (wholeFile) Parse(response string, snap Snapshot) (*Result, error) {
	if strings.TrimSpace(response) == "" {
		return nil, edit.Malformed(edit.ReasonEmptyResponse, "", "response is empty")
	}

	lines := splitResponse(response)
	res := &Result{}
	index := map[string]int{}
	used := map[int]bool{}
	block := 0

	for i := 0; i < len(lines); i++ {
		info, ok := fence(lines[i])
		if !ok {
			continue
		}
		block++
		name := filenameFromInfo(info)
		if name == "" {
			var at int
			if name, at = filenameBefore(lines, i); name != "" {
				used[at] = true
			}
		}

		start := i + 1
		end := -1
		for j := start; j < len(lines); j++ {
			if closesFence(lines[j]) {
				end = j
				break
			}
		}
		if end < 0 {
			return nil, edit.Malformed(edit.ReasonUnterminatedBlock, name, "code block %d has no closing fence", block)
		}
		body := lines[start:end]
		for k := start; k <= end; k++ {
			used[k] = true
		}
		i = end

		// A leading "# File: path" line, or "# path" naming a known file, is a header.
		if len(body) > 0 {
			if m := fileCommentRe.FindStringSubmatch(body[0]); m != nil && name == "" {
				name = cleanPath(m[1])
				body = body[1:]
			} else if m := bareCommentRe.FindStringSubmatch(body[0]); m != nil && snap.Has(m[1]) && (name == "" || name == cleanPath(m[1])) {
				name = cleanPath(m[1])
				body = body[1:]
			}
		}
		if name == "" {
			return nil, edit.Malformed(edit.ReasonMissingFilename, "", "code block %d has no file path; put the path on the line before the fence", block)
		}

		resolved, warn := resolve(name, snap)
		if warn != nil {
			res.Warnings = append(res.Warnings, *warn)
		}
		fe := edit.FileEdit{
			Path:    resolved,
			Kind:    edit.KindCreate,
			Content: joinLines(body),
			Source:  string(FormatWhole),
		}
		if snap.Has(resolved) {
			fe.Kind = edit.KindReplace
		}
		if prev, dup := index[resolved]; dup {
			res.Edits[prev] = fe
			res.Warnings = append(res.Warnings, edit.Warning{Path: resolved, Hunk: -1, Message: "file given more than once; using the last block"})
			continue
		}
		index[resolved] = len(res.Edits)
		res.Edits = append(res.Edits, fe)
	}

	res.Text = proseLines(lines, used)
	return res, nil
}

func (wholeFile) Render(edits []edit.FileEdit, snap Snapshot) string {
	var b strings.Builder
	for _, e := range edits {
		if e.Kind == edit.KindDelete {
			fmt.Fprintf(&b, "%s\n(deleted)\n\n", e.Path)
			continue
		}
		_, after, err := preview(e, snap)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s\n```\n%s", e.Path, after)
		if after != "" && !strings.HasSuffix(after, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}
	if b.Len() == 0 {
		return ""
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
