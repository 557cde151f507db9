package codec

import (
	"fmt"
	"strconv"
	"strings"

	"rework/pkg/edit"
)

const (
	patchBegin     = "*** Begin Patch"
	patchEnd       = "*** End Patch"
	patchUpdate    = "*** Update File:"
	patchAdd       = "*** Add File:"
	patchDelete    = "*** Delete File:"
	patchMove      = "*** Move to:"
	patchEndOfFile = "*** End of File"
)

// patchEnvelope parses the "*** Begin Patch" grammar: per-file Update, Add and
// Delete sections with @@-separated hunks of space, minus and plus lines.
type patchEnvelope struct{}

func (patchEnvelope) Format() Format { return FormatPatch }

func (patchEnvelope) Instructions() string {
	return "Wrap all changes in one patch:\n" + patchBegin + "\n" +
		patchUpdate + " path/to/file\n@@\n unchanged line\n-removed line\n+added line\n" +
		patchAdd + " path/to/new\n+content\n" + patchDelete + " path/to/old\n" + patchEnd + "\n" +
		"Every hunk needs enough unchanged lines to be found exactly once."
}

func sectionPath(line, marker string) string {
	return cleanPath(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), marker)))
}

func (patchEnvelope) Parse(response string, snap Snapshot) (*Result, error) {
	if strings.TrimSpace(response) == "" {
		return nil, edit.Malformed(edit.ReasonEmptyResponse, "", "response is empty")
	}

	lines := splitResponse(response)
	res := &Result{}
	var prose []string

	for i := 0; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != patchBegin {
			if _, isFence := fence(lines[i]); !isFence {
				prose = append(prose, lines[i])
			}
			continue
		}
		end, err := parseEnvelope(lines, i+1, snap, res)
		if err != nil {
			return nil, err
		}
		i = end
	}

	res.Text = strings.TrimSpace(strings.Join(prose, "\n"))
	return res, nil
}

// parseEnvelope consumes sections up to the End Patch line and returns its index.
func parseEnvelope(lines []string, i int, snap Snapshot, res *Result) (int, error) {
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == patchEnd:
			return i, nil

		case strings.HasPrefix(line, patchUpdate):
			p := sectionPath(line, patchUpdate)
			if p == "" {
				return 0, edit.Malformed(edit.ReasonMissingFilename, "", "%s line has no path", patchUpdate)
			}
			i++
			if i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), patchMove) {
				res.Warnings = append(res.Warnings, edit.Warning{Path: p, Hunk: -1, Message: "move ignored; edit applied in place"})
				i++
			}
			var hunks []diffHunk
			for i < len(lines) {
				cur := lines[i]
				if strings.TrimSpace(cur) == patchEndOfFile {
					i++
					continue
				}
				if strings.HasPrefix(cur, "***") {
					break
				}
				h := diffHunk{}
				if strings.HasPrefix(cur, "@@") {
					if m := hunkHeaderRe.FindStringSubmatch(cur); m != nil {
						h.oldStart, _ = strconv.Atoi(m[1])
					}
					i++
				}
				next := parseHunkBody(lines, i, &h)
				if next == i && !strings.HasPrefix(cur, "@@") {
					return 0, edit.Malformed(edit.ReasonBadHunkHeader, p, "unexpected line %q in patch", cur)
				}
				i = next
				if len(h.old) > 0 || len(h.new) > 0 {
					hunks = append(hunks, h)
				}
			}
			fe, warns, err := diffEdit(p, p, hunks, snap, FormatPatch)
			if err != nil {
				return 0, err
			}
			res.Warnings = append(res.Warnings, warns...)
			res.Edits = append(res.Edits, fe)

		case strings.HasPrefix(line, patchAdd):
			p := sectionPath(line, patchAdd)
			if p == "" {
				return 0, edit.Malformed(edit.ReasonMissingFilename, "", "%s line has no path", patchAdd)
			}
			var body []string
			for i++; i < len(lines) && !strings.HasPrefix(lines[i], "***"); i++ {
				body = append(body, strings.TrimPrefix(lines[i], "+"))
			}
			for len(body) > 0 && body[len(body)-1] == "" {
				body = body[:len(body)-1]
			}
			res.Edits = append(res.Edits, edit.FileEdit{Path: p, Kind: edit.KindCreate, Content: joinLines(body), Source: string(FormatPatch)})

		case strings.HasPrefix(line, patchDelete):
			p := sectionPath(line, patchDelete)
			if p == "" {
				return 0, edit.Malformed(edit.ReasonMissingFilename, "", "%s line has no path", patchDelete)
			}
			res.Edits = append(res.Edits, edit.FileEdit{Path: p, Kind: edit.KindDelete, Source: string(FormatPatch)})
			i++

		case line == "":
			i++

		default:
			return 0, edit.Malformed(edit.ReasonBadHunkHeader, "", "unexpected line %q outside a file section", lines[i])
		}
	}
	return 0, edit.Malformed(edit.ReasonUnterminatedBlock, "", "patch is missing %q", patchEnd)
}

func (patchEnvelope) Render(edits []edit.FileEdit, snap Snapshot) string {
	if len(edits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(patchBegin + "\n")
	for _, e := range edits {
		switch e.Kind {
		case edit.KindDelete:
			fmt.Fprintf(&b, "%s %s\n", patchDelete, e.Path)
		case edit.KindCreate:
			if !snap.Has(e.Path) {
				fmt.Fprintf(&b, "%s %s\n", patchAdd, e.Path)
				for _, l := range strings.SplitAfter(e.Content, "\n") {
					if l != "" {
						b.WriteString("+" + strings.TrimSuffix(l, "\n") + "\n")
					}
				}
				continue
			}
			fallthrough
		default:
			before, after, err := preview(e, snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "%s %s\n", patchUpdate, e.Path)
			for _, h := range lineHunks(before, after, 3) {
				b.WriteString("@@\n")
				for _, op := range h.ops {
					b.WriteString(string(rune(op.kind)) + op.text + "\n")
				}
			}
		}
	}
	b.WriteString(patchEnd + "\n")
	return b.String()
}
