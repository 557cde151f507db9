package codec

import (
	"regexp"
	"strconv"
	"strings"

	"rework/pkg/edit"
)

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

const devNull = "/dev/null"

// unifiedDiff parses ---/+++ file headers followed by @@ hunks.
type unifiedDiff struct{}

func (unifiedDiff) Format() Format { return FormatUDiff }

func (unifiedDiff) Instructions() string {
	return "Describe changes as a unified diff (diff -U3 style) with --- a/path and +++ b/path headers " +
		"and @@ hunk headers. Include enough unchanged context lines for every hunk to be found. " +
		"Use /dev/null as the old path to create a file and as the new path to delete one."
}

// diffHunk is one parsed @@ section before it becomes an edit.Hunk. When the
// header carries line counts the body ends once both are consumed.
type diffHunk struct {
	oldStart int
	oldCount int
	newCount int
	counted  bool
	old      []string
	new      []string
	oldNoEOL bool
	newNoEOL bool
}

// header fills the hunk position and counts from a parsed @@ line. Omitted
// counts default to one.
func (h *diffHunk) header(m []string) {
	h.oldStart, _ = strconv.Atoi(m[1])
	h.oldCount, h.newCount = 1, 1
	if m[2] != "" {
		h.oldCount, _ = strconv.Atoi(m[2])
	}
	if m[4] != "" {
		h.newCount, _ = strconv.Atoi(m[4])
	}
	h.counted = true
}

func (h diffHunk) full() bool {
	return h.counted && len(h.old) >= h.oldCount && len(h.new) >= h.newCount
}

func sideText(lines []string, noEOL bool) string {
	s := joinLines(lines)
	if noEOL {
		s = strings.TrimSuffix(s, "\n")
	}
	return s
}

func (h diffHunk) toHunk() edit.Hunk {
	hk := edit.Hunk{Search: sideText(h.old, h.oldNoEOL), Replace: sideText(h.new, h.newNoEOL), Line: h.oldStart}
	if len(h.old) == 0 && h.counted {
		// "-N,0" adds lines after old line N.
		hk.Line = h.oldStart + 1
	}
	return hk
}

// parseHunkBody reads hunk lines starting at i until a line that cannot belong
// to a hunk, or until the header counts are met. It returns the index of the
// first unconsumed line. Without counts, bare empty lines count as blank
// context only when more hunk lines follow them.
func parseHunkBody(lines []string, i int, h *diffHunk) int {
	blank := 0
	flush := func() {
		for ; blank > 0; blank-- {
			h.old = append(h.old, "")
			h.new = append(h.new, "")
		}
	}
	var last byte
	for ; i < len(lines); i++ {
		line := lines[i]
		if h.full() && !strings.HasPrefix(line, "\\") {
			return i
		}
		switch {
		case strings.HasPrefix(line, "@@"), strings.HasPrefix(line, "***"):
			return i
		case strings.HasPrefix(line, "--- ") && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ "):
			return i
		case line == "" && h.counted:
			h.old = append(h.old, "")
			h.new = append(h.new, "")
			last = ' '
		case line == "":
			blank++
		case line[0] == ' ':
			flush()
			h.old = append(h.old, line[1:])
			h.new = append(h.new, line[1:])
			last = ' '
		case line[0] == '-':
			flush()
			h.old = append(h.old, line[1:])
			last = '-'
		case line[0] == '+':
			flush()
			h.new = append(h.new, line[1:])
			last = '+'
		case line[0] == '\\':
			// "\ No newline at end of file" marks the line before it.
			switch last {
			case ' ':
				h.oldNoEOL, h.newNoEOL = true, true
			case '-':
				h.oldNoEOL = true
			case '+':
				h.newNoEOL = true
			}
		default:
			return i
		}
	}
	return i
}

func diffPath(header string) string {
	p := strings.TrimSpace(header)
	if tab := strings.IndexByte(p, '\t'); tab >= 0 {
		p = p[:tab]
	}
	if p == devNull {
		return devNull
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(p, prefix) {
			p = p[len(prefix):]
			break
		}
	}
	return cleanPath(p)
}

func (unifiedDiff) Parse(response string, snap Snapshot) (*Result, error) {
	if strings.TrimSpace(response) == "" {
		return nil, edit.Malformed(edit.ReasonEmptyResponse, "", "response is empty")
	}

	lines := splitResponse(response)
	res := &Result{}
	var prose []string

	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "--- ") || i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
			if _, isFence := fence(lines[i]); !isFence {
				prose = append(prose, lines[i])
			}
			continue
		}
		oldPath := diffPath(lines[i][4:])
		newPath := diffPath(lines[i+1][4:])
		i += 2

		var hunks []diffHunk
		for i < len(lines) && strings.HasPrefix(lines[i], "@@") {
			h := diffHunk{}
			if m := hunkHeaderRe.FindStringSubmatch(lines[i]); m != nil {
				h.header(m)
			} else if strings.HasPrefix(lines[i], "@@ -") {
				return nil, edit.Malformed(edit.ReasonBadHunkHeader, newPath, "cannot parse hunk header %q", lines[i])
			}
			i = parseHunkBody(lines, i+1, &h)
			hunks = append(hunks, h)
		}
		i--

		fe, warns, err := diffEdit(oldPath, newPath, hunks, snap, FormatUDiff)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warns...)
		res.Edits = append(res.Edits, fe)
	}

	res.Text = strings.TrimSpace(strings.Join(prose, "\n"))
	return res, nil
}

// diffEdit turns parsed hunks into one FileEdit. Hunks that do not match the
// snapshot are reported as warnings; the applier rejects that file alone.
func diffEdit(oldPath, newPath string, hunks []diffHunk, snap Snapshot, f Format) (edit.FileEdit, []edit.Warning, error) {
	switch {
	case oldPath == devNull && newPath == devNull:
		return edit.FileEdit{}, nil, edit.Malformed(edit.ReasonMissingFilename, "", "diff has /dev/null on both sides")
	case oldPath == devNull:
		var (
			added []string
			noEOL bool
		)
		for _, h := range hunks {
			added = append(added, h.new...)
			noEOL = h.newNoEOL
		}
		return edit.FileEdit{Path: newPath, Kind: edit.KindCreate, Content: sideText(added, noEOL), Source: string(f)}, nil, nil
	case newPath == devNull:
		return edit.FileEdit{Path: oldPath, Kind: edit.KindDelete, Source: string(f)}, nil, nil
	}
	if newPath == "" {
		return edit.FileEdit{}, nil, edit.Malformed(edit.ReasonMissingFilename, "", "diff header has no file path")
	}
	if len(hunks) == 0 {
		return edit.FileEdit{}, nil, edit.Malformed(edit.ReasonBadHunkHeader, newPath, "diff for %s has no @@ hunks", newPath)
	}

	var warns []edit.Warning
	p, warn := resolve(newPath, snap)
	if warn != nil {
		warns = append(warns, *warn)
	}
	fe := edit.FileEdit{Path: p, Kind: edit.KindHunk, Source: string(f)}
	for _, h := range hunks {
		fe.Hunks = append(fe.Hunks, h.toHunk())
	}

	if !snap.Has(p) {
		warns = append(warns, edit.Warning{Path: p, Hunk: -1, Message: "file does not exist"})
		return fe, warns, nil
	}
	if before, loaded := snap.Content(p); loaded {
		_, hunkWarns, _ := edit.ApplyHunks(p, before, fe.Hunks, snap.fuzz)
		warns = append(warns, hunkWarns...)
	}
	return fe, warns, nil
}

func (unifiedDiff) Render(edits []edit.FileEdit, snap Snapshot) string {
	var b strings.Builder
	for _, e := range edits {
		before, after, err := preview(e, snap)
		if err != nil {
			continue
		}
		oldName, newName := e.Path, e.Path
		switch e.Kind {
		case edit.KindCreate:
			if !snap.Has(e.Path) {
				oldName = devNull
			}
		case edit.KindDelete:
			newName = devNull
		}
		b.WriteString(renderUnified(oldName, newName, before, after))
	}
	return b.String()
}
