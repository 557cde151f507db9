package codec

import (
	"fmt"
	"regexp"
	"strings"

	"rework/pkg/edit"
)

var (
	searchMarkerRe  = regexp.MustCompile(`^\s*<{5,9} ?SEARCH\s*$`)
	dividerMarkerRe = regexp.MustCompile(`^\s*={5,9}\s*$`)
	replaceMarkerRe = regexp.MustCompile(`^\s*>{5,9} ?REPLACE\s*$`)
)

// editBlock expects SEARCH/REPLACE sections, each preceded by its file path.
type editBlock struct{}

func (editBlock) Format() Format { return FormatBlock }

func (editBlock) Instructions() string {
	return "Describe each change as a SEARCH/REPLACE block: the file path on its own line, then\n" +
		"<<<<<<< SEARCH\n<exact existing lines>\n=======\n<replacement lines>\n>>>>>>> REPLACE\n" +
		"The SEARCH section must match the file exactly once. Use an empty SEARCH section to create a new file."
}

type fileHunks struct {
	path  string
	hunks []edit.Hunk
}

func (editBlock) Parse(response string, snap Snapshot) (*Result, error) {
	if strings.TrimSpace(response) == "" {
		return nil, edit.Malformed(edit.ReasonEmptyResponse, "", "response is empty")
	}

	lines := splitResponse(response)
	var (
		order   []*fileHunks
		byPath  = map[string]*fileHunks{}
		used    = map[int]bool{}
		current string
		block   int
	)

	for i := 0; i < len(lines); i++ {
		if !searchMarkerRe.MatchString(lines[i]) {
			continue
		}
		block++
		if name, at := filenameBefore(lines, i); name != "" {
			current = name
			used[at] = true
		}
		if current == "" {
			return nil, edit.Malformed(edit.ReasonMissingFilename, "", "SEARCH block %d has no file path; put the path on the line before it", block)
		}

		var search, replace []string
		j := i + 1
		for ; j < len(lines) && !dividerMarkerRe.MatchString(lines[j]); j++ {
			search = append(search, lines[j])
		}
		if j >= len(lines) {
			return nil, edit.Malformed(edit.ReasonUnterminatedBlock, current, "SEARCH block %d is missing its ======= divider", block)
		}
		for j++; j < len(lines) && !replaceMarkerRe.MatchString(lines[j]); j++ {
			replace = append(replace, lines[j])
		}
		if j >= len(lines) {
			return nil, edit.Malformed(edit.ReasonUnterminatedBlock, current, "SEARCH block %d is missing its >>>>>>> REPLACE marker", block)
		}
		for k := i; k <= j; k++ {
			used[k] = true
		}
		i = j

		fh, ok := byPath[current]
		if !ok {
			fh = &fileHunks{path: current}
			byPath[current] = fh
			order = append(order, fh)
		}
		fh.hunks = append(fh.hunks, edit.Hunk{Search: joinLines(search), Replace: joinLines(replace)})
	}

	res := &Result{Text: proseLines(lines, used)}
	for _, fh := range order {
		fe, warns, err := blockEdit(fh, snap)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warns...)
		res.Edits = append(res.Edits, fe)
	}
	return res, nil
}

func blockEdit(fh *fileHunks, snap Snapshot) (edit.FileEdit, []edit.Warning, error) {
	var warns []edit.Warning
	p, warn := resolve(fh.path, snap)
	if warn != nil {
		warns = append(warns, *warn)
	}

	if !snap.Has(p) {
		var content strings.Builder
		for _, h := range fh.hunks {
			if strings.TrimSpace(h.Search) != "" {
				return edit.FileEdit{}, nil, edit.Malformed(edit.ReasonMissingFile, p, "file does not exist; use an empty SEARCH section to create it")
			}
			content.WriteString(h.Replace)
		}
		return edit.FileEdit{Path: p, Kind: edit.KindCreate, Content: content.String(), Source: string(FormatBlock)}, warns, nil
	}

	if before, loaded := snap.Content(p); loaded {
		if _, _, err := edit.ApplyHunks(p, before, fh.hunks, snap.fuzz); err != nil {
			return edit.FileEdit{}, nil, err
		}
	} else {
		warns = append(warns, edit.Warning{Path: p, Hunk: -1, Message: "file not loaded; matched at apply time"})
	}
	return edit.FileEdit{Path: p, Kind: edit.KindHunk, Hunks: fh.hunks, Source: string(FormatBlock)}, warns, nil
}

func (editBlock) Render(edits []edit.FileEdit, snap Snapshot) string {
	var b strings.Builder
	writeBlock := func(path, search, replace string) {
		fmt.Fprintf(&b, "%s\n<<<<<<< SEARCH\n%s", path, search)
		if search != "" && !strings.HasSuffix(search, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("=======\n")
		b.WriteString(replace)
		if replace != "" && !strings.HasSuffix(replace, "\n") {
			b.WriteString("\n")
		}
		b.WriteString(">>>>>>> REPLACE\n\n")
	}
	for _, e := range edits {
		switch e.Kind {
		case edit.KindHunk:
			for _, h := range e.Hunks {
				writeBlock(e.Path, h.Search, h.Replace)
			}
		case edit.KindCreate:
			writeBlock(e.Path, "", e.Content)
		case edit.KindReplace, edit.KindDelete:
			before, after, err := preview(e, snap)
			if err == nil {
				writeBlock(e.Path, before, after)
			}
		}
	}
	return b.String()
}
