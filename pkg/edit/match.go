package edit

import (
	"strconv"
	"strings"
)

// Span is a byte range [Start, End) of file content matched by a hunk search.
// Indent is added to replacement lines when the match was found by ignoring
// a uniform indentation difference.
type Span struct {
	Start  int
	End    int
	Line   int
	Indent string
}

type lineRange struct {
	start, end int // end excludes the newline
}

func splitLines(s string) []lineRange {
	var out []lineRange
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, lineRange{start, i})
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, lineRange{start, len(s)})
	}
	return out
}

func normalizeLine(s string) string {
	return strings.TrimSpace(s)
}

func lineOf(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

// Locate finds the unique span of h.Search in content. Matching escalates from
// exact text to whitespace-normalized lines and never guesses: zero or several
// candidates fail with ReasonAmbiguousMatch. A line hint narrows multiple
// candidates to those within fuzz lines of it.
func Locate(path, content string, h Hunk, fuzz int) (Span, error) {
	if h.Search == "" {
		return Span{}, Malformed(ReasonAmbiguousMatch, path, "empty search text")
	}
	if spans := exactSpans(content, h.Search); len(spans) > 0 {
		return pick(path, spans, h, fuzz)
	}
	if spans := normalizedSpans(content, h.Search); len(spans) > 0 {
		return pick(path, spans, h, fuzz)
	}
	return Span{}, Malformed(ReasonAmbiguousMatch, path, "search text not found (0 occurrences); it must match the current file exactly once")
}

func exactSpans(content, search string) []Span {
	var spans []Span
	for from := 0; from <= len(content); {
		idx := strings.Index(content[from:], search)
		if idx < 0 {
			break
		}
		start := from + idx
		spans = append(spans, Span{Start: start, End: start + len(search), Line: lineOf(content, start)})
		from = start + len(search)
	}
	return spans
}

func normalizedSpans(content, search string) []Span {
	want := strings.Split(strings.TrimSuffix(search, "\n"), "\n")
	blank := true
	for i := range want {
		want[i] = strings.TrimSuffix(want[i], "\r")
		if normalizeLine(want[i]) != "" {
			blank = false
		}
	}
	if blank {
		return nil
	}

	lines := splitLines(content)
	var spans []Span
	for i := 0; i+len(want) <= len(lines); i++ {
		ok := true
		for j := range want {
			lr := lines[i+j]
			if normalizeLine(content[lr.start:lr.end]) != normalizeLine(want[j]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		first, last := lines[i], lines[i+len(want)-1]
		end := last.end
		if strings.HasSuffix(search, "\n") && end < len(content) {
			end++
		}
		spans = append(spans, Span{
			Start:  first.start,
			End:    end,
			Line:   i + 1,
			Indent: indentDelta(content[first.start:first.end], want),
		})
	}
	return spans
}

// indentDelta returns the extra leading whitespace the file carries over the
// first non-blank search line, when the search indent is a suffix of it.
func indentDelta(fileLine string, want []string) string {
	var searchLine string
	for _, w := range want {
		if normalizeLine(w) != "" {
			searchLine = w
			break
		}
	}
	fileIndent := leadingSpace(fileLine)
	searchIndent := leadingSpace(searchLine)
	if len(fileIndent) > len(searchIndent) && strings.HasSuffix(fileIndent, searchIndent) {
		return fileIndent[:len(fileIndent)-len(searchIndent)]
	}
	return ""
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func pick(path string, spans []Span, h Hunk, fuzz int) (Span, error) {
	if len(spans) == 1 {
		return spans[0], nil
	}
	if h.Line > 0 {
		var near []Span
		for _, s := range spans {
			if d := s.Line - h.Line; d >= -fuzz && d <= fuzz {
				near = append(near, s)
			}
		}
		if len(near) == 1 {
			return near[0], nil
		}
	}
	lines := make([]string, 0, len(spans))
	for _, s := range spans {
		lines = append(lines, strconv.Itoa(s.Line))
	}
	return Span{}, Malformed(ReasonAmbiguousMatch, path,
		"search text matches %d locations (lines: %s); include more surrounding context to make it unique",
		len(spans), strings.Join(lines, ", "))
}

func reindent(text, indent string) string {
	if indent == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = indent + l
		}
	}
	return strings.Join(lines, "\n")
}

// ApplyHunk returns content with h applied. Pure insertions fail with
// ReasonAmbiguousMatch when Replace already sits where it would go, so
// re-applying one never duplicates text.
func ApplyHunk(path, content string, h Hunk, fuzz int) (string, error) {
	if h.Search == "" {
		return insert(path, content, h)
	}
	span, err := Locate(path, content, h, fuzz)
	if err != nil {
		return content, err
	}
	return content[:span.Start] + reindent(h.Replace, span.Indent) + content[span.End:], nil
}

func insert(path, content string, h Hunk) (string, error) {
	if h.Replace == "" {
		return content, nil
	}
	off := len(content)
	if h.Line > 0 {
		if lines := splitLines(content); h.Line-1 < len(lines) {
			off = lines[h.Line-1].start
		}
	}
	head, tail := content[:off], content[off:]
	if head != "" && !strings.HasSuffix(head, "\n") {
		head += "\n"
	}
	text := h.Replace
	if tail != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	if h.Line > 0 && tail != "" && strings.HasPrefix(tail, text) {
		return content, Malformed(ReasonAmbiguousMatch, path,
			"inserted text is already present at line %d; the hunk appears to be applied", h.Line)
	}
	if tail == "" && head != "" && strings.HasSuffix(head, withNewline(text)) {
		return content, Malformed(ReasonAmbiguousMatch, path,
			"file already ends with the appended text; the hunk appears to be applied")
	}
	return head + text + tail, nil
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// ApplyHunks applies hunks in order to content. Every hunk is attempted so the
// returned warnings name each failing one. Any failure leaves the result unusable:
// when every hunk failed the first hunk's error is returned, otherwise a
// ReasonPartialApply error.
func ApplyHunks(path, content string, hunks []Hunk, fuzz int) (string, []Warning, error) {
	var (
		warnings []Warning
		firstErr error
	)
	current := content
	delta := 0 // lines added by earlier hunks, to keep later line hints in place
	for i, h := range hunks {
		if h.Line > 0 {
			h.Line = max(1, h.Line+delta)
		}
		next, err := ApplyHunk(path, current, h, fuzz)
		if err != nil {
			warnings = append(warnings, Warning{Path: path, Hunk: i, Message: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		current = next
		delta += len(splitLines(h.Replace)) - len(splitLines(h.Search))
	}
	switch {
	case len(warnings) == 0:
		return current, nil, nil
	case len(warnings) == len(hunks):
		return content, warnings, firstErr
	default:
		return content, warnings, Malformed(ReasonPartialApply, path,
			"%d of %d hunks did not match; file left unchanged", len(warnings), len(hunks))
	}
}
