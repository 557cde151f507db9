package codec

import (
	"regexp"
	"strings"
)

var (
	fenceRe        = regexp.MustCompile("^\\s*[>|]*(```+|~~~+)\\s*(.*)$")
	fileCommentRe  = regexp.MustCompile(`^\s*(?:#|//|--)\s*(?:[Ff]ile(?:name)?:\s*)(\S+)\s*$`)
	bareCommentRe  = regexp.MustCompile(`^\s*(?:#|//)\s*(\S+)\s*$`)
	extensionRe    = regexp.MustCompile(`\.[A-Za-z0-9_]+$`)
	filenameTrimRe = regexp.MustCompile("^[\\s#*`'\"]+|[\\s*`'\":]+$")
)

// fence reports whether line opens or closes a fence, returning the info string.
func fence(line string) (info string, ok bool) {
	m := fenceRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[2]), true
}

// closesFence is true for a bare closing fence or the ```END marker.
func closesFence(line string) bool {
	info, ok := fence(line)
	return ok && (info == "" || strings.EqualFold(info, "END"))
}

// looksLikePath accepts a single token with a slash or a file extension.
func looksLikePath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t<>|") {
		return false
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return false
	}
	return strings.Contains(s, "/") || extensionRe.MatchString(s)
}

// filenameFromLine extracts a path from a heading-like line such as
// "**src/main.go**", "`main.go`:" or "# File: main.go".
func filenameFromLine(line string) string {
	if m := fileCommentRe.FindStringSubmatch(line); m != nil {
		return cleanPath(m[1])
	}
	s := filenameTrimRe.ReplaceAllString(line, "")
	s = strings.TrimPrefix(s, "File: ")
	s = strings.TrimPrefix(s, "file: ")
	s = filenameTrimRe.ReplaceAllString(s, "")
	if looksLikePath(s) {
		return cleanPath(s)
	}
	return ""
}

// filenameFromInfo reads a path from a fence info string: "go main.go",
// "main.go" or "python title=app.py".
func filenameFromInfo(info string) string {
	for _, tok := range strings.Fields(info) {
		if i := strings.Index(tok, "="); i >= 0 {
			tok = tok[i+1:]
		}
		if looksLikePath(tok) {
			return cleanPath(tok)
		}
	}
	return ""
}

// filenameBefore scans up to three non-blank lines above idx for a filename,
// returning it with the index of the line it came from.
func filenameBefore(lines []string, idx int) (string, int) {
	seen := 0
	for i := idx - 1; i >= 0 && seen < 3; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		seen++
		if info, ok := fence(line); ok {
			if name := filenameFromInfo(info); name != "" {
				return name, i
			}
			continue
		}
		if name := filenameFromLine(line); name != "" {
			return name, i
		}
		return "", -1
	}
	return "", -1
}

// proseLines returns the lines not consumed by edits, dropping fences.
func proseLines(lines []string, used map[int]bool) string {
	var out []string
	for i, l := range lines {
		if used[i] {
			continue
		}
		if _, isFence := fence(l); isFence {
			continue
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func splitResponse(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
