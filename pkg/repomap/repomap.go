// Package repomap summarizes the workspace's symbols for the model, ranked by
// relevance to the files and identifiers in the conversation.
package repomap

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"rework/pkg/utils"
)

// Symbol is one top-level definition.
type Symbol struct {
	Name string
	Kind string
	Line int
}

// Source is the file access the map needs. *applier.Workspace implements it.
type Source interface {
	Files(ctx context.Context) ([]string, error)
	ReadFile(rel string) (string, bool, error)
}

type pattern struct {
	kind string
	re   *regexp.Regexp
}

var languagePatterns = map[string][]pattern{
	".go": {
		{"func", regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)\s*[\[(]`)},
		{"type", regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\b`)},
	},
	".py": {
		{"def", regexp.MustCompile(`^\s*(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)},
		{"class", regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)\b`)},
	},
	".js": {
		{"function", regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)},
		{"class", regexp.MustCompile(`^\s*(?:export\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)\b`)},
	},
	".rb": {
		{"def", regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_!?]*)`)},
		{"class", regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_:]*)`)},
	},
	".rs": {
		{"fn", regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)\b`)},
		{"struct", regexp.MustCompile(`^\s*(?:pub\s+)?(?:struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)\b`)},
	},
	".java": {
		{"class", regexp.MustCompile(`^\s*(?:public\s+|final\s+|abstract\s+)*(?:class|interface|enum)\s+([A-Za-z_][A-Za-z0-9_]*)\b`)},
	},
}

func init() {
	languagePatterns[".ts"] = languagePatterns[".js"]
	languagePatterns[".tsx"] = languagePatterns[".js"]
	languagePatterns[".jsx"] = languagePatterns[".js"]
	languagePatterns[".kt"] = languagePatterns[".java"]
}

var identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// Extract returns the top-level symbols of a file, by extension.
func Extract(path, content string) []Symbol {
	patterns := languagePatterns[strings.ToLower(filepath.Ext(path))]
	if len(patterns) == 0 {
		return nil
	}
	var out []Symbol
	for i, line := range strings.Split(content, "\n") {
		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				out = append(out, Symbol{Name: m[1], Kind: p.kind, Line: i + 1})
				break
			}
		}
	}
	return out
}

// Mapper renders ranked repository maps and caches per-file symbols until
// Invalidate is called for the file.
type Mapper struct {
	src     Source
	counter *utils.TokenCounter

	mu    sync.Mutex
	cache map[string][]Symbol
}

func New(src Source, counter *utils.TokenCounter) *Mapper {
	return &Mapper{src: src, counter: counter, cache: map[string][]Symbol{}}
}

// Invalidate drops cached symbols for paths.
func (m *Mapper) Invalidate(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(paths) == 0 {
		m.cache = map[string][]Symbol{}
		return
	}
	for _, p := range paths {
		delete(m.cache, p)
	}
}

func (m *Mapper) symbols(path string) []Symbol {
	m.mu.Lock()
	syms, ok := m.cache[path]
	m.mu.Unlock()
	if ok {
		return syms
	}
	content, exists, err := m.src.ReadFile(path)
	if err != nil || !exists {
		return nil
	}
	syms = Extract(path, content)
	m.mu.Lock()
	m.cache[path] = syms
	m.mu.Unlock()
	return syms
}

type ranked struct {
	path    string
	symbols []Symbol
	score   int
}

// Render lists symbols of files outside focus, most relevant first, until the
// token budget is spent. Relevance counts identifiers shared with the focus
// files and the mentioned words.
func (m *Mapper) Render(ctx context.Context, focus, mentioned []string, budget int) (string, error) {
	files, err := m.src.Files(ctx)
	if err != nil {
		return "", fmt.Errorf("list workspace files: %w", err)
	}

	inFocus := make(map[string]bool, len(focus))
	refs := map[string]int{}
	for _, f := range focus {
		inFocus[f] = true
		content, ok, err := m.src.ReadFile(f)
		if err != nil || !ok {
			continue
		}
		for _, id := range identRe.FindAllString(content, -1) {
			refs[id]++
		}
	}
	words := map[string]bool{}
	for _, w := range mentioned {
		words[strings.ToLower(strings.Trim(w, ".,:;()`'\""))] = true
	}

	var candidates []ranked
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if inFocus[f] {
			continue
		}
		syms := m.symbols(f)
		if len(syms) == 0 {
			continue
		}
		r := ranked{path: f, symbols: syms}
		if words[strings.ToLower(filepath.Base(f))] || words[strings.ToLower(f)] {
			r.score += 10
		}
		for _, s := range syms {
			r.score += refs[s.Name]
			if words[strings.ToLower(s.Name)] {
				r.score += 5
			}
		}
		candidates = append(candidates, r)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].path < candidates[j].path
	})

	var b strings.Builder
	used := 0
	for _, c := range candidates {
		var section strings.Builder
		fmt.Fprintf(&section, "%s:\n", c.path)
		for _, s := range c.symbols {
			fmt.Fprintf(&section, "  %d: %s %s\n", s.Line, s.Kind, s.Name)
		}
		cost := m.counter.CountTokens(section.String())
		if budget > 0 && used+cost > budget {
			if used == 0 {
				b.WriteString(m.counter.TruncateToTokenLimit(section.String(), budget))
			}
			break
		}
		used += cost
		b.WriteString(section.String())
	}
	return b.String(), nil
}
