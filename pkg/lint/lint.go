// Package lint checks edited file content for syntax errors before an edit is
// accepted.
package lint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Diagnostic is a single finding. Line is 1-indexed; zero when unknown.
type Diagnostic struct {
	Path    string
	Message string
	Line    int
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", d.Path, d.Line, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Path, d.Message)
}

// Checker validates content that is about to be, or has just been, written to path.
type Checker interface {
	Check(path, content string) []Diagnostic
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(path, content string) []Diagnostic

func (f CheckFunc) Check(path, content string) []Diagnostic { return f(path, content) }

// Syntax dispatches on file extension. Unknown extensions pass.
type Syntax struct {
	byExt map[string]CheckFunc
}

// NewSyntax returns a checker for Go, JSON and YAML files.
func NewSyntax() *Syntax {
	return &Syntax{byExt: map[string]CheckFunc{
		".go":   checkGo,
		".json": checkJSON,
		".yaml": checkYAML,
		".yml":  checkYAML,
	}}
}

// Register adds or replaces the checker for ext (including the dot).
func (s *Syntax) Register(ext string, f CheckFunc) {
	s.byExt[strings.ToLower(ext)] = f
}

func (s *Syntax) Check(path, content string) []Diagnostic {
	f, ok := s.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil
	}
	return f(path, content)
}

func checkGo(path, content string) []Diagnostic {
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, path, content, parser.AllErrors|parser.SkipObjectResolution)
	if err == nil {
		return nil
	}
	var list scanner.ErrorList
	if errors.As(err, &list) {
		out := make([]Diagnostic, 0, len(list))
		for _, e := range list {
			out = append(out, Diagnostic{Path: path, Line: e.Pos.Line, Message: e.Msg})
		}
		return out
	}
	return []Diagnostic{{Path: path, Message: err.Error()}}
}

func checkJSON(path, content string) []Diagnostic {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var v any
	err := json.Unmarshal([]byte(content), &v)
	if err == nil {
		return nil
	}
	d := Diagnostic{Path: path, Message: err.Error()}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		d.Line = bytes.Count([]byte(content[:min(int(syn.Offset), len(content))]), []byte("\n")) + 1
	}
	return []Diagnostic{d}
}

func checkYAML(path, content string) []Diagnostic {
	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return []Diagnostic{{Path: path, Message: err.Error()}}
	}
}
