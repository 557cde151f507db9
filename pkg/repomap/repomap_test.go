package repomap

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/utils"
)

type memSource map[string]string

func (m memSource) Files(context.Context) ([]string, error) {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (m memSource) ReadFile(rel string) (string, bool, error) {
	c, ok := m[rel]
	return c, ok, nil
}

func TestExtract(t *testing.T) {
	syms := Extract("x.go", "package x\n\ntype Server struct{}\n\nfunc (s *Server) Start() error {\n\treturn nil\n}\n\nfunc Map[K comparable](k K) {}\n")
	require.Len(t, syms, 3)
	assert.Equal(t, Symbol{Name: "Server", Kind: "type", Line: 3}, syms[0])
	assert.Equal(t, "Start", syms[1].Name)
	assert.Equal(t, "Map", syms[2].Name)

	py := Extract("a.py", "class Foo:\n    async def bar(self):\n        pass\n")
	assert.Equal(t, []string{"Foo", "bar"}, []string{py[0].Name, py[1].Name})

	assert.Nil(t, Extract("README.md", "# title\n"))
}

func TestRenderRanksByReference(t *testing.T) {
	src := memSource{
		"main.go":        "package main\n\nfunc main() { store.Open() }\n",
		"store/store.go": "package store\n\nfunc Open() {}\n",
		"util/util.go":   "package util\n\nfunc Helper() {}\n",
	}
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)
	m := New(src, counter)

	out, err := m.Render(context.Background(), []string{"main.go"}, nil, 0)
	require.NoError(t, err)
	assert.NotContains(t, out, "main.go:")
	assert.Less(t, strings.Index(out, "store/store.go"), strings.Index(out, "util/util.go"))

	out, err = m.Render(context.Background(), nil, []string{"Helper"}, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "util/util.go:"))
}

func TestRenderRespectsBudget(t *testing.T) {
	src := memSource{}
	for _, name := range []string{"a", "b", "c", "d"} {
		src[name+".go"] = "package x\n\nfunc " + strings.ToUpper(name) + "One() {}\nfunc " + strings.ToUpper(name) + "Two() {}\n"
	}
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)
	m := New(src, counter)

	full, err := m.Render(context.Background(), nil, nil, 0)
	require.NoError(t, err)
	small, err := m.Render(context.Background(), nil, nil, counter.CountTokens(full)/2)
	require.NoError(t, err)
	assert.Less(t, len(small), len(full))
	assert.True(t, strings.HasPrefix(small, "a.go:"))
}

func TestInvalidate(t *testing.T) {
	src := memSource{"a.go": "package a\n\nfunc Old() {}\n"}
	m := New(src, nil)
	out, err := m.Render(context.Background(), nil, nil, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "Old")

	src["a.go"] = "package a\n\nfunc New() {}\n"
	m.Invalidate("a.go")
	out, err = m.Render(context.Background(), nil, nil, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "New")
	assert.NotContains(t, out, "Old")
}
