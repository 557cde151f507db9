package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"rework/pkg/codec"
)

// ErrUnknownTool is returned for tool names that are not registered or not
// allowed for the session.
var ErrUnknownTool = errors.New("unknown tool")

// ToolFactory creates a tool instance bound to a session's collaborators.
type ToolFactory func(tc ToolContext) (Tool, error)

// ToolMeta contains metadata about a tool for documentation and discovery.
type ToolMeta struct {
	Name        string
	Description string
	InputSchema InputSchema
}

//nolint:govet // fieldalignment: logical grouping preferred
type toolDescriptor struct {
	meta    ToolMeta
	factory ToolFactory
}

// immutableRegistry is the global, read-only tool registry.
//
//nolint:govet // fieldalignment: logical grouping preferred
type immutableRegistry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]toolDescriptor
}

//nolint:gochecknoglobals // factory pattern requires a global registry
var globalRegistry = &immutableRegistry{
	tools: make(map[string]toolDescriptor),
}

// Register adds a tool factory to the global registry.
// Panics if called after the registry is sealed.
func Register(name string, factory ToolFactory, meta *ToolMeta) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool '%s'", name))
	}
	globalRegistry.tools[name] = toolDescriptor{meta: *meta, factory: factory}
}

// Seal prevents further tool registrations.
// Called automatically when the first Provider is created.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// ListTools returns metadata for all registered tools, sorted by name.
func ListTools() []ToolMeta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]ToolMeta, 0, len(globalRegistry.tools))
	//nolint:gocritic // rangeValCopy: direct access is clearer
	for _, desc := range globalRegistry.tools {
		result = append(result, desc.meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Provider creates and caches tool instances for one session.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Provider struct {
	tc       ToolContext
	tools    map[string]Tool
	allowSet map[string]struct{}
	mu       sync.Mutex
}

// NewProvider creates a Provider exposing allowedTools. It seals the global
// registry.
func NewProvider(tc ToolContext, allowedTools []string) *Provider {
	Seal()

	allowSet := make(map[string]struct{}, len(allowedTools))
	for _, name := range allowedTools {
		allowSet[name] = struct{}{}
	}
	return &Provider{
		tc:       tc,
		tools:    make(map[string]Tool),
		allowSet: allowSet,
	}
}

// Get retrieves a tool instance, creating it lazily.
func (p *Provider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allowSet[name]; !ok {
		return nil, fmt.Errorf("%w: '%s' not allowed in this context", ErrUnknownTool, name)
	}
	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: '%s' not registered", ErrUnknownTool, name)
	}

	tool, err := desc.factory(p.tc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool '%s': %w", name, err)
	}
	p.tools[name] = tool
	return tool, nil
}

// Allowed reports whether name is exposed by this provider.
func (p *Provider) Allowed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.allowSet[name]
	return ok
}

// Definitions returns the definitions of allowed tools, sorted by name.
func (p *Provider) Definitions() []ToolDefinition {
	metas := p.List()
	out := make([]ToolDefinition, 0, len(metas))
	//nolint:gocritic // rangeValCopy: direct access is clearer
	for _, m := range metas {
		out = append(out, ToolDefinition(m))
	}
	return out
}

// List returns metadata for all allowed tools, sorted by name.
func (p *Provider) List() []ToolMeta {
	p.mu.Lock()
	names := make([]string, 0, len(p.allowSet))
	for name := range p.allowSet {
		names = append(names, name)
	}
	p.mu.Unlock()
	sort.Strings(names)

	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	result := make([]ToolMeta, 0, len(names))
	for _, name := range names {
		if desc, ok := globalRegistry.tools[name]; ok {
			result = append(result, desc.meta)
		}
	}
	return result
}

// GenerateToolDocumentation renders markdown documentation for the provider's tools.
func (p *Provider) GenerateToolDocumentation() string {
	metas := p.List()
	if len(metas) == 0 {
		return "No tools available"
	}
	var doc strings.Builder
	doc.WriteString("## Available Tools\n\n")
	//nolint:gocritic // rangeValCopy: direct access is clearer
	for _, meta := range metas {
		if tool, err := p.Get(meta.Name); err == nil {
			doc.WriteString(tool.PromptDocumentation())
			doc.WriteString("\n")
			continue
		}
		fmt.Fprintf(&doc, "- **%s** - %s\n", meta.Name, meta.Description)
	}
	return doc.String()
}

// TOOL FACTORY FUNCTIONS

func applyFactory(f codec.Format) ToolFactory {
	return func(tc ToolContext) (Tool, error) {
		if tc.Applier == nil || tc.Session == nil {
			return nil, fmt.Errorf("%s requires an applier and session hooks", ApplyToolName(f))
		}
		return NewApplyEditTool(f, tc.Applier, tc.Session)
	}
}

func createSelectContextTool(tc ToolContext) (Tool, error) {
	if tc.Session == nil {
		return nil, fmt.Errorf("select_context requires session hooks")
	}
	return NewSelectContextTool(tc.Session), nil
}

func createReadFileTool(tc ToolContext) (Tool, error) {
	if tc.Applier == nil {
		return nil, fmt.Errorf("read_file requires a workspace")
	}
	return NewReadFileTool(tc.Applier.Workspace(), maxReadBytes), nil
}

func createListFilesTool(tc ToolContext) (Tool, error) {
	if tc.Applier == nil {
		return nil, fmt.Errorf("list_files requires a workspace")
	}
	return NewListFilesTool(tc.Applier.Workspace()), nil
}

func createSearchTool(tc ToolContext) (Tool, error) {
	if tc.Applier == nil {
		return nil, fmt.Errorf("search requires a workspace")
	}
	return NewSearchTool(tc.Applier.Workspace()), nil
}

func createRepoMapTool(tc ToolContext) (Tool, error) {
	return NewRepoMapTool(tc.RepoMap, tc.Session, tc.RepoMapTokens), nil
}

func createGitCommitTool(tc ToolContext) (Tool, error) {
	return NewGitCommitTool(tc.VCS, tc.Session), nil
}

func createGitDiffTool(tc ToolContext) (Tool, error) {
	return NewGitDiffTool(tc.VCS, maxDiffLines), nil
}

func createDoneTool(_ ToolContext) (Tool, error) {
	return NewDoneTool(), nil
}

//nolint:gochecknoinits // factory pattern requires init() for tool registration
func init() {
	for _, f := range []codec.Format{codec.FormatWhole, codec.FormatBlock, codec.FormatUDiff, codec.FormatPatch} {
		def := applyDefinition(f)
		Register(def.Name, applyFactory(f), &ToolMeta{Name: def.Name, Description: def.Description, InputSchema: def.InputSchema})
	}

	for _, t := range []struct {
		factory ToolFactory
		def     ToolDefinition
	}{
		{createSelectContextTool, (&SelectContextTool{}).Definition()},
		{createReadFileTool, (&ReadFileTool{}).Definition()},
		{createListFilesTool, (&ListFilesTool{}).Definition()},
		{createSearchTool, (&SearchTool{}).Definition()},
		{createRepoMapTool, (&RepoMapTool{}).Definition()},
		{createGitCommitTool, (&GitCommitTool{}).Definition()},
		{createGitDiffTool, (&GitDiffTool{}).Definition()},
		{createDoneTool, (&DoneTool{}).Definition()},
	} {
		Register(t.def.Name, t.factory, &ToolMeta{Name: t.def.Name, Description: t.def.Description, InputSchema: t.def.InputSchema})
	}
}
