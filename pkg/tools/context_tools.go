package tools

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"rework/pkg/applier"
	"rework/pkg/codec"
	"rework/pkg/edit"
	"rework/pkg/repomap"
	"rework/pkg/utils"
)

// SelectContextTool adds workspace files to the chat.
type SelectContextTool struct {
	session SessionHooks
}

func NewSelectContextTool(session SessionHooks) *SelectContextTool {
	return &SelectContextTool{session: session}
}

func (t *SelectContextTool) Name() string { return ToolSelectContext }

func (t *SelectContextTool) PromptDocumentation() string {
	return `- **select_context** - Add files to the conversation so their full content is visible
  - Parameters: paths (array of strings; globs allowed) or content (one path per line)`
}

func (t *SelectContextTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSelectContext,
		Description: "Add workspace files to the conversation context. Accepts paths or doublestar globs.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"paths": {
					Type:        "array",
					Description: "Workspace-relative paths or globs such as pkg/**/*.go",
					Items:       &Property{Type: "string"},
				},
				"content": {
					Type:        "string",
					Description: "Alternative to paths: a list with one path per line",
				},
			},
		},
	}
}

func (t *SelectContextTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	snap, err := t.session.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot workspace: %w", err)
	}

	listing := strings.Join(utils.StringSliceArg(args, "paths"), "\n")
	if content, ok := utils.SafeAssert[string](args["content"]); ok && content != "" {
		listing += "\n" + content
	}
	c, err := codec.Lookup(codec.FormatContext)
	if err != nil {
		return nil, err
	}
	parsed, err := c.Parse(listing, snap)
	if err != nil {
		return errorResult(err.Error())
	}
	if len(parsed.ContextPaths) == 0 {
		result, _ := errorResult("no matching files; pass workspace-relative paths")
		result.Err = edit.Malformed(edit.ReasonMissingFilename, "", "no matching files")
		return result, nil
	}

	added, err := t.session.AddContext(parsed.ContextPaths...)
	if err != nil {
		return errorResult(err.Error())
	}
	fields := map[string]any{
		"added":    added,
		"selected": parsed.ContextPaths,
	}
	if len(parsed.Warnings) > 0 {
		fields["warnings"] = warningStrings(parsed.Warnings)
	}
	return successResult(fields)
}

// ReadFileTool reads a workspace file with line numbers.
type ReadFileTool struct {
	ws           *applier.Workspace
	maxSizeBytes int
}

func NewReadFileTool(ws *applier.Workspace, maxSizeBytes int) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = maxReadBytes
	}
	return &ReadFileTool{ws: ws, maxSizeBytes: maxSizeBytes}
}

func (t *ReadFileTool) Name() string { return ToolReadFile }

func (t *ReadFileTool) PromptDocumentation() string {
	return `- **read_file** - Read contents of a file from the workspace
  - Parameters:
    - path (string, REQUIRED): relative path to file within workspace
    - offset (integer, optional): line number to start from (1-based, default: 1)
    - limit (integer, optional): number of lines to read (default: 2000)
  - Output uses numbered lines (cat -n format)`
}

func (t *ReadFileTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolReadFile,
		Description: "Read a workspace file. Output has numbered lines; use offset and limit for large files.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"path":   {Type: "string", Description: "Workspace-relative file path"},
				"offset": {Type: "integer", Description: "1-based line to start from (default 1)"},
				"limit":  {Type: "integer", Description: "Number of lines to read (default 2000)"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *ReadFileTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	path, ok := utils.SafeAssert[string](args["path"])
	if !ok || path == "" {
		return errorResult("path is required and must be a string")
	}
	offset := max(utils.IntArg(args, "offset", 1), 1)
	limit := utils.IntArg(args, "limit", defaultReadLines)
	if limit <= 0 {
		limit = defaultReadLines
	}

	content, exists, err := t.ws.ReadFile(path)
	if err != nil {
		result, _ := errorResult(err.Error())
		result.Err = err
		return result, nil
	}
	if !exists {
		return errorResult(fmt.Sprintf("file not found: %s", path))
	}

	var b strings.Builder
	total := 0
	endLine := offset + limit - 1
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		total++
		if total < offset || total > endLine {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		fmt.Fprintf(&b, "%6d\t%s\n", total, line)
	}
	truncated := total > endLine
	output := b.String()
	if len(output) > t.maxSizeBytes {
		output = output[:t.maxSizeBytes]
		truncated = true
	}

	return successResult(map[string]any{
		"content":     output,
		"path":        path,
		"truncated":   truncated,
		"offset":      offset,
		"limit":       limit,
		"total_lines": total,
	})
}

// ListFilesTool lists non-ignored workspace files matching a glob.
type ListFilesTool struct {
	ws *applier.Workspace
}

func NewListFilesTool(ws *applier.Workspace) *ListFilesTool {
	return &ListFilesTool{ws: ws}
}

func (t *ListFilesTool) Name() string { return ToolListFiles }

func (t *ListFilesTool) PromptDocumentation() string {
	return `- **list_files** - List workspace files
  - Parameters: pattern (string, optional doublestar glob, default **)`
}

func (t *ListFilesTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolListFiles,
		Description: "List workspace files matching a doublestar glob. Ignored files are excluded.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"pattern": {Type: "string", Description: "Glob such as **/*.go (default **)"},
			},
		},
	}
}

func (t *ListFilesTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	pattern := utils.GetMapFieldOr(args, "pattern", "**")
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return errorResult(fmt.Sprintf("invalid glob pattern: %s", pattern))
	}

	files, err := t.ws.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	matched := make([]string, 0, len(files))
	for _, f := range files {
		if ok, _ := doublestar.Match(pattern, f); ok {
			matched = append(matched, f)
		}
	}
	truncated := len(matched) > maxListResults
	if truncated {
		matched = matched[:maxListResults]
	}
	return successResult(map[string]any{
		"files":     matched,
		"count":     len(matched),
		"truncated": truncated,
	})
}

// SearchTool greps workspace files with a regular expression.
type SearchTool struct {
	ws *applier.Workspace
}

func NewSearchTool(ws *applier.Workspace) *SearchTool {
	return &SearchTool{ws: ws}
}

func (t *SearchTool) Name() string { return ToolSearch }

func (t *SearchTool) PromptDocumentation() string {
	return `- **search** - Search workspace files with a regular expression
  - Parameters: query (string, REQUIRED RE2 regexp), glob (string, optional file filter)
  - Returns path:line: text hits`
}

func (t *SearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearch,
		Description: "Search workspace files for a regular expression and return path:line: text hits.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "RE2 regular expression"},
				"glob":  {Type: "string", Description: "Optional doublestar glob restricting the files searched"},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, ok := utils.SafeAssert[string](args["query"])
	if !ok || query == "" {
		return errorResult("query is required and must be a string")
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid regular expression: %v", err))
	}
	glob := utils.GetMapFieldOr(args, "glob", "")

	files, err := t.ws.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	var hits []string
	truncated := false
search:
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if glob != "" {
			if ok, _ := doublestar.Match(glob, f); !ok {
				continue
			}
		}
		content, exists, err := t.ws.ReadFile(f)
		if err != nil || !exists || strings.IndexByte(content, 0) >= 0 {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			if !re.MatchString(line) {
				continue
			}
			if len(hits) == maxSearchResults {
				truncated = true
				break search
			}
			if len(line) > maxLineLength {
				line = line[:maxLineLength]
			}
			hits = append(hits, fmt.Sprintf("%s:%d: %s", f, i+1, line))
		}
	}
	return successResult(map[string]any{
		"matches":   hits,
		"count":     len(hits),
		"truncated": truncated,
	})
}

// RepoMapTool returns a ranked symbol map of files outside the chat.
type RepoMapTool struct {
	mapper  *repomap.Mapper
	session SessionHooks
	budget  int
}

func NewRepoMapTool(mapper *repomap.Mapper, session SessionHooks, budget int) *RepoMapTool {
	if budget <= 0 {
		budget = defaultRepoMapSize
	}
	return &RepoMapTool{mapper: mapper, session: session, budget: budget}
}

func (t *RepoMapTool) Name() string { return ToolRepoMap }

func (t *RepoMapTool) PromptDocumentation() string {
	return `- **repo_map** - Show top-level symbols of files relevant to a query
  - Parameters: query (string, optional), max_tokens (integer, optional)`
}

func (t *RepoMapTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolRepoMap,
		Description: "Summarize workspace symbols ranked by relevance to the query and the files in the chat.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query":      {Type: "string", Description: "Words or identifiers to rank by"},
				"max_tokens": {Type: "integer", Description: "Token budget for the map"},
			},
		},
	}
}

func (t *RepoMapTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	if t.mapper == nil {
		return errorResult("repository map is not available")
	}
	query := utils.GetMapFieldOr(args, "query", "")
	budget := utils.IntArg(args, "max_tokens", t.budget)
	var focus []string
	if t.session != nil {
		focus = t.session.ContextFiles()
	}
	out, err := t.mapper.Render(ctx, focus, strings.Fields(query), budget)
	if err != nil {
		return nil, fmt.Errorf("render repo map: %w", err)
	}
	return successResult(map[string]any{"map": out})
}
