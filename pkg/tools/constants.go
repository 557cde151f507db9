package tools

import "rework/pkg/codec"

// Tool name constants.
const (
	// Edit tools.
	ToolApplyWhole = "apply_whole"
	ToolApplyBlock = "apply_block"
	ToolApplyUdiff = "apply_udiff"
	ToolApplyPatch = "apply_patch"

	// Context tools.
	ToolSelectContext = "select_context"
	ToolReadFile      = "read_file"
	ToolListFiles     = "list_files"
	ToolSearch        = "search"
	ToolRepoMap       = "repo_map"

	// Version control tools.
	ToolGitCommit = "git_commit"
	ToolGitDiff   = "git_diff"

	// Loop control.
	ToolDone = "done"
)

// Limits applied to tool output.
const (
	defaultReadLines   = 2000
	maxLineLength      = 2000
	maxReadBytes       = 1 << 20
	maxListResults     = 500
	maxSearchResults   = 100
	maxDiffLines       = 10000
	defaultRepoMapSize = 1024
)

// ApplyToolName returns the apply tool for an edit-producing format, or ""
// when the format produces no edits.
func ApplyToolName(f codec.Format) string {
	switch f {
	case codec.FormatWhole:
		return ToolApplyWhole
	case codec.FormatBlock:
		return ToolApplyBlock
	case codec.FormatUDiff:
		return ToolApplyUdiff
	case codec.FormatPatch:
		return ToolApplyPatch
	default:
		return ""
	}
}

// AutonomousTools is the tool set exposed in autonomous mode.
func AutonomousTools(f codec.Format) []string {
	names := []string{
		ToolSelectContext, ToolReadFile, ToolListFiles, ToolSearch, ToolRepoMap,
		ToolGitCommit, ToolGitDiff, ToolDone,
	}
	if apply := ApplyToolName(f); apply != "" {
		names = append([]string{apply}, names...)
	}
	return names
}
