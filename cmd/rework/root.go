package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rework/pkg/version"
)

// globalFlags are shared by every subcommand.
//
//nolint:govet // grouped by concern
type globalFlags struct {
	configPath string
	workspace  string
	format     string
	mode       string
	provider   string
	model      string
	resume     string
	noCommit   bool
	debug      bool
	tee        bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "rework",
		Short: "Edit a repository by chatting with a language model",
		Long: `rework turns model replies into file edits. Each message you type becomes one
turn: the model sees the files you added to the chat and a map of the
repository, answers in the selected edit format, and the edits are applied
to the workspace and committed.

Type /help inside the chat for commands. Ctrl-C cancels the running turn.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default <workspace>/.rework/config.yaml when present)")
	pf.StringVarP(&flags.workspace, "workspace", "w", "", "workspace root (default from config, else current directory)")
	pf.StringVarP(&flags.format, "format", "f", "", "edit format: whole, block, udiff, patch, context, architect, ask, help")
	pf.StringVarP(&flags.mode, "mode", "m", "", "turn mode: deterministic or autonomous")
	pf.StringVar(&flags.provider, "provider", "", "model provider: anthropic, openai, google, ollama")
	pf.StringVar(&flags.model, "model", "", "model name")
	pf.StringVar(&flags.resume, "resume", "", "resume a stored session by id, or \"last\"")
	pf.BoolVar(&flags.noCommit, "no-commit", false, "do not commit applied edits")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&flags.tee, "tee", false, "also write logs to stderr")

	root.AddCommand(
		newApplyCmd(flags),
		newSessionsCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Details())
		},
	}
}
