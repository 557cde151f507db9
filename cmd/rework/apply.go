package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rework/pkg/codec"
	"rework/pkg/llm"
	"rework/pkg/orchestrator"
	"rework/pkg/persistence"
	"rework/pkg/tools"
)

// newApplyCmd applies a saved model reply without calling a model.
func newApplyCmd(flags *globalFlags) *cobra.Command {
	var commitMsg string
	cmd := &cobra.Command{
		Use:   "apply <reply-file|->",
		Short: "Apply edits from a saved model reply",
		Long: `Parse a model reply in the selected edit format (--format, default from
config) and apply it to the workspace. Use - to read the reply from stdin.
Applied files are committed unless --no-commit is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), flags, args[0], commitMsg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&commitMsg, "message", "", "commit message (default names the reply file)")
	return cmd
}

func runApply(ctx context.Context, flags *globalFlags, source, commitMsg string, out io.Writer) error {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	a, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()

	format, err := codec.ParseFormat(a.cfg.EditFormat)
	if err != nil {
		return err
	}
	if !format.ProducesEdits() {
		return fmt.Errorf("format %s produces no edits", format)
	}

	// No model is called; the scripted client satisfies the session.
	sess, err := a.newSession(ctx, llm.NewScriptedClient("offline"), nil)
	if err != nil {
		return err
	}
	tool, err := tools.NewApplyEditTool(format, sess.Applier(), sess)
	if err != nil {
		return err
	}
	res, err := tool.Apply(ctx, string(data))
	if err != nil {
		return err
	}

	p := newPrinter(out, false)
	report := &orchestrator.TurnReport{Format: format, Outcomes: res.Outcomes, Err: res.Err}
	if res.IsError && len(res.Outcomes) == 0 {
		report.Err = errors.New(res.Content)
	}

	if a.cfg.AutoCommit && a.repo != nil {
		if paths := sess.Uncommitted(); len(paths) > 0 {
			if commitMsg == "" {
				commitMsg = "rework: apply " + source
			}
			id, err := a.repo.StageAndCommit(ctx, paths, commitMsg)
			if err != nil {
				report.Warnings = append(report.Warnings, "commit failed: "+err.Error())
			} else {
				sess.MarkCommitted(id)
				report.CommitID = id
			}
		}
	}
	p.report(report, true)
	return report.Err
}

// newSessionsCmd lists stored sessions.
func newSessionsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()
			if a.store == nil {
				return orchestrator.ErrNoStore
			}
			return listSessions(cmd.Context(), cmd.OutOrStdout(), a.store, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to list")
	return cmd
}

func listSessions(ctx context.Context, out io.Writer, store persistence.TurnStore, limit int) error {
	sessions, err := store.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "no stored sessions")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tFORMAT\tMODE\tSTATUS")
	for i := range sessions {
		s := &sessions[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.EditFormat, s.Mode, s.Status)
	}
	return tw.Flush()
}
