package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"rework/pkg/conversation"
	"rework/pkg/edit"
	"rework/pkg/logx"
	"rework/pkg/orchestrator"
	"rework/pkg/tools"
	"rework/pkg/version"
)

// printer streams turn output to the terminal.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	midLine bool
}

func newPrinter(out io.Writer, color bool) *printer {
	return &printer{out: out, color: color}
}

func (p *printer) OnText(delta string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, delta)
	p.midLine = !strings.HasSuffix(delta, "\n")
}

func (p *printer) OnToolResult(call conversation.ToolCallRequest, res *tools.ExecResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	status := p.paint("32", "ok")
	if res.IsError {
		status = p.paint("31", "failed")
	}
	fmt.Fprintf(p.out, "  [%s] %s\n", call.Name, status)
}

func (p *printer) endLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func (p *printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

// report prints the outcome of a turn.
func (p *printer) report(r *orchestrator.TurnReport, showDiffs bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	if r == nil {
		return
	}
	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		switch o.Status {
		case edit.StatusApplied:
			fmt.Fprintf(p.out, "%s %s", p.paint("32", "applied"), o.Path)
		case edit.StatusRejected:
			fmt.Fprintf(p.out, "%s %s", p.paint("31", "rejected"), o.Path)
		default:
			fmt.Fprintf(p.out, "%s %s", p.paint("33", "skipped"), o.Path)
		}
		if o.Reason != "" {
			fmt.Fprintf(p.out, " (%s)", o.Reason)
		}
		if o.Err != nil {
			fmt.Fprintf(p.out, ": %v", o.Err)
		}
		fmt.Fprintln(p.out)
		for _, w := range o.Warnings {
			fmt.Fprintf(p.out, "  warning: %s\n", w)
		}
		if showDiffs && o.Diff != "" {
			fmt.Fprint(p.out, o.Diff)
		}
	}
	if len(r.ContextAdded) > 0 {
		fmt.Fprintf(p.out, "added to chat: %s\n", strings.Join(r.ContextAdded, ", "))
	}
	if r.Summary != "" {
		fmt.Fprintf(p.out, "summary: %s\n", r.Summary)
	}
	if r.CommitID != "" {
		fmt.Fprintf(p.out, "committed %s\n", shortID(r.CommitID))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(p.out, "%s %s\n", p.paint("33", "warning:"), w)
	}
	switch {
	case errors.Is(r.Err, orchestrator.ErrCancelled):
		fmt.Fprintln(p.out, p.paint("33", "cancelled"))
	case r.Err != nil:
		fmt.Fprintf(p.out, "%s %v\n", p.paint("31", "error:"), r.Err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// runChat is the interactive loop. Ctrl-C cancels a running turn; when idle
// it exits.
func runChat(ctx context.Context, flags *globalFlags) error {
	a, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer a.close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	out := newPrinter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
	sess, err := a.newSession(ctx, nil, out)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("Closing session: %v", err)
		}
	}()

	if flags.resume != "" {
		if err := a.resume(ctx, sess, flags.resume); err != nil {
			return fmt.Errorf("resume %s: %w", flags.resume, err)
		}
		fmt.Printf("Resumed session %s (%d turns)\n", sess.ID(), len(sess.Turns()))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if sig == os.Interrupt && sess.Cancel() {
				continue
			}
			fmt.Fprintln(os.Stderr, "\nInterrupted.")
			_ = logx.Close()
			os.Exit(130)
		}
	}()

	if interactive {
		fmt.Printf("rework %s | %s | format %s | mode %s\n", version.Short(), a.ws.Root(), sess.Format(), sess.Mode())
		fmt.Printf("Logging to %s. Type /help for commands.\n", a.logPath)
	}

	repl := &chat{app: a, sess: sess, out: out}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := repl.handle(ctx, line); quit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
