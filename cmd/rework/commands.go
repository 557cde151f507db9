package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rework/pkg/codec"
	"rework/pkg/orchestrator"
)

// chat dispatches REPL lines to slash commands or turns.
type chat struct {
	app  *app
	sess *orchestrator.Session
	out  *printer
}

type command struct {
	usage string
	help  string
	run   func(c *chat, ctx context.Context, args []string) (quit bool, err error)
}

//nolint:gochecknoglobals // static command table, filled in init to break the reference cycle
var commands map[string]command

func init() { //nolint:gochecknoinits // command handlers refer back to the table
	commands = map[string]command{
		"/add":       {"/add <path>...", "add files to the chat", (*chat).add},
		"/drop":      {"/drop [path]...", "remove files from the chat (all when none given)", (*chat).drop},
		"/files":     {"/files", "list files in the chat", (*chat).files},
		"/format":    {"/format [name]", "show or set the edit format", (*chat).format},
		"/mode":      {"/mode [deterministic|autonomous]", "show or set the turn mode", (*chat).mode},
		"/ask":       {"/ask <question>", "ask about the code without editing", (*chat).ask},
		"/architect": {"/architect <request>", "plan first, then edit in the editor format", (*chat).architect},
		"/undo":      {"/undo", "revert the last commit or applied batch", (*chat).undo},
		"/diff":      {"/diff", "show changes since the session started", (*chat).diff},
		"/clear":     {"/clear", "start a fresh conversation", (*chat).clear},
		"/save":      {"/save", "store the session now", (*chat).save},
		"/sessions":  {"/sessions", "list stored sessions", (*chat).sessions},
		"/load":      {"/load <id|last>", "replace the conversation with a stored session", (*chat).load},
		"/help":      {"/help [question]", "list commands, or ask how to use rework", (*chat).help},
		"/exit":      {"/exit", "leave", func(*chat, context.Context, []string) (bool, error) { return true, nil }},
	}
}

func (c *chat) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		c.turn(ctx, line, orchestrator.TurnOptions{})
		return false
	}
	fields := strings.Fields(line)
	name := fields[0]
	if name == "/quit" {
		name = "/exit"
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(c.out.out, "unknown command %s; try /help\n", name)
		return false
	}
	quit, err := cmd.run(c, ctx, fields[1:])
	if err != nil {
		fmt.Fprintf(c.out.out, "%s %v\n", c.out.paint("31", "error:"), err)
	}
	return quit
}

func (c *chat) turn(ctx context.Context, message string, opts orchestrator.TurnOptions) {
	report, err := c.sess.RunTurn(ctx, message, opts)
	if report == nil {
		fmt.Fprintf(c.out.out, "%s %v\n", c.out.paint("31", "error:"), err)
		return
	}
	c.out.report(report, true)
}

func (c *chat) add(_ context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("usage: %s", commands["/add"].usage)
	}
	added, err := c.sess.AddContext(args...)
	if len(added) > 0 {
		fmt.Fprintf(c.out.out, "added %s\n", strings.Join(added, ", "))
	}
	return false, err
}

func (c *chat) drop(_ context.Context, args []string) (bool, error) {
	dropped := c.sess.DropContext(args...)
	fmt.Fprintf(c.out.out, "dropped %d file(s)\n", len(dropped))
	return false, nil
}

func (c *chat) files(context.Context, []string) (bool, error) {
	files := c.sess.ContextFiles()
	if len(files) == 0 {
		fmt.Fprintln(c.out.out, "no files in the chat")
	}
	for _, f := range files {
		fmt.Fprintln(c.out.out, f)
	}
	return false, nil
}

func (c *chat) format(_ context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		names := make([]string, 0, len(codec.Formats()))
		for _, f := range codec.Formats() {
			names = append(names, string(f))
		}
		fmt.Fprintf(c.out.out, "format %s (available: %s)\n", c.sess.Format(), strings.Join(names, ", "))
		return false, nil
	}
	if err := c.sess.SetFormat(args[0]); err != nil {
		return false, err
	}
	fmt.Fprintf(c.out.out, "format %s\n", c.sess.Format())
	return false, nil
}

func (c *chat) mode(_ context.Context, args []string) (bool, error) {
	if len(args) == 0 {
		fmt.Fprintf(c.out.out, "mode %s\n", c.sess.Mode())
		return false, nil
	}
	if err := c.sess.SetMode(args[0]); err != nil {
		return false, err
	}
	fmt.Fprintf(c.out.out, "mode %s\n", c.sess.Mode())
	return false, nil
}

func (c *chat) ask(ctx context.Context, args []string) (bool, error) {
	return c.oneOff(ctx, args, codec.FormatAsk, "/ask")
}

func (c *chat) architect(ctx context.Context, args []string) (bool, error) {
	return c.oneOff(ctx, args, codec.FormatArchitect, "/architect")
}

func (c *chat) oneOff(ctx context.Context, args []string, f codec.Format, name string) (bool, error) {
	if len(args) == 0 {
		return false, fmt.Errorf("usage: %s", commands[name].usage)
	}
	c.turn(ctx, strings.Join(args, " "), orchestrator.TurnOptions{Format: f})
	return false, nil
}

func (c *chat) undo(ctx context.Context, _ []string) (bool, error) {
	msg, err := c.sess.Undo(ctx)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(c.out.out, msg)
	return false, nil
}

func (c *chat) diff(ctx context.Context, _ []string) (bool, error) {
	d, err := c.sess.Diff(ctx)
	if err != nil {
		return false, err
	}
	if d == "" {
		fmt.Fprintln(c.out.out, "no changes")
		return false, nil
	}
	fmt.Fprint(c.out.out, d)
	return false, nil
}

func (c *chat) clear(context.Context, []string) (bool, error) {
	c.sess.Clear()
	fmt.Fprintln(c.out.out, "conversation cleared")
	return false, nil
}

func (c *chat) save(ctx context.Context, _ []string) (bool, error) {
	if err := c.sess.Save(ctx); err != nil {
		return false, err
	}
	fmt.Fprintf(c.out.out, "saved session %s\n", c.sess.ID())
	return false, nil
}

func (c *chat) sessions(ctx context.Context, _ []string) (bool, error) {
	if c.app.store == nil {
		return false, orchestrator.ErrNoStore
	}
	return false, listSessions(ctx, c.out.out, c.app.store, 20)
}

func (c *chat) load(ctx context.Context, args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("usage: %s", commands["/load"].usage)
	}
	if err := c.app.resume(ctx, c.sess, args[0]); err != nil {
		return false, err
	}
	fmt.Fprintf(c.out.out, "loaded session %s (%d turns)\n", c.sess.ID(), len(c.sess.Turns()))
	return false, nil
}

func (c *chat) help(ctx context.Context, args []string) (bool, error) {
	if len(args) > 0 {
		return c.oneOff(ctx, args, codec.FormatHelp, "/help")
	}
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out.out, "  %-34s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintln(c.out.out, "Anything else is sent to the model. Ctrl-C cancels the running turn.")
	return false, nil
}
