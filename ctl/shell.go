// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/featurebasedb/jql"
	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
	jqlhttp "github.com/featurebasedb/jql/http"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

const (
	promptBegin     string = "jql> "
	promptMid       string = "  -> "
	terminationChar string = ";"
	exitCommand     string = "exit"
	metaPrefix      string = `\`
)

const splash = `jql shell
Statements are JSON objects ending with ";". Type "\help" for commands, "exit" to quit.
`

const help = `\begin       start a sandbox; statements are staged until \commit
\commit      commit the open sandbox
\abort       discard the open sandbox
\tables      list the tables this session can see
\functions   list the functions this session can see
\sessions    list open sessions
\locks       show the table locks this session can see
\help        show this message
`

// ShellCommand runs JSON DDL statements against an in-process engine, in a
// session of its own.
type ShellCommand struct {
	*CmdIO
	Config *jql.Config

	engine  *jql.Engine
	handler *jqlhttp.Handler
	closer  io.Closer
	session jql.SessionID

	// sandbox is the open explicit sandbox, if any.
	sandbox *jql.Sandbox

	// partial holds input received before a termination character.
	partial string

	// failed counts statements which returned an error.
	failed int
}

// NewShellCommand returns a new instance of ShellCommand.
func NewShellCommand(stdin io.Reader, stdout, stderr io.Writer) *ShellCommand {
	return &ShellCommand{
		CmdIO:  NewCmdIO(stdin, stdout, stderr),
		Config: jql.NewConfig(),
	}
}

// setup builds the engine, opens the shell's session and starts the debug
// HTTP listener if one is configured.
func (cmd *ShellCommand) setup(ctx context.Context) error {
	l, closer, err := openLogger(cmd.Config, cmd.Stderr)
	if err != nil {
		return err
	}
	cmd.logger, cmd.closer = l, closer

	cmd.engine, err = jql.NewEngineFromConfig(cmd.Config, l)
	if err != nil {
		return err
	}
	cmd.session, err = cmd.engine.CreateSession(ctx)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}

	if cmd.Config.Bind != "" {
		ln, err := net.Listen("tcp", cmd.Config.Bind)
		if err != nil {
			return errors.Wrapf(err, "listening on '%s'", cmd.Config.Bind)
		}
		cmd.handler, err = jqlhttp.NewHandler(
			jqlhttp.OptHandlerEngine(cmd.engine),
			jqlhttp.OptHandlerListener(ln),
			jqlhttp.OptHandlerLogger(l.WithPrefix("[http] ")),
		)
		if err != nil {
			ln.Close()
			return errors.Wrap(err, "creating handler")
		}
		go func() {
			if err := cmd.handler.Serve(); err != nil {
				l.Errorf("serving debug http: %v", err)
			}
		}()
		l.Infof("debug http listening on %s", ln.Addr())
	}
	return nil
}

// close kills the shell's session and shuts the engine down.
func (cmd *ShellCommand) close(ctx context.Context) error {
	var errs []string
	if cmd.handler != nil {
		if err := cmd.handler.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if cmd.engine != nil {
		if err := cmd.engine.Database().Close(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if cmd.closer != nil {
		if err := cmd.closer.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("closing shell: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Run reads statements interactively until exit or end of input.
func (cmd *ShellCommand) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := cmd.close(context.Background()); err == nil {
			err = cerr
		}
	}()
	if err := cmd.setup(ctx); err != nil {
		return err
	}

	fmt.Fprint(cmd.Stdout, splash)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 promptBegin,
		HistoryFile:            cmd.Config.Shell.HistoryPath,
		HistoryLimit:           100000,
		DisableAutoSaveHistory: true,
		Stdout:                 cmd.Stdout,
		Stderr:                 cmd.Stderr,
	})
	if err != nil {
		return errors.Wrap(err, "getting readline")
	}
	defer rl.Close()

	for {
		if cmd.partial != "" {
			rl.SetPrompt(promptMid)
		} else {
			rl.SetPrompt(promptBegin)
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			cmd.partial = ""
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "reading line")
		}

		input, quit := cmd.handleLine(ctx, line)
		if quit {
			return nil
		}
		if input != "" {
			if err := rl.SaveHistory(input); err != nil {
				fmt.Fprintf(cmd.Stderr, "Couldn't save history: %v\n", err)
			}
		}
	}
}

// RunScript runs the statements and commands read from r, then shuts the
// engine down. Every statement is attempted; an error is returned if any of
// them failed.
func (cmd *ShellCommand) RunScript(ctx context.Context, r io.Reader) (err error) {
	defer func() {
		if cerr := cmd.close(context.Background()); err == nil {
			err = cerr
		}
	}()
	if err := cmd.setup(ctx); err != nil {
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if _, quit := cmd.handleLine(ctx, scanner.Text()); quit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading script")
	}
	if cmd.partial != "" {
		return errors.Errorf("unterminated statement: %s", cmd.partial)
	}
	if cmd.failed > 0 {
		return errors.Errorf("%d statements failed", cmd.failed)
	}
	return nil
}

// handleLine adds one line of input. It returns the input it ran, if the
// line completed a statement or was a command, and whether the shell should
// exit.
func (cmd *ShellCommand) handleLine(ctx context.Context, line string) (input string, quit bool) {
	trimmed := strings.TrimSpace(line)
	if cmd.partial == "" {
		switch {
		case trimmed == "":
			return "", false
		case trimmed == exitCommand || trimmed == exitCommand+terminationChar:
			return "", true
		case strings.HasPrefix(trimmed, metaPrefix):
			cmd.report(cmd.meta(ctx, strings.TrimSuffix(trimmed, terminationChar)))
			return trimmed, false
		}
	}

	cmd.partial = appendCommand(cmd.partial, trimmed)
	if !strings.HasSuffix(trimmed, terminationChar) {
		return "", false
	}
	input, cmd.partial = cmd.partial, ""
	cmd.report(cmd.execute(ctx, strings.TrimSuffix(input, terminationChar)))
	return input, false
}

func appendCommand(orig string, part string) string {
	if orig == "" {
		return part
	}
	return orig + " " + part
}

// report writes a failed statement's error.
func (cmd *ShellCommand) report(err error) {
	if err == nil {
		return
	}
	cmd.failed++
	fmt.Fprintf(cmd.Stdout, "Error: %v\n", err)
}

// execute runs one JSON statement, in the open sandbox if there is one.
func (cmd *ShellCommand) execute(ctx context.Context, input string) error {
	stmt, err := jql.DecodeStatement([]byte(input))
	if err != nil {
		return err
	}

	start := time.Now()
	var n int
	if cmd.sandbox != nil {
		n, err = cmd.sandbox.Execute(ctx, stmt)
	} else {
		n, err = cmd.engine.Execute(ctx, cmd.session, stmt)
	}
	if err != nil {
		return err
	}

	t := cmd.newTable()
	t.AppendHeader(table.Row{"statement", "rows"})
	t.AppendRow(table.Row{stmt.Kind(), n})
	t.Render()
	staged := ""
	if cmd.sandbox != nil {
		staged = " (staged)"
	}
	fmt.Fprintf(cmd.Stdout, "Execution time: %dμs%s\n", time.Since(start).Microseconds(), staged)
	return nil
}

// meta runs a backslash command.
func (cmd *ShellCommand) meta(ctx context.Context, input string) error {
	switch input {
	case `\begin`:
		if cmd.sandbox != nil {
			return errors.Errorf("a sandbox is already open")
		}
		sb, err := cmd.engine.Begin(cmd.session, false)
		if err != nil {
			return err
		}
		cmd.sandbox = sb
		fmt.Fprintln(cmd.Stdout, "Sandbox open.")
	case `\commit`:
		if cmd.sandbox == nil {
			return errors.Errorf("no sandbox is open")
		}
		sb := cmd.sandbox
		cmd.sandbox = nil
		if err := sb.Commit(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.Stdout, "Committed.")
	case `\abort`:
		if cmd.sandbox == nil {
			return errors.Errorf("no sandbox is open")
		}
		cmd.sandbox = nil
		fmt.Fprintln(cmd.Stdout, "Sandbox discarded.")
	case `\tables`:
		view, err := cmd.view()
		if err != nil {
			return err
		}
		cmd.writeTables(view)
	case `\functions`:
		view, err := cmd.view()
		if err != nil {
			return err
		}
		cmd.writeFunctions(view)
	case `\sessions`:
		cmd.writeSessions()
	case `\locks`:
		view, err := cmd.view()
		if err != nil {
			return err
		}
		cmd.writeLocks(view)
	case `\help`:
		fmt.Fprint(cmd.Stdout, help)
	default:
		return errors.Errorf("unknown command '%s', try \\help", input)
	}
	return nil
}

// view returns what the shell's session sees, including anything staged in
// the open sandbox.
func (cmd *ShellCommand) view() (*catalog.Context, error) {
	if cmd.sandbox != nil {
		return cmd.sandbox.View()
	}
	return cmd.engine.View(cmd.session)
}

func (cmd *ShellCommand) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.Stdout)

	// Don't uppercase the header values.
	t.Style().Format.Header = text.FormatDefault
	return t
}

func (cmd *ShellCommand) writeTables(view *catalog.Context) {
	t := cmd.newTable()
	t.AppendHeader(table.Row{"schema", "table", "columns", "primary key", "temporary", "engine", "rows"})
	for _, schema := range view.Schemas() {
		for _, td := range view.Tables(schema) {
			cols := make([]string, len(td.Columns))
			for i, c := range td.Columns {
				cols[i] = c.Name + " " + c.Type
				if c.Nullable {
					cols[i] += " null"
				}
			}
			var rows int
			if data, ok := view.Data(schema, td.Name); ok {
				rows = data.Len()
			}
			t.AppendRow(table.Row{td.Schema, td.Name, strings.Join(cols, ", "), strings.Join(td.PrimaryKey, ", "), td.Temporary, td.Engine, rows})
		}
	}
	t.Render()
}

func (cmd *ShellCommand) writeFunctions(view *catalog.Context) {
	t := cmd.newTable()
	t.AppendHeader(table.Row{"function", "returns", "language"})
	for _, fd := range view.Functions() {
		t.AppendRow(table.Row{fd.Name, fd.Returns, fd.Language})
	}
	t.Render()
}

func (cmd *ShellCommand) writeSessions() {
	t := cmd.newTable()
	t.AppendHeader(table.Row{"session", "created", "tables", ""})
	for _, s := range cmd.engine.Database().Sessions() {
		current := ""
		if s.ID == cmd.session {
			current = "*"
		}
		t.AppendRow(table.Row{s.ID, s.Created.Format(time.RFC3339), s.Tables, current})
	}
	t.Render()
}

func (cmd *ShellCommand) writeLocks(view *catalog.Context) {
	t := cmd.newTable()
	t.AppendHeader(table.Row{"table", "readers", "writer", "waiting", "closed"})
	for _, schema := range view.Schemas() {
		for _, l := range view.Locks(schema) {
			st := l.Stats()
			t.AppendRow(table.Row{
				st.Table,
				strings.Join(st.Readers, ", "),
				st.Writer,
				fmt.Sprintf("%d/%d", st.WaitingRead, st.WaitingWrite),
				st.Closed,
			})
		}
	}
	t.Render()
}
