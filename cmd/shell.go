// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/featurebasedb/jql/ctl"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/tracing"
	"github.com/featurebasedb/jql/tracing/opentracing"
	gopentracing "github.com/opentracing/opentracing-go"
	"github.com/spf13/cobra"
)

// Shell is global so that tests can control and verify it.
var Shell *ctl.ShellCommand

func newShellCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Shell = ctl.NewShellCommand(stdin, stdout, stderr)
	var file string
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Run DDL statements in a session of an in-process engine.",
		Long: `shell starts an engine, opens a session in it and reads JSON statements,
each ending with ";", from the terminal or from a file. A statement looks like

	{"kind": "create-schema", "name": "db"};

Backslash commands open and commit sandboxes and describe the catalog; type
\help in the shell for a list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tracing.GlobalTracer = opentracing.NewTracer(gopentracing.GlobalTracer())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if file == "" {
				return Shell.Run(ctx)
			}
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrap(err, "opening script")
			}
			defer f.Close()
			return Shell.RunScript(ctx, f)
		},
	}
	flags := shellCmd.Flags()
	configFlags(flags, Shell.Config)
	flags.StringVarP(&file, "file", "f", "", "Run the statements in this file instead of reading from the terminal.")
	return shellCmd
}
