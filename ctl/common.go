// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"io"
	"os"

	"github.com/featurebasedb/jql"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/logger"
)

// CmdIO holds standard unix inputs and outputs.
type CmdIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	logger logger.Logger
}

// NewCmdIO returns a new instance of CmdIO with inputs and outputs set to the
// arguments.
func NewCmdIO(stdin io.Reader, stdout, stderr io.Writer) *CmdIO {
	return &CmdIO{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		logger: logger.NewStandardLogger(stderr),
	}
}

func (c *CmdIO) Logger() logger.Logger {
	return c.logger
}

// openLogger returns the logger configured by cfg: verbose or not, writing
// to cfg.LogPath if set and to stderr otherwise. The returned closer closes
// the log file, if one was opened.
func openLogger(cfg *jql.Config, stderr io.Writer) (logger.Logger, io.Closer, error) {
	var w io.Writer = stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening log file '%s'", cfg.LogPath)
		}
		w, closer = f, f
	}
	if cfg.Verbose {
		return logger.NewVerboseLogger(w), closer, nil
	}
	return logger.NewStandardLogger(w), closer, nil
}
