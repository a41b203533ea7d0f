// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/featurebasedb/jql"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes the environment variable of every configuration option.
const envPrefix = "JQL"

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "jql",
		Short: "jql is an in-memory, multi-session SQL catalog engine.",
		Long: `jql is an in-memory, multi-session SQL catalog engine.

Sessions create and drop schemas, tables and functions, either directly or
through a sandbox which stages changes until they are committed. Table
access is coordinated by per-table reader/writer locks.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			err := setAllConfig(v, cmd.Flags())
			if err != nil {
				return err
			}

			// return "dry run" error if "dry-run" flag is set
			ret, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("problem getting dry-run flag: %v", err)
			}
			if ret {
				if cmd.Parent() != nil {
					return fmt.Errorf("dry run")
				}
			}

			return nil
		},
	}
	rc.PersistentFlags().Bool("dry-run", false, "stop before executing")
	_ = rc.PersistentFlags().MarkHidden("dry-run")
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newShellCommand(stdin, stdout, stderr))
	rc.AddCommand(newConfigCommand(stdin, stdout, stderr))
	rc.AddCommand(newGenerateConfigCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// configFlags defines a flag for every option of cfg, named like its key in
// the configuration file.
func configFlags(flags *pflag.FlagSet, cfg *jql.Config) {
	flags.BoolVarP(&cfg.Verbose, "verbose", "", cfg.Verbose, "Enable verbose logging.")
	flags.StringVarP(&cfg.LogPath, "log-path", "", cfg.LogPath, "Log path. Logs go to stderr if empty.")
	flags.StringVarP(&cfg.Bind, "bind", "b", cfg.Bind, "host:port of the debug HTTP listener. Disabled if empty.")
	flags.StringVarP(&cfg.Storage.Backend, "storage.backend", "", cfg.Storage.Backend, "Storage engine of tables which don't name one.")
	flags.IntVarP(&cfg.Lock.MaxReaders, "lock.max-readers", "", cfg.Lock.MaxReaders, "Maximum concurrent readers per table. 0 is unlimited.")
	flags.DurationVarP((*time.Duration)(&cfg.Lock.AcquireTimeout), "lock.acquire-timeout", "", time.Duration(cfg.Lock.AcquireTimeout), "How long to wait for a table lock. 0 waits indefinitely.")
	flags.StringVarP(&cfg.Shell.HistoryPath, "shell.history-path", "", cfg.Shell.HistoryPath, "File to keep shell history in.")
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order. Since each flag in the set contains a pointer to
// where its value should be stored, setAllConfig can directly modify the value
// of each config variable.
//
// setAllConfig looks for environment variables which are capitalized versions
// of the flag names with dashes and dots replaced by underscores, and prefixed
// with envPrefix plus an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	// add cmd line flag def to viper
	err := v.BindPFlags(flags)
	if err != nil {
		return err
	}

	// add env to viper
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	c := v.GetString("config")
	var flagErr error
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	// add config file to viper
	if c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}

		for _, key := range v.AllKeys() {
			if _, ok := validTags[key]; !ok {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	// set all values from viper
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		if f.Changed {
			// Already set on the command line, which takes priority.
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
