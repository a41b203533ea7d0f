// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains the jql subcommand definitions (1 per file).

Each command file has a new*Command function which returns a cobra.Command
wrapping the ctl implementation of the subcommand. The ctl instance is kept
in a package variable so that tests can inspect the configuration it ended up
with.
*/
package cmd
