// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql

import (
	"strconv"
	"strings"
	"time"

	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/storage"
)

// Config represents the configuration for the engine and the jql command.
type Config struct {
	// Verbose toggles debug logging.
	Verbose bool `toml:"verbose"`

	// LogPath configures where logs are written. Empty means stderr.
	LogPath string `toml:"log-path"`

	// Bind is the host:port of the debug HTTP listener. Empty disables it.
	Bind string `toml:"bind"`

	Storage storage.Config `toml:"storage"`

	Lock struct {
		// MaxReaders caps concurrent readers per table. Zero is unlimited.
		MaxReaders int `toml:"max-readers"`
		// AcquireTimeout bounds every wait for a table lock. Zero waits
		// until the request is canceled.
		AcquireTimeout Duration `toml:"acquire-timeout"`
	} `toml:"lock"`

	Shell struct {
		HistoryPath string `toml:"history-path"`
	} `toml:"shell"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Storage: *storage.NewDefaultConfig(),
	}
	c.Lock.AcquireTimeout = Duration(30 * time.Second)
	return c
}

// Validate checks c for values the engine can't run with.
func (c *Config) Validate() error {
	if c.Lock.MaxReaders < 0 {
		return errors.Errorf("lock.max-readers must not be negative: %d", c.Lock.MaxReaders)
	}
	if c.Lock.AcquireTimeout < 0 {
		return errors.Errorf("lock.acquire-timeout must not be negative: %s", c.Lock.AcquireTimeout)
	}
	for _, b := range storage.Backends() {
		if strings.EqualFold(b, c.Storage.Backend) {
			return nil
		}
	}
	return storage.NewErrNotSupported(c.Storage.Backend)
}

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

// MarshalText writes duration value in text format.
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// MarshalTOML writes the duration as a quoted TOML string.
func (d Duration) MarshalTOML() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}
