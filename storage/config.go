// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package storage

// public strings that the engine configuration can reference
const (
	MemoryBackend string = "memory"
)

// DefaultBackend is the engine used by tables which don't name one.
const DefaultBackend = MemoryBackend

// Config represents configuration which applies to every storage engine.
type Config struct {
	Backend string `toml:"backend"`
}

// NewDefaultConfig returns a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Backend: DefaultBackend,
	}
}
