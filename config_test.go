// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql_test

import (
	"context"
	"testing"
	"time"

	"github.com/featurebasedb/jql"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/logger"
	"github.com/featurebasedb/jql/storage"
	"github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := jql.NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, storage.DefaultBackend, cfg.Storage.Backend)
	assert.Equal(t, jql.Duration(30*time.Second), cfg.Lock.AcquireTimeout)

	cfg = jql.NewConfig()
	cfg.Lock.MaxReaders = -1
	assert.Error(t, cfg.Validate())

	cfg = jql.NewConfig()
	cfg.Lock.AcquireTimeout = jql.Duration(-time.Second)
	assert.Error(t, cfg.Validate())

	cfg = jql.NewConfig()
	cfg.Storage.Backend = "rocksdb"
	err := cfg.Validate()
	assert.True(t, errors.Is(err, storage.ErrNotSupported), "got: %v", err)
}

func TestNewEngineFromConfig(t *testing.T) {
	cfg := jql.NewConfig()
	cfg.Lock.MaxReaders = 2
	e, err := jql.NewEngineFromConfig(cfg, logger.NopLogger)
	require.NoError(t, err)
	require.NotNil(t, e.Database())
	t.Cleanup(func() { e.Database().Close(context.Background()) })

	cfg.Storage.Backend = "rocksdb"
	_, err = jql.NewEngineFromConfig(cfg, logger.NopLogger)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	var d jql.Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, jql.Duration(90*time.Second), d)
	assert.Equal(t, "1m30s", d.String())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestConfig_TOML(t *testing.T) {
	cfg := jql.NewConfig()
	cfg.Lock.MaxReaders = 8
	cfg.Lock.AcquireTimeout = jql.Duration(time.Minute)
	cfg.Shell.HistoryPath = "/tmp/history"

	buf, err := toml.Marshal(*cfg)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `acquire-timeout = "1m0s"`)

	got := jql.NewConfig()
	require.NoError(t, toml.Unmarshal(buf, got))
	assert.Equal(t, cfg, got)
}
