// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog_test

import (
	"testing"

	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustTable returns a one-column table definition with "id" as its primary
// key.
func mustTable(t *testing.T, schema, name string, opts ...catalog.TableOption) *catalog.TableDefinition {
	t.Helper()
	td, err := catalog.NewTableDefinition(schema, name,
		[]catalog.Column{{Name: "id", Type: "int"}},
		[]string{"id"},
		opts...,
	)
	require.NoError(t, err)
	return td
}

func TestTableDefinition(t *testing.T) {
	cols := []catalog.Column{{Name: "id", Type: "int"}, {Name: "name", Type: "string", Nullable: true}}

	t.Run("Valid", func(t *testing.T) {
		td, err := catalog.NewTableDefinition("db", "t", cols, []string{"id"}, catalog.OptTableTemporary(true))
		require.NoError(t, err)
		assert.True(t, td.Temporary)
		assert.Equal(t, "memory", td.Engine)
		assert.Equal(t, "db.t", td.QualifiedName().String())

		col, ok := td.Column("name")
		assert.True(t, ok)
		assert.True(t, col.Nullable)
	})

	tests := []struct {
		name   string
		schema string
		table  string
		cols   []catalog.Column
		pk     []string
	}{
		{name: "NoSchema", table: "t", cols: cols, pk: []string{"id"}},
		{name: "NoName", schema: "db", cols: cols, pk: []string{"id"}},
		{name: "NoColumns", schema: "db", table: "t", pk: []string{"id"}},
		{name: "DuplicateColumn", schema: "db", table: "t", cols: append(cols, catalog.Column{Name: "id"}), pk: []string{"id"}},
		{name: "NoPrimaryKey", schema: "db", table: "t", cols: cols},
		{name: "UnknownPrimaryKey", schema: "db", table: "t", cols: cols, pk: []string{"nope"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := catalog.NewTableDefinition(test.schema, test.table, test.cols, test.pk)
			assert.True(t, errors.Is(err, catalog.ErrInvalidDefinition), "got: %v", err)
		})
	}
}

func TestFunctionDefinition(t *testing.T) {
	fd, err := catalog.NewFunctionDefinition("f", nil, "int", "", "select 1")
	require.NoError(t, err)
	assert.Equal(t, catalog.LanguageSQL, fd.Language)

	_, err = catalog.NewFunctionDefinition("f", nil, "int", "python", "return 1")
	assert.True(t, errors.Is(err, catalog.ErrNotSupported))

	_, err = catalog.NewFunctionDefinition("", nil, "int", "sql", "select 1")
	assert.True(t, errors.Is(err, catalog.ErrInvalidDefinition))
}

func TestParseQualifiedName(t *testing.T) {
	qn, err := catalog.ParseQualifiedName("db.t")
	require.NoError(t, err)
	assert.Equal(t, catalog.NewQualifiedName("db", "t"), qn)

	for _, s := range []string{"t", ".t", "db.", "a.b.c"} {
		_, err := catalog.ParseQualifiedName(s)
		assert.True(t, errors.Is(err, catalog.ErrInvalidDefinition), s)
	}
}

func TestContext(t *testing.T) {
	cx := catalog.NewContext(catalog.GlobalScope(), catalog.OptContextLockOptions(lock.OptMaxReaders(4)))

	t.Run("CreateSchema", func(t *testing.T) {
		require.NoError(t, cx.CreateSchema("db"))
		// Idempotent within one Context.
		require.NoError(t, cx.CreateSchema("db"))
		assert.True(t, cx.HasSchema("db"))
		assert.Equal(t, []string{"db"}, cx.Schemas())
	})

	t.Run("CreateTable", func(t *testing.T) {
		require.NoError(t, cx.CreateTable(mustTable(t, "db", "t")))
		assert.True(t, cx.HasTable("db", "t"))

		l, ok := cx.Lock("db", "t")
		require.True(t, ok)
		assert.False(t, l.Closed())
		assert.Equal(t, 4, l.Stats().ReaderCap)

		d, ok := cx.Data("db", "t")
		require.True(t, ok)
		assert.Zero(t, d.Len())

		err := cx.CreateTable(mustTable(t, "db", "t"))
		assert.True(t, errors.Is(err, catalog.ErrAlreadyExists))
	})

	t.Run("CreateTableNoSchema", func(t *testing.T) {
		err := cx.CreateTable(mustTable(t, "other", "t"))
		assert.True(t, errors.Is(err, catalog.ErrNotExists))
		assert.False(t, cx.HasSchema("other"))
	})

	t.Run("CreateTableUnknownEngine", func(t *testing.T) {
		err := cx.CreateTable(mustTable(t, "db", "x", catalog.OptTableEngine("rocksdb")))
		assert.True(t, errors.Is(err, catalog.ErrNotSupported))
		assert.False(t, cx.HasTable("db", "x"))
		_, ok := cx.Lock("db", "x")
		assert.False(t, ok)
	})

	t.Run("DropTable", func(t *testing.T) {
		require.NoError(t, cx.CreateTable(mustTable(t, "db", "u")))
		require.NoError(t, cx.DropTable("db", "u"))
		assert.False(t, cx.HasTable("db", "u"))
		_, ok := cx.Lock("db", "u")
		assert.False(t, ok)
		_, ok = cx.Data("db", "u")
		assert.False(t, ok)

		err := cx.DropTable("db", "u")
		assert.True(t, errors.Is(err, catalog.ErrNotExists))
	})

	t.Run("Functions", func(t *testing.T) {
		fd, err := catalog.NewFunctionDefinition("f", nil, "int", "sql", "select 1")
		require.NoError(t, err)
		require.NoError(t, cx.CreateFunction(fd))
		assert.True(t, errors.Is(cx.CreateFunction(fd), catalog.ErrAlreadyExists))
		assert.Len(t, cx.Functions(), 1)

		require.NoError(t, cx.DropFunction("f"))
		assert.True(t, errors.Is(cx.DropFunction("f"), catalog.ErrNotExists))
		assert.False(t, cx.HasFunction("f"))
	})

	t.Run("DropSchema", func(t *testing.T) {
		require.NoError(t, cx.DropSchema("db"))
		assert.False(t, cx.HasSchema("db"))
		assert.False(t, cx.HasTable("db", "t"))
		assert.True(t, errors.Is(cx.DropSchema("db"), catalog.ErrNotExists))
	})
}

func TestMerge(t *testing.T) {
	global := catalog.NewContext(catalog.GlobalScope())
	session := catalog.NewContext(catalog.SessionScope("s1"))

	require.NoError(t, global.CreateSchema("db"))
	require.NoError(t, global.CreateTable(mustTable(t, "db", "g")))
	require.NoError(t, global.CreateTable(mustTable(t, "db", "shared")))

	require.NoError(t, session.CreateSchema("db"))
	require.NoError(t, session.CreateSchema("tmp"))
	shadow := mustTable(t, "db", "shared", catalog.OptTableTemporary(true))
	require.NoError(t, session.CreateTable(shadow))

	merged := catalog.Merge(global, nil, session)
	assert.True(t, merged.Scope().IsReadonly())
	assert.Equal(t, []string{"db", "tmp"}, merged.Schemas())
	assert.True(t, merged.HasTable("db", "g"))

	// Later contexts win.
	td, ok := merged.Table("db", "shared")
	require.True(t, ok)
	assert.Same(t, shadow, td)
	sl, _ := session.Lock("db", "shared")
	ml, _ := merged.Lock("db", "shared")
	assert.Same(t, sl, ml)

	t.Run("ReadOnly", func(t *testing.T) {
		assert.True(t, errors.Is(merged.CreateSchema("x"), catalog.ErrReadOnly))
		assert.True(t, errors.Is(merged.DropSchema("db"), catalog.ErrReadOnly))
		assert.True(t, errors.Is(merged.CreateTable(mustTable(t, "db", "x")), catalog.ErrReadOnly))
		assert.True(t, errors.Is(merged.DropTable("db", "g"), catalog.ErrReadOnly))
		assert.False(t, merged.HasSchema("x"))
	})

	t.Run("SourcesUnchanged", func(t *testing.T) {
		assert.False(t, global.HasSchema("tmp"))
		assert.False(t, session.HasTable("db", "g"))
	})

	t.Run("Fresh", func(t *testing.T) {
		require.NoError(t, global.CreateTable(mustTable(t, "db", "later")))
		assert.False(t, merged.HasTable("db", "later"))
		assert.True(t, catalog.Merge(global, session).HasTable("db", "later"))
	})
}
