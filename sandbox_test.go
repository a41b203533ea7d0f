// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql_test

import (
	"context"
	"testing"

	"github.com/featurebasedb/jql"
	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/lock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func begin(t *testing.T, e *jql.Engine, id jql.SessionID, autocommit bool) *jql.Sandbox {
	t.Helper()
	sb, err := e.Begin(id, autocommit)
	require.NoError(t, err)
	return sb
}

func TestSandbox_CreateTable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)

	t.Run("InvisibleUntilCommit", func(t *testing.T) {
		sb := begin(t, e, s1, false)
		n, err := sb.CreateTable(ctx, tableDef(t, "db", "t", false), false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		sv, err := sb.View()
		require.NoError(t, err)
		assert.True(t, sv.HasTable("db", "t"))
		assert.False(t, viewOf(t, e, s1).HasTable("db", "t"))
		assert.False(t, viewOf(t, e, s1).HasSchema("db"))

		require.NoError(t, sb.Commit(ctx))
		assert.True(t, sb.Committed())
		assert.True(t, viewOf(t, e, s1).HasTable("db", "t"))

		l, ok := e.Database().Global().Lock("db", "t")
		require.True(t, ok)
		assert.False(t, l.Closed())
	})

	t.Run("AlreadyExists", func(t *testing.T) {
		sb := begin(t, e, s1, false)
		_, err := sb.CreateTable(ctx, tableDef(t, "db", "t", false), false)
		assert.True(t, errors.Is(err, catalog.ErrAlreadyExists))

		n, err := sb.CreateTable(ctx, tableDef(t, "db", "t", false), true)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Temporary", func(t *testing.T) {
		s2 := newSession(t, e)
		sb := begin(t, e, s1, false)
		_, err := sb.CreateTable(ctx, tableDef(t, "tmp", "t", true), false)
		require.NoError(t, err)
		require.NoError(t, sb.Commit(ctx))

		scx, _ := e.Database().Session(s1)
		assert.True(t, scx.HasTable("tmp", "t"))
		assert.False(t, e.Database().Global().HasTable("tmp", "t"))
		// The schema was staged in both scopes.
		assert.True(t, e.Database().Global().HasSchema("tmp"))
		assert.False(t, viewOf(t, e, s2).HasTable("tmp", "t"))
	})

	t.Run("CommitTwice", func(t *testing.T) {
		sb := begin(t, e, s1, false)
		require.NoError(t, sb.Commit(ctx))
		err := sb.Commit(ctx)
		assert.True(t, errors.Is(err, catalog.ErrFatal), "got: %v", err)

		_, err = sb.CreateTable(ctx, tableDef(t, "db", "late", false), false)
		assert.True(t, errors.Is(err, catalog.ErrFatal))
	})
}

func TestSandbox_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)

	t.Run("SecondCreateAfterCommit", func(t *testing.T) {
		a := begin(t, e, s1, false)
		b := begin(t, e, s1, false)
		_, err := a.CreateTable(ctx, tableDef(t, "db", "t", false), false)
		require.NoError(t, err)
		require.NoError(t, a.Commit(ctx))

		_, err = b.CreateTable(ctx, tableDef(t, "db", "t", false), false)
		assert.True(t, errors.Is(err, catalog.ErrAlreadyExists))
	})

	t.Run("BothStagedBeforeCommit", func(t *testing.T) {
		a := begin(t, e, s1, false)
		b := begin(t, e, s1, false)
		_, err := a.CreateTable(ctx, tableDef(t, "db", "u", false), false)
		require.NoError(t, err)
		_, err = b.CreateTable(ctx, tableDef(t, "db", "u", false), false)
		require.NoError(t, err)

		errA := a.Commit(ctx)
		errB := b.Commit(ctx)
		require.NoError(t, errA)
		assert.True(t, errors.Is(errB, catalog.ErrAlreadyExists), "got: %v", errB)
		assert.False(t, b.Committed())

		tables := e.Database().Global().Tables("db")
		var count int
		for _, td := range tables {
			if td.Name == "u" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("FailedCommitAppliesNothing", func(t *testing.T) {
		a := begin(t, e, s1, false)
		b := begin(t, e, s1, false)
		_, err := a.CreateTable(ctx, tableDef(t, "db", "v", false), false)
		require.NoError(t, err)
		_, err = b.CreateTable(ctx, tableDef(t, "db", "v", false), false)
		require.NoError(t, err)
		_, err = b.CreateTable(ctx, tableDef(t, "db", "w", true), false)
		require.NoError(t, err)
		require.NoError(t, a.Commit(ctx))

		require.Error(t, b.Commit(ctx))
		scx, _ := e.Database().Session(s1)
		assert.False(t, scx.HasTable("db", "w"))
	})
}

func TestSandbox_DropTable(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)
	_, err := e.CreateTable(ctx, s1, tableDef(t, "db", "t", false), false)
	require.NoError(t, err)
	l, _ := e.Database().Global().Lock("db", "t")

	t.Run("NotExists", func(t *testing.T) {
		sb := begin(t, e, s1, false)
		_, err := sb.DropTable(ctx, catalog.NewQualifiedName("db", "missing"), false)
		assert.True(t, errors.Is(err, catalog.ErrNotExists))

		n, err := sb.DropTable(ctx, catalog.NewQualifiedName("db", "missing"), true)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("ClosesLockBeforeCommit", func(t *testing.T) {
		sb := begin(t, e, s1, false)
		n, err := sb.DropTable(ctx, catalog.NewQualifiedName("db", "t"), false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		// The lock is retired immediately, but the table is still there.
		assert.True(t, l.Closed())
		assert.True(t, errors.Is(l.AcquireRead(ctx, "other"), lock.ErrClosed))
		assert.True(t, viewOf(t, e, s1).HasTable("db", "t"))

		// The Sandbox still sees it, but won't drop it twice.
		sv, err := sb.View()
		require.NoError(t, err)
		assert.True(t, sv.HasTable("db", "t"))
		_, err = sb.DropTable(ctx, catalog.NewQualifiedName("db", "t"), false)
		assert.True(t, errors.Is(err, catalog.ErrNotExists))
		_, err = sb.CreateTable(ctx, tableDef(t, "db", "t", false), false)
		assert.True(t, errors.Is(err, catalog.ErrAlreadyExists))

		require.NoError(t, sb.Commit(ctx))
		assert.False(t, viewOf(t, e, s1).HasTable("db", "t"))
		_, ok := e.Database().Global().Lock("db", "t")
		assert.False(t, ok)
	})

	t.Run("CreateThenDrop", func(t *testing.T) {
		sb := begin(t, e, s1, false)
		_, err := sb.CreateTable(ctx, tableDef(t, "db", "brief", false), false)
		require.NoError(t, err)
		_, err = sb.DropTable(ctx, catalog.NewQualifiedName("db", "brief"), false)
		require.NoError(t, err)
		require.NoError(t, sb.Commit(ctx))
		assert.False(t, viewOf(t, e, s1).HasTable("db", "brief"))
	})

	t.Run("AbandonedDropStaysClosed", func(t *testing.T) {
		_, err := e.CreateTable(ctx, s1, tableDef(t, "db", "doomed", false), false)
		require.NoError(t, err)
		dl, _ := e.Database().Global().Lock("db", "doomed")

		sb := begin(t, e, s1, false)
		_, err = sb.DropTable(ctx, catalog.NewQualifiedName("db", "doomed"), false)
		require.NoError(t, err)

		assert.True(t, viewOf(t, e, s1).HasTable("db", "doomed"))
		assert.True(t, dl.Closed())
		_, err = e.DropTable(ctx, s1, catalog.NewQualifiedName("db", "doomed"), false)
		assert.True(t, errors.Is(err, lock.ErrClosed))
	})
}

func TestSandbox_Functions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)

	f, err := catalog.NewFunctionDefinition("f", nil, "int", "sql", "select 1")
	require.NoError(t, err)
	_, err = e.CreateFunction(ctx, f)
	require.NoError(t, err)

	sb := begin(t, e, s1, false)
	g, err := catalog.NewFunctionDefinition("g", nil, "int", "sql", "select 2")
	require.NoError(t, err)
	n, err := sb.CreateFunction(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = sb.CreateFunction(ctx, f)
	assert.True(t, errors.Is(err, catalog.ErrAlreadyExists))

	n, err = sb.DropFunction(ctx, "f", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = sb.DropFunction(ctx, "f", true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, sb.Commit(ctx))

	// Drops are applied; creations are not.
	assert.False(t, e.Database().Global().HasFunction("f"))
	assert.False(t, e.Database().Global().HasFunction("g"))
}

func TestSandbox_Autocommit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)

	commits := jql.CounterSandboxCommits.WithLabelValues("ok")
	before := testutil.ToFloat64(commits)

	sb := begin(t, e, s1, true)
	_, err := sb.CreateTable(ctx, tableDef(t, "db", "a", false), false)
	require.NoError(t, err)
	assert.True(t, viewOf(t, e, s1).HasTable("db", "a"))

	// Each statement starts over, so the Sandbox stays usable.
	_, err = sb.CreateTable(ctx, tableDef(t, "db", "b", false), false)
	require.NoError(t, err)
	_, err = sb.DropTable(ctx, catalog.NewQualifiedName("db", "a"), false)
	require.NoError(t, err)
	assert.False(t, viewOf(t, e, s1).HasTable("db", "a"))
	assert.True(t, viewOf(t, e, s1).HasTable("db", "b"))

	assert.Equal(t, before+3, testutil.ToFloat64(commits))
}

func TestSandbox_KilledSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)

	sb := begin(t, e, s1, false)
	_, err := sb.CreateTable(ctx, tableDef(t, "db", "t", false), false)
	require.NoError(t, err)

	require.NoError(t, e.KillSession(ctx, s1))
	err = sb.Commit(ctx)
	assert.True(t, errors.Is(err, catalog.ErrNotExists), "got: %v", err)
	assert.False(t, e.Database().Global().HasTable("db", "t"))

	_, err = e.Begin(s1, false)
	assert.True(t, errors.Is(err, catalog.ErrNotExists))
}

func TestSandbox_Execute(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	s1 := newSession(t, e)
	sb := begin(t, e, s1, false)

	stmts := []jql.Statement{
		&jql.CreateSchema{Name: "db"},
		&jql.CreateTable{Table: tableDef(t, "db", "t", false)},
		&jql.DropTable{Table: catalog.NewQualifiedName("db", "t")},
	}
	for _, stmt := range stmts {
		n, err := sb.Execute(ctx, stmt)
		require.NoError(t, err, stmt.Kind())
		assert.Equal(t, 1, n, stmt.Kind())
	}

	_, err := sb.Execute(ctx, &jql.DropSchema{Name: "db"})
	assert.True(t, errors.Is(err, catalog.ErrNotSupported))

	require.NoError(t, sb.Commit(ctx))
	v := viewOf(t, e, s1)
	assert.True(t, v.HasSchema("db"))
	assert.False(t, v.HasTable("db", "t"))
}
