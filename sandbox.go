// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql

import (
	"context"
	"sync"

	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/lock"
	"github.com/featurebasedb/jql/tracing"
)

// Sandbox stages DDL for one session. Its changes are visible only through
// the Sandbox until Commit applies them to the real catalogs.
//
// There is no rollback. Abandoning a Sandbox discards what it staged, but a
// table it dropped keeps its closed lock, so the drop can't be undone.
type Sandbox struct {
	engine     *Engine
	sessionID  SessionID
	autocommit bool

	mu        sync.Mutex
	global    *catalog.DirtyContext
	session   *catalog.DirtyContext
	locks     []*lock.TableLock
	committed bool
}

func newSandbox(e *Engine, id SessionID, autocommit bool) *Sandbox {
	return &Sandbox{
		engine:     e,
		sessionID:  id,
		autocommit: autocommit,
		global:     e.db.newDirtyContext(catalog.GlobalScope()),
		session:    e.db.newDirtyContext(catalog.SessionScope(string(id))),
	}
}

func (s *Sandbox) SessionID() SessionID { return s.sessionID }
func (s *Sandbox) Autocommit() bool     { return s.autocommit }

// Committed reports whether Commit has succeeded.
func (s *Sandbox) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// View returns a fresh read-only merge of the global catalog, the staged
// global changes, the session catalog and the staged session changes. Tables
// whose drop is staged still appear in it.
func (s *Sandbox) View() (*catalog.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// view must be called with s.mu held.
func (s *Sandbox) view() (*catalog.Context, error) {
	db := s.engine.db
	db.mu.Lock()
	defer db.mu.Unlock()
	scx, err := db.sessionContext(s.sessionID)
	if err != nil {
		return nil, err
	}
	return catalog.Merge(db.global, s.global.Context, scx, s.session.Context), nil
}

func (s *Sandbox) dropStaged(qn catalog.QualifiedName) bool {
	return s.global.IsTableDropStaged(qn.Schema, qn.Name) || s.session.IsTableDropStaged(qn.Schema, qn.Name)
}

// start checks that the Sandbox is still usable and opens its span.
func (s *Sandbox) start(ctx context.Context, op string) (tracing.Span, context.Context, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, op)
	span.LogKV("session", string(s.sessionID))
	if s.committed {
		return span, ctx, NewErrAlreadyCommitted(s.sessionID)
	}
	return span, ctx, nil
}

// CreateSchema stages a schema in the global catalog.
func (s *Sandbox) CreateSchema(ctx context.Context, name string, ifNotExists bool) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ctx, err := s.start(ctx, "Sandbox.CreateSchema")
	defer func() { s.engine.finish(span, KindCreateSchema, s.sessionID, n, err) }()
	if err != nil {
		return 0, err
	}

	if name == "" {
		return 0, catalog.NewErrInvalidDefinition("schema name is required")
	}
	view, err := s.view()
	if err != nil {
		return 0, err
	}
	if view.HasSchema(name) {
		if ifNotExists {
			return 0, nil
		}
		return 0, catalog.NewErrSchemaExists(name)
	}
	if err := s.global.CreateSchema(name); err != nil {
		return 0, err
	}
	return s.staged(ctx)
}

// CreateTable stages td in the staged session catalog if it is temporary, and
// in the staged global catalog otherwise. A schema missing from the
// Sandbox's view is staged in both.
func (s *Sandbox) CreateTable(ctx context.Context, td *catalog.TableDefinition, ifNotExists bool) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ctx, err := s.start(ctx, "Sandbox.CreateTable")
	defer func() { s.engine.finish(span, KindCreateTable, s.sessionID, n, err) }()
	if err != nil {
		return 0, err
	}

	if err := s.engine.prepareTable(td); err != nil {
		return 0, err
	}
	view, err := s.view()
	if err != nil {
		return 0, err
	}
	// A table whose drop is staged still counts as present here.
	if view.HasTable(td.Schema, td.Name) {
		if ifNotExists {
			return 0, nil
		}
		return 0, catalog.NewErrTableExists(td.QualifiedName())
	}

	if !view.HasSchema(td.Schema) {
		for _, d := range []*catalog.DirtyContext{s.global, s.session} {
			if err := d.CreateSchema(td.Schema); err != nil {
				return 0, err
			}
		}
	}
	target := s.global
	if td.Temporary {
		target = s.session
	}
	if err := target.CreateSchema(td.Schema); err != nil {
		return 0, err
	}
	if err := target.CreateTable(td); err != nil {
		return 0, err
	}
	s.engine.sessionLogger(s.sessionID).Debugf("op=create-table table=%s staged=%s", td.QualifiedName(), target.Scope())
	return s.staged(ctx)
}

// DropTable closes the table's lock, waiting for its holders to finish, and
// stages the drop. The lock stays closed even if the Sandbox is never
// committed.
func (s *Sandbox) DropTable(ctx context.Context, qn catalog.QualifiedName, ifExists bool) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ctx, err := s.start(ctx, "Sandbox.DropTable")
	defer func() { s.engine.finish(span, KindDropTable, s.sessionID, n, err) }()
	if err != nil {
		return 0, err
	}

	view, err := s.view()
	if err != nil {
		return 0, err
	}
	l, ok := view.Lock(qn.Schema, qn.Name)
	if !ok || s.dropStaged(qn) {
		if ifExists {
			return 0, nil
		}
		return 0, catalog.NewErrTableNotExists(qn)
	}

	lctx, cancel := s.engine.lockContext(ctx)
	defer cancel()
	if err := l.Close(lctx, string(s.sessionID)); err != nil {
		if errors.Is(err, lock.ErrClosed) && ifExists {
			return 0, nil
		}
		return 0, err
	}
	s.locks = append(s.locks, l)

	// The session catalog shadows the global one, as in the view.
	owner := s.global
	if scx, ok := s.engine.db.Session(s.sessionID); s.session.HasTable(qn.Schema, qn.Name) || (ok && scx.HasTable(qn.Schema, qn.Name)) {
		owner = s.session
	}
	if err := owner.DropTable(qn.Schema, qn.Name); err != nil {
		return 0, err
	}
	s.engine.sessionLogger(s.sessionID).Debugf("op=drop-table table=%s staged=%s", qn, owner.Scope())
	return s.staged(ctx)
}

// CreateFunction stages fd in the global catalog. Functions created in a
// Sandbox are visible through it but are not applied by Commit; only
// Engine.CreateFunction registers a function for everyone.
func (s *Sandbox) CreateFunction(ctx context.Context, fd *catalog.FunctionDefinition) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ctx, err := s.start(ctx, "Sandbox.CreateFunction")
	defer func() { s.engine.finish(span, KindCreateFunction, s.sessionID, n, err) }()
	if err != nil {
		return 0, err
	}

	if fd == nil {
		return 0, catalog.NewErrInvalidDefinition("function definition is required")
	}
	if err := fd.Validate(); err != nil {
		return 0, err
	}
	view, err := s.view()
	if err != nil {
		return 0, err
	}
	if s.functionExists(view, fd.Name) {
		return 0, catalog.NewErrFunctionExists(fd.Name)
	}
	if err := s.global.Context.CreateFunction(fd); err != nil {
		return 0, err
	}
	return s.staged(ctx)
}

// DropFunction stages the removal of a global function.
func (s *Sandbox) DropFunction(ctx context.Context, name string, ifExists bool) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ctx, err := s.start(ctx, "Sandbox.DropFunction")
	defer func() { s.engine.finish(span, KindDropFunction, s.sessionID, n, err) }()
	if err != nil {
		return 0, err
	}

	view, err := s.view()
	if err != nil {
		return 0, err
	}
	if !s.functionExists(view, name) {
		if ifExists {
			return 0, nil
		}
		return 0, catalog.NewErrFunctionNotExists(name)
	}
	if s.global.HasFunction(name) {
		// Created in this Sandbox, and so never going to be applied. Any
		// global function of the same name already has its drop staged.
		if err := s.global.Context.DropFunction(name); err != nil {
			return 0, err
		}
		return s.staged(ctx)
	}
	if err := s.global.DropFunction(name); err != nil {
		return 0, err
	}
	return s.staged(ctx)
}

// functionExists reports whether a function is visible in the Sandbox.
func (s *Sandbox) functionExists(view *catalog.Context, name string) bool {
	if s.global.HasFunction(name) {
		return true
	}
	return view.HasFunction(name) && !s.global.IsFunctionDropStaged(name)
}

// staged finishes a statement which staged one change.
func (s *Sandbox) staged(ctx context.Context) (int, error) {
	if err := s.maybeCommit(ctx); err != nil {
		return 0, err
	}
	return 1, nil
}

// maybeCommit commits an autocommit Sandbox and readies it for the next
// statement. A failed commit applies nothing and its staged changes are
// discarded too, though tables it dropped keep their closed locks.
func (s *Sandbox) maybeCommit(ctx context.Context) error {
	if !s.autocommit {
		return nil
	}
	err := s.commit(ctx)
	if err != nil {
		for _, l := range s.locks {
			l.ReleaseWrite(string(s.sessionID))
		}
	}
	s.reset()
	return err
}

// reset discards everything staged.
func (s *Sandbox) reset() {
	s.global = s.engine.db.newDirtyContext(catalog.GlobalScope())
	s.session = s.engine.db.newDirtyContext(catalog.SessionScope(string(s.sessionID)))
	s.locks = nil
	s.committed = false
}

// Commit applies the staged global changes to the global catalog and the
// staged session changes to the session catalog, then releases the locks
// the Sandbox closed. Both are applied, or neither is, and no other commit
// or Engine DDL interleaves with them. Without autocommit, a Sandbox
// commits at most once; with it, each statement commits and the Sandbox
// starts over empty.
func (s *Sandbox) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed {
		CounterSandboxCommits.WithLabelValues(outcomeError).Inc()
		return NewErrAlreadyCommitted(s.sessionID)
	}
	return s.commit(ctx)
}

// commit must be called with s.mu held.
func (s *Sandbox) commit(ctx context.Context) (err error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Sandbox.Commit")
	defer func() {
		CounterSandboxCommits.WithLabelValues(outcome(1, err)).Inc()
		if err != nil {
			span.LogKV("error", err.Error())
		}
		span.Finish()
	}()

	db := s.engine.db
	db.mu.Lock()
	scx, err := db.sessionContext(s.sessionID)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	if err := s.global.CheckApply(db.global); err != nil {
		db.mu.Unlock()
		return errors.Wrap(err, "committing")
	}
	if err := s.session.CheckApply(scx); err != nil {
		db.mu.Unlock()
		return errors.Wrap(err, "committing")
	}
	if err := s.global.ApplyTo(db.global); err != nil {
		db.mu.Unlock()
		return err
	}
	if err := s.session.ApplyTo(scx); err != nil {
		db.mu.Unlock()
		return err
	}
	db.mu.Unlock()

	s.committed = true
	for _, l := range s.locks {
		l.ReleaseWrite(string(s.sessionID))
	}
	s.engine.sessionLogger(s.sessionID).Debugf("op=commit drops=%d", len(s.locks))
	return nil
}

// Execute runs stmt in the Sandbox. Dropping a schema isn't something a
// Sandbox can stage.
func (s *Sandbox) Execute(ctx context.Context, stmt Statement) (int, error) {
	switch st := stmt.(type) {
	case *CreateSchema:
		return s.CreateSchema(ctx, st.Name, st.IfNotExists)
	case *CreateTable:
		return s.CreateTable(ctx, st.Table, st.IfNotExists)
	case *DropTable:
		return s.DropTable(ctx, st.Table, st.IfExists)
	case *CreateFunction:
		return s.CreateFunction(ctx, st.Function)
	case *DropFunction:
		return s.DropFunction(ctx, st.Name, st.IfExists)
	case nil:
		return 0, catalog.NewErrInvalidDefinition("statement is required")
	default:
		return 0, NewErrUnsupportedStatement(stmt.Kind())
	}
}
