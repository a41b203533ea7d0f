// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package jql is the transactional core of an in-memory, multi-session SQL
// engine: the Engine that owns session lifecycle and applies DDL, and the
// Sandbox which stages DDL for one session until it is committed.
//
// Every Engine DDL method validates against a fresh merged view of the
// global and session catalogs, makes its change while holding the
// Database's catalog mutex, and waits for table locks only while not holding
// it. Each returns the number of rows affected: zero when an IfExists or
// IfNotExists flag suppressed the operation, one otherwise.
package jql

import (
	"context"
	"time"

	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/lock"
	"github.com/featurebasedb/jql/logger"
	"github.com/featurebasedb/jql/storage"
	"github.com/featurebasedb/jql/tracing"
)

// Engine applies DDL to a Database.
type Engine struct {
	db     *Database
	logger logger.Logger

	acquireTimeout time.Duration
	defaultBackend string
}

// EngineOption is a functional option for NewEngine.
type EngineOption func(e *Engine)

func OptEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// OptEngineAcquireTimeout bounds every wait for a table lock. Zero, the
// default, waits until the caller's context is done.
func OptEngineAcquireTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.acquireTimeout = d
	}
}

// OptEngineStorageBackend sets the storage engine of tables whose definition
// doesn't name one.
func OptEngineStorageBackend(backend string) EngineOption {
	return func(e *Engine) {
		e.defaultBackend = backend
	}
}

// NewEngine returns an Engine over db.
func NewEngine(db *Database, opts ...EngineOption) *Engine {
	e := &Engine{
		db:             db,
		logger:         logger.NopLogger,
		defaultBackend: storage.DefaultBackend,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig returns a Database and an Engine configured by cfg.
func NewEngineFromConfig(cfg *Config, l logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	db := NewDatabase(
		OptDatabaseLogger(l),
		OptDatabaseMaxReaders(cfg.Lock.MaxReaders),
	)
	return NewEngine(db,
		OptEngineLogger(l.WithPrefix("[engine] ")),
		OptEngineAcquireTimeout(time.Duration(cfg.Lock.AcquireTimeout)),
		OptEngineStorageBackend(cfg.Storage.Backend),
	), nil
}

func (e *Engine) Database() *Database { return e.db }

// sessionLogger returns the logger for events belonging to a session.
func (e *Engine) sessionLogger(id SessionID) logger.Logger {
	return e.logger.WithPrefix(logger.SessionPrefix(string(id)))
}

// lockContext applies the acquire timeout, if any, to ctx.
func (e *Engine) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.acquireTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.acquireTimeout)
}

// prepareTable validates td and fills in the default storage engine.
func (e *Engine) prepareTable(td *catalog.TableDefinition) error {
	if td == nil {
		return catalog.NewErrInvalidDefinition("table definition is required")
	}
	if td.Engine == "" {
		td.Engine = e.defaultBackend
	}
	return td.Validate()
}

// finish records the outcome of a DDL call.
func (e *Engine) finish(span tracing.Span, kind string, id SessionID, n int, err error) {
	CounterDDLStatements.WithLabelValues(kind, outcome(n, err)).Inc()
	span.LogKV("rows", n)
	if err != nil {
		span.LogKV("error", err.Error())
		e.sessionLogger(id).Debugf("op=%s error: %v", kind, err)
	}
	span.Finish()
}

// CreateSession opens a new session with an empty session catalog.
func (e *Engine) CreateSession(ctx context.Context) (SessionID, error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Engine.CreateSession")
	defer span.Finish()

	id, err := e.db.openSession()
	if err != nil {
		return "", err
	}
	GaugeSessionsActive.Inc()
	span.LogKV("session", string(id))
	e.sessionLogger(id).Debugf("op=create-session")
	return id, nil
}

// KillSession ends a session. Locks on its temporary tables are closed first,
// so anything queued on them fails with lock.ErrClosed, and then the session
// catalog is discarded. Sandboxes begun in the session can no longer commit.
func (e *Engine) KillSession(ctx context.Context, id SessionID) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "Engine.KillSession")
	defer span.Finish()

	e.db.mu.Lock()
	scx, err := e.db.sessionContext(id)
	if err != nil {
		e.db.mu.Unlock()
		return err
	}
	delete(e.db.sessions, id)
	e.db.mu.Unlock()
	GaugeSessionsActive.Dec()

	var locks []*lock.TableLock
	for _, schema := range scx.Schemas() {
		locks = append(locks, scx.Locks(schema)...)
	}

	lctx, cancel := e.lockContext(ctx)
	defer cancel()
	if err := closeLocks(lctx, locks, string(id)); err != nil {
		return errors.Wrapf(err, "closing temporary tables of session '%s'", id)
	}
	e.sessionLogger(id).Debugf("op=kill-session tables=%d", len(locks))
	return nil
}

// CreateSchema creates a schema in the global catalog.
func (e *Engine) CreateSchema(ctx context.Context, name string, ifNotExists bool) (n int, err error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Engine.CreateSchema")
	defer func() { e.finish(span, KindCreateSchema, "", n, err) }()

	if name == "" {
		return 0, catalog.NewErrInvalidDefinition("schema name is required")
	}

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if e.db.global.HasSchema(name) {
		if ifNotExists {
			return 0, nil
		}
		return 0, catalog.NewErrSchemaExists(name)
	}
	if err := e.db.global.CreateSchema(name); err != nil {
		return 0, err
	}
	e.logger.Debugf("op=create-schema schema=%s", name)
	return 1, nil
}

// DropSchema closes the lock of every table in the schema, in both the global
// catalog and the session's, then removes the schema from both.
func (e *Engine) DropSchema(ctx context.Context, id SessionID, name string, ifExists bool) (n int, err error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Engine.DropSchema")
	defer func() { e.finish(span, KindDropSchema, id, n, err) }()

	lctx, cancel := e.lockContext(ctx)
	defer cancel()

	for {
		e.db.mu.Lock()
		scx, err := e.db.sessionContext(id)
		if err != nil {
			e.db.mu.Unlock()
			return 0, err
		}
		if !catalog.Merge(e.db.global, scx).HasSchema(name) {
			e.db.mu.Unlock()
			if ifExists {
				return 0, nil
			}
			return 0, catalog.NewErrSchemaNotExists(name)
		}

		var open []*lock.TableLock
		for _, cx := range []*catalog.Context{e.db.global, scx} {
			for _, l := range cx.Locks(name) {
				if !l.Closed() {
					open = append(open, l)
				}
			}
		}
		if len(open) == 0 {
			// Every table is retired; the schema can go.
			for _, cx := range []*catalog.Context{e.db.global, scx} {
				if cx.HasSchema(name) {
					if err := cx.DropSchema(name); err != nil {
						e.db.mu.Unlock()
						return 0, err
					}
				}
			}
			e.db.mu.Unlock()
			e.sessionLogger(id).Debugf("op=drop-schema schema=%s", name)
			return 1, nil
		}
		e.db.mu.Unlock()

		// Tables created while these were closing are picked up on the next
		// pass.
		if err := closeLocks(lctx, open, string(id)); err != nil {
			return 0, errors.Wrapf(err, "closing tables of schema '%s'", name)
		}
	}
}

// CreateTable registers td in the session catalog if it is temporary, and in
// the global catalog otherwise, creating its schema there if needed.
func (e *Engine) CreateTable(ctx context.Context, id SessionID, td *catalog.TableDefinition, ifNotExists bool) (n int, err error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Engine.CreateTable")
	defer func() { e.finish(span, KindCreateTable, id, n, err) }()

	if err := e.prepareTable(td); err != nil {
		return 0, err
	}

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	scx, err := e.db.sessionContext(id)
	if err != nil {
		return 0, err
	}
	if catalog.Merge(e.db.global, scx).HasTable(td.Schema, td.Name) {
		if ifNotExists {
			return 0, nil
		}
		return 0, catalog.NewErrTableExists(td.QualifiedName())
	}

	target := e.db.global
	if td.Temporary {
		target = scx
	}
	createdSchema := !target.HasSchema(td.Schema)
	if err := target.CreateSchema(td.Schema); err != nil {
		return 0, err
	}
	if err := target.CreateTable(td); err != nil {
		if createdSchema {
			// Leave no trace of the failed call.
			_ = target.DropSchema(td.Schema)
		}
		return 0, err
	}
	e.sessionLogger(id).Debugf("op=create-table table=%s scope=%s", td.QualifiedName(), target.Scope())
	return 1, nil
}

// DropTable closes the table's lock, waiting for its holders to finish, then
// removes the table from whichever catalog owns it. A session's temporary
// table shadows a global table of the same name.
func (e *Engine) DropTable(ctx context.Context, id SessionID, qn catalog.QualifiedName, ifExists bool) (n int, err error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Engine.DropTable")
	defer func() { e.finish(span, KindDropTable, id, n, err) }()

	e.db.mu.Lock()
	scx, err := e.db.sessionContext(id)
	if err != nil {
		e.db.mu.Unlock()
		return 0, err
	}
	owner := e.db.global
	if scx.HasTable(qn.Schema, qn.Name) {
		owner = scx
	}
	l, ok := owner.Lock(qn.Schema, qn.Name)
	e.db.mu.Unlock()
	if !ok {
		if ifExists {
			return 0, nil
		}
		return 0, catalog.NewErrTableNotExists(qn)
	}

	lctx, cancel := e.lockContext(ctx)
	defer cancel()
	if err := l.Close(lctx, string(id)); err != nil {
		if errors.Is(err, lock.ErrClosed) && ifExists {
			// Dropped by someone else while we waited.
			return 0, nil
		}
		return 0, err
	}
	defer l.ReleaseWrite(string(id))

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if cur, ok := owner.Lock(qn.Schema, qn.Name); !ok || cur != l {
		// DropSchema removed it along with its schema once it saw the lock
		// closed.
		e.sessionLogger(id).Debugf("op=drop-table table=%s removed with its schema", qn)
		return 1, nil
	}
	if err := owner.DropTable(qn.Schema, qn.Name); err != nil {
		return 0, err
	}
	e.sessionLogger(id).Debugf("op=drop-table table=%s scope=%s", qn, owner.Scope())
	return 1, nil
}

// CreateFunction registers fd in the global catalog.
func (e *Engine) CreateFunction(ctx context.Context, fd *catalog.FunctionDefinition) (n int, err error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Engine.CreateFunction")
	defer func() { e.finish(span, KindCreateFunction, "", n, err) }()

	if fd == nil {
		return 0, catalog.NewErrInvalidDefinition("function definition is required")
	}
	if err := fd.Validate(); err != nil {
		return 0, err
	}

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if err := e.db.global.CreateFunction(fd); err != nil {
		return 0, err
	}
	e.logger.Debugf("op=create-function function=%s", fd.Name)
	return 1, nil
}

// DropFunction removes a function from the global catalog.
func (e *Engine) DropFunction(ctx context.Context, name string, ifExists bool) (n int, err error) {
	span, _ := tracing.StartSpanFromContext(ctx, "Engine.DropFunction")
	defer func() { e.finish(span, KindDropFunction, "", n, err) }()

	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if !e.db.global.HasFunction(name) {
		if ifExists {
			return 0, nil
		}
		return 0, catalog.NewErrFunctionNotExists(name)
	}
	if err := e.db.global.DropFunction(name); err != nil {
		return 0, err
	}
	e.logger.Debugf("op=drop-function function=%s", name)
	return 1, nil
}

// Begin starts a Sandbox in the given session. If autocommit is set, each
// DDL call on the Sandbox commits it immediately.
func (e *Engine) Begin(id SessionID, autocommit bool) (*Sandbox, error) {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if _, err := e.db.sessionContext(id); err != nil {
		return nil, err
	}
	return newSandbox(e, id, autocommit), nil
}

// View returns a fresh read-only merge of the global catalog and the
// session's catalog.
func (e *Engine) View(id SessionID) (*catalog.Context, error) {
	e.db.mu.Lock()
	defer e.db.mu.Unlock()
	if _, err := e.db.sessionContext(id); err != nil {
		return nil, err
	}
	return e.db.view(id), nil
}

// Execute runs stmt directly against the catalogs on behalf of a session.
func (e *Engine) Execute(ctx context.Context, id SessionID, stmt Statement) (int, error) {
	switch s := stmt.(type) {
	case *CreateSchema:
		return e.CreateSchema(ctx, s.Name, s.IfNotExists)
	case *DropSchema:
		return e.DropSchema(ctx, id, s.Name, s.IfExists)
	case *CreateTable:
		return e.CreateTable(ctx, id, s.Table, s.IfNotExists)
	case *DropTable:
		return e.DropTable(ctx, id, s.Table, s.IfExists)
	case *CreateFunction:
		return e.CreateFunction(ctx, s.Function)
	case *DropFunction:
		return e.DropFunction(ctx, s.Name, s.IfExists)
	case nil:
		return 0, catalog.NewErrInvalidDefinition("statement is required")
	default:
		return 0, NewErrUnsupportedStatement(stmt.Kind())
	}
}
