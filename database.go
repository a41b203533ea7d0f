// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/lock"
	"github.com/featurebasedb/jql/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SessionID identifies a session.
type SessionID string

// databaseRequester is the lock requester id used when the Database itself
// retires locks.
const databaseRequester = "database"

// Database is the registry shared by every session: the global Context and
// the Context of each open session.
//
// mu serializes every change to the set of registered tables, so a check made
// against a merged view while holding it stays true until it is released.
// Nothing ever waits on a TableLock while holding mu.
type Database struct {
	logger   logger.Logger
	lockOpts []lock.Option

	mu       sync.Mutex
	global   *catalog.Context
	sessions map[SessionID]*session
	closed   bool
}

type session struct {
	id      SessionID
	cx      *catalog.Context
	created time.Time
}

// DatabaseOption is a functional option for NewDatabase.
type DatabaseOption func(db *Database)

func OptDatabaseLogger(l logger.Logger) DatabaseOption {
	return func(db *Database) {
		db.logger = l
	}
}

// OptDatabaseMaxReaders caps concurrent readers on every table lock.
func OptDatabaseMaxReaders(n int) DatabaseOption {
	return func(db *Database) {
		db.lockOpts = append(db.lockOpts, lock.OptMaxReaders(n))
	}
}

// NewDatabase returns an empty Database.
func NewDatabase(opts ...DatabaseOption) *Database {
	db := &Database{
		logger:   logger.NopLogger,
		sessions: make(map[SessionID]*session),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.lockOpts = append(db.lockOpts,
		lock.OptLogger(db.logger.WithPrefix("[lock] ")),
		lock.OptWaitObserver(observeLockWait),
	)
	db.global = db.newContext(catalog.GlobalScope())
	return db
}

func (db *Database) contextOptions() []catalog.ContextOption {
	return []catalog.ContextOption{catalog.OptContextLockOptions(db.lockOpts...)}
}

func (db *Database) newContext(scope catalog.Scope) *catalog.Context {
	return catalog.NewContext(scope, db.contextOptions()...)
}

func (db *Database) newDirtyContext(scope catalog.Scope) *catalog.DirtyContext {
	return catalog.NewDirtyContext(scope, db.contextOptions()...)
}

// Global returns the global Context.
func (db *Database) Global() *catalog.Context {
	return db.global
}

// Session returns the Context of an open session.
func (db *Database) Session(id SessionID) (*catalog.Context, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.sessions[id]
	if !ok {
		return nil, false
	}
	return s.cx, true
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID      SessionID `json:"id"`
	Created time.Time `json:"created"`
	Tables  int       `json:"tables"`
}

// Sessions returns the open sessions, sorted by id.
func (db *Database) Sessions() []SessionInfo {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]SessionInfo, 0, len(db.sessions))
	for _, s := range db.sessions {
		info := SessionInfo{ID: s.id, Created: s.created}
		for _, schema := range s.cx.Schemas() {
			info.Tables += len(s.cx.Tables(schema))
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// View returns a fresh read-only merge of the global Context and, if id
// names an open session, that session's Context.
func (db *Database) View(id SessionID) *catalog.Context {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.view(id)
}

// view must be called with db.mu held.
func (db *Database) view(id SessionID) *catalog.Context {
	var scx *catalog.Context
	if s, ok := db.sessions[id]; ok {
		scx = s.cx
	}
	return catalog.Merge(db.global, scx)
}

func (db *Database) openSession() (SessionID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return "", NewErrDatabaseClosed()
	}
	id := SessionID(uuid.NewString())
	db.sessions[id] = &session{
		id:      id,
		cx:      db.newContext(catalog.SessionScope(string(id))),
		created: time.Now().UTC(),
	}
	return id, nil
}

// sessionContext must be called with db.mu held.
func (db *Database) sessionContext(id SessionID) (*catalog.Context, error) {
	s, ok := db.sessions[id]
	if !ok {
		return nil, NewErrSessionNotExists(id)
	}
	return s.cx, nil
}

// Close kills every session and retires every table lock, so that anything
// still queued on a table fails. The Database can't be used afterwards.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	cxs := []*catalog.Context{db.global}
	for id, s := range db.sessions {
		cxs = append(cxs, s.cx)
		delete(db.sessions, id)
	}
	GaugeSessionsActive.Sub(float64(len(cxs) - 1))
	db.mu.Unlock()

	var locks []*lock.TableLock
	for _, cx := range cxs {
		for _, schema := range cx.Schemas() {
			locks = append(locks, cx.Locks(schema)...)
		}
	}
	db.logger.Debugf("closing database: %d table locks", len(locks))
	return closeLocks(ctx, locks, databaseRequester)
}

// closeLocks closes locks concurrently on behalf of requester. Locks which
// are already closed are skipped.
func closeLocks(ctx context.Context, locks []*lock.TableLock, requester string) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range locks {
		l := l
		if l.Closed() {
			continue
		}
		eg.Go(func() error {
			err := l.Close(ctx, requester)
			if err != nil && l.Closed() {
				// Someone else got there first.
				return nil
			}
			return err
		})
	}
	return eg.Wait()
}
