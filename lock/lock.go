// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package lock provides TableLock, the fair reader/writer lock which guards
// a single table.
//
// Requesters are identified by string ids (in practice, session ids), and
// every acquire is reentrant per requester: asking again for a hold you
// already have, or are already queued for, returns immediately. Writers are
// served in arrival order, and once a writer is queued no reader that
// arrives after it is admitted until the writer has had its turn.
//
// A TableLock is retired with Close, which waits for exclusive access and
// then marks the lock closed. Any request queued at that point, and any
// request made afterwards, fails with ErrClosed.
//
// Waiting is done on a sync.Cond which is broadcast whenever the lock's
// state changes or a waiter's context is done. The context passed to
// AcquireRead, AcquireWrite and Close is re-checked on every wake; once it
// is done the request is removed from its queue and fails with ErrCanceled.
package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/featurebasedb/jql/logger"
)

// Mode is the kind of hold a requester asks for.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// request is a queued acquire. seq orders requests across both queues.
// waiters counts the calls blocked on the request; it is withdrawn when the
// last of them gives up.
type request struct {
	id      string
	seq     uint64
	waiters int
}

// TableLock is a fair, requester-reentrant reader/writer lock.
type TableLock struct {
	schema string
	table  string

	maxReaders int
	logger     logger.Logger
	observe    func(mode Mode, wait time.Duration)

	mu   sync.Mutex
	cond *sync.Cond

	seq             uint64
	reading         map[string]struct{}
	writing         string
	hasWriter       bool
	requestingRead  []*request
	requestingWrite []*request
	closed          bool
}

// Option configures a TableLock.
type Option func(l *TableLock)

// OptMaxReaders caps the number of concurrent readers. Zero or less means
// unlimited, which is the default.
func OptMaxReaders(n int) Option {
	return func(l *TableLock) {
		l.maxReaders = n
	}
}

func OptLogger(lg logger.Logger) Option {
	return func(l *TableLock) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// OptWaitObserver registers fn to be called, with the lock's mutex held,
// each time a request is granted after having had to wait.
func OptWaitObserver(fn func(mode Mode, wait time.Duration)) Option {
	return func(l *TableLock) {
		l.observe = fn
	}
}

// New returns an open TableLock for the table schema.table.
func New(schema, table string, opts ...Option) *TableLock {
	l := &TableLock{
		schema:  schema,
		table:   table,
		logger:  logger.NopLogger,
		reading: make(map[string]struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TableLock) Schema() string { return l.schema }
func (l *TableLock) Table() string  { return l.table }

func (l *TableLock) String() string {
	return l.schema + "." + l.table
}

// AcquireRead blocks until id holds a read hold on the lock.
func (l *TableLock) AcquireRead(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquire(ctx, id, Read, false)
}

// AcquireWrite blocks until id is the sole holder of the lock. If id holds a
// read hold, it does not count against itself, and it is replaced by the
// write hold once granted. Such an upgrade fails with ErrDeadlock if another
// writer is already queued, since that writer is waiting on id's read.
func (l *TableLock) AcquireWrite(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquire(ctx, id, Write, false)
}

// ReleaseRead drops id's read hold and withdraws any queued read request by
// id. It is a no-op if id has neither.
func (l *TableLock) ReleaseRead(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.reading, id)
	l.requestingRead = remove(l.requestingRead, id)
	l.cond.Broadcast()
}

// ReleaseWrite drops the write hold if, and only if, id holds it.
func (l *TableLock) ReleaseWrite(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.hasWriter || l.writing != id {
		return
	}
	l.hasWriter = false
	l.writing = ""
	l.cond.Broadcast()
}

// Close waits for exclusive access on behalf of id and then retires the
// lock. The write hold stays with id; releasing it later is harmless.
//
// Unlike AcquireWrite, Close does not return early when id only has a write
// request queued: it waits on that request, and fails with ErrClosed if
// another call by id closes the lock first.
func (l *TableLock) Close(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.acquire(ctx, id, Write, true); err != nil {
		return err
	}
	l.closed = true
	l.logger.Debugf("lock %s: closed by %s", l, id)
	l.cond.Broadcast()
	return nil
}

// Closed reports whether the lock has been retired.
func (l *TableLock) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Readers returns the ids currently holding read holds, sorted.
func (l *TableLock) Readers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.reading))
	for id := range l.reading {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Writer returns the id holding the write hold, if any.
func (l *TableLock) Writer() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writing, l.hasWriter
}

// Waiting returns the number of queued read and write requests.
func (l *TableLock) Waiting() (reads, writes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requestingRead), len(l.requestingWrite)
}

// acquire must be called with l.mu held. A request already queued by id is
// returned from immediately, unless join is set, in which case the call
// waits on it.
func (l *TableLock) acquire(ctx context.Context, id string, mode Mode, join bool) error {
	if l.closed {
		return NewErrClosed(l.schema, l.table)
	}
	if l.holds(id, mode) {
		return nil
	}

	req := l.queued(id, mode)
	if req != nil && !join {
		return nil
	}
	if req == nil {
		if l.upgradeBlocked(id, mode) {
			return NewErrDeadlock(l.schema, l.table, id)
		}
		req = &request{id: id, seq: l.seq}
		l.seq++
		l.push(req, mode)

		// The fast path doesn't need a cancellation hook.
		if l.grantable(req, mode) {
			l.grant(req, mode)
			return nil
		}
	}
	req.waiters++

	l.logger.Debugf("lock %s: %s waiting for %s", l, id, mode)
	start := time.Now()
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for {
		if l.closed {
			l.leave(req, mode)
			return NewErrClosed(l.schema, l.table)
		}
		if err := ctx.Err(); err != nil {
			l.leave(req, mode)
			return NewErrCanceled(l.schema, l.table, id, err)
		}
		if l.holds(id, mode) {
			// Another call by id waiting on the same request was granted it.
			return nil
		}
		if l.queued(id, mode) != req {
			// ReleaseRead withdrew us while we were waiting.
			return NewErrCanceled(l.schema, l.table, id, nil)
		}
		if l.grantable(req, mode) {
			break
		}
		l.cond.Wait()
	}

	l.grant(req, mode)
	wait := time.Since(start)
	if l.observe != nil {
		l.observe(mode, wait)
	}
	l.logger.Debugf("lock %s: %s granted %s after %s", l, id, mode, wait)
	return nil
}

func (l *TableLock) holds(id string, mode Mode) bool {
	if l.hasWriter && l.writing == id {
		// A write hold covers reads too.
		return true
	}
	if mode == Read {
		_, ok := l.reading[id]
		return ok
	}
	return false
}

// queued returns id's queued request for mode, or nil.
func (l *TableLock) queued(id string, mode Mode) *request {
	q := l.requestingRead
	if mode == Write {
		q = l.requestingWrite
	}
	for _, r := range q {
		if r.id == id {
			return r
		}
	}
	return nil
}

// upgradeBlocked reports whether id asking for a write while holding a read
// would wait forever on a writer queued ahead of it.
func (l *TableLock) upgradeBlocked(id string, mode Mode) bool {
	if mode != Write {
		return false
	}
	if _, ok := l.reading[id]; !ok {
		return false
	}
	for _, w := range l.requestingWrite {
		if w.id != id {
			return true
		}
	}
	return false
}

func (l *TableLock) push(req *request, mode Mode) {
	if mode == Write {
		l.requestingWrite = append(l.requestingWrite, req)
	} else {
		l.requestingRead = append(l.requestingRead, req)
	}
}

// withdraw removes a failed request and wakes the others, since a departing
// writer may have been the only thing holding back later readers.
func (l *TableLock) withdraw(req *request, mode Mode) {
	if mode == Write {
		l.requestingWrite = remove(l.requestingWrite, req.id)
	} else {
		l.requestingRead = remove(l.requestingRead, req.id)
	}
	l.cond.Broadcast()
}

// leave drops one waiter from req, withdrawing it once nobody waits on it.
func (l *TableLock) leave(req *request, mode Mode) {
	req.waiters--
	if req.waiters > 0 || l.queued(req.id, mode) != req {
		return
	}
	l.withdraw(req, mode)
}

func (l *TableLock) grantable(req *request, mode Mode) bool {
	if l.hasWriter {
		return false
	}
	if mode == Read {
		for _, w := range l.requestingWrite {
			if w.seq < req.seq {
				return false
			}
		}
		return l.maxReaders <= 0 || len(l.reading) < l.maxReaders
	}

	if len(l.requestingWrite) == 0 || l.requestingWrite[0].id != req.id {
		return false
	}
	for id := range l.reading {
		if id != req.id {
			return false
		}
	}
	for _, r := range l.requestingRead {
		if r.seq < req.seq {
			return false
		}
	}
	return true
}

func (l *TableLock) grant(req *request, mode Mode) {
	if mode == Write {
		l.requestingWrite = remove(l.requestingWrite, req.id)
		delete(l.reading, req.id)
		l.writing = req.id
		l.hasWriter = true
		return
	}
	l.requestingRead = remove(l.requestingRead, req.id)
	l.reading[req.id] = struct{}{}
}

func remove(q []*request, id string) []*request {
	out := q[:0]
	for _, r := range q {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}

// Stats is a point-in-time summary of a TableLock, suitable for debugging
// output.
type Stats struct {
	Table        string   `json:"table"`
	Readers      []string `json:"readers,omitempty"`
	Writer       string   `json:"writer,omitempty"`
	WaitingRead  int      `json:"waitingRead"`
	WaitingWrite int      `json:"waitingWrite"`
	Closed       bool     `json:"closed"`
	ReaderCap    int      `json:"readerCap,omitempty"`
}

// Stats returns a snapshot of the lock's state.
func (l *TableLock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	readers := make([]string, 0, len(l.reading))
	for id := range l.reading {
		readers = append(readers, id)
	}
	sort.Strings(readers)
	return Stats{
		Table:        l.String(),
		Readers:      readers,
		Writer:       l.writing,
		WaitingRead:  len(l.requestingRead),
		WaitingWrite: len(l.requestingWrite),
		Closed:       l.closed,
		ReaderCap:    l.maxReaders,
	}
}
