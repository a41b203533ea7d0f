// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the registry of schemas, tables and functions.
//
// A Context holds the definitions visible at one scope: global, one session,
// or a read-only merge of several Contexts built fresh for a lookup. Every
// table in a Context has a definition, a row bucket and a TableLock, which
// are created and removed together.
//
// Context performs no table locking of its own. Callers that remove a table
// close its lock first.
package catalog

import (
	"sort"
	"sync"

	"github.com/featurebasedb/jql/lock"
	"github.com/featurebasedb/jql/storage"
)

// Context is a registry of schemas, tables, table locks and functions at one
// Scope. It is safe for concurrent use.
type Context struct {
	scope    Scope
	lockOpts []lock.Option

	mu        sync.RWMutex
	tables    map[string]map[string]*TableDefinition
	data      map[string]map[string]*storage.Table
	locks     map[string]map[string]*lock.TableLock
	functions map[string]*FunctionDefinition
}

// ContextOption is a functional option for NewContext.
type ContextOption func(cx *Context)

// OptContextLockOptions sets the options applied to every TableLock the
// Context creates.
func OptContextLockOptions(opts ...lock.Option) ContextOption {
	return func(cx *Context) {
		cx.lockOpts = append(cx.lockOpts, opts...)
	}
}

// NewContext returns an empty Context. A Context created with ReadonlyScope
// rejects every mutation; use Merge to build a useful one.
func NewContext(scope Scope, opts ...ContextOption) *Context {
	cx := &Context{
		scope:     scope,
		tables:    make(map[string]map[string]*TableDefinition),
		data:      make(map[string]map[string]*storage.Table),
		locks:     make(map[string]map[string]*lock.TableLock),
		functions: make(map[string]*FunctionDefinition),
	}
	for _, opt := range opts {
		opt(cx)
	}
	return cx
}

func (cx *Context) Scope() Scope { return cx.scope }

func (cx *Context) HasSchema(name string) bool {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	_, ok := cx.tables[name]
	return ok
}

func (cx *Context) HasTable(schema, name string) bool {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	_, ok := cx.tables[schema][name]
	return ok
}

func (cx *Context) HasFunction(name string) bool {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	_, ok := cx.functions[name]
	return ok
}

// Schemas returns the schema names, sorted.
func (cx *Context) Schemas() []string {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	out := make([]string, 0, len(cx.tables))
	for name := range cx.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tables returns the definitions of the tables in schema, sorted by name.
func (cx *Context) Tables(schema string) []*TableDefinition {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	out := make([]*TableDefinition, 0, len(cx.tables[schema]))
	for _, td := range cx.tables[schema] {
		out = append(out, td)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (cx *Context) Table(schema, name string) (*TableDefinition, bool) {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	td, ok := cx.tables[schema][name]
	return td, ok
}

func (cx *Context) Lock(schema, name string) (*lock.TableLock, bool) {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	l, ok := cx.locks[schema][name]
	return l, ok
}

// Locks returns the locks of every table in schema, sorted by table name.
func (cx *Context) Locks(schema string) []*lock.TableLock {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	out := make([]*lock.TableLock, 0, len(cx.locks[schema]))
	for _, l := range cx.locks[schema] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table() < out[j].Table() })
	return out
}

func (cx *Context) Data(schema, name string) (*storage.Table, bool) {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	d, ok := cx.data[schema][name]
	return d, ok
}

func (cx *Context) Function(name string) (*FunctionDefinition, bool) {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	fd, ok := cx.functions[name]
	return fd, ok
}

// Functions returns every function definition, sorted by name.
func (cx *Context) Functions() []*FunctionDefinition {
	cx.mu.RLock()
	defer cx.mu.RUnlock()
	out := make([]*FunctionDefinition, 0, len(cx.functions))
	for _, fd := range cx.functions {
		out = append(out, fd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateSchema adds an empty schema. It is a no-op if the schema already
// exists in this Context.
func (cx *Context) CreateSchema(name string) error {
	if cx.scope.IsReadonly() {
		return NewErrReadOnly("create schema")
	}
	cx.mu.Lock()
	defer cx.mu.Unlock()
	cx.createSchema(name)
	return nil
}

func (cx *Context) createSchema(name string) {
	if _, ok := cx.tables[name]; ok {
		return
	}
	cx.tables[name] = make(map[string]*TableDefinition)
	cx.data[name] = make(map[string]*storage.Table)
	cx.locks[name] = make(map[string]*lock.TableLock)
}

// DropSchema removes a schema with all of its tables.
func (cx *Context) DropSchema(name string) error {
	if cx.scope.IsReadonly() {
		return NewErrReadOnly("drop schema")
	}
	cx.mu.Lock()
	defer cx.mu.Unlock()
	if _, ok := cx.tables[name]; !ok {
		return NewErrSchemaNotExists(name)
	}
	delete(cx.tables, name)
	delete(cx.data, name)
	delete(cx.locks, name)
	return nil
}

// CreateTable registers td along with an empty row bucket and a new, open
// TableLock. The schema must already exist in this Context.
func (cx *Context) CreateTable(td *TableDefinition) error {
	if cx.scope.IsReadonly() {
		return NewErrReadOnly("create table")
	}
	data, err := storage.Open(td.Engine, td.Schema, td.Name)
	if err != nil {
		return err
	}

	cx.mu.Lock()
	defer cx.mu.Unlock()
	tables, ok := cx.tables[td.Schema]
	if !ok {
		return NewErrSchemaNotExists(td.Schema)
	}
	if _, ok := tables[td.Name]; ok {
		return NewErrTableExists(td.QualifiedName())
	}
	cx.putTable(td, data)
	return nil
}

// putTable registers td and data, creating a lock only if the table doesn't
// already have one. cx.mu must be held.
func (cx *Context) putTable(td *TableDefinition, data *storage.Table) {
	cx.createSchema(td.Schema)
	cx.tables[td.Schema][td.Name] = td
	cx.data[td.Schema][td.Name] = data
	if _, ok := cx.locks[td.Schema][td.Name]; !ok {
		cx.locks[td.Schema][td.Name] = lock.New(td.Schema, td.Name, cx.lockOpts...)
	}
}

// DropTable removes a table, its rows and its lock. The caller must have
// closed the lock.
func (cx *Context) DropTable(schema, name string) error {
	if cx.scope.IsReadonly() {
		return NewErrReadOnly("drop table")
	}
	cx.mu.Lock()
	defer cx.mu.Unlock()
	return cx.dropTable(schema, name)
}

func (cx *Context) dropTable(schema, name string) error {
	if _, ok := cx.tables[schema][name]; !ok {
		return NewErrTableNotExists(NewQualifiedName(schema, name))
	}
	delete(cx.tables[schema], name)
	delete(cx.data[schema], name)
	delete(cx.locks[schema], name)
	return nil
}

func (cx *Context) CreateFunction(fd *FunctionDefinition) error {
	if cx.scope.IsReadonly() {
		return NewErrReadOnly("create function")
	}
	cx.mu.Lock()
	defer cx.mu.Unlock()
	if _, ok := cx.functions[fd.Name]; ok {
		return NewErrFunctionExists(fd.Name)
	}
	cx.functions[fd.Name] = fd
	return nil
}

func (cx *Context) DropFunction(name string) error {
	if cx.scope.IsReadonly() {
		return NewErrReadOnly("drop function")
	}
	cx.mu.Lock()
	defer cx.mu.Unlock()
	return cx.dropFunction(name)
}

func (cx *Context) dropFunction(name string) error {
	if _, ok := cx.functions[name]; !ok {
		return NewErrFunctionNotExists(name)
	}
	delete(cx.functions, name)
	return nil
}

// Merge returns a new read-only Context holding the union of cxs. Contexts
// are applied left to right, so on a collision the later Context wins. Nil
// entries are skipped. None of the inputs are modified, and the result shares
// their definitions, row buckets and locks.
func Merge(cxs ...*Context) *Context {
	out := NewContext(ReadonlyScope())
	for _, cx := range cxs {
		if cx == nil {
			continue
		}
		cx.mu.RLock()
		for schema, tables := range cx.tables {
			out.createSchema(schema)
			for name, td := range tables {
				out.tables[schema][name] = td
			}
			for name, d := range cx.data[schema] {
				out.data[schema][name] = d
			}
			for name, l := range cx.locks[schema] {
				out.locks[schema][name] = l
			}
		}
		for name, fd := range cx.functions {
			out.functions[name] = fd
		}
		cx.mu.RUnlock()
	}
	return out
}
