// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package storage holds the row buckets that back catalog tables. Only the
// in-memory engine exists; a Table's rows live in a persistent sorted map, so
// taking a Snapshot is a pointer copy and readers never block writers.
package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/immutable"
)

// Row is one table row. Values are opaque to this package.
type Row []interface{}

// opener creates the rows handle for a table.
type opener func(schema, name string) *Table

var backends = map[string]opener{
	MemoryBackend: newMemoryTable,
}

// Open returns an empty row bucket for schema.name in the given engine. An
// empty backend selects DefaultBackend.
func Open(backend, schema, name string) (*Table, error) {
	if backend == "" {
		backend = DefaultBackend
	}
	open, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, NewErrNotSupported(backend)
	}
	return open(schema, name), nil
}

// Backends returns the names of the available engines, sorted.
func Backends() []string {
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Table is the row bucket of a single table, keyed by encoded primary key.
type Table struct {
	schema string
	name   string

	mu   sync.Mutex
	rows *immutable.SortedMap[string, Row]
}

func newMemoryTable(schema, name string) *Table {
	return &Table{
		schema: schema,
		name:   name,
		rows:   immutable.NewSortedMap[string, Row](keyComparer{}),
	}
}

func (t *Table) Schema() string { return t.schema }
func (t *Table) Name() string   { return t.name }

// Put inserts or replaces the row stored under key. It reports whether a row
// was replaced.
func (t *Table) Put(key string, row Row) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.rows.Get(key)
	t.rows = t.rows.Set(key, row)
	return existed
}

// Get returns the row stored under key.
func (t *Table) Get(key string) (Row, bool) {
	return t.Snapshot().Get(key)
}

// Delete removes the row stored under key and reports whether it existed.
func (t *Table) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows.Get(key); !ok {
		return false
	}
	t.rows = t.rows.Delete(key)
	return true
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return t.Snapshot().Len()
}

// Snapshot returns a read-only view of the rows as of now. Later writes to
// the Table are not visible through it.
func (t *Table) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Snapshot{rows: t.rows}
}

// Snapshot is a point-in-time view of a Table.
type Snapshot struct {
	rows *immutable.SortedMap[string, Row]
}

func (s *Snapshot) Len() int { return s.rows.Len() }

func (s *Snapshot) Get(key string) (Row, bool) {
	return s.rows.Get(key)
}

// Scan calls fn for every row in key order until fn returns false.
func (s *Snapshot) Scan(fn func(key string, row Row) bool) {
	itr := s.rows.Iterator()
	for !itr.Done() {
		k, v, _ := itr.Next()
		if !fn(k, v) {
			return
		}
	}
}

// keyComparer implements immutable.Comparer for primary-key strings.
type keyComparer struct{}

// Compare returns -1 if a is less than b, 1 if a is greater than b, and 0
// otherwise.
func (keyComparer) Compare(a, b string) int {
	return strings.Compare(a, b)
}
