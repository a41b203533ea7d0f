// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"fmt"
	"strings"

	"github.com/featurebasedb/jql/storage"
)

// QualifiedName is a schema-qualified table name.
type QualifiedName struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

func NewQualifiedName(schema, name string) QualifiedName {
	return QualifiedName{Schema: schema, Name: name}
}

// ParseQualifiedName parses "schema.name". Both parts are required.
func ParseQualifiedName(s string) (QualifiedName, error) {
	schema, name, ok := strings.Cut(s, ".")
	if !ok || schema == "" || name == "" || strings.Contains(name, ".") {
		return QualifiedName{}, NewErrInvalidDefinition(fmt.Sprintf("invalid qualified name '%s'", s))
	}
	return QualifiedName{Schema: schema, Name: name}, nil
}

// String returns the name in "schema.name" form.
func (qn QualifiedName) String() string {
	return qn.Schema + "." + qn.Name
}

// Column is one column of a table, or one argument of a function.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// TableDefinition describes a table. Definitions are treated as immutable
// once registered in a Context.
type TableDefinition struct {
	Schema     string   `json:"schema"`
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primaryKey"`
	Temporary  bool     `json:"temporary,omitempty"`
	Engine     string   `json:"engine,omitempty"`
}

// TableOption is a functional option for NewTableDefinition.
type TableOption func(td *TableDefinition)

// OptTableTemporary marks the table as session scoped.
func OptTableTemporary(temporary bool) TableOption {
	return func(td *TableDefinition) {
		td.Temporary = temporary
	}
}

// OptTableEngine selects the storage engine backing the table.
func OptTableEngine(engine string) TableOption {
	return func(td *TableDefinition) {
		td.Engine = engine
	}
}

// NewTableDefinition returns a validated TableDefinition.
func NewTableDefinition(schema, name string, columns []Column, primaryKey []string, opts ...TableOption) (*TableDefinition, error) {
	td := &TableDefinition{
		Schema:     schema,
		Name:       name,
		Columns:    columns,
		PrimaryKey: primaryKey,
		Engine:     storage.DefaultBackend,
	}
	for _, opt := range opts {
		opt(td)
	}
	if err := td.Validate(); err != nil {
		return nil, err
	}
	return td, nil
}

// Validate checks the invariants every registered table satisfies. A
// definition that arrived by some other route than NewTableDefinition (for
// example, decoded from JSON) must be validated before use.
func (td *TableDefinition) Validate() error {
	if td.Schema == "" {
		return NewErrInvalidDefinition("table schema is required")
	}
	if td.Name == "" {
		return NewErrInvalidDefinition("table name is required")
	}
	if len(td.Columns) == 0 {
		return NewErrInvalidDefinition(fmt.Sprintf("table '%s' has no columns", td.QualifiedName()))
	}
	seen := make(map[string]struct{}, len(td.Columns))
	for _, col := range td.Columns {
		if col.Name == "" {
			return NewErrInvalidDefinition(fmt.Sprintf("table '%s' has an unnamed column", td.QualifiedName()))
		}
		if _, ok := seen[col.Name]; ok {
			return NewErrInvalidDefinition(fmt.Sprintf("table '%s' has duplicate column '%s'", td.QualifiedName(), col.Name))
		}
		seen[col.Name] = struct{}{}
	}
	if len(td.PrimaryKey) == 0 {
		return NewErrInvalidDefinition(fmt.Sprintf("table '%s' has no primary key", td.QualifiedName()))
	}
	for _, pk := range td.PrimaryKey {
		if _, ok := seen[pk]; !ok {
			return NewErrInvalidDefinition(fmt.Sprintf("primary key column '%s' is not a column of table '%s'", pk, td.QualifiedName()))
		}
	}
	return nil
}

func (td *TableDefinition) QualifiedName() QualifiedName {
	return QualifiedName{Schema: td.Schema, Name: td.Name}
}

// Column returns the column with the given name.
func (td *TableDefinition) Column(name string) (Column, bool) {
	for _, col := range td.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// LanguageSQL is the only function body language with a backend.
const LanguageSQL = "sql"

// FunctionDefinition describes a user-defined function.
type FunctionDefinition struct {
	Name     string   `json:"name"`
	Args     []Column `json:"args,omitempty"`
	Returns  string   `json:"returns"`
	Language string   `json:"language"`
	Body     string   `json:"body"`
}

// NewFunctionDefinition returns a validated FunctionDefinition. An empty
// language means LanguageSQL.
func NewFunctionDefinition(name string, args []Column, returns, language, body string) (*FunctionDefinition, error) {
	fd := &FunctionDefinition{
		Name:     name,
		Args:     args,
		Returns:  returns,
		Language: language,
		Body:     body,
	}
	if err := fd.Validate(); err != nil {
		return nil, err
	}
	return fd, nil
}

// Validate checks fd, filling in the default language.
func (fd *FunctionDefinition) Validate() error {
	if fd.Name == "" {
		return NewErrInvalidDefinition("function name is required")
	}
	if fd.Language == "" {
		fd.Language = LanguageSQL
	}
	if !strings.EqualFold(fd.Language, LanguageSQL) {
		return NewErrUnsupportedLanguage(fd.Language)
	}
	return nil
}
