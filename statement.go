// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql

import (
	"encoding/json"

	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
)

// Statement is a DDL statement understood by Engine.Execute and
// Sandbox.Execute. The set of implementations is closed; each one is
// handled by a type switch.
type Statement interface {
	// Kind returns the statement's name, as used in the "kind" field of its
	// JSON form.
	Kind() string

	statement()
}

// Statement kinds.
const (
	KindCreateSchema   = "create-schema"
	KindDropSchema     = "drop-schema"
	KindCreateTable    = "create-table"
	KindDropTable      = "drop-table"
	KindCreateFunction = "create-function"
	KindDropFunction   = "drop-function"
)

type CreateSchema struct {
	Name        string `json:"name"`
	IfNotExists bool   `json:"ifNotExists,omitempty"`
}

type DropSchema struct {
	Name     string `json:"name"`
	IfExists bool   `json:"ifExists,omitempty"`
}

type CreateTable struct {
	Table       *catalog.TableDefinition `json:"table"`
	IfNotExists bool                     `json:"ifNotExists,omitempty"`
}

type DropTable struct {
	Table    catalog.QualifiedName `json:"table"`
	IfExists bool                  `json:"ifExists,omitempty"`
}

type CreateFunction struct {
	Function *catalog.FunctionDefinition `json:"function"`
}

type DropFunction struct {
	Name     string `json:"name"`
	IfExists bool   `json:"ifExists,omitempty"`
}

func (*CreateSchema) Kind() string   { return KindCreateSchema }
func (*DropSchema) Kind() string     { return KindDropSchema }
func (*CreateTable) Kind() string    { return KindCreateTable }
func (*DropTable) Kind() string      { return KindDropTable }
func (*CreateFunction) Kind() string { return KindCreateFunction }
func (*DropFunction) Kind() string   { return KindDropFunction }

func (*CreateSchema) statement()   {}
func (*DropSchema) statement()     {}
func (*CreateTable) statement()    {}
func (*DropTable) statement()      {}
func (*CreateFunction) statement() {}
func (*DropFunction) statement()   {}

// DecodeStatement decodes the JSON form of a statement: an object with a
// "kind" field naming the statement, and the statement's own fields
// alongside it. Definitions are validated.
//
//	{"kind": "drop-table", "table": {"schema": "db", "name": "t"}, "ifExists": true}
func DecodeStatement(data []byte) (Statement, error) {
	var envelope struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "decoding statement")
	}

	var stmt Statement
	switch envelope.Kind {
	case KindCreateSchema:
		stmt = &CreateSchema{}
	case KindDropSchema:
		stmt = &DropSchema{}
	case KindCreateTable:
		stmt = &CreateTable{}
	case KindDropTable:
		stmt = &DropTable{}
	case KindCreateFunction:
		stmt = &CreateFunction{}
	case KindDropFunction:
		stmt = &DropFunction{}
	default:
		return nil, NewErrUnsupportedStatement(envelope.Kind)
	}
	if err := json.Unmarshal(data, stmt); err != nil {
		return nil, errors.Wrapf(err, "decoding %s statement", envelope.Kind)
	}
	if err := validateStatement(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

func validateStatement(stmt Statement) error {
	switch s := stmt.(type) {
	case *CreateSchema:
		if s.Name == "" {
			return catalog.NewErrInvalidDefinition("schema name is required")
		}
	case *DropSchema:
		if s.Name == "" {
			return catalog.NewErrInvalidDefinition("schema name is required")
		}
	case *CreateTable:
		if s.Table == nil {
			return catalog.NewErrInvalidDefinition("table definition is required")
		}
		return s.Table.Validate()
	case *DropTable:
		if s.Table.Schema == "" || s.Table.Name == "" {
			return catalog.NewErrInvalidDefinition("qualified table name is required")
		}
	case *CreateFunction:
		if s.Function == nil {
			return catalog.NewErrInvalidDefinition("function definition is required")
		}
		return s.Function.Validate()
	case *DropFunction:
		if s.Name == "" {
			return catalog.NewErrInvalidDefinition("function name is required")
		}
	}
	return nil
}
