// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"fmt"

	"github.com/featurebasedb/jql/errors"
	"github.com/featurebasedb/jql/storage"
)

const (
	ErrAlreadyExists     errors.Code = "AlreadyExists"
	ErrNotExists         errors.Code = "NotExists"
	ErrReadOnly          errors.Code = "ReadOnly"
	ErrFatal             errors.Code = "Fatal"
	ErrInvalidDefinition errors.Code = "InvalidDefinition"

	// ErrNotSupported shares its code with the storage package so that an
	// unknown engine and an unknown function language test the same.
	ErrNotSupported = storage.ErrNotSupported
)

// The following are helper functions for constructing coded errors containing
// relevant information about the specific error.

func NewErrSchemaExists(schema string) error {
	return errors.New(
		ErrAlreadyExists,
		fmt.Sprintf("schema '%s' already exists", schema),
	)
}

func NewErrSchemaNotExists(schema string) error {
	return errors.New(
		ErrNotExists,
		fmt.Sprintf("schema '%s' does not exist", schema),
	)
}

func NewErrTableExists(qn QualifiedName) error {
	return errors.New(
		ErrAlreadyExists,
		fmt.Sprintf("table '%s' already exists", qn),
	)
}

func NewErrTableNotExists(qn QualifiedName) error {
	return errors.New(
		ErrNotExists,
		fmt.Sprintf("table '%s' does not exist", qn),
	)
}

func NewErrFunctionExists(name string) error {
	return errors.New(
		ErrAlreadyExists,
		fmt.Sprintf("function '%s' already exists", name),
	)
}

func NewErrFunctionNotExists(name string) error {
	return errors.New(
		ErrNotExists,
		fmt.Sprintf("function '%s' does not exist", name),
	)
}

func NewErrReadOnly(op string) error {
	return errors.New(
		ErrReadOnly,
		fmt.Sprintf("cannot %s: context is read-only", op),
	)
}

func NewErrFatal(msg string) error {
	return errors.New(ErrFatal, msg)
}

func NewErrUnsupportedLanguage(language string) error {
	return errors.New(
		ErrNotSupported,
		fmt.Sprintf("function language '%s' is not supported", language),
	)
}

func NewErrInvalidDefinition(msg string) error {
	return errors.New(ErrInvalidDefinition, msg)
}
