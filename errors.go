// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package jql

import (
	"fmt"

	"github.com/featurebasedb/jql/catalog"
	"github.com/featurebasedb/jql/errors"
)

func NewErrSessionNotExists(id SessionID) error {
	return errors.New(
		catalog.ErrNotExists,
		fmt.Sprintf("session '%s' does not exist", id),
	)
}

func NewErrAlreadyCommitted(id SessionID) error {
	return errors.New(
		catalog.ErrFatal,
		fmt.Sprintf("sandbox of session '%s' already committed", id),
	)
}

func NewErrUnsupportedStatement(kind string) error {
	return errors.New(
		catalog.ErrNotSupported,
		fmt.Sprintf("statement '%s' is not supported here", kind),
	)
}

func NewErrDatabaseClosed() error {
	return errors.New(catalog.ErrFatal, "database is closed")
}
