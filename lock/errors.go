// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package lock

import (
	"fmt"

	"github.com/featurebasedb/jql/errors"
)

const (
	ErrClosed   errors.Code = "Closed"
	ErrCanceled errors.Code = "Canceled"
	ErrDeadlock errors.Code = "Deadlock"
)

func NewErrClosed(schema, table string) error {
	return errors.New(
		ErrClosed,
		fmt.Sprintf("lock on table '%s.%s' is closed", schema, table),
	)
}

func NewErrCanceled(schema, table, requester string, cause error) error {
	msg := fmt.Sprintf("request by '%s' for lock on table '%s.%s' canceled", requester, schema, table)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return errors.New(ErrCanceled, msg)
}

func NewErrDeadlock(schema, table, requester string) error {
	return errors.New(
		ErrDeadlock,
		fmt.Sprintf("'%s' cannot upgrade its read on table '%s.%s' while another writer is queued", requester, schema, table),
	)
}
