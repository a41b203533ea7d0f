// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package storage

import (
	"fmt"

	"github.com/featurebasedb/jql/errors"
)

const (
	ErrNotSupported errors.Code = "NotSupported"
)

func NewErrNotSupported(backend string) error {
	return errors.New(
		ErrNotSupported,
		fmt.Sprintf("storage engine '%s' is not supported", backend),
	)
}
