// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestConfigCommand_Run(t *testing.T) {
	var buf bytes.Buffer
	cm := NewConfigCommand(strings.NewReader(""), &buf, &bytes.Buffer{})
	cm.Config.Bind = "localhost:10199"
	cm.Config.Lock.MaxReaders = 4

	err := cm.Run(context.Background())
	if err != nil {
		t.Fatalf("Config Run doesn't work: %s", err)
	}
	if !strings.Contains(buf.String(), `bind = "localhost:10199"`) {
		t.Fatalf("Unexpected config: \n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "max-readers = 4") {
		t.Fatalf("Unexpected config: \n%s", buf.String())
	}
}
