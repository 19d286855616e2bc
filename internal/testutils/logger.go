// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package testutils holds helpers shared by the tests of this module.
package testutils

import (
	"fmt"
	"strings"
	"testing"
)

// Logger is a base.Logger that writes to a testing.TB. When Lines is set,
// every message is also recorded there, errors prefixed with "error: ", so a
// test can assert on what an event listener logged.
type Logger struct {
	T     testing.TB
	Lines *[]string
}

func (l Logger) record(prefix, format string, args ...interface{}) {
	if l.Lines != nil {
		*l.Lines = append(*l.Lines, prefix+strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
	}
}

func (l Logger) Infof(format string, args ...interface{}) {
	l.record("", format, args...)
	l.T.Logf(format, args...)
}

func (l Logger) Errorf(format string, args ...interface{}) {
	l.record("error: ", format, args...)
	l.T.Logf(format, args...)
}

func (l Logger) Fatalf(format string, args ...interface{}) {
	l.T.Helper()
	l.T.Fatalf(format, args...)
}
