// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package testutils

import (
	"runtime"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/stretchr/testify/require"
)

// ElapsedAtLeast verifies that at least minValue has passed since start, as
// when a paced operation had to wait for tokens.
func ElapsedAtLeast(t testing.TB, start crtime.Mono, minValue time.Duration) {
	t.Helper()
	if runtime.GOOS == "windows" && minValue < 10*time.Millisecond {
		// Coarse timers can report zero for short waits.
		return
	}
	d := start.Elapsed()
	require.GreaterOrEqualf(t, d, minValue, "waited %s, expected at least %s", d, minValue)
}
