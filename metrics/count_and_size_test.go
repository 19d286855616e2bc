// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func expect(t *testing.T, cs CountAndSize, expCount uint64, expBytes uint64) {
	t.Helper()
	require.Equal(t, expCount, cs.Count)
	require.Equal(t, expBytes, cs.Bytes)
}

func TestCountAndSize(t *testing.T) {
	cs := Records(10, 200)
	expect(t, cs, 10, 2000)

	cs.Accumulate(Records(5, 200))
	expect(t, cs, 15, 3000)

	cs.Deduct(Records(3, 200))
	expect(t, cs, 12, 2400)

	d := cs.Sub(Records(12, 200))
	require.True(t, d.IsZero())
	expect(t, cs, 12, 2400)
}

func TestCountAndSizeString(t *testing.T) {
	require.Equal(t, "5 (512B)", CountAndSize{Count: 5, Bytes: 512}.String())
	require.Equal(t, "3 (600B)", Records(3, 200).String())
	require.Equal(t, "0 (0B)", CountAndSize{}.String())
}
