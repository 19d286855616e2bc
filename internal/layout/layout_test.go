// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package layout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordSize(t *testing.T) {
	testCases := []struct {
		k     uint8
		sizes [NumTables + 1]uint32
	}{
		{k: 6, sizes: [NumTables + 1]uint32{0, 1, 3, 3, 3, 3, 3, 3}},
		{k: 7, sizes: [NumTables + 1]uint32{0, 1, 4, 4, 4, 4, 4, 4}},
		{k: 18, sizes: [NumTables + 1]uint32{0, 3, 7, 7, 7, 7, 7, 7}},
		{k: 32, sizes: [NumTables + 1]uint32{0, 4, 12, 12, 12, 12, 12, 12}},
	}
	for _, tc := range testCases {
		for table := 1; table <= NumTables; table++ {
			require.Equalf(t, tc.sizes[table], RecordSize(tc.k, table), "k=%d table=%d", tc.k, table)
		}
	}
}

// Every record must have room for the fields written into it.
func TestRecordSizeFitsFields(t *testing.T) {
	for k := uint8(MinK); k <= MaxK; k++ {
		require.LessOrEqual(t, uint32(k), RecordSize(k, 1)*8)
		for table := 2; table <= 6; table++ {
			require.LessOrEqual(t, SortKeyBits(k)+PosBits(k)+OffsetBits, RecordSize(k, table)*8)
		}
		require.LessOrEqual(t, F7Bits(k)+PosBits(k)+OffsetBits, RecordSize(k, 7)*8)
	}
}

func TestRecordSizeInvalidTable(t *testing.T) {
	require.Panics(t, func() { RecordSize(6, 0) })
	require.Panics(t, func() { RecordSize(6, 8) })
}

func TestValidateK(t *testing.T) {
	require.Error(t, ValidateK(0))
	require.NoError(t, ValidateK(MinK))
	require.NoError(t, ValidateK(32))
	require.NoError(t, ValidateK(MaxK))
	require.Error(t, ValidateK(MaxK+1))
}
