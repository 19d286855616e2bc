// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFSIndex(t *testing.T) {
	mem := NewMem()
	// Fail the third write operation: Create, WriteAt, then Truncate.
	fs := NewErrorFS(NewErrorIndex(2), 0, ErrorFSWrite, mem)

	f, err := fs.Create("t")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{1, 2, 3}, 0)
	require.NoError(t, err)

	// Reads are not subject to injection in write mode.
	buf := make([]byte, 3)
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)

	require.ErrorIs(t, f.Truncate(1), ErrInjected)
	// Only one operation fails.
	require.NoError(t, f.Truncate(1))
	require.NoError(t, f.Close())
}

func TestErrorFSReads(t *testing.T) {
	f := WrapErrorFile(NewErrorIndex(0), 0, ErrorFSRead, NewMemFile([]byte{1}))
	_, err := f.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrInjected)
	_, err = f.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err)

	f = WrapErrorFile(nil, 1, ErrorFSRead|ErrorFSWrite, NewMemFile([]byte{1}))
	_, err = f.WriteAt([]byte{2}, 0)
	require.ErrorIs(t, err, ErrInjected)
}
