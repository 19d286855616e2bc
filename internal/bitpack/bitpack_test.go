// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bitpack

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestBitpackDataDriven(t *testing.T) {
	datadriven.RunTest(t, "testdata/bitpack", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "encode":
			var size int
			var widths, values []int
			td.ScanArgs(t, "size", &size)
			td.ScanArgs(t, "widths", &widths)
			td.ScanArgs(t, "values", &values)
			require.Equal(t, len(widths), len(values))
			buf := make([]byte, size)
			// Garbage in the buffer must not leak into the record.
			for i := range buf {
				buf[i] = 0xff
			}
			fields := make([]Field, len(widths))
			for i := range widths {
				fields[i] = Field{Value: uint64(values[i]), Width: uint32(widths[i])}
			}
			if err := Encode(buf, fields...); err != nil {
				return fmt.Sprintf("assertion failure: %t\n", errors.IsAssertionFailure(err))
			}
			return hex.EncodeToString(buf) + "\n"

		case "decode":
			var h string
			var offsets, widths []int
			td.ScanArgs(t, "hex", &h)
			td.ScanArgs(t, "offsets", &offsets)
			td.ScanArgs(t, "widths", &widths)
			buf, err := hex.DecodeString(h)
			require.NoError(t, err)
			var parts []string
			for i := range offsets {
				parts = append(parts, fmt.Sprint(Uint(buf, uint32(offsets[i]), uint32(widths[i]))))
			}
			return strings.Join(parts, " ") + "\n"

		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func TestBitpackRandom(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewSource(seed))

	for iter := 0; iter < 1000; iter++ {
		n := rng.Intn(6) + 1
		fields := make([]Field, n)
		total := uint32(0)
		for i := range fields {
			w := uint32(rng.Intn(MaxFieldBits) + 1)
			v := rng.Uint64()
			if w < MaxFieldBits {
				v &= uint64(1)<<w - 1
			}
			fields[i] = Field{Value: v, Width: w}
			total += w
		}
		buf := make([]byte, int(total+7)/8+rng.Intn(3))
		rng.Read(buf)
		require.NoError(t, Encode(buf, fields...))

		off := uint32(0)
		for i, f := range fields {
			require.Equalf(t, f.Value, Uint(buf, off, f.Width), "field %d of %v", i, fields)
			off += f.Width
		}
		for bit := off; bit < uint32(len(buf))*8; bit++ {
			require.Zero(t, Uint(buf, bit, 1), "padding bit %d", bit)
		}
	}
}

func TestPutUintPreservesNeighbours(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff}
	PutUint(buf, 5, 9, 0)
	require.Equal(t, []byte{0xf8, 0x03, 0xff}, buf)
	PutUint(buf, 5, 9, 0x1ff)
	require.Equal(t, []byte{0xff, 0xff, 0xff}, buf)
	require.Equal(t, uint64(0x1ff), Uint(buf, 5, 9))
}

func TestWriterOverflow(t *testing.T) {
	buf := make([]byte, 2)
	w := MakeWriter(buf)
	require.NoError(t, w.Append(3, 8))
	err := w.Append(1, 9)
	require.True(t, errors.IsAssertionFailure(err))
	require.NoError(t, w.Append(1, 8))
	require.Equal(t, uint32(16), w.Bits())
	require.True(t, errors.IsAssertionFailure(w.Append(0, 1)))
	require.True(t, errors.IsAssertionFailure(w.Append(0, 65)))
	require.Equal(t, []byte{3, 1}, buf)
}
