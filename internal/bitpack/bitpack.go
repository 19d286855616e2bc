// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bitpack reads and writes unsigned integer fields of arbitrary bit
// width at arbitrary bit offsets within a byte slice.
//
// Fields are packed most significant bit first: bit offset 0 is the high bit
// of buf[0]. A record encoded this way compares bytewise in the same order as
// its leading fields compare numerically.
package bitpack

import "github.com/cockroachdb/errors"

// MaxFieldBits is the widest field that can be decoded into a uint64.
const MaxFieldBits = 64

// Uint decodes the bitWidth-bit unsigned integer starting bitOffset bits into
// buf. The range must lie within buf.
func Uint(buf []byte, bitOffset, bitWidth uint32) uint64 {
	var v uint64
	for bitWidth > 0 {
		i := bitOffset >> 3
		avail := 8 - bitOffset&7
		n := min(avail, bitWidth)
		v = v<<n | uint64(buf[i]>>(avail-n))&(uint64(1)<<n-1)
		bitOffset += n
		bitWidth -= n
	}
	return v
}

// PutUint overwrites the bitWidth bits starting bitOffset bits into buf with
// the low bitWidth bits of v. Bits outside the range are left untouched.
func PutUint(buf []byte, bitOffset, bitWidth uint32, v uint64) {
	for bitWidth > 0 {
		i := bitOffset >> 3
		avail := 8 - bitOffset&7
		n := min(avail, bitWidth)
		shift := avail - n
		mask := byte((uint64(1)<<n - 1) << shift)
		chunk := byte(v>>(bitWidth-n)) << shift
		buf[i] = buf[i]&^mask | chunk&mask
		bitOffset += n
		bitWidth -= n
	}
}

// Field is a value together with the number of bits it occupies.
type Field struct {
	Value uint64
	Width uint32
}

// Writer appends fields to a fixed-size record buffer.
//
//	w := bitpack.MakeWriter(rec)
//	_ = w.Append(sortKey, k+1)
//	_ = w.Append(pos, k+1)
//	_ = w.Append(offset, 10)
//	w.Finish()
type Writer struct {
	buf  []byte
	bits uint32
}

// MakeWriter returns a Writer that encodes into buf starting at bit 0.
func MakeWriter(buf []byte) Writer {
	return Writer{buf: buf}
}

// Append encodes v into the next width bits. It returns an assertion failure
// if v does not fit in width bits or the record has no room left; the
// buffer is unchanged in that case.
func (w *Writer) Append(v uint64, width uint32) error {
	if width > MaxFieldBits {
		return errors.AssertionFailedf("bitpack: %d-bit field exceeds %d bits", width, MaxFieldBits)
	}
	if width < MaxFieldBits && v>>width != 0 {
		return errors.AssertionFailedf("bitpack: value %d overflows %d-bit field", v, width)
	}
	if end := uint64(w.bits) + uint64(width); end > uint64(len(w.buf))*8 {
		return errors.AssertionFailedf("bitpack: %d bits overflow %d-byte record", end, len(w.buf))
	}
	PutUint(w.buf, w.bits, width, v)
	w.bits += width
	return nil
}

// Bits returns the number of bits appended so far.
func (w *Writer) Bits() uint32 {
	return w.bits
}

// Finish zeroes every bit of the record after the last appended field.
func (w *Writer) Finish() {
	if rem := w.bits & 7; rem != 0 {
		PutUint(w.buf, w.bits, 8-rem, 0)
	}
	clear(w.buf[(w.bits+7)>>3:])
}

// Encode writes fields into buf in order and zero-pads the remainder, so that
// buf holds exactly one record.
func Encode(buf []byte, fields ...Field) error {
	w := MakeWriter(buf)
	for _, f := range fields {
		if err := w.Append(f.Value, f.Width); err != nil {
			return err
		}
	}
	w.Finish()
	return nil
}
