// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package prune implements the backward pruning stage of a seven table plot.
//
// Every record of tables 2 through 7 points at two records of the table
// below it through a (position, offset) pair: the first target is position,
// the second is position+offset. Forward construction leaves most records of
// the lower tables unreferenced. Backpropagate walks from table 7 down to
// table 2, marking in a liveness bitmap the records of the next lower table
// that a live record points at, and then rewrites the table so that its
// pointers address the lower table as it will look once its dead records are
// gone. Table 7 is rewritten in place; tables 2 through 6 are re-sorted by
// their new positions through an external sort and truncated; table 1 is
// compacted last.
//
// Record layouts at this stage, fields packed most significant bit first:
//
//	table 7 (in and out)   f7 (k) | position (k+1) | offset (10) | 0...
//	tables 2-6 (in)        position (k+1) | offset (10) | metadata...
//	tables 2-6 (out)       counter (k+1) | position (k+1) | offset (10) | 0...
//	table 1                opaque
//
// The counter of an output record is its index among the table's survivors
// in original order. Output records are sorted by (position, offset).
//
// A single caller-provided buffer bounds the memory used: its first half
// caches table reads and its second half is the external sorter's cache.
package prune
