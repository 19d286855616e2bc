// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pospace/prune/metrics"
)

// TableSummary describes what a run did to one table.
type TableSummary struct {
	Before, After metrics.CountAndSize
	// Moved is the number of table 1 records physically moved.
	Moved uint64
	// Spills is the number of external sort spills.
	Spills int
	// ScanDuration is the liveness scan's duration; Duration covers the whole
	// table, scan included.
	ScanDuration time.Duration
	Duration     time.Duration
}

// Summary collects the outcome of a run from its events. Index 0 of Tables
// is unused.
type Summary struct {
	K        uint8
	Tables   [NumTables + 1]TableSummary
	Duration time.Duration
	Err      error
}

// EventListener returns an EventListener that fills in s.
func (s *Summary) EventListener() EventListener {
	l := EventListener{
		BackpropBegin: func(info BackpropInfo) {
			*s = Summary{K: info.K}
		},
		BackpropEnd: func(info BackpropInfo) {
			s.Duration = info.Duration
			s.Err = info.Err
		},
		TableScanned: func(info TableScanInfo) {
			s.Tables[info.Table].ScanDuration = info.Duration
		},
		TableSorted: func(info TableSortInfo) {
			s.Tables[info.Table].Spills = info.Spills
		},
		TableRewritten: func(info TableInfo) {
			ts := &s.Tables[info.Table]
			ts.Before = info.Before
			ts.After = info.After
			ts.Moved = info.Moved
			ts.Duration = info.Duration
		},
	}
	l.EnsureDefaults()
	return l
}

// Total returns the combined size of all tables before and after the run.
func (s *Summary) Total() (before, after metrics.CountAndSize) {
	for t := 1; t <= NumTables; t++ {
		before.Accumulate(s.Tables[t].Before)
		after.Accumulate(s.Tables[t].After)
	}
	return before, after
}

// WriteTo writes the summary as a table, one row per plot table from 7 down
// to 1 followed by the totals. It implements io.WriterTo.
func (s *Summary) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	tbl := tablewriter.NewWriter(&buf)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetHeader([]string{"table", "before", "after", "reclaimed", "spills", "scan", "total"})
	for t := NumTables; t >= 1; t-- {
		ts := s.Tables[t]
		tbl.Append([]string{
			fmt.Sprint(t),
			ts.Before.String(),
			ts.After.String(),
			ts.Before.Sub(ts.After).String(),
			fmt.Sprint(ts.Spills),
			ts.ScanDuration.Round(time.Millisecond).String(),
			ts.Duration.Round(time.Millisecond).String(),
		})
	}
	before, after := s.Total()
	tbl.Append([]string{
		"all", before.String(), after.String(), before.Sub(after).String(),
		"", "", s.Duration.Round(time.Millisecond).String(),
	})
	tbl.Render()
	if s.Err != nil {
		fmt.Fprintf(&buf, "error: %v\n", s.Err)
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
