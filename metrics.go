// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package prune

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds prometheus collectors fed by Backpropagate's events. Attach
// them to a run through EventListener, possibly alongside another listener
// with TeeEventListener.
type Metrics struct {
	// Runs counts completed runs, Failures the runs that returned an error.
	Runs     prometheus.Counter
	Failures prometheus.Counter

	// RecordsKept and RecordsDropped count table records across all tables.
	RecordsKept    prometheus.Counter
	RecordsDropped prometheus.Counter
	// BytesReclaimed counts the bytes truncated from table files.
	BytesReclaimed prometheus.Counter

	// SortSpills and SortSpilledBytes count the external sorter's spills.
	SortSpills       prometheus.Counter
	SortSpilledBytes prometheus.Counter

	// TableLatency observes the seconds spent on each table.
	TableLatency prometheus.Histogram
	// RunLatency observes the seconds spent on each successful run.
	RunLatency prometheus.Histogram
}

// NewMetrics returns Metrics whose collector names are prefixed with
// namespace.
func NewMetrics(namespace string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backprop",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Runs:             counter("runs_total", "Completed backpropagation runs."),
		Failures:         counter("failures_total", "Backpropagation runs that returned an error."),
		RecordsKept:      counter("records_kept_total", "Table records that survived pruning."),
		RecordsDropped:   counter("records_dropped_total", "Table records removed by pruning."),
		BytesReclaimed:   counter("reclaimed_bytes_total", "Bytes truncated from table files."),
		SortSpills:       counter("sort_spills_total", "External sort cache spills."),
		SortSpilledBytes: counter("sort_spilled_bytes_total", "Bytes written to external sort spill files."),
		TableLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backprop",
			Name:      "table_seconds",
			Help:      "Time spent scanning and rewriting one table.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		}),
		RunLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backprop",
			Name:      "run_seconds",
			Help:      "Time spent on one backpropagation run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 12),
		}),
	}
}

// Collectors returns every collector, for registration with a
// prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Runs, m.Failures,
		m.RecordsKept, m.RecordsDropped, m.BytesReclaimed,
		m.SortSpills, m.SortSpilledBytes,
		m.TableLatency, m.RunLatency,
	}
}

// EventListener returns an EventListener that updates m.
func (m *Metrics) EventListener() EventListener {
	l := EventListener{
		BackpropEnd: func(info BackpropInfo) {
			if info.Err != nil {
				m.Failures.Inc()
				return
			}
			m.Runs.Inc()
			m.RunLatency.Observe(info.Duration.Seconds())
		},
		TableSorted: func(info TableSortInfo) {
			m.SortSpills.Add(float64(info.Spills))
			m.SortSpilledBytes.Add(float64(info.SpilledBytes))
		},
		TableRewritten: func(info TableInfo) {
			reclaimed := info.Reclaimed()
			m.RecordsKept.Add(float64(info.After.Count))
			m.RecordsDropped.Add(float64(reclaimed.Count))
			m.BytesReclaimed.Add(float64(reclaimed.Bytes))
			m.TableLatency.Observe(info.Duration.Seconds())
		},
	}
	l.EnsureDefaults()
	return l
}
