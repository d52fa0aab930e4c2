package celldb

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement it to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordImport is called once per bulk import. rows is the number of
	// rows processed, retained the number of records kept after dedup.
	RecordImport(rows, retained int, duration time.Duration, err error)

	// RecordGet is called after each point-in-time lookup.
	RecordGet(found bool, duration time.Duration)

	// RecordSearch is called after each search narrowing. results is the
	// size of the produced database.
	RecordSearch(results int, duration time.Duration, err error)

	// RecordSnapshot is called after a snapshot save or load.
	RecordSnapshot(op string, records int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordImport(int, int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordGet(bool, time.Duration)                         {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)                {}
func (NoopMetricsCollector) RecordSnapshot(string, int, time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ImportCount      atomic.Int64
	ImportRows       atomic.Int64
	ImportRetained   atomic.Int64
	ImportErrors     atomic.Int64
	GetCount         atomic.Int64
	GetMisses        atomic.Int64
	GetTotalNanos    atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	SnapshotCount    atomic.Int64
	SnapshotErrors   atomic.Int64
}

// RecordImport implements MetricsCollector.
func (b *BasicMetricsCollector) RecordImport(rows, retained int, _ time.Duration, err error) {
	b.ImportCount.Add(1)
	b.ImportRows.Add(int64(rows))
	b.ImportRetained.Add(int64(retained))
	if err != nil {
		b.ImportErrors.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(found bool, duration time.Duration) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	if !found {
		b.GetMisses.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(_ string, _ int, _ time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		ImportCount:    b.ImportCount.Load(),
		ImportRows:     b.ImportRows.Load(),
		ImportRetained: b.ImportRetained.Load(),
		ImportErrors:   b.ImportErrors.Load(),
		GetCount:       b.GetCount.Load(),
		GetMisses:      b.GetMisses.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SnapshotCount:  b.SnapshotCount.Load(),
		SnapshotErrors: b.SnapshotErrors.Load(),
	}
	if stats.GetCount > 0 {
		stats.GetAvgNanos = b.GetTotalNanos.Load() / stats.GetCount
	}
	if stats.SearchCount > 0 {
		stats.SearchAvgNanos = b.SearchTotalNanos.Load() / stats.SearchCount
	}
	return stats
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ImportCount    int64
	ImportRows     int64
	ImportRetained int64
	ImportErrors   int64
	GetCount       int64
	GetMisses      int64
	GetAvgNanos    int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	SnapshotCount  int64
	SnapshotErrors int64
}
