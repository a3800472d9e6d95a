package classifier

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordLookup is called after each lookup. found reports whether a rule
	// matched, duration is the total time taken.
	RecordLookup(duration time.Duration, found bool)

	// RecordSubtableProbe is called for each subtable a lookup hashes into,
	// after partition and priority pruning.
	RecordSubtableProbe()

	// RecordPartitionSkip is called for each subtable skipped because its
	// tag did not intersect the partition of the flow's metadata.
	RecordPartitionSkip()

	// RecordTrieSkip is called for each subtable skipped because a prefix
	// trie showed no rule needs the subtable's prefix length.
	RecordTrieSkip()

	// RecordInsert is called after each insert or replace operation.
	RecordInsert(duration time.Duration, err error)

	// RecordRemove is called after each remove operation.
	RecordRemove(duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLookup(time.Duration, bool)  {}
func (NoopMetricsCollector) RecordSubtableProbe()              {}
func (NoopMetricsCollector) RecordPartitionSkip()              {}
func (NoopMetricsCollector) RecordTrieSkip()                   {}
func (NoopMetricsCollector) RecordInsert(time.Duration, error) {}
func (NoopMetricsCollector) RecordRemove(time.Duration)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LookupCount      atomic.Int64
	LookupHits       atomic.Int64
	LookupTotalNanos atomic.Int64
	SubtableProbes   atomic.Int64
	PartitionSkips   atomic.Int64
	TrieSkips        atomic.Int64
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	RemoveCount      atomic.Int64
}

func (c *BasicMetricsCollector) RecordLookup(d time.Duration, found bool) {
	c.LookupCount.Add(1)
	if found {
		c.LookupHits.Add(1)
	}
	c.LookupTotalNanos.Add(int64(d))
}

func (c *BasicMetricsCollector) RecordSubtableProbe() { c.SubtableProbes.Add(1) }
func (c *BasicMetricsCollector) RecordPartitionSkip() { c.PartitionSkips.Add(1) }
func (c *BasicMetricsCollector) RecordTrieSkip()      { c.TrieSkips.Add(1) }

func (c *BasicMetricsCollector) RecordInsert(_ time.Duration, err error) {
	c.InsertCount.Add(1)
	if err != nil {
		c.InsertErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordRemove(time.Duration) { c.RemoveCount.Add(1) }
