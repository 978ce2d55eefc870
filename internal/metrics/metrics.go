// Package metrics defines the instrumentation hooks used by the async core.
//
// Components accept a Metrics value in their options. A nil value is valid
// and means "not instrumented"; use OrNop to get a value that is always safe
// to call.
package metrics

import "time"

// Metrics receives counters and gauges from the pool, I/O engine, cache and
// fetch layer.
type Metrics interface {
	// TaskDone records a unit of work finishing on component ("pool", "dispatch").
	TaskDone(component string, failed bool)
	// TaskPanicked records a recovered panic at a fault boundary.
	TaskPanicked(component string)
	// QueueDepth reports the current backlog of component.
	QueueDepth(component string, depth int)

	// IODone records a finished read or write with its transferred byte count.
	IODone(kind string, ok bool, bytes int)

	// CacheLookup records a lookup served by tier ("memory", "pending", "disk") or a miss.
	CacheLookup(tier string, hit bool)
	// CacheEvicted records an eviction from tier.
	CacheEvicted(tier string, n int)
	// CacheSize reports the byte size held by tier.
	CacheSize(tier string, bytes int64)

	// HTTPDone records a GET with its outcome ("complete", "truncated", "error").
	HTTPDone(outcome string, d time.Duration, bytes int)
}

// OrNop returns m, or a no-op implementation when m is nil.
func OrNop(m Metrics) Metrics {
	if m == nil {
		return nop{}
	}
	return m
}

type nop struct{}

func (nop) TaskDone(string, bool)               {}
func (nop) TaskPanicked(string)                 {}
func (nop) QueueDepth(string, int)              {}
func (nop) IODone(string, bool, int)            {}
func (nop) CacheLookup(string, bool)            {}
func (nop) CacheEvicted(string, int)            {}
func (nop) CacheSize(string, int64)             {}
func (nop) HTTPDone(string, time.Duration, int) {}
