package telemetry

import (
	"sync/atomic"
	"time"
)

// Counters aggregates engine-wide throughput numbers. All methods are
// safe for concurrent use; broadcast counters are bumped from session
// goroutines while reconcile counters come from the tick loop.
type Counters struct {
	broadcasts         atomic.Uint64
	bytesSent          atomic.Uint64
	reconcilePasses    atomic.Uint64
	deferredCreates    atomic.Uint64
	entitiesLive       atomic.Uint64
	tickDurationMillis atomic.Int64
}

// CountersSnapshot is the JSON shape served by the diagnostics endpoint.
type CountersSnapshot struct {
	Broadcasts         uint64 `json:"broadcasts"`
	BytesSent          uint64 `json:"bytesSent"`
	ReconcilePasses    uint64 `json:"reconcilePasses"`
	DeferredCreates    uint64 `json:"deferredCreates"`
	EntitiesLive       uint64 `json:"entitiesLive"`
	TickDurationMillis int64  `json:"tickDurationMillis"`
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// RecordBroadcast accumulates one snapshot broadcast.
func (c *Counters) RecordBroadcast(bytes int) {
	if c == nil {
		return
	}
	if bytes < 0 {
		bytes = 0
	}
	c.broadcasts.Add(1)
	c.bytesSent.Add(uint64(bytes))
}

// RecordReconcile accumulates one reconciliation pass.
func (c *Counters) RecordReconcile(deferred int) {
	if c == nil {
		return
	}
	c.reconcilePasses.Add(1)
	if deferred > 0 {
		c.deferredCreates.Add(uint64(deferred))
	}
}

// StoreEntitiesLive records the current live entity count.
func (c *Counters) StoreEntitiesLive(count int) {
	if c == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	c.entitiesLive.Store(uint64(count))
}

// RecordTickDuration stores the latest tick wall time.
func (c *Counters) RecordTickDuration(duration time.Duration) {
	if c == nil {
		return
	}
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	c.tickDurationMillis.Store(millis)
}

// Snapshot copies the counters for serving.
func (c *Counters) Snapshot() CountersSnapshot {
	if c == nil {
		return CountersSnapshot{}
	}
	return CountersSnapshot{
		Broadcasts:         c.broadcasts.Load(),
		BytesSent:          c.bytesSent.Load(),
		ReconcilePasses:    c.reconcilePasses.Load(),
		DeferredCreates:    c.deferredCreates.Load(),
		EntitiesLive:       c.entitiesLive.Load(),
		TickDurationMillis: c.tickDurationMillis.Load(),
	}
}
