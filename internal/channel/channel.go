// Package channel defines the replication surface the engine consumes:
// one authoritative writer (the host) and any number of read-only
// observers. Implementations deliver full-document snapshots; the
// engine never sees incremental diffs.
package channel

import "stagelink/engine/internal/state"

// Channel is one process's endpoint onto the shared state document.
type Channel interface {
	// IsAuthoritative reports whether this endpoint may mutate state.
	IsAuthoritative() bool
	// Snapshot returns the latest full document this endpoint has seen.
	// Callers must treat the result as read-only unless they own it.
	Snapshot() *state.Document
	// Subscribe registers fn to run whenever a new snapshot is
	// delivered. The returned unsubscribe is safe to call repeatedly
	// and from inside fn itself.
	Subscribe(fn func(*state.Document)) (unsubscribe func())
	// Mutate applies fn to the authoritative document. On a
	// non-authoritative endpoint it is a warned no-op; role can race
	// legitimately at connection boundaries, so this is never fatal.
	Mutate(fn func(*state.Document))
}

// Pumper is implemented by endpoints that queue remote deliveries and
// hand them to subscribers only when the owning loop asks, keeping all
// engine callbacks on a single goroutine.
type Pumper interface {
	// Pump delivers any pending snapshot or session events. It reports
	// whether anything was dispatched.
	Pump() bool
}
