// Package trimmap implements the per-stream monotonic trim
// high-water-mark map (spec component C). Trim marks are a hint to the
// GC engine, not a durability guarantee: if a restart loses them,
// correctness is preserved and the next client trim simply re-teaches
// the log unit what it already knew.
package trimmap

import (
	"sync"

	"github.com/chn0318/logunit/logaddr"
)

// TrimMap is a concurrent map from stream to the highest address a
// client has declared safe to discard in that stream.
type TrimMap struct {
	mu sync.Mutex
	m  map[logaddr.StreamID]uint64
}

// New returns an empty TrimMap.
func New() *TrimMap {
	return &TrimMap{m: make(map[logaddr.StreamID]uint64)}
}

// PutMax raises the trim mark for stream to max(current, proposed).
// It is the map's only mutation, which is what makes trim marks
// monotonic non-decreasing over time (I3) regardless of the order
// concurrent TRIM requests for the same stream arrive in.
func (t *TrimMap) PutMax(stream logaddr.StreamID, proposed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.m[stream]; !ok || proposed > cur {
		t.m[stream] = proposed
	}
}

// Get returns the current trim mark for stream, or (0, false) if the
// stream has never been trimmed.
func (t *TrimMap) Get(stream logaddr.StreamID) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[stream]
	return v, ok
}

// TrimmedThrough reports whether stream has been trimmed at least
// through address a — i.e. whether a's trim mark is known and is at
// least a. Used by the GC engine to test I4.
func (t *TrimMap) TrimmedThrough(stream logaddr.StreamID, a uint64) bool {
	mark, ok := t.Get(stream)
	return ok && mark >= a
}
