// Package gc implements the log unit's garbage collection engine
// (spec component E): a background loop that periodically sweeps the
// write-through cache for entries every one of whose streams has been
// trimmed past that entry's address, and invalidates them.
//
// Grounded on LogUnitServer.runGC/handleGC in original_source: a scan
// of the cache's resident key set, sorted so trimming is observed in
// address order, checked against the trim map stream by stream, with
// global-only entries (empty stream set) left untouched. The original's
// IntervalAndSentinelRetry scheduling loop is replaced here with a
// time.Timer plus a force-wakeup channel, coordinated at shutdown with
// golang.org/x/sync/errgroup the way this codebase's service layer
// already coordinates concurrent goroutines.
package gc

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chn0318/logunit/cache"
	"github.com/chn0318/logunit/logaddr"
	"github.com/chn0318/logunit/trimmap"
)

// DefaultInterval is how often the loop sweeps when the unit hasn't
// been told otherwise (the original's retry interval was 60s).
const DefaultInterval = 60 * time.Second

// Loop runs periodic GC passes over a cache.Cache, guided by a
// trimmap.TrimMap. The zero value is not usable; construct with New.
type Loop struct {
	cache *cache.Cache
	trim  *trimmap.TrimMap
	log   *zap.Logger

	intervalMillis atomic.Int64
	force          chan struct{}

	lastFreed atomic.Int64
}

// New returns a Loop that sweeps c, guided by tm, every interval
// (DefaultInterval if interval is zero).
func New(c *cache.Cache, tm *trimmap.TrimMap, log *zap.Logger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Loop{
		cache: c,
		trim:  tm,
		log:   log,
		force: make(chan struct{}, 1),
	}
	l.intervalMillis.Store(interval.Milliseconds())
	return l
}

// SetInterval changes the sweep interval take effect starting with the
// loop's next wait (spec's GC_INTERVAL operation, grounded on
// handleSetGCInterval in original_source).
func (l *Loop) SetInterval(interval time.Duration) {
	l.intervalMillis.Store(interval.Milliseconds())
}

// Interval returns the loop's current sweep interval.
func (l *Loop) Interval() time.Duration {
	return time.Duration(l.intervalMillis.Load()) * time.Millisecond
}

// ForceGC wakes the loop immediately, short-circuiting its timer
// (spec's FORCE_GC operation, grounded on gcThread.interrupt() in
// original_source). It is safe to call from any goroutine and never
// blocks: a pending force request is coalesced if one is already
// queued.
func (l *Loop) ForceGC() {
	select {
	case l.force <- struct{}{}:
	default:
	}
}

// LastFreed returns the number of entries the most recently completed
// sweep invalidated.
func (l *Loop) LastFreed() int64 {
	return l.lastFreed.Load()
}

// Run blocks, sweeping on the configured interval or on ForceGC, until
// ctx is cancelled. It is meant to be run under an errgroup alongside
// the rest of the unit's background work:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return gcLoop.Run(ctx) })
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.force:
			l.sweep()
		case <-timer.C:
			l.sweep()
		}
		timer.Reset(l.Interval())
	}
}

// sweep performs one GC pass: scan the cache's resident keys in
// address order and invalidate every entry all of whose streams are
// trimmed past that entry's address (I4). Global-only entries (no
// streams) are never invalidated here — the log unit has no other
// retention signal for them (see DESIGN.md's resolution of Q3).
func (l *Loop) sweep() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("garbage collection pass failed", zap.Any("panic", r))
		}
	}()
	l.log.Info("garbage collector starting")

	keys := l.cache.KeysSnapshot()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Address < keys[j].Address })

	var freed int64
	for _, addr := range keys {
		entry, ok := l.cache.GetIfPresent(addr)
		if !ok || entry == nil {
			continue
		}
		if len(entry.Streams) == 0 {
			continue
		}
		if !l.trimmable(addr, entry.Streams) {
			continue
		}
		l.log.Debug("trimming entry", zap.String("address", addr.String()))
		l.cache.Invalidate(addr)
		freed++
	}

	l.lastFreed.Store(freed)
	l.log.Info("garbage collection pass complete", zap.Int64("freed_entries", freed))
}

func (l *Loop) trimmable(addr logaddr.LogAddress, streams map[logaddr.StreamID]struct{}) bool {
	for stream := range streams {
		if !l.trim.TrimmedThrough(stream, addr.Address) {
			return false
		}
	}
	return true
}

// RunGroup registers Run under g, returning immediately. A convenience
// for callers that already have an errgroup for the rest of the unit's
// background work.
func RunGroup(ctx context.Context, g *errgroup.Group, l *Loop) {
	g.Go(func() error { return l.Run(ctx) })
}
