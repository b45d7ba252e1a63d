// Package cache implements the log unit's write-through cache
// (spec component D): the hot path every WRITE, READ, COMMIT and
// FILL_HOLE handler in package logunit goes through before touching
// segmentlog. It is a weight-bounded LRU, grounded on
// upspin.io/cache.LRU's container/list design, combined with the
// busy/valid/sync.Cond per-key serialization upspin.io's
// grpc/storecacheserver/cache.go uses to make concurrent callers for
// the same key block on one another rather than racing.
//
// The loader side of that serialization is golang.org/x/sync/singleflight,
// which coalesces concurrent Get misses for the same key into one
// Loader call and shares its result. Put cannot use the same
// primitive: singleflight shares one body's result across every
// waiting caller, but two concurrent Puts racing on the same address
// must each run their own write-through and each see their own
// outcome — the loser must observe the segment log's own overwrite
// check, not inherit the winner's success. Put therefore serializes
// through a plain per-key mutex instead.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chn0318/logunit/logaddr"
	"github.com/chn0318/logunit/logdata"
)

// Loader fetches the durable value for addr when it is not resident in
// the cache. A nil *logdata.LogData with a nil error means the address
// has never been written.
type Loader func(addr logaddr.LogAddress) (*logdata.LogData, error)

// Writer durably persists entry at addr as part of Put, before the
// cache admits it. Put fails, and nothing is cached, if Writer returns
// an error.
type Writer func(addr logaddr.LogAddress, entry *logdata.LogData) error

// EvictionListener is notified after an entry leaves the cache, whether
// by capacity eviction or explicit Invalidate. It must not block.
type EvictionListener func(addr logaddr.LogAddress, entry *logdata.LogData)

// Cache is a weight-bounded, write-through LRU keyed by LogAddress.
// Entries are weighted by logdata.LogData.Weight (payload size, or 1
// for payload-less entries), matching spec.md §4.D's "resident bytes"
// accounting.
type Cache struct {
	load  Loader
	write Writer
	evict EvictionListener

	maxWeight int64

	mu        sync.Mutex
	ll        *list.List
	items     map[logaddr.LogAddress]*list.Element
	curWeight int64

	group singleflight.Group

	locksMu sync.Mutex
	locks   map[logaddr.LogAddress]*keyLock
}

type cacheEntry struct {
	addr   logaddr.LogAddress
	value  *logdata.LogData
	weight int64
}

// keyLock is one address's write-through critical section: refs counts
// the callers currently holding or waiting on mu, so acquire/release
// can drop the map entry once nobody needs it anymore instead of
// leaking one keyLock per address ever written.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New returns an empty Cache bounded at maxWeight bytes of resident
// payload. load is required; write and evict may be nil.
func New(maxWeight int64, load Loader, write Writer, evict EvictionListener) *Cache {
	if load == nil {
		panic("cache: Loader must not be nil")
	}
	return &Cache{
		load:      load,
		write:     write,
		evict:     evict,
		maxWeight: maxWeight,
		ll:        list.New(),
		items:     make(map[logaddr.LogAddress]*list.Element),
		locks:     make(map[logaddr.LogAddress]*keyLock),
	}
}

// acquire locks addr's keyLock, creating it on first use, and returns
// it for release to unlock.
func (c *Cache) acquire(addr logaddr.LogAddress) *keyLock {
	c.locksMu.Lock()
	kl, ok := c.locks[addr]
	if !ok {
		kl = &keyLock{}
		c.locks[addr] = kl
	}
	kl.refs++
	c.locksMu.Unlock()

	kl.mu.Lock()
	return kl
}

// release unlocks kl and drops addr's entry from locks once no other
// caller is holding or waiting on it.
func (c *Cache) release(addr logaddr.LogAddress, kl *keyLock) {
	kl.mu.Unlock()

	c.locksMu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(c.locks, addr)
	}
	c.locksMu.Unlock()
}

// Get returns the cached value for addr, loading it via Loader on a
// miss. Concurrent Gets for the same addr are coalesced through a
// singleflight.Group keyed on addr.String(), so a cache miss triggers
// exactly one Loader call no matter how many callers are waiting on
// it — sharing one Loader result across readers is correct (unlike
// Put's write path, a Loader call has no side effect whose outcome
// must be observed separately by every caller).
func (c *Cache) Get(addr logaddr.LogAddress) (*logdata.LogData, error) {
	if v, ok := c.peek(addr); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(addr.String(), func() (interface{}, error) {
		// Re-check: a concurrent Put may have admitted the entry while
		// we were queued behind another Get's in-flight load.
		if v, ok := c.peek(addr); ok {
			return v, nil
		}
		entry, err := c.load(addr)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			c.admit(addr, entry)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*logdata.LogData), nil
}

// GetIfPresent returns the cached value for addr without consulting
// Loader or the singleflight group. Used by the GC engine (package gc)
// to inspect resident entries without pulling cold ones in.
func (c *Cache) GetIfPresent(addr logaddr.LogAddress) (*logdata.LogData, bool) {
	return c.peek(addr)
}

func (c *Cache) peek(addr logaddr.LogAddress) (*logdata.LogData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ele, ok := c.items[addr]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(ele)
	return ele.Value.(*cacheEntry).value, true
}

// Put writes entry through to Writer (if any), then admits it to the
// cache, evicting the coldest entries until curWeight is back under
// maxWeight. Serialized per-addr through a keyLock, so two concurrent
// Puts racing on the same address each run their own write-through in
// turn rather than one sharing the other's result — the loser sees
// its own Writer failure (typically ErrOverwrite from the segment
// log), not the winner's success, matching spec.md §5's exactly-one-
// WRITE_OK-one-OVERWRITE_ERROR requirement (I5).
func (c *Cache) Put(addr logaddr.LogAddress, entry *logdata.LogData) error {
	kl := c.acquire(addr)
	defer c.release(addr, kl)

	if c.write != nil {
		if err := c.write(addr, entry); err != nil {
			return fmt.Errorf("cache: write-through for %s: %w", addr, err)
		}
	}
	c.admit(addr, entry)
	return nil
}

func (c *Cache) admit(addr logaddr.LogAddress, entry *logdata.LogData) {
	weight := entry.Weight()

	c.mu.Lock()
	if ele, ok := c.items[addr]; ok {
		old := ele.Value.(*cacheEntry)
		c.curWeight += weight - old.weight
		old.value, old.weight = entry, weight
		c.ll.MoveToFront(ele)
	} else {
		ele := c.ll.PushFront(&cacheEntry{addr: addr, value: entry, weight: weight})
		c.items[addr] = ele
		c.curWeight += weight
	}
	var evicted []*cacheEntry
	for c.curWeight > c.maxWeight {
		back := c.ll.Back()
		if back == nil {
			break
		}
		ent := back.Value.(*cacheEntry)
		if ent.addr == addr {
			// Never evict the entry we just admitted, even if its own
			// weight exceeds maxWeight: a single oversized entry must
			// still be servable, matching Caffeine's per-entry-larger-
			// than-capacity behavior in the original LogUnitServer.
			break
		}
		c.ll.Remove(back)
		delete(c.items, ent.addr)
		c.curWeight -= ent.weight
		evicted = append(evicted, ent)
	}
	c.mu.Unlock()

	for _, ent := range evicted {
		if c.evict != nil {
			c.evict(ent.addr, ent.value)
		}
	}
}

// Invalidate removes addr from the cache, notifying EvictionListener if
// it was present. It does not touch durable storage.
func (c *Cache) Invalidate(addr logaddr.LogAddress) {
	c.mu.Lock()
	ele, ok := c.items[addr]
	var ent *cacheEntry
	if ok {
		ent = ele.Value.(*cacheEntry)
		c.ll.Remove(ele)
		delete(c.items, addr)
		c.curWeight -= ent.weight
	}
	c.mu.Unlock()

	if ok && c.evict != nil {
		c.evict(ent.addr, ent.value)
	}
}

// InvalidateAll clears the cache, notifying EvictionListener for every
// resident entry. Used by Unit.Reset (spec's supplemented reboot()
// operation).
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	entries := make([]*cacheEntry, 0, len(c.items))
	for _, ele := range c.items {
		entries = append(entries, ele.Value.(*cacheEntry))
	}
	c.ll = list.New()
	c.items = make(map[logaddr.LogAddress]*list.Element)
	c.curWeight = 0
	c.mu.Unlock()

	if c.evict != nil {
		for _, ent := range entries {
			c.evict(ent.addr, ent.value)
		}
	}
}

// KeysSnapshot returns the addresses currently resident in the cache,
// in no particular order. Used by the GC engine to build its sweep
// set (spec.md §4.E).
func (c *Cache) KeysSnapshot() []logaddr.LogAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]logaddr.LogAddress, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

// Weight returns the cache's current total resident weight.
func (c *Cache) Weight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curWeight
}

// Len returns the number of entries currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
