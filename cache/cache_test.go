package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chn0318/logunit/logaddr"
	"github.com/chn0318/logunit/logdata"
)

func addr(a uint64) logaddr.LogAddress { return logaddr.Global(a) }

func dataOf(s string) *logdata.LogData {
	return logdata.NewData([]byte(s), map[logaddr.StreamID]struct{}{}, map[logaddr.StreamID]uint64{})
}

func TestCacheGetLoadsOnMiss(t *testing.T) {
	var loads int32
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		atomic.AddInt32(&loads, 1)
		return dataOf("loaded"), nil
	}, nil, nil)

	v, err := c.Get(addr(1))
	require.NoError(t, err)
	require.Equal(t, "loaded", string(v.Payload.Bytes()))
	require.EqualValues(t, 1, loads)

	v, err = c.Get(addr(1))
	require.NoError(t, err)
	require.Equal(t, "loaded", string(v.Payload.Bytes()))
	require.EqualValues(t, 1, loads, "second Get must hit the cache, not reload")
}

func TestCacheGetMissingAddressReturnsNil(t *testing.T) {
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, nil, nil)

	v, err := c.Get(addr(1))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestCacheGetPropagatesLoaderError(t *testing.T) {
	want := errors.New("boom")
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, want
	}, nil, nil)

	_, err := c.Get(addr(1))
	require.ErrorIs(t, err, want)
}

func TestCachePutWritesThroughBeforeAdmitting(t *testing.T) {
	var written []uint64
	var mu sync.Mutex
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, func(a logaddr.LogAddress, d *logdata.LogData) error {
		mu.Lock()
		written = append(written, a.Address)
		mu.Unlock()
		return nil
	}, nil)

	require.NoError(t, c.Put(addr(5), dataOf("v")))
	require.Equal(t, []uint64{5}, written)

	v, ok := c.GetIfPresent(addr(5))
	require.True(t, ok)
	require.Equal(t, "v", string(v.Payload.Bytes()))
}

func TestCachePutWriterErrorDoesNotAdmit(t *testing.T) {
	want := errors.New("disk full")
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, func(a logaddr.LogAddress, d *logdata.LogData) error {
		return want
	}, nil)

	err := c.Put(addr(5), dataOf("v"))
	require.ErrorIs(t, err, want)

	_, ok := c.GetIfPresent(addr(5))
	require.False(t, ok)
}

// TestCachePutSerializesConcurrentWritesOnSameKey guards against Put
// sharing one writer's result across two concurrent callers on the
// same address (which a singleflight-based write path would do): the
// write function reads a shared "already written" flag, sleeps to
// widen the race window, then sets it, so a non-serialized Put would
// let both callers observe the flag unset and both succeed.
func TestCachePutSerializesConcurrentWritesOnSameKey(t *testing.T) {
	var mu sync.Mutex
	written := false
	var calls int32
	writeErr := errors.New("already written")

	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, func(a logaddr.LogAddress, d *logdata.LogData) error {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		already := written
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		if already {
			return writeErr
		}
		mu.Lock()
		written = true
		mu.Unlock()
		return nil
	}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			errs[i] = c.Put(addr(1), dataOf("v"))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 2, calls, "both Puts must run their own write-through, not share one's result")

	var oks, overwrites int
	for _, err := range errs {
		switch {
		case err == nil:
			oks++
		case errors.Is(err, writeErr):
			overwrites++
		}
	}
	require.Equal(t, 1, oks, "exactly one concurrent Put on the same address must succeed")
	require.Equal(t, 1, overwrites, "exactly one concurrent Put on the same address must observe the overwrite")
}

func TestCacheEvictsOldestWhenOverWeight(t *testing.T) {
	var evicted []uint64
	c := New(10, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, nil, func(a logaddr.LogAddress, d *logdata.LogData) {
		evicted = append(evicted, a.Address)
	})

	require.NoError(t, c.Put(addr(1), dataOf("0123456789"))) // weight 10, fills cache
	require.NoError(t, c.Put(addr(2), dataOf("01234")))      // weight 5, evicts addr 1

	require.Equal(t, []uint64{1}, evicted)
	_, ok := c.GetIfPresent(addr(1))
	require.False(t, ok)
	_, ok = c.GetIfPresent(addr(2))
	require.True(t, ok)
}

func TestCacheNeverEvictsTheEntryJustAdmitted(t *testing.T) {
	c := New(4, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, nil, nil)

	require.NoError(t, c.Put(addr(1), dataOf("way-over-the-limit")))
	v, ok := c.GetIfPresent(addr(1))
	require.True(t, ok)
	require.Equal(t, "way-over-the-limit", string(v.Payload.Bytes()))
}

func TestCacheInvalidate(t *testing.T) {
	var evicted int
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, nil, func(a logaddr.LogAddress, d *logdata.LogData) {
		evicted++
	})

	require.NoError(t, c.Put(addr(1), dataOf("v")))
	c.Invalidate(addr(1))
	_, ok := c.GetIfPresent(addr(1))
	require.False(t, ok)
	require.Equal(t, 1, evicted)

	// Invalidating an absent key is a no-op, not an error.
	c.Invalidate(addr(99))
	require.Equal(t, 1, evicted)
}

func TestCacheInvalidateAll(t *testing.T) {
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, nil, nil)

	require.NoError(t, c.Put(addr(1), dataOf("a")))
	require.NoError(t, c.Put(addr(2), dataOf("b")))
	require.Equal(t, 2, c.Len())

	c.InvalidateAll()
	require.Equal(t, 0, c.Len())
	require.EqualValues(t, 0, c.Weight())
}

func TestCacheConcurrentGetLoadsOnce(t *testing.T) {
	var loads int32
	release := make(chan struct{})
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return dataOf("v"), nil
	}, nil, nil)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v, err := c.Get(addr(1))
			require.NoError(t, err)
			require.Equal(t, "v", string(v.Payload.Bytes()))
		}()
	}
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, loads, "singleflight must collapse concurrent loads of the same address")
}

func TestCacheKeysSnapshot(t *testing.T) {
	c := New(1<<20, func(a logaddr.LogAddress) (*logdata.LogData, error) {
		return nil, nil
	}, nil, nil)
	require.NoError(t, c.Put(addr(1), dataOf("a")))
	require.NoError(t, c.Put(addr(2), dataOf("b")))

	keys := c.KeysSnapshot()
	require.Len(t, keys, 2)
	require.ElementsMatch(t, []logaddr.LogAddress{addr(1), addr(2)}, keys)
}
