package segmentlog

import (
	"sync"

	"github.com/chn0318/logunit/logdata"
)

// MemoryLog is a non-durable SegmentLog used when the unit is
// configured with `--memory`: data lives only in a mutex-guarded map
// and is lost on exit. Adapted from sharedlog/memorylog.MemoryLog,
// which used an auto-incrementing tail to assign its own addresses;
// here the caller (the write-through cache) already owns addressing,
// so Append keys directly off the address it is given and enforces
// the same at-most-once semantics (I5) a disk-backed FileLog enforces
// via its segment index.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[uint64]*logdata.LogData
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[uint64]*logdata.LogData)}
}

// detach returns a shallow copy of entry whose Payload is a new RefBuf
// wrapping the same underlying bytes with its own reference count. The
// write-through cache calls Release on whatever entry it was handed
// once that entry is evicted; without detaching, that Release would
// zero out the same RefBuf MemoryLog is holding onto as its durable
// copy (entries are never mutated in place, so sharing the byte slice
// itself across independent RefBufs is safe — only the reference
// count needs to be independent). FileLog has no equivalent problem
// since segment.read already builds a fresh RefBuf on every call.
func detach(entry *logdata.LogData) *logdata.LogData {
	if entry == nil {
		return nil
	}
	clone := *entry
	if entry.Payload != nil {
		clone.Payload = logdata.NewRefBuf(entry.Payload.Bytes())
	}
	return &clone
}

// Append implements Log.
func (l *MemoryLog) Append(address uint64, entry *logdata.LogData) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[address]; ok {
		return ErrOverwrite
	}
	l.entries[address] = detach(entry)
	return nil
}

// Read implements Log.
func (l *MemoryLog) Read(address uint64) (*logdata.LogData, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[address]
	if !ok {
		return nil, nil
	}
	return detach(entry), nil
}

// Close implements Log. MemoryLog holds no external resources.
func (l *MemoryLog) Close() error {
	return nil
}
