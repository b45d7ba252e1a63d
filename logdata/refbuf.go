package logdata

import "sync/atomic"

// RefBuf is an explicit reference-counted byte buffer standing in for
// the transport framing layer's pooled buffers in the original system.
// A cache holds one reference per resident entry; eviction releases it.
// Nothing here relies on finalization — release must be called exactly
// once per retain.
type RefBuf struct {
	refcount atomic.Int32
	data     []byte
}

// NewRefBuf wraps data in a RefBuf with an initial reference count of
// one, owned by the caller.
func NewRefBuf(data []byte) *RefBuf {
	b := &RefBuf{data: data}
	b.refcount.Store(1)
	return b
}

// Retain increments the reference count and returns the receiver, so
// call sites can write `cached := buf.Retain()`.
func (b *RefBuf) Retain() *RefBuf {
	if b == nil {
		return nil
	}
	b.refcount.Add(1)
	return b
}

// Release decrements the reference count. Once it reaches zero the
// backing slice is dropped so it can be garbage collected; Bytes
// afterwards returns nil. Calling Release more times than Retain (plus
// the initial reference) is a programming error and panics, since it
// indicates a double-free of the same buffer (violates I6).
func (b *RefBuf) Release() {
	if b == nil {
		return
	}
	n := b.refcount.Add(-1)
	if n < 0 {
		panic("logdata: RefBuf released more times than retained")
	}
	if n == 0 {
		b.data = nil
	}
}

// Bytes returns the backing slice. The caller must hold a live
// reference; calling Bytes after the last Release returns nil.
func (b *RefBuf) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the length of the backing slice, or 0 if the buffer is
// nil or has been fully released.
func (b *RefBuf) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// RefCount returns the current reference count, for tests.
func (b *RefBuf) RefCount() int32 {
	if b == nil {
		return 0
	}
	return b.refcount.Load()
}
