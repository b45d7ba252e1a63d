package logunit

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chn0318/logunit/logaddr"
	"github.com/chn0318/logunit/logdata"
)

// Write services a global-log write (spec.md §4.F WRITE, non-REPLEX
// branch). payload becomes the entry's Payload; streams and
// backpointers are carried through unchanged. Grounded on
// LogUnitServer.write's WriteMode != REPLEX_STREAM branch.
func (u *Unit) Write(globalAddress uint64, payload []byte, streams map[logaddr.StreamID]struct{}, backpointers map[logaddr.StreamID]uint64) error {
	entry := logdata.NewData(payload, streams, backpointers)
	u.log.Debug("log write",
		zap.Uint64("global_address", globalAddress),
		zap.Int("streams", len(streams)))
	// Clear any stale commit bit before the write lands, matching
	// msg.getPayload().clearCommit() in the source.
	delete(entry.Metadata, logaddr.MetaCommit)
	return u.cache.Put(logaddr.Global(globalAddress), entry)
}

// WriteReplex services a REPLEX-mode write: the same LogData is
// written at a distinct per-stream address in every target stream.
// streamAddresses maps each target stream to the address it should
// occupy. Grounded on LogUnitServer.write's WriteMode == REPLEX_STREAM
// branch: on a per-stream overwrite, previously-successful writes in
// this call remain durable (fail-fast-with-best-effort per spec.md
// §7) and the error reports which stream failed and which had already
// committed.
func (u *Unit) WriteReplex(streamAddresses map[logaddr.StreamID]uint64, payload []byte, backpointers map[logaddr.StreamID]uint64) error {
	streams := make(map[logaddr.StreamID]struct{}, len(streamAddresses))
	for s := range streamAddresses {
		streams[s] = struct{}{}
	}

	var committed []logaddr.StreamID
	for stream, addr := range streamAddresses {
		entry := logdata.NewData(payload, streams, backpointers)
		delete(entry.Metadata, logaddr.MetaCommit)
		if err := u.cache.Put(logaddr.InStream(addr, stream), entry); err != nil {
			// A collision against an existing per-stream entry is
			// reported as ErrReplexOverwrite, distinct from a
			// global-log ErrOverwrite, so a caller can tell a REPLEX
			// partial failure apart from an ordinary one (spec.md §7).
			if errors.Is(err, ErrOverwrite) {
				err = fmt.Errorf("%w: %v", ErrReplexOverwrite, err)
			}
			return &ReplexError{FailedStream: stream, Committed: committed, Err: err}
		}
		committed = append(committed, stream)
	}
	return nil
}

// Read services a READ_REQUEST over [low, high] in stream (streamSet
// == false selects the global log), per spec.md §4.F. Missing
// addresses come back as EMPTY, the canonical nil *logdata.LogData
// distinguished from a HOLE sentinel. Grounded on
// LogUnitServer.read's per-address range loop.
func (u *Unit) Read(low, high uint64, stream logaddr.StreamID, streamSet bool) (map[uint64]*logdata.LogData, error) {
	out := make(map[uint64]*logdata.LogData, high-low+1)
	for a := low; a <= high; a++ {
		var addr logaddr.LogAddress
		if streamSet {
			addr = logaddr.InStream(a, stream)
		} else {
			addr = logaddr.Global(a)
		}
		entry, err := u.cache.Get(addr)
		if err != nil {
			return nil, err
		}
		out[a] = entry
	}
	return out, nil
}

// Commit sets the commit metadata bit on an already-written entry,
// per spec.md §4.F COMMIT. Grounded on LogUnitServer.commit: returns
// ErrNoEntry if the address was never written, matching the source's
// NOENTRY_ERROR.
func (u *Unit) Commit(addr logaddr.LogAddress, commit bool) error {
	entry, err := u.cache.Get(addr)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNoEntry
	}
	entry.Metadata[logaddr.MetaCommit] = commit
	return nil
}

// FillHole writes the canonical HOLE sentinel at addr, per spec.md
// §4.F FILL_HOLE. Grounded on LogUnitServer.fillHole; returns
// ErrOverwrite if addr already holds a durable entry.
func (u *Unit) FillHole(addr logaddr.LogAddress) error {
	u.log.Debug("fill hole", zap.String("address", addr.String()))
	return u.cache.Put(addr, logdata.NewHole())
}

// Trim raises stream's trim mark to at least prefix, per spec.md §4.F
// TRIM. Grounded on LogUnitServer.trim's trimMap.compute.
func (u *Unit) Trim(stream logaddr.StreamID, prefix uint64) {
	u.trim.PutMax(stream, prefix)
}

// ForceGC wakes the GC loop immediately, per spec.md §4.F FORCE_GC.
// Grounded on LogUnitServer.forceGc's gcThread.interrupt().
func (u *Unit) ForceGC() {
	u.gc.ForceGC()
}

// SetGCInterval changes the GC loop's sweep interval, per spec.md §4.F
// GC_INTERVAL. Grounded on LogUnitServer.setGcInterval's
// gcRetry.setRetryInterval.
func (u *Unit) SetGCInterval(interval time.Duration) {
	u.gc.SetInterval(interval)
}
