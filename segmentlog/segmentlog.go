// Package segmentlog implements the log unit's durable (or, in memory
// mode, non-durable) append-only storage: the Segment Log (spec
// component A) and its embedded Address Space Index (component B).
package segmentlog

import "github.com/chn0318/logunit/logdata"

// DefaultSegmentSize is the number of addresses a single segment file
// holds, per spec.md §3.
const DefaultSegmentSize = 10000

// DefaultMaxFileSize is the default extent/mapping window, per
// spec.md §4.A ("512 MiB by default").
const DefaultMaxFileSize = 512 << 20

// QuickcheckMaxFileSize is the reduced extent size used when
// quickcheck-test-mode is set, for filesystems where sparse files are
// expensive (spec.md §4.A, §6).
const QuickcheckMaxFileSize = 4_000_000

// Log is the storage contract a keyspace's segment log exposes to the
// write-through cache: append-once-per-address, positional read, and
// close. One Log exists per keyspace — the global log, or one per
// stream.
type Log interface {
	// Append durably stores entry at address. It returns ErrOverwrite
	// if address already holds a record (I5), or a wrapped
	// ErrCorruption if the segment containing address has been marked
	// read-only following an earlier detected corruption.
	Append(address uint64, entry *logdata.LogData) error

	// Read returns the entry stored at address, or (nil, nil) if
	// address has never been written (a clean miss, not an error).
	Read(address uint64) (*logdata.LogData, error)

	// Close flushes and releases any file handles the log holds.
	Close() error
}

// segmentStart returns the starting address of the segment containing
// address, given segmentSize addresses per segment.
func segmentStart(address, segmentSize uint64) uint64 {
	return (address / segmentSize) * segmentSize
}

var (
	_ Log = (*FileLog)(nil)
	_ Log = (*MemoryLog)(nil)
)
