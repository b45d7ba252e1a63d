package logunit

import (
	"time"

	"github.com/chn0318/logunit/logaddr"
)

// WriteRequest is the non-REPLEX branch of spec.md §4.F WRITE.
type WriteRequest struct {
	GlobalAddress uint64
	Payload       []byte
	Streams       map[logaddr.StreamID]struct{}
	Backpointers  map[logaddr.StreamID]uint64
}

// WriteReplexRequest is the REPLEX branch of spec.md §4.F WRITE.
type WriteReplexRequest struct {
	StreamAddresses map[logaddr.StreamID]uint64
	Payload         []byte
	Backpointers    map[logaddr.StreamID]uint64
}

// ReadRequest is spec.md §4.F READ_REQUEST: an inclusive [Low, High]
// range in either the global log or Stream.
type ReadRequest struct {
	Low, High uint64
	Stream    logaddr.StreamID
	StreamSet bool
}

// CommitRequest is spec.md §4.F COMMIT.
type CommitRequest struct {
	Address logaddr.LogAddress
	Commit  bool
}

// FillHoleRequest is spec.md §4.F FILL_HOLE.
type FillHoleRequest struct {
	Address logaddr.LogAddress
}

// TrimRequest is spec.md §4.F TRIM.
type TrimRequest struct {
	Stream logaddr.StreamID
	Prefix uint64
}

// SetGCIntervalRequest is spec.md §4.F GC_INTERVAL.
type SetGCIntervalRequest struct {
	Interval time.Duration
}
