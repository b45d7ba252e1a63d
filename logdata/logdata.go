// Package logdata defines LogData, the unit of storage the log unit
// reads, writes, and caches, and the reference-counted payload buffer
// it carries.
package logdata

import "github.com/chn0318/logunit/logaddr"

// DataType classifies what is stored at an address.
type DataType int

const (
	// Empty denotes "never written". Never stored durably; it is what
	// the cache loader returns on a clean miss.
	Empty DataType = iota
	// Data denotes an ordinary write.
	Data
	// Hole denotes an address definitively filled as a hole by
	// FILL_HOLE.
	Hole
	// Trimmed denotes an entry that was present but has since been
	// trimmed. The log unit's GC only evicts cache entries, so
	// nothing currently produces this type, but it is part
	// of the data model so a future compaction pass has somewhere to
	// record the fact.
	Trimmed
)

func (t DataType) String() string {
	switch t {
	case Empty:
		return "EMPTY"
	case Data:
		return "DATA"
	case Hole:
		return "HOLE"
	case Trimmed:
		return "TRIMMED"
	default:
		return "UNKNOWN"
	}
}

// LogData is a single entry of the shared log.
type LogData struct {
	Type DataType

	// Payload is absent (nil) for HOLE, EMPTY and TRIMMED entries.
	Payload *RefBuf

	// Streams is the set of streams this entry belongs to. An empty
	// set denotes a global-only entry.
	Streams map[logaddr.StreamID]struct{}

	// Backpointers maps a stream to that stream's previous address,
	// for readers doing backward traversal.
	Backpointers map[logaddr.StreamID]uint64

	// Metadata holds protocol-level annotations such as the commit
	// bit; the log unit itself only ever mutates MetaCommit, on the
	// COMMIT path.
	Metadata map[logaddr.MetaKey]interface{}
}

// NewEmpty returns the canonical EMPTY entry.
func NewEmpty() *LogData {
	return &LogData{Type: Empty}
}

// NewHole returns the canonical HOLE entry.
func NewHole() *LogData {
	return &LogData{Type: Hole}
}

// NewData wraps payload (which this call takes ownership of — exactly
// one reference) in a DATA entry belonging to the given streams.
func NewData(payload []byte, streams map[logaddr.StreamID]struct{}, backpointers map[logaddr.StreamID]uint64) *LogData {
	return &LogData{
		Type:         Data,
		Payload:      NewRefBuf(payload),
		Streams:      streams,
		Backpointers: backpointers,
		Metadata:     make(map[logaddr.MetaKey]interface{}),
	}
}

// Weight is the entry's cache weight: the payload length, or 1 if the
// entry carries no payload at all.
func (d *LogData) Weight() int64 {
	if d == nil || d.Payload == nil {
		return 1
	}
	return int64(d.Payload.Len())
}

// Release drops the entry's reference to its payload buffer, if any.
// Safe to call on entries without a payload.
func (d *LogData) Release() {
	if d == nil || d.Payload == nil {
		return
	}
	d.Payload.Release()
}

// Retain takes out an additional reference on the entry's payload
// buffer and returns the receiver, mirroring RefBuf.Retain.
func (d *LogData) Retain() *LogData {
	if d != nil && d.Payload != nil {
		d.Payload.Retain()
	}
	return d
}
