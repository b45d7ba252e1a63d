// Package logaddr defines the addressing and metadata types shared by
// every component of the log unit: the global/per-stream address pair,
// the opaque stream identifier, and the metadata keys a LogData record
// may carry.
package logaddr

import (
	"fmt"

	"github.com/google/uuid"
)

// StreamID is a 128-bit opaque identifier naming a stream's private
// address space. The log unit never interprets its bytes beyond
// equality and hashing.
type StreamID = uuid.UUID

// NilStream is the zero StreamID, used only as the internal sentinel
// for LogAddress.stream below; it is never a valid caller-facing
// stream identifier because uuid.New never returns it.
var NilStream StreamID

// LogAddress is a pair (address, stream). Addresses built by Global
// denote the global log; those built by InStream denote a per-stream
// log. LogAddress is a plain comparable struct, usable directly as a
// map key.
type LogAddress struct {
	Address uint64
	global  bool
	stream  StreamID
}

// Global constructs the LogAddress for position a in the global log.
func Global(a uint64) LogAddress {
	return LogAddress{Address: a, global: true}
}

// InStream constructs the LogAddress for position a in stream s.
func InStream(a uint64, s StreamID) LogAddress {
	return LogAddress{Address: a, stream: s}
}

// IsGlobal reports whether this address names the global log.
func (k LogAddress) IsGlobal() bool {
	return k.global
}

// Stream returns the address's stream and true, or the zero value and
// false if the address is global.
func (k LogAddress) Stream() (StreamID, bool) {
	if k.global {
		return NilStream, false
	}
	return k.stream, true
}

// String renders the address for logging and as a singleflight/cache
// key.
func (k LogAddress) String() string {
	if k.global {
		return fmt.Sprintf("global:%d", k.Address)
	}
	return fmt.Sprintf("%s:%d", k.stream, k.Address)
}

// MetaKey names an entry in a LogData's metadata map. The set is
// intentionally open (MetaKey is just a string) since the log unit
// never interprets metadata values; these constants are the keys the
// surrounding Corfu protocol is known to set.
type MetaKey string

const (
	// MetaCommit marks an entry as committed by the client protocol.
	// It is the only metadata value this module itself ever mutates
	// post-write (see the COMMIT handler).
	MetaCommit MetaKey = "COMMIT"
	// MetaRank carries the Paxos-style rank of the write that produced
	// this entry, used by the layout/epoch collaborator.
	MetaRank MetaKey = "RANK"
	// MetaGlobalAddress records the global-log address a per-stream
	// entry also occupies, when the write placed it in both spaces.
	MetaGlobalAddress MetaKey = "GLOBAL_ADDRESS"
	// MetaStreamAddresses records the full set of per-stream addresses
	// a REPLEX write placed an entry at.
	MetaStreamAddresses MetaKey = "STREAM_ADDRESSES"
)
