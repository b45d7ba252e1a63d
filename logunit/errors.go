package logunit

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chn0318/logunit/logaddr"
)

// Sentinel errors matching spec.md §7's taxonomy. WrongEpoch is
// handled upstream of this module (layout/epoch agreement is out of
// scope) and so has no sentinel here.
var (
	// ErrOverwrite is returned when a write targets an address that
	// already holds a durable entry.
	ErrOverwrite = errors.New("logunit: address already written")
	// ErrReplexOverwrite is the sentinel a REPLEX write's ReplexError.Err
	// chain reaches when the collision was against an existing
	// per-stream entry, distinguishing it from a plain global-log
	// ErrOverwrite; see ReplexError and WriteReplex.
	ErrReplexOverwrite = errors.New("logunit: replex write overwrote an existing stream entry")
	// ErrNoEntry is returned by Commit when the address it names has
	// never been written.
	ErrNoEntry = errors.New("logunit: no entry at address")
	// ErrCorruption is returned when a read or recovery detects a
	// checksum mismatch or malformed record.
	ErrCorruption = errors.New("logunit: data corruption detected")
)

// Code maps a logunit sentinel error to the gRPC status code an
// eventual router would forward, per spec.md §7 / SPEC_FULL.md §6.
// This module never serves RPC itself — wire framing/dispatch is out
// of scope — but callers embedding it get a ready-made, ecosystem
// standard status without this module inventing its own enum.
func Code(err error) codes.Code {
	switch {
	case errors.Is(err, ErrOverwrite), errors.Is(err, ErrReplexOverwrite):
		return codes.AlreadyExists
	case errors.Is(err, ErrNoEntry):
		return codes.NotFound
	case errors.Is(err, ErrCorruption):
		return codes.DataLoss
	case err == nil:
		return codes.OK
	default:
		return codes.Unknown
	}
}

// Status converts err into a *status.Status carrying Code(err) and
// err's message, ready for a router to forward verbatim without
// needing to know this module's sentinel errors.
func Status(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	return status.New(Code(err), err.Error())
}

// ReplexError is returned by WriteReplex when one of a multi-stream
// write's per-stream writes fails partway through. Previously
// successful per-stream writes in the same request remain durable
// (spec.md §7's fail-fast-with-best-effort semantics); Committed lists
// the streams that had already landed before FailedStream's write
// failed, so a caller can log or reconcile the partial-commit
// condition.
type ReplexError struct {
	FailedStream logaddr.StreamID
	Committed    []logaddr.StreamID
	Err          error
}

func (e *ReplexError) Error() string {
	return fmt.Sprintf("logunit: replex write failed at stream %s: %v", e.FailedStream, e.Err)
}

func (e *ReplexError) Unwrap() error { return e.Err }
