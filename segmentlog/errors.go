package segmentlog

import "errors"

var (
	// ErrOverwrite is returned by Append when the target address
	// already holds a durable record (I5).
	ErrOverwrite = errors.New("segmentlog: address already written")

	// ErrCorruption is returned when a record's header fails basic
	// sanity checks or its checksum does not match. Wrapped with
	// errors.Is-compatible context by the call site that detects it.
	ErrCorruption = errors.New("segmentlog: corrupt segment record")
)
