//go:build unix

package segmentlog

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes file's data (and the minimum metadata needed to
// retrieve it) to stable storage, matching spec.md §4.A's "fsync (or
// fdatasync)". Using fdatasync over Sync avoids forcing an mtime
// metadata update on every record append.
func fdatasync(file *os.File) error {
	return unix.Fdatasync(int(file.Fd()))
}
