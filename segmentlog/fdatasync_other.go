//go:build !unix

package segmentlog

import "os"

// fdatasync falls back to a full file Sync on platforms without a
// dedicated fdatasync syscall.
func fdatasync(file *os.File) error {
	return file.Sync()
}
