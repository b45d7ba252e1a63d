package segmentlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chn0318/logunit/logdata"
)

// Options configures a FileLog.
type Options struct {
	// SegmentSize is the number of addresses per segment file.
	// Defaults to DefaultSegmentSize.
	SegmentSize uint64
	// MaxFileSize caps how large a single segment file may grow;
	// Append refuses to grow a segment past it. Defaults to
	// DefaultMaxFileSize; callers running in quickcheck-test-mode set
	// it to QuickcheckMaxFileSize.
	MaxFileSize int64
	// NoVerify skips per-record checksum verification on read and
	// recovery, and skips computing one on write.
	NoVerify bool
}

func (o Options) withDefaults() Options {
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	return o
}

// FileLog is a directory-backed SegmentLog: one keyspace (the global
// log, or a single stream) mapped onto a directory of
// <startAddress>.log segment files, per spec.md §3 and §6.
type FileLog struct {
	dir  string
	opts Options

	mu       sync.Mutex
	segments map[uint64]*segment
}

// OpenFileLog opens (creating if necessary) the directory dir as a
// FileLog keyspace. It does not eagerly open any segment files —
// those are opened and recovered lazily, on first Append or Read that
// touches them.
func OpenFileLog(dir string, opts Options) (*FileLog, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segmentlog: creating %s: %w", dir, err)
	}
	return &FileLog{
		dir:      dir,
		opts:     opts,
		segments: make(map[uint64]*segment),
	}, nil
}

func (l *FileLog) segmentPath(start uint64) string {
	// Zero-padded decimal so a directory listing sorts in address
	// order; spec.md §6 leaves the exact encoding open (see
	// DESIGN.md).
	return filepath.Join(l.dir, fmt.Sprintf("%020d.log", start))
}

func (l *FileLog) getOrOpenSegment(address uint64) (*segment, error) {
	start := segmentStart(address, l.opts.SegmentSize)

	// l.mu is held across openSegment: recover() truncates the file to
	// its recovered tail, so a second concurrent open of the same
	// segment could cut off a record the first handle is appending.
	l.mu.Lock()
	defer l.mu.Unlock()
	if seg, ok := l.segments[start]; ok {
		return seg, nil
	}

	seg, err := openSegment(l.segmentPath(start), l.opts)
	if err != nil {
		return nil, err
	}
	l.segments[start] = seg
	return seg, nil
}

// Append implements Log.
func (l *FileLog) Append(address uint64, entry *logdata.LogData) error {
	seg, err := l.getOrOpenSegment(address)
	if err != nil {
		return err
	}
	return seg.append(address, entry, l.opts)
}

// Read implements Log.
func (l *FileLog) Read(address uint64) (*logdata.LogData, error) {
	seg, err := l.getOrOpenSegment(address)
	if err != nil {
		return nil, err
	}
	return seg.read(address)
}

// Close implements Log.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, seg := range l.segments {
		if err := seg.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// segment is one open segment file: its writer lock, tail offset, and
// address index (spec components A and B, bundled together since the
// index is only ever touched under the segment's own lock).
type segment struct {
	path     string
	file     *os.File
	noVerify bool

	mu      sync.Mutex
	tail    int64
	index   map[uint64]int64 // address -> header offset
	corrupt bool
}

func openSegment(path string, opts Options) (*segment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segmentlog: opening %s: %w", path, err)
	}
	seg := &segment{path: path, file: f, index: make(map[uint64]int64), noVerify: opts.NoVerify}
	if err := seg.recover(opts.NoVerify); err != nil {
		f.Close()
		return nil, err
	}
	return seg, nil
}

// recover scans the segment file from offset 0, populating the
// address index and locating the write tail (spec.md §4.A "Segment
// open/recovery"). A record whose WRITTEN flag is clear marks the end
// of the scan: everything from there on is either a torn write or
// unused tail space, and in both cases the next Append should start
// exactly there (P5).
func (s *segment) recover(noVerify bool) error {
	var offset int64
	header := make([]byte, headerSize)
	for {
		n, err := s.file.ReadAt(header, offset)
		if n < headerSize {
			if err != nil && err != io.EOF {
				return fmt.Errorf("segmentlog: reading header at %d in %s: %w", offset, s.path, err)
			}
			break
		}

		h, herr := decodeHeader(header)
		if herr != nil {
			return fmt.Errorf("segmentlog: %w: %s at offset %d in %s", ErrCorruption, herr, offset, s.path)
		}
		if h.metaSize > h.size {
			return fmt.Errorf("segmentlog: %w: meta size %d exceeds entry size %d at offset %d in %s",
				ErrCorruption, h.metaSize, h.size, offset, s.path)
		}
		if !h.written() {
			break
		}

		body := make([]byte, h.size)
		if n, err := s.file.ReadAt(body, offset+headerSize); n < len(body) {
			if err != nil {
				return fmt.Errorf("segmentlog: %w: truncated entry body for address %d at offset %d in %s: %v",
					ErrCorruption, h.addr, offset, s.path, err)
			}
		}
		if !noVerify && h.checksummed() {
			if got := checksum(body); got != h.crc32 {
				return fmt.Errorf("segmentlog: %w: checksum mismatch for address %d at offset %d in %s (want %d, got %d)",
					ErrCorruption, h.addr, offset, s.path, h.crc32, got)
			}
		}

		s.index[h.addr] = offset
		offset += int64(headerSize) + int64(h.size)
	}
	s.tail = offset
	// Anything past the tail is either a torn write or unused
	// preallocated space; truncating here means the next Append starts
	// from a clean slate instead of leaving stale bytes a later
	// recover() could misread as a header.
	if err := s.file.Truncate(s.tail); err != nil {
		return fmt.Errorf("segmentlog: truncating %s to tail %d: %w", s.path, s.tail, err)
	}
	return nil
}

func (s *segment) append(address uint64, entry *logdata.LogData, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt {
		return fmt.Errorf("segmentlog: %w: %s is read-only after a corruption", ErrCorruption, s.path)
	}
	if _, ok := s.index[address]; ok {
		return ErrOverwrite
	}

	meta, err := encodeMeta(entry)
	if err != nil {
		return err
	}
	payload := entry.Payload.Bytes()
	body := make([]byte, len(meta)+len(payload))
	copy(body, meta)
	copy(body[len(meta):], payload)

	if s.tail+headerSize+int64(len(body)) > opts.MaxFileSize {
		return fmt.Errorf("segmentlog: segment %s would exceed max file size %d", s.path, opts.MaxFileSize)
	}

	h := recordHeader{
		addr:     address,
		size:     uint32(len(body)),
		metaSize: uint32(len(meta)),
	}
	if !opts.NoVerify {
		h.flags |= flagChecksummed
		h.crc32 = checksum(body)
	}

	offset := s.tail

	// Write the header (WRITTEN still clear) and the body, fsync, then
	// rewrite only the flags word with WRITTEN set and fsync again.
	// Anything that fails between here and the second fsync leaves the
	// record discoverable as torn on the next recover() (spec.md
	// §4.A, P5) — the caller sees this error and the address remains
	// writable.
	if _, err := s.file.WriteAt(encodeHeader(h), offset); err != nil {
		return fmt.Errorf("segmentlog: writing header for address %d: %w", address, err)
	}
	if _, err := s.file.WriteAt(body, offset+headerSize); err != nil {
		return fmt.Errorf("segmentlog: writing entry body for address %d: %w", address, err)
	}
	if err := fdatasync(s.file); err != nil {
		return fmt.Errorf("segmentlog: fdatasync after writing address %d: %w", address, err)
	}

	h.flags |= flagWritten
	flagsBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(flagsBuf, h.flags)
	if _, err := s.file.WriteAt(flagsBuf, offset+2); err != nil {
		return fmt.Errorf("segmentlog: setting written flag for address %d: %w", address, err)
	}
	if err := fdatasync(s.file); err != nil {
		return fmt.Errorf("segmentlog: fdatasync after setting written flag for address %d: %w", address, err)
	}

	s.index[address] = offset
	s.tail = offset + headerSize + int64(len(body))
	return nil
}

func (s *segment) read(address uint64) (*logdata.LogData, error) {
	s.mu.Lock()
	offset, ok := s.index[address]
	corrupt := s.corrupt
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if corrupt {
		return nil, fmt.Errorf("segmentlog: %w: %s is read-only after a corruption", ErrCorruption, s.path)
	}

	header := make([]byte, headerSize)
	if _, err := s.file.ReadAt(header, offset); err != nil {
		return nil, fmt.Errorf("segmentlog: reading header at %d in %s: %w", offset, s.path, err)
	}
	h, err := decodeHeader(header)
	if err != nil {
		return nil, fmt.Errorf("segmentlog: %w: %s at offset %d in %s", ErrCorruption, err, offset, s.path)
	}

	body := make([]byte, h.size)
	if _, err := s.file.ReadAt(body, offset+headerSize); err != nil {
		return nil, fmt.Errorf("segmentlog: reading entry body at %d in %s: %w", offset+headerSize, s.path, err)
	}

	// Recovery only verifies a segment's checksums at open time; a read
	// re-verifies so a bit-flip on a resident segment file between
	// opens is still caught, per spec.md §4.A's "verification happens
	// on read" rather than only on recovery.
	if !s.noVerify && h.checksummed() {
		if got := checksum(body); got != h.crc32 {
			s.mu.Lock()
			s.corrupt = true
			s.mu.Unlock()
			return nil, fmt.Errorf("segmentlog: %w: checksum mismatch for address %d at offset %d in %s (want %d, got %d)",
				ErrCorruption, address, offset, s.path, h.crc32, got)
		}
	}

	meta := body[:h.metaSize]
	payload := body[h.metaSize:]
	entry, err := decodeMeta(meta)
	if err != nil {
		return nil, err
	}
	if entry.Type == logdata.Data {
		entry.Payload = logdata.NewRefBuf(payload)
	}
	return entry, nil
}

func (s *segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
