package segmentlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Record layout (spec.md §3 "Segment File", little-endian throughout):
//
//	HEADER := 'L' 'E' FLAGS(u16) ADDR(u64) SIZE(u32) META_SIZE(u32) CRC32(u32)
//	ENTRY  := META(META_SIZE bytes) PAYLOAD(SIZE-META_SIZE bytes)
//
// The CRC32 word is this module's concrete placement of the "reserved
// bytes" spec.md's ABNF leaves unspecified for the recommended
// checksum (see DESIGN.md). It covers META||PAYLOAD, i.e. the whole
// entry body, not the header itself — the header's own WRITTEN flag is
// what recovery uses to decide whether a record is trustworthy at all.
const (
	magic0 byte = 'L'
	magic1 byte = 'E'

	headerSize = 24

	flagWritten     uint16 = 1 << 0
	flagChecksummed uint16 = 1 << 1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

type recordHeader struct {
	flags    uint16
	addr     uint64
	size     uint32
	metaSize uint32
	crc32    uint32
}

func (h recordHeader) written() bool     { return h.flags&flagWritten != 0 }
func (h recordHeader) checksummed() bool { return h.flags&flagChecksummed != 0 }

func encodeHeader(h recordHeader) []byte {
	buf := make([]byte, headerSize)
	buf[0], buf[1] = magic0, magic1
	binary.LittleEndian.PutUint16(buf[2:4], h.flags)
	binary.LittleEndian.PutUint64(buf[4:12], h.addr)
	binary.LittleEndian.PutUint32(buf[12:16], h.size)
	binary.LittleEndian.PutUint32(buf[16:20], h.metaSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.crc32)
	return buf
}

// decodeHeader parses a full-length header buffer. A short buffer or a
// magic mismatch is returned as an error; recover() and segment.read
// report either as ErrCorruption.
func decodeHeader(buf []byte) (recordHeader, error) {
	if len(buf) < headerSize {
		return recordHeader{}, fmt.Errorf("short header: %d bytes", len(buf))
	}
	if buf[0] != magic0 || buf[1] != magic1 {
		return recordHeader{}, fmt.Errorf("bad magic %q%q", buf[0], buf[1])
	}
	return recordHeader{
		flags:    binary.LittleEndian.Uint16(buf[2:4]),
		addr:     binary.LittleEndian.Uint64(buf[4:12]),
		size:     binary.LittleEndian.Uint32(buf[12:16]),
		metaSize: binary.LittleEndian.Uint32(buf[16:20]),
		crc32:    binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}
