package ccvfs

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Extent header
// ───────────────────────────────────────────────────────────────────────────
//
// A 32-byte header immediately preceding the (possibly compressed,
// possibly encrypted) payload of one logical page:
//
//  Offset  Size  Field
//  0       4     Magic           "BCCV"
//  4       8     LogicalPage     uint64 LE
//  12      4     OriginalSize    uint32 LE
//  16      4     CompressedSize  uint32 LE
//  20      4     Checksum        uint32 LE (CRC32 of the plaintext page)
//  24      4     Flags           uint32 LE
//  28      4     Sequence        uint32 LE (per-file monotone counter)

const (
	extentMagic      = "BCCV"
	extentHeaderSize = 32

	extOffMagic          = 0
	extOffLogicalPage    = 4
	extOffOriginalSize   = 12
	extOffCompressedSize = 16
	extOffChecksum       = 20
	extOffFlags          = 24
)

// ExtentHeader is the on-disk prefix of every extent. It carries no
// timestamp; the Sequence field (at extOffSequence) is used for
// crash-recovery disambiguation between extents claiming the same page.
type ExtentHeader struct {
	LogicalPage    uint64
	OriginalSize   uint32
	CompressedSize uint32
	Checksum       uint32
	Flags          PageFlag
	Sequence       uint32
}

const extOffSequence = 28

func (h ExtentHeader) marshal() []byte {
	buf := make([]byte, extentHeaderSize)
	copy(buf[extOffMagic:], extentMagic)
	binary.LittleEndian.PutUint64(buf[extOffLogicalPage:], h.LogicalPage)
	binary.LittleEndian.PutUint32(buf[extOffOriginalSize:], h.OriginalSize)
	binary.LittleEndian.PutUint32(buf[extOffCompressedSize:], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[extOffChecksum:], h.Checksum)
	binary.LittleEndian.PutUint32(buf[extOffFlags:], uint32(h.Flags))
	binary.LittleEndian.PutUint32(buf[extOffSequence:], h.Sequence)
	return buf
}

func unmarshalExtentHeader(buf []byte, wantPage uint64) (ExtentHeader, error) {
	if len(buf) < extentHeaderSize {
		return ExtentHeader{}, fmt.Errorf("extent: short header (%d bytes): %w", len(buf), ErrCorruptPage)
	}
	if string(buf[extOffMagic:extOffMagic+4]) != extentMagic {
		return ExtentHeader{}, fmt.Errorf("extent: bad magic: %w", ErrCorruptPage)
	}
	h := ExtentHeader{
		LogicalPage:    binary.LittleEndian.Uint64(buf[extOffLogicalPage:]),
		OriginalSize:   binary.LittleEndian.Uint32(buf[extOffOriginalSize:]),
		CompressedSize: binary.LittleEndian.Uint32(buf[extOffCompressedSize:]),
		Checksum:       binary.LittleEndian.Uint32(buf[extOffChecksum:]),
		Flags:          PageFlag(binary.LittleEndian.Uint32(buf[extOffFlags:])),
		Sequence:       binary.LittleEndian.Uint32(buf[extOffSequence:]),
	}
	if h.LogicalPage != wantPage {
		return ExtentHeader{}, fmt.Errorf("extent: logical page mismatch (want %d, got %d): %w", wantPage, h.LogicalPage, ErrCorruptPage)
	}
	return h, nil
}
