package ccvfs

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Container header
// ───────────────────────────────────────────────────────────────────────────
//
// Bit-exact 128-byte, little-endian layout (offsets relative to file start):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────────────
//  0       8     Magic              "CCVFSDB\0"
//  8       1     VersionMajor
//  9       1     VersionMinor
//  10      2     HeaderSize         (always 128)
//  12      4     OrigPageSize       uint32 LE
//  16      4     HostEngineVersion  uint32 LE (opaque tag, host-defined)
//  20      8     TotalPages         uint64 LE
//  28      12    CompressionName    zero-padded ASCII, <=12 bytes
//  40      12    EncryptionName     zero-padded ASCII, <=12 bytes
//  52      4     PageSize           uint32 LE
//  56      8     IndexOffset        uint64 LE (always headerSize)
//  64      8     OriginalSize       uint64 LE (logical bytes in use)
//  72      8     PhysicalSize       uint64 LE (bytes used in the data region)
//  80      4     CompressionRatio   uint32 LE (percentage, 0-100+)
//  84      4     CreationFlags      uint32 LE
//  88      4     HeaderCRC          uint32 LE, CRC32 of [0:124) with this
//                                   field itself zeroed during computation
//  92      4     MasterKeyHash      uint32 LE, CRC32 of the configured key
//                                   (0 = no key configured)
//  96      8     CreatedAt          uint64 LE, Unix seconds
//  104     24    Reserved           zero-filled
//
// Invariant: header_checksum == crc32(header[0..124) with bytes [88:92)
// zeroed) after any header save.

const (
	headerMagic       = "CCVFSDB\x00"
	headerSize        = 128
	headerCRCCoverage = 124 // bytes [0:124) are covered by HeaderCRC
	versionMajor      = 1
	versionMinor      = 0

	hdrOffMagic         = 0
	hdrOffVersionMajor  = 8
	hdrOffVersionMinor  = 9
	hdrOffHeaderSize    = 10
	hdrOffOrigPageSize  = 12
	hdrOffEngineVersion = 16
	hdrOffTotalPages    = 20
	hdrOffCompression   = 28
	hdrOffEncryption    = 40
	hdrOffPageSize      = 52
	hdrOffIndexOffset   = 56
	hdrOffOriginalSize  = 64
	hdrOffPhysicalSize  = 72
	hdrOffRatio         = 80
	hdrOffCreationFlags = 84
	hdrOffHeaderCRC     = 88
	hdrOffMasterKeyHash = 92
	hdrOffCreatedAt     = 96
	hdrOffReserved      = 104
	hdrReservedLen      = headerSize - hdrOffReserved
)

// CreationFlag hints at the file's intended access pattern, affecting the
// default write-buffer policy.
type CreationFlag uint32

const (
	// CreationRealtime favors low write latency: a small auto-flush
	// threshold (8 pages) when none is configured.
	CreationRealtime CreationFlag = 1 << iota
	// CreationOffline favors maximum compression/ratio over latency:
	// buffering disabled, write-through.
	CreationOffline
	// CreationHybrid balances the two: a larger default auto-flush
	// threshold than Realtime when none is configured.
	CreationHybrid
)

// Header is the parsed, in-memory form of the container's fixed 128-byte
// header.
type Header struct {
	VersionMajor      uint8
	VersionMinor      uint8
	OrigPageSize      uint32
	HostEngineVersion uint32
	TotalPages        uint64
	Compression       string
	Encryption        string
	PageSize          uint32
	IndexOffset       uint64
	OriginalSize      uint64
	PhysicalSize      uint64
	CompressionRatio  uint32
	CreationFlags     CreationFlag
	MasterKeyHash     uint32
	CreatedAt         int64
}

func putFixedString(buf []byte, s string) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, s)
}

func getFixedString(buf []byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// marshal serializes h into a fresh 128-byte buffer, computing the header
// CRC over the first headerCRCCoverage bytes with the CRC field itself
// zeroed during the computation.
func (h *Header) marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[hdrOffMagic:], headerMagic)
	buf[hdrOffVersionMajor] = h.VersionMajor
	buf[hdrOffVersionMinor] = h.VersionMinor
	binary.LittleEndian.PutUint16(buf[hdrOffHeaderSize:], headerSize)
	binary.LittleEndian.PutUint32(buf[hdrOffOrigPageSize:], h.OrigPageSize)
	binary.LittleEndian.PutUint32(buf[hdrOffEngineVersion:], h.HostEngineVersion)
	binary.LittleEndian.PutUint64(buf[hdrOffTotalPages:], h.TotalPages)
	putFixedString(buf[hdrOffCompression:hdrOffCompression+maxAlgoNameLen], h.Compression)
	putFixedString(buf[hdrOffEncryption:hdrOffEncryption+maxAlgoNameLen], h.Encryption)
	binary.LittleEndian.PutUint32(buf[hdrOffPageSize:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[hdrOffIndexOffset:], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[hdrOffOriginalSize:], h.OriginalSize)
	binary.LittleEndian.PutUint64(buf[hdrOffPhysicalSize:], h.PhysicalSize)
	binary.LittleEndian.PutUint32(buf[hdrOffRatio:], h.CompressionRatio)
	binary.LittleEndian.PutUint32(buf[hdrOffCreationFlags:], uint32(h.CreationFlags))
	// hdrOffHeaderCRC left zeroed until after the checksum is computed.
	binary.LittleEndian.PutUint32(buf[hdrOffMasterKeyHash:], h.MasterKeyHash)
	binary.LittleEndian.PutUint64(buf[hdrOffCreatedAt:], uint64(h.CreatedAt))
	// buf[hdrOffReserved:] is already zero.

	crc := Checksum(buf[:headerCRCCoverage])
	binary.LittleEndian.PutUint32(buf[hdrOffHeaderCRC:], crc)
	return buf
}

// unmarshalHeader parses a 128-byte buffer into a Header. strict controls
// whether a checksum mismatch is a hard error (ErrCorruptHeader) or merely
// tolerated.
func unmarshalHeader(buf []byte, strict bool) (*Header, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("header: short read (%d bytes): %w", len(buf), ErrNotCcvfs)
	}
	magic := string(buf[hdrOffMagic : hdrOffMagic+8])
	if magic != headerMagic {
		return nil, ErrNotCcvfs
	}

	storedCRC := binary.LittleEndian.Uint32(buf[hdrOffHeaderCRC:])
	check := make([]byte, headerCRCCoverage)
	copy(check, buf[:headerCRCCoverage])
	binary.LittleEndian.PutUint32(check[hdrOffHeaderCRC:], 0)
	computedCRC := Checksum(check)
	if storedCRC != computedCRC {
		if strict {
			return nil, fmt.Errorf("header: crc mismatch stored=%08x computed=%08x: %w", storedCRC, computedCRC, ErrCorruptHeader)
		}
		// lenient mode: fall through and trust the fields as parsed.
	}

	h := &Header{
		VersionMajor:      buf[hdrOffVersionMajor],
		VersionMinor:      buf[hdrOffVersionMinor],
		OrigPageSize:      binary.LittleEndian.Uint32(buf[hdrOffOrigPageSize:]),
		HostEngineVersion: binary.LittleEndian.Uint32(buf[hdrOffEngineVersion:]),
		TotalPages:        binary.LittleEndian.Uint64(buf[hdrOffTotalPages:]),
		Compression:       getFixedString(buf[hdrOffCompression : hdrOffCompression+maxAlgoNameLen]),
		Encryption:        getFixedString(buf[hdrOffEncryption : hdrOffEncryption+maxAlgoNameLen]),
		PageSize:          binary.LittleEndian.Uint32(buf[hdrOffPageSize:]),
		IndexOffset:       binary.LittleEndian.Uint64(buf[hdrOffIndexOffset:]),
		OriginalSize:      binary.LittleEndian.Uint64(buf[hdrOffOriginalSize:]),
		PhysicalSize:      binary.LittleEndian.Uint64(buf[hdrOffPhysicalSize:]),
		CompressionRatio:  binary.LittleEndian.Uint32(buf[hdrOffRatio:]),
		CreationFlags:     CreationFlag(binary.LittleEndian.Uint32(buf[hdrOffCreationFlags:])),
		MasterKeyHash:     binary.LittleEndian.Uint32(buf[hdrOffMasterKeyHash:]),
		CreatedAt:         int64(binary.LittleEndian.Uint64(buf[hdrOffCreatedAt:])),
	}

	if h.VersionMajor != versionMajor {
		return nil, fmt.Errorf("header: version %d.%d unsupported by this build (%d.x): %w",
			h.VersionMajor, h.VersionMinor, versionMajor, ErrVersionMismatch)
	}
	return h, nil
}

// headerChecksum recomputes the checksum that marshal would embed, useful
// for tests that assert header_checksum == crc32(header[0:124)).
func headerChecksum(buf []byte) uint32 {
	check := make([]byte, headerCRCCoverage)
	copy(check, buf[:headerCRCCoverage])
	binary.LittleEndian.PutUint32(check[hdrOffHeaderCRC:], 0)
	return Checksum(check)
}
