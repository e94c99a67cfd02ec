package ccvfs

import "hash/crc32"

// ───────────────────────────────────────────────────────────────────────────
// Integrity primitives
// ───────────────────────────────────────────────────────────────────────────
//
// Standard CRC32, polynomial 0xEDB88320 (the IEEE polynomial), init
// 0xFFFFFFFF, final XOR 0xFFFFFFFF. Go's hash/crc32 with crc32.IEEETable
// implements exactly this, so header and page checksums are bit-exact with
// any other standard CRC32 implementation.

// crcTable is the IEEE CRC32 table used for every checksum in the container:
// header, index-adjacent extent headers, and plaintext page checksums.
var crcTable = crc32.IEEETable

// Checksum returns the standard CRC32 of b.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}
