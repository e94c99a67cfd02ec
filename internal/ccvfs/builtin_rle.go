package ccvfs

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Built-in "rle" compressor
// ───────────────────────────────────────────────────────────────────────────
//
// A run-length encoder with a marker-escape scheme: the byte 0xFF introduces
// a run packet (marker, value, count as uint32 LE); any literal 0xFF byte
// that does not form part of a long run is escaped the same way with
// count=1, so the decoder never has to guess whether a 0xFF byte it sees is
// data or a marker. Runs of fewer than rleMinRun identical non-marker bytes
// are left as literals, since encoding them would cost more than it saves.
//
// A page of N identical bytes always collapses to a single 6-byte packet
// (marker + value + 4-byte count) regardless of N.

const (
	rleMarker = 0xFF
	rleMinRun = 4 // minimum run length worth encoding for non-marker bytes
)

type rleCompressor struct{}

func newRLECompressor() Compressor { return rleCompressor{} }

func (rleCompressor) MaxCompressedSize(srcLen int) int {
	// Worst case: every byte is a lone literal 0xFF, each expands to 6 bytes.
	return srcLen*6 + 1
}

func (rleCompressor) Compress(dst, src []byte, level int) (int, error) {
	_ = level // RLE has no level knob; accepted for interface uniformity.
	need := rleCompressor{}.MaxCompressedSize(len(src))
	if len(dst) < need {
		return 0, fmt.Errorf("rle compress: dst too small: %w", ErrMisuse)
	}
	n := 0
	i := 0
	for i < len(src) {
		b := src[i]
		run := 1
		for i+run < len(src) && src[i+run] == b {
			run++
		}
		if b == rleMarker || run >= rleMinRun {
			dst[n] = rleMarker
			dst[n+1] = b
			binary.LittleEndian.PutUint32(dst[n+2:n+6], uint32(run))
			n += 6
			i += run
			continue
		}
		dst[n] = b
		n++
		i++
	}
	return n, nil
}

func (rleCompressor) Decompress(dst, src []byte) (int, error) {
	n := 0
	i := 0
	for i < len(src) {
		b := src[i]
		if b != rleMarker {
			if n >= len(dst) {
				return 0, fmt.Errorf("rle decompress: dst too small: %w", ErrMisuse)
			}
			dst[n] = b
			n++
			i++
			continue
		}
		if i+6 > len(src) {
			return 0, fmt.Errorf("rle decompress: truncated run: %w", ErrCorruptPage)
		}
		value := src[i+1]
		count := int(binary.LittleEndian.Uint32(src[i+2 : i+6]))
		if n+count > len(dst) {
			return 0, fmt.Errorf("rle decompress: dst too small: %w", ErrMisuse)
		}
		for k := 0; k < count; k++ {
			dst[n+k] = value
		}
		n += count
		i += 6
	}
	return n, nil
}
