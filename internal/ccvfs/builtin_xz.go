package ccvfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// ───────────────────────────────────────────────────────────────────────────
// Built-in "xz" compressor
// ───────────────────────────────────────────────────────────────────────────
//
// Wraps github.com/ulikunitz/xz. Favors ratio over speed, a reasonable
// choice for an OFFLINE/archival creation-flags profile (see Config
// CreationFlags) where write throughput matters less than final file size.

type xzCompressor struct{}

func newXZCompressor() Compressor { return xzCompressor{} }

func (xzCompressor) MaxCompressedSize(srcLen int) int {
	return srcLen + srcLen/4 + 256
}

func (xzCompressor) Compress(dst, src []byte, level int) (int, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return 0, fmt.Errorf("xz compress: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return 0, fmt.Errorf("xz compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("xz compress: %w", err)
	}
	if buf.Len() > len(dst) {
		return 0, fmt.Errorf("xz compress: dst too small: %w", ErrMisuse)
	}
	return copy(dst, buf.Bytes()), nil
}

func (xzCompressor) Decompress(dst, src []byte) (int, error) {
	r, err := xz.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("xz decompress: %w", ErrCorruptPage)
	}
	n, err := io.ReadFull(r, dst)
	if err != nil {
		return 0, fmt.Errorf("xz decompress: %w", ErrCorruptPage)
	}
	// Confirm there is no leftover data beyond what dst could hold.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m > 0 {
		return 0, fmt.Errorf("xz decompress: dst too small: %w", ErrMisuse)
	}
	return n, nil
}
