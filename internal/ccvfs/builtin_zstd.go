package ccvfs

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ───────────────────────────────────────────────────────────────────────────
// Built-in "zstd" compressor
// ───────────────────────────────────────────────────────────────────────────
//
// Wraps github.com/klauspost/compress/zstd for files that want a real
// compression ratio instead of the baseline RLE placeholder. The encoder
// and decoder are built once and reused across calls; zstd encoders are
// not safe for concurrent use by multiple goroutines against the same
// instance, which matches this engine's single-writer-per-file model.

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() Compressor {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		panic(fmt.Sprintf("ccvfs: zstd encoder init: %v", err))
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(fmt.Sprintf("ccvfs: zstd decoder init: %v", err))
	}
	return &zstdCompressor{enc: enc, dec: dec}
}

func (z *zstdCompressor) MaxCompressedSize(srcLen int) int {
	// zstd frames carry their own framing overhead; this bound is generous
	// for the page sizes this engine deals in.
	return srcLen + srcLen/8 + 128
}

func (z *zstdCompressor) Compress(dst, src []byte, level int) (int, error) {
	_ = level // the shared encoder is built with a fixed speed/ratio tradeoff
	out := z.enc.EncodeAll(src, dst[:0])
	if len(out) > len(dst) {
		return 0, fmt.Errorf("zstd compress: dst too small: %w", ErrMisuse)
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return len(out), nil
}

func (z *zstdCompressor) Decompress(dst, src []byte) (int, error) {
	out, err := z.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, fmt.Errorf("zstd decompress: %w", ErrCorruptPage)
	}
	if len(out) > len(dst) {
		return 0, fmt.Errorf("zstd decompress: dst too small: %w", ErrMisuse)
	}
	if len(out) > 0 && &out[0] != &dst[0] {
		copy(dst, out)
	}
	return len(out), nil
}
