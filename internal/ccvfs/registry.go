package ccvfs

import (
	"fmt"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Algorithm registry
// ───────────────────────────────────────────────────────────────────────────
//
// A process-wide, append-mostly table keyed by name (at most 12 bytes,
// case-sensitive). Registration must complete before any file is opened;
// the registry is read-mostly afterward and is not consulted per I/O: a
// file resolves its configured algorithms once, at open time, and holds
// direct references to the descriptors (see Config.resolve).

// maxAlgoNameLen is the header's fixed field width for an algorithm name.
const maxAlgoNameLen = 12

// Compressor is a pluggable, pure byte-in/byte-out compression primitive.
type Compressor interface {
	// Compress writes a compressed representation of src into dst and
	// returns the number of bytes written. dst is guaranteed to be at
	// least MaxCompressedSize(len(src)) bytes.
	Compress(dst, src []byte, level int) (int, error)
	// Decompress writes the decompressed representation of src into dst
	// and returns the number of bytes written.
	Decompress(dst, src []byte) (int, error)
	// MaxCompressedSize returns a safe upper bound on the compressed size
	// of an input of length srcLen.
	MaxCompressedSize(srcLen int) int
}

// Encryptor is a pluggable, pure byte-in/byte-out encryption primitive.
type Encryptor interface {
	// Encrypt writes the encrypted representation of src into dst (which
	// must be at least MaxCiphertextSize(len(src)) bytes) and returns the
	// number of bytes written.
	Encrypt(dst, src, key []byte) (int, error)
	// Decrypt writes the decrypted representation of src into dst and
	// returns the number of bytes written. Returns ErrKeyMismatch if an
	// AEAD tag fails to authenticate.
	Decrypt(dst, src, key []byte) (int, error)
	// MaxCiphertextSize returns a safe upper bound on the ciphertext size
	// for a plaintext of length srcLen (accounts for nonces/tags).
	MaxCiphertextSize(srcLen int) int
	// KeyLen is the key length in bytes this primitive requires.
	KeyLen() int
}

// Registry is a named lookup table of compression and encryption
// primitives. Construct one with NewRegistry, e.g. for an isolated registry
// in tests instead of the process-wide default. The zero value has nil
// tables: it holds no built-ins, and registering into it panics.
type Registry struct {
	mu    sync.RWMutex
	comp  map[string]Compressor
	enc   map[string]Encryptor
	ready bool
}

// NewRegistry returns a new registry with the built-in primitives
// registered (RLE, XOR, and the optional ecosystem-backed algorithms).
func NewRegistry() *Registry {
	r := &Registry{
		comp: make(map[string]Compressor),
		enc:  make(map[string]Encryptor),
	}
	r.registerBuiltins()
	return r
}

// defaultRegistry is the process-wide registry consulted by Open when a
// caller does not supply its own Registry.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide algorithm registry.
func DefaultRegistry() *Registry { return defaultRegistry }

func (r *Registry) registerBuiltins() {
	r.mustRegisterCompressor("rle", newRLECompressor())
	r.mustRegisterCompressor("zstd", newZstdCompressor())
	r.mustRegisterCompressor("xz", newXZCompressor())
	r.mustRegisterEncryptor("xor", newXORCipher())
	r.mustRegisterEncryptor("chacha20poly", newChaCha20Poly1305Cipher())
}

func (r *Registry) mustRegisterCompressor(name string, c Compressor) {
	if err := r.RegisterCompressor(name, c); err != nil {
		panic(err)
	}
}

func (r *Registry) mustRegisterEncryptor(name string, e Encryptor) {
	if err := r.RegisterEncryptor(name, e); err != nil {
		panic(err)
	}
}

// RegisterCompressor adds or replaces a compression algorithm. Re-registering
// an existing name replaces the entry. Fails with ErrMisuse on a nil
// implementation or an empty/too-long name.
func (r *Registry) RegisterCompressor(name string, c Compressor) error {
	if c == nil {
		return fmt.Errorf("register compressor %q: %w", name, ErrMisuse)
	}
	if name == "" || len(name) > maxAlgoNameLen {
		return fmt.Errorf("register compressor %q: %w", name, ErrMisuse)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comp[name] = c
	return nil
}

// RegisterEncryptor adds or replaces an encryption algorithm.
func (r *Registry) RegisterEncryptor(name string, e Encryptor) error {
	if e == nil {
		return fmt.Errorf("register encryptor %q: %w", name, ErrMisuse)
	}
	if name == "" || len(name) > maxAlgoNameLen {
		return fmt.Errorf("register encryptor %q: %w", name, ErrMisuse)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enc[name] = e
	return nil
}

// Compressor looks up a registered compression algorithm by name. Returns
// (nil, false) if unknown.
func (r *Registry) Compressor(name string) (Compressor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.comp[name]
	return c, ok
}

// Encryptor looks up a registered encryption algorithm by name.
func (r *Registry) Encryptor(name string) (Encryptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enc[name]
	return e, ok
}
