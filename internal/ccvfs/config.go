package ccvfs

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Configuration surface
// ───────────────────────────────────────────────────────────────────────────

const (
	// DefaultPageSize is the page size new containers use unless configured
	// otherwise.
	DefaultPageSize = 64 * 1024
	// MinPageSize and MaxPageSize bound the configurable page size.
	MinPageSize = 512
	MaxPageSize = 1 << 24

	// MaxPages is the compile-time capacity of the fixed index region:
	// 65536 entries * 24 bytes = 1.5 MiB. A hard format limit.
	MaxPages = 65536

	// IndexSize is the byte length of the persisted index-table window.
	IndexSize = MaxPages * indexEntrySize

	defaultMaxHoles    = 256
	defaultMinHoleSize = 64

	defaultMaxBufferEntries = 256
	defaultMaxBufferBytes   = 64 * 1024 * 1024
	defaultAutoFlushPages   = 64
)

// HoleConfig tunes the space allocator's hole tracking.
type HoleConfig struct {
	Enabled     bool
	MaxHoles    int
	MinHoleSize uint64
}

// Config is the full configuration surface recognized at Open time.
type Config struct {
	Compression string // registered compressor name, or "" for none
	Encryption  string // registered encryptor name, or "" for none
	Key         []byte // required iff Encryption is set

	PageSize      int
	CreationFlags CreationFlag

	Buffer BufferConfig
	Holes  HoleConfig

	// StrictChecksum: when false, checksum mismatches are downgraded to a
	// tolerated read with an incremented corrupt-pages counter instead of
	// a hard error.
	StrictChecksum bool

	// DataRecovery enables best-effort plaintext extraction on corrupt
	// extents (implies !StrictChecksum semantics for reads specifically).
	DataRecovery bool

	// CompressionLevel is passed through to the configured compressor.
	CompressionLevel int

	// Registry is consulted for Compression/Encryption lookups. Defaults
	// to DefaultRegistry() when nil.
	Registry *Registry

	// HostEngineVersion is an opaque tag the host stamps into the header;
	// this engine does not interpret it.
	HostEngineVersion uint32
}

// DefaultConfig returns a Config with the engine's standard defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:       DefaultPageSize,
		CreationFlags:  CreationHybrid,
		StrictChecksum: true,
		Buffer: BufferConfig{
			Enabled:        true,
			MaxEntries:     defaultMaxBufferEntries,
			MaxBufferSize:  defaultMaxBufferBytes,
			AutoFlushPages: defaultAutoFlushPages,
		},
		Holes: HoleConfig{
			Enabled:     true,
			MaxHoles:    defaultMaxHoles,
			MinHoleSize: defaultMinHoleSize,
		},
	}
}

// applyCreationDefaults adjusts buffer policy to match CreationFlags.
// CreationOffline always turns buffering off, even if Buffer.Enabled was
// set. CreationRealtime and CreationHybrid only fill in AutoFlushPages
// when it is zero and leave Buffer.Enabled as configured.
func (c *Config) applyCreationDefaults() {
	switch {
	case c.CreationFlags&CreationOffline != 0:
		c.Buffer.Enabled = false
	case c.CreationFlags&CreationRealtime != 0:
		if c.Buffer.AutoFlushPages == 0 {
			c.Buffer.AutoFlushPages = 8
		}
	case c.CreationFlags&CreationHybrid != 0:
		if c.Buffer.AutoFlushPages == 0 {
			c.Buffer.AutoFlushPages = defaultAutoFlushPages
		}
	}
}

// resolved holds the per-file, direct references to algorithm descriptors
// picked at Open time, so the registry is not
// consulted again after this point.
type resolved struct {
	compressor Compressor
	encryptor  Encryptor
}

// resolve validates and looks up the configured algorithm names, failing
// fast with ErrMisuse/ErrUnsupported.
func (c *Config) resolve() (resolved, error) {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize < MinPageSize || c.PageSize > MaxPageSize || c.PageSize&(c.PageSize-1) != 0 {
		return resolved{}, fmt.Errorf("config: page size %d must be a power of two in [%d,%d]: %w",
			c.PageSize, MinPageSize, MaxPageSize, ErrMisuse)
	}

	reg := c.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}

	var r resolved
	if c.Compression != "" {
		if len(c.Compression) > maxAlgoNameLen {
			return resolved{}, fmt.Errorf("config: compression name %q exceeds %d bytes: %w", c.Compression, maxAlgoNameLen, ErrMisuse)
		}
		comp, ok := reg.Compressor(c.Compression)
		if !ok {
			return resolved{}, fmt.Errorf("config: unknown compression %q: %w", c.Compression, ErrUnsupported)
		}
		r.compressor = comp
	}
	if c.Encryption != "" {
		if len(c.Encryption) > maxAlgoNameLen {
			return resolved{}, fmt.Errorf("config: encryption name %q exceeds %d bytes: %w", c.Encryption, maxAlgoNameLen, ErrMisuse)
		}
		enc, ok := reg.Encryptor(c.Encryption)
		if !ok {
			return resolved{}, fmt.Errorf("config: unknown encryption %q: %w", c.Encryption, ErrUnsupported)
		}
		if len(c.Key) != 0 && len(c.Key) != enc.KeyLen() {
			return resolved{}, fmt.Errorf("config: encryption %q needs a %d-byte key, got %d: %w",
				c.Encryption, enc.KeyLen(), len(c.Key), ErrMisuse)
		}
		r.encryptor = enc
	}

	c.applyCreationDefaults()
	return r, nil
}
