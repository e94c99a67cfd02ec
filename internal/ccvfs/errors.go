// Package ccvfs implements a transparent, block-structured storage engine
// that sits beneath a host database's file abstraction. Every logical page
// the host writes is compressed (and optionally encrypted) into a variable
// size physical extent inside a single, randomly-accessible container file.
//
// The container format, the logical-page-to-extent index, the compress and
// encrypt pipeline, the free-space allocator, the write-behind buffer, and
// the crash-recovery protocol all live here. The host engine, the pluggable
// compression/encryption primitives, and the underlying filesystem are
// treated as collaborators, not as part of this package.
package ccvfs

import "errors"

// Error kinds returned by public operations. Callers should use errors.Is
// against these sentinels; wrapped context is added with fmt.Errorf("%w").
var (
	// ErrNotCcvfs is returned when a file does not carry the container magic.
	// It is never an error on open-for-create; the façade treats it as a
	// signal to initialize a fresh container.
	ErrNotCcvfs = errors.New("ccvfs: not a ccvfs container")

	// ErrVersionMismatch is returned on a major-version skew between the
	// on-disk header and this build.
	ErrVersionMismatch = errors.New("ccvfs: header version mismatch")

	// ErrCorruptHeader is returned when the header checksum fails to verify
	// in strict mode.
	ErrCorruptHeader = errors.New("ccvfs: corrupt header")

	// ErrCorruptIndex is returned when the index region cannot be parsed.
	ErrCorruptIndex = errors.New("ccvfs: corrupt index")

	// ErrCorruptPage is returned when a decoded page fails its CRC32 check
	// (strict mode) or when an extent header is internally inconsistent.
	ErrCorruptPage = errors.New("ccvfs: corrupt page")

	// ErrIndexFull is returned when a logical page number would need more
	// entries than the fixed-capacity index region can hold.
	ErrIndexFull = errors.New("ccvfs: index region exhausted")

	// ErrAllocationFailed names an allocator failure. The allocator in this
	// package always places an extent (it appends when no hole fits), so no
	// operation here returns it.
	ErrAllocationFailed = errors.New("ccvfs: allocation failed")

	// ErrKeyRequired is returned when a page is flagged ENCRYPTED but no key
	// is configured for the file.
	ErrKeyRequired = errors.New("ccvfs: encryption key required")

	// ErrKeyMismatch is returned when decryption fails authentication (AEAD
	// ciphers) or otherwise signals the wrong key was supplied.
	ErrKeyMismatch = errors.New("ccvfs: encryption key mismatch")

	// ErrMisuse is returned for programmer errors: nil arguments, empty or
	// over-long algorithm names, wrong key lengths, non-power-of-two page
	// sizes.
	ErrMisuse = errors.New("ccvfs: misuse")

	// ErrUnsupported is returned when a configured compression or
	// encryption name is not registered at open time.
	ErrUnsupported = errors.New("ccvfs: unsupported algorithm")

	// ErrClosed is returned by any operation on a closed file handle.
	ErrClosed = errors.New("ccvfs: file is closed")
)
