package ccvfs

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ───────────────────────────────────────────────────────────────────────────
// Filesystem façade
// ───────────────────────────────────────────────────────────────────────────
//
// One entry point decides, by sniffing the header, whether a path names an
// existing container or needs a fresh one, then hands back a single handle
// exposing the host-facing operations. Locking here is advisory and
// in-process only: the host database owns real file locking; this layer
// only guards against two goroutines in the same process racing to open or
// mutate the same path concurrently.

// VFS tracks open containers by path so a second Open for the same path
// shares the same in-process handle instead of racing two *File instances
// against one backing file.
type VFS struct {
	mu   sync.Mutex
	open map[string]*openFile
}

type openFile struct {
	refs     int
	file     *File       // container-backed, nil for passthrough opens
	raw      BackingFile // passthrough (journal/temp/WAL), nil otherwise
	path     string
	lockMu   sync.Mutex
	lockHeld LockLevel
}

// OpenFlag controls how Open treats a path that does not already hold a
// valid container.
type OpenFlag uint32

const (
	// OpenCreate initializes a fresh container when the path is empty or
	// does not carry the container magic.
	OpenCreate OpenFlag = 1 << iota
	// OpenPassthrough routes the file straight through uncompressed. The
	// host opens its journal, temp, and write-ahead-log files this way:
	// those are the host's own crash-recovery surface and are never paged
	// through the codec pipeline.
	OpenPassthrough
)

// LockLevel mirrors the host's advisory lock escalation levels. The
// container engine does not interpret these beyond tracking the current
// level per path in memory; Lock and Unlock take no lock on the backing
// file, so they give no cross-process exclusion.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockReserved
	LockPending
	LockExclusive
)

// NewVFS returns an empty façade. Most callers can use the package-level
// DefaultVFS instead of constructing their own.
func NewVFS() *VFS {
	return &VFS{open: make(map[string]*openFile)}
}

var defaultVFS = NewVFS()

// DefaultVFS returns the process-wide façade.
func DefaultVFS() *VFS { return defaultVFS }

// Handle is the host-facing reference to one open container. Multiple
// Handles may share an underlying *File when opened for the same path.
type Handle struct {
	vfs  *VFS
	path string
	of   *openFile
}

// Open opens path as a ccvfs container, creating it under cfg if it does
// not exist or does not carry the container magic (ErrNotCcvfs is treated
// as "initialize a fresh container", matching the host's expectation that
// opening a new database file just works). Any other error from reading an
// existing header is propagated. Equivalent to OpenFlags with OpenCreate.
func (v *VFS) Open(path string, cfg Config) (*Handle, error) {
	return v.OpenFlags(path, cfg, OpenCreate)
}

// OpenFlags opens path under explicit open flags. Without OpenCreate, a
// path that does not carry the container magic is propagated as a plain
// uncompressed file instead of being initialized; the host opens its
// auxiliary files (journals, temp, write-ahead logs) this way.
func (v *VFS) OpenFlags(path string, cfg Config, flags OpenFlag) (*Handle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if of, ok := v.open[path]; ok {
		of.refs++
		return &Handle{vfs: v, path: path, of: of}, nil
	}

	backing, err := OpenOSFile(path)
	if err != nil {
		return nil, fmt.Errorf("ccvfs: open %s: %w", path, err)
	}

	if flags&OpenPassthrough != 0 {
		of := &openFile{refs: 1, raw: backing, path: path}
		v.open[path] = of
		return &Handle{vfs: v, path: path, of: of}, nil
	}

	f, err := OpenFile(backing, cfg)
	switch {
	case err == nil:
		// existing container, loaded.
	case errors.Is(err, ErrNotCcvfs) && flags&OpenCreate != 0:
		f, err = CreateFile(backing, cfg)
		if err != nil {
			_ = backing.Close()
			return nil, fmt.Errorf("ccvfs: create %s: %w", path, err)
		}
	case errors.Is(err, ErrNotCcvfs):
		// Not a container and not asked to create one: plain file.
		of := &openFile{refs: 1, raw: backing, path: path}
		v.open[path] = of
		return &Handle{vfs: v, path: path, of: of}, nil
	default:
		_ = backing.Close()
		return nil, fmt.Errorf("ccvfs: open %s: %w", path, err)
	}

	of := &openFile{refs: 1, file: f, path: path}
	v.open[path] = of
	return &Handle{vfs: v, path: path, of: of}, nil
}

// Exists reports whether path names a regular file on the host filesystem,
// regardless of whether it is a valid container. The host checks existence
// before deciding create-vs-open.
func (v *VFS) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Delete removes path from the host filesystem. Fails if the path is
// currently open through this façade.
func (v *VFS) Delete(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.open[path]; ok {
		return fmt.Errorf("ccvfs: delete %s: %w", path, ErrMisuse)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("ccvfs: delete %s: %w", path, err)
	}
	return nil
}

// Read reads amt bytes starting at offset from the logical view. On a
// passthrough handle, bytes beyond end-of-file read back as zeros, the same
// contract the container gives never-written regions.
func (h *Handle) Read(offset int64, amt int) ([]byte, error) {
	if h.of.raw != nil {
		out := make([]byte, amt)
		if _, err := h.of.raw.ReadAt(out, offset); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("ccvfs: read %s: %w", h.path, err)
		}
		return out, nil
	}
	return h.of.file.Read(offset, amt)
}

// Write writes buf at offset in the logical view.
func (h *Handle) Write(offset int64, buf []byte) error {
	if h.of.raw != nil {
		if _, err := h.of.raw.WriteAt(buf, offset); err != nil {
			return fmt.Errorf("ccvfs: write %s: %w", h.path, err)
		}
		return nil
	}
	return h.of.file.Write(offset, buf)
}

// Truncate changes the logical size.
func (h *Handle) Truncate(newSize int64) error {
	if h.of.raw != nil {
		return h.of.raw.Truncate(newSize)
	}
	return h.of.file.Truncate(newSize)
}

// Sync flushes all buffered state to the backing file and fsyncs it.
func (h *Handle) Sync() error {
	if h.of.raw != nil {
		return h.of.raw.Sync()
	}
	return h.of.file.Sync()
}

// FileSize returns the current logical size.
func (h *Handle) FileSize() int64 {
	if h.of.raw != nil {
		size, err := h.of.raw.Size()
		if err != nil {
			return 0
		}
		return size
	}
	return h.of.file.FileSize()
}

// SectorSize returns the natural I/O granularity of this handle: the
// configured page size for a container, a conventional disk sector for a
// passthrough file.
func (h *Handle) SectorSize() int {
	if h.of.raw != nil {
		return 4096
	}
	return int(h.of.file.header.PageSize)
}

// Fetch returns amt bytes at offset. The host's memory-mapped fetch path
// cannot hand out views into the container (pages only exist decoded), so
// this is a read that the host treats as a borrowed mapping.
func (h *Handle) Fetch(offset int64, amt int) ([]byte, error) {
	return h.Read(offset, amt)
}

// Stats returns the fileControl operational-counters snapshot. Passthrough
// handles have no engine state and report zeros.
func (h *Handle) Stats() Stats {
	if h.of.raw != nil {
		return Stats{}
	}
	return h.of.file.Stats()
}

// Compact rewrites this container's data region to eliminate holes. See
// compact.go.
func (h *Handle) Compact() (CompactReport, error) {
	if h.of.raw != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact %s: passthrough file: %w", h.path, ErrMisuse)
	}
	return compactHandle(h)
}

// Lock escalates this path's advisory lock level to at least level. Pass-
// through in spirit: the host database is the only writer the host-side
// locking protocol actually has to exclude, and cross-process exclusion is
// the underlying filesystem's job, not this façade's.
func (h *Handle) Lock(level LockLevel) error {
	h.of.lockMu.Lock()
	defer h.of.lockMu.Unlock()
	if level > h.of.lockHeld {
		h.of.lockHeld = level
	}
	return nil
}

// Unlock drops this path's advisory lock level to at most level.
func (h *Handle) Unlock(level LockLevel) error {
	h.of.lockMu.Lock()
	defer h.of.lockMu.Unlock()
	if level < h.of.lockHeld {
		h.of.lockHeld = level
	}
	return nil
}

// CheckReservedLock reports whether some handle on this path currently
// holds at least a reserved lock.
func (h *Handle) CheckReservedLock() (bool, error) {
	h.of.lockMu.Lock()
	defer h.of.lockMu.Unlock()
	return h.of.lockHeld >= LockReserved, nil
}

// FileControlOp names a fileControl pass-through operation.
type FileControlOp string

// FileControlStats is the one op this engine handles itself rather than
// passing through: it exposes the container's buffer/allocator stats over
// the same channel the host uses for engine-specific pragmas.
const FileControlStats FileControlOp = "stats"

// FileControl handles a host fileControl(op, arg) call. Every op other than
// FileControlStats returns ErrMisuse; nothing is passed on to the backing
// file.
func (h *Handle) FileControl(op FileControlOp, arg any) (any, error) {
	switch op {
	case FileControlStats:
		return h.Stats(), nil
	default:
		return nil, fmt.Errorf("ccvfs: filecontrol %q: %w", op, ErrMisuse)
	}
}

// Close releases this handle's reference. The underlying *File is only
// flushed and closed once every Handle opened for the path has been closed
// (reference counting matches the host's nested-open patterns for shared
// journal/WAL-adjacent files).
func (h *Handle) Close() error {
	v := h.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	h.of.refs--
	if h.of.refs > 0 {
		return nil
	}
	delete(v.open, h.path)
	if h.of.raw != nil {
		return h.of.raw.Close()
	}
	return h.of.file.Close()
}

// Randomness fills p with cryptographically strong random bytes, the
// façade's pass-through of the host's entropy request.
func (v *VFS) Randomness(p []byte) (int, error) {
	return rand.Read(p)
}

// Sleep blocks for at least d, returning the time actually slept.
func (v *VFS) Sleep(d time.Duration) time.Duration {
	start := time.Now()
	time.Sleep(d)
	return time.Since(start)
}

// CurrentTime returns the host clock.
func (v *VFS) CurrentTime() time.Time {
	return time.Now()
}
