package ccvfs

import "os"

// ───────────────────────────────────────────────────────────────────────────
// Backing file abstraction
// ───────────────────────────────────────────────────────────────────────────
//
// The host filesystem is an external collaborator: an
// uncompressed, byte-addressable file supporting read/write/truncate/
// size/sync/lock. BackingFile is that contract, kept narrow and
// interface-based so the engine can be driven against an in-memory fake in
// tests without touching a real filesystem.

// BackingFile is the narrow file contract the container engine is built
// on top of.
type BackingFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync() error
	Size() (int64, error)
	Close() error
}

// osBackingFile adapts *os.File to BackingFile.
type osBackingFile struct {
	f *os.File
}

// OpenOSFile opens (creating if necessary) a BackingFile backed by a real
// filesystem path.
func OpenOSFile(path string) (BackingFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &osBackingFile{f: f}, nil
}

func (o *osBackingFile) ReadAt(p []byte, off int64) (int, error)  { return o.f.ReadAt(p, off) }
func (o *osBackingFile) WriteAt(p []byte, off int64) (int, error) { return o.f.WriteAt(p, off) }
func (o *osBackingFile) Truncate(size int64) error                { return o.f.Truncate(size) }
func (o *osBackingFile) Sync() error                              { return o.f.Sync() }
func (o *osBackingFile) Close() error                             { return o.f.Close() }

func (o *osBackingFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
