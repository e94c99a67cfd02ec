package ccvfs

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// File owns the header, index, allocator, and write buffer for a single
// open container under one mutex, matching the host's single-writer
// invariant. There is no WAL here: the host database supplies its own
// journal, and this engine only needs to guarantee that a crash mid-flush
// leaves an orphan extent rather than a torn index.

// Stats is a point-in-time snapshot of a container's operational counters.
type Stats struct {
	Buffer           BufferStats
	Alloc            AllocStats
	CorruptPagesSeen uint64
	TotalPages       uint64
	PhysicalSize     uint64
}

// File is one open container: the page I/O core bound to a backing file.
type File struct {
	mu      sync.Mutex
	backing BackingFile
	cfg     Config
	codec   codec

	header *Header
	index  *Index
	alloc  *Allocator
	buf    *WriteBuffer

	seq              uint32
	corruptPagesSeen uint64
	headerDirty      bool
	closed           bool
}

const dataRegionStart = headerSize + IndexSize

// CreateFile initializes a brand-new container on backing and returns an
// open File. Any existing content of backing is discarded: the file is
// truncated to the empty-container size before the header is written, so
// callers are expected to have checked for an existing container first
// (see VFS.Open's dispatch).
func CreateFile(backing BackingFile, cfg Config) (*File, error) {
	res, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	h := &Header{
		VersionMajor:      versionMajor,
		VersionMinor:      versionMinor,
		OrigPageSize:      uint32(cfg.PageSize),
		HostEngineVersion: cfg.HostEngineVersion,
		TotalPages:        0,
		Compression:       cfg.Compression,
		Encryption:        cfg.Encryption,
		PageSize:          uint32(cfg.PageSize),
		IndexOffset:       headerSize,
		CreationFlags:     cfg.CreationFlags,
		MasterKeyHash:     Checksum(cfg.Key),
		CreatedAt:         time.Now().Unix(),
	}
	if len(cfg.Key) == 0 {
		h.MasterKeyHash = 0
	}

	if err := backing.Truncate(dataRegionStart); err != nil {
		return nil, fmt.Errorf("ccvfs: create: %w", err)
	}
	if _, err := backing.WriteAt(h.marshal(), 0); err != nil {
		return nil, fmt.Errorf("ccvfs: create: write header: %w", err)
	}

	f := &File{
		backing: backing,
		cfg:     cfg,
		codec:   codec{compressor: res.compressor, encryptor: res.encryptor, key: cfg.Key, level: cfg.CompressionLevel},
		header:  h,
		index:   newIndex(MaxPages),
		alloc:   NewAllocator(dataRegionStart, cfg.Holes.MaxHoles, cfg.Holes.MinHoleSize),
		buf:     NewWriteBuffer(cfg.Buffer),
	}
	return f, nil
}

// OpenFile loads an existing container from backing. Returns ErrNotCcvfs if
// the file does not carry the container magic (the caller decides whether
// to treat that as "create a new one" or propagate as a plain file).
func OpenFile(backing BackingFile, cfg Config) (*File, error) {
	// Validate the caller's configuration up front; the codec is resolved
	// again below against the algorithm names the on-disk header names.
	if _, err := cfg.resolve(); err != nil {
		return nil, err
	}

	hdrBuf := make([]byte, headerSize)
	if n, err := backing.ReadAt(hdrBuf, 0); err != nil {
		// A new or truncated-to-empty file reads back short (often a bare
		// io.EOF from the backing file at offset 0); that is not corruption,
		// it is the "no container here yet" signal VFS.Open dispatches on.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if n < headerSize {
				return nil, ErrNotCcvfs
			}
		} else {
			return nil, fmt.Errorf("ccvfs: open: read header: %w", err)
		}
	}
	h, err := unmarshalHeader(hdrBuf, cfg.StrictChecksum)
	if err != nil {
		return nil, err
	}

	if h.Encryption != "" && h.MasterKeyHash != 0 {
		if len(cfg.Key) == 0 {
			return nil, fmt.Errorf("ccvfs: open: container is encrypted: %w", ErrKeyRequired)
		}
		if Checksum(cfg.Key) != h.MasterKeyHash {
			return nil, fmt.Errorf("ccvfs: open: %w", ErrKeyMismatch)
		}
	}

	idxBuf := make([]byte, h.TotalPages*indexEntrySize)
	if h.TotalPages > 0 {
		if _, err := backing.ReadAt(idxBuf, headerSize); err != nil {
			return nil, fmt.Errorf("ccvfs: open: read index: %w", err)
		}
	}
	idx, err := loadIndex(idxBuf, h.TotalPages, MaxPages)
	if err != nil {
		return nil, err
	}

	physSize, err := backing.Size()
	if err != nil {
		return nil, fmt.Errorf("ccvfs: open: stat: %w", err)
	}
	alloc := NewAllocator(uint64(physSize), cfg.Holes.MaxHoles, cfg.Holes.MinHoleSize)
	if cfg.Holes.Enabled {
		alloc.Rebuild(idx.All(), dataRegionStart)
	}

	// The registry-resolved compressor/encryptor come from Config, but an
	// opened file's actual pipeline must match what created it on disk.
	openCfg := cfg
	openCfg.Compression = h.Compression
	openCfg.Encryption = h.Encryption
	openRes, err := openCfg.resolve()
	if err != nil {
		return nil, err
	}

	f := &File{
		backing: backing,
		cfg:     cfg,
		codec:   codec{compressor: openRes.compressor, encryptor: openRes.encryptor, key: cfg.Key, level: cfg.CompressionLevel},
		header:  h,
		index:   idx,
		alloc:   alloc,
		buf:     NewWriteBuffer(cfg.Buffer),
		seq:     maxLiveSequence(backing, idx),
	}
	return f, nil
}

// maxLiveSequence scans the extent headers of every populated index entry
// and returns the highest sequence number found, so new extents written in
// this session continue the monotone ordering instead of restarting at
// zero. An unreadable or inconsistent extent header is skipped here; the
// read path surfaces the corruption when the page is actually requested.
func maxLiveSequence(backing BackingFile, idx *Index) uint32 {
	var max uint32
	buf := make([]byte, extentHeaderSize)
	for _, ref := range idx.All() {
		if _, err := backing.ReadAt(buf, int64(ref.Entry.PhysicalOffset)); err != nil {
			continue
		}
		eh, err := unmarshalExtentHeader(buf, ref.Page)
		if err != nil {
			continue
		}
		if eh.Sequence > max {
			max = eh.Sequence
		}
	}
	return max
}

func (f *File) pageSize() uint64 { return uint64(f.header.PageSize) }

func (f *File) nextSeq() uint32 {
	f.seq++
	return f.seq
}

// Read returns exactly amt bytes from the logical view starting at offset,
// synthesizing zeros for never-written regions.
func (f *File) Read(offset int64, amt int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	out := make([]byte, amt)
	ps := int64(f.pageSize())
	remaining := amt
	pos := offset
	written := 0

	for remaining > 0 {
		page := uint64(pos / ps)
		pageOff := pos % ps
		n := int(ps - pageOff)
		if n > remaining {
			n = remaining
		}

		pageBytes, err := f.readPageLocked(page)
		if err != nil {
			return nil, err
		}
		copy(out[written:written+n], pageBytes[pageOff:pageOff+int64(n)])

		written += n
		remaining -= n
		pos += int64(n)
	}
	return out, nil
}

// readPageLocked returns the full current image of a logical page: from the
// write buffer if present, zeros if unallocated (sparse read), or decoded
// from its extent.
func (f *File) readPageLocked(page uint64) ([]byte, error) {
	if f.buf.Enabled() {
		if data, ok := f.buf.Get(page); ok {
			return data, nil
		}
	}

	entry := f.index.Get(page)
	if !entry.Allocated() {
		return make([]byte, f.pageSize()), nil
	}

	hdrBuf := make([]byte, extentHeaderSize)
	if _, err := f.backing.ReadAt(hdrBuf, int64(entry.PhysicalOffset)); err != nil {
		return nil, fmt.Errorf("ccvfs: read page %d: %w", page, err)
	}
	eh, err := unmarshalExtentHeader(hdrBuf, page)
	if err != nil {
		return nil, fmt.Errorf("ccvfs: read page %d: %w", page, err)
	}

	payload := make([]byte, eh.CompressedSize)
	if eh.CompressedSize > 0 {
		if _, err := f.backing.ReadAt(payload, int64(entry.PhysicalOffset)+extentHeaderSize); err != nil {
			return nil, fmt.Errorf("ccvfs: read page %d: %w", page, err)
		}
	}

	plain, err := f.codec.DecodePage(payload, eh.Flags, int(eh.OriginalSize), eh.Checksum, f.cfg.StrictChecksum && !f.cfg.DataRecovery)
	if err != nil {
		if !f.cfg.StrictChecksum || f.cfg.DataRecovery {
			f.corruptPagesSeen++
			if plain != nil {
				return plain, nil
			}
		}
		return nil, fmt.Errorf("ccvfs: read page %d: %w", page, err)
	}
	return plain, nil
}

// Write persists all of buf at the given logical offset, splitting across
// page boundaries and read-modify-merging any partially written page.
func (f *File) Write(offset int64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	ps := int64(f.pageSize())
	remaining := len(buf)
	pos := offset
	consumed := 0

	for remaining > 0 {
		page := uint64(pos / ps)
		pageOff := pos % ps
		n := int(ps - pageOff)
		if n > remaining {
			n = remaining
		}
		full := n == int(ps)

		var image []byte
		if full {
			image = make([]byte, ps)
			copy(image, buf[consumed:consumed+n])
		} else {
			cur, err := f.readPageLocked(page)
			if err != nil {
				return err
			}
			image = make([]byte, ps)
			copy(image, cur)
			copy(image[pageOff:pageOff+int64(n)], buf[consumed:consumed+n])
		}

		if err := f.expandForPageLocked(page); err != nil {
			return err
		}
		if err := f.writePageLocked(page, image); err != nil {
			return err
		}

		consumed += n
		remaining -= n
		pos += int64(n)
	}
	return nil
}

func (f *File) expandForPageLocked(page uint64) error {
	if page < uint64(f.index.Len()) {
		return nil
	}
	if err := f.index.Expand(page + 1); err != nil {
		return err
	}
	f.header.TotalPages = uint64(f.index.Len())
	f.headerDirty = true
	return nil
}

// writePageLocked stages a page image through the buffer, or writes through
// immediately if buffering is disabled.
func (f *File) writePageLocked(page uint64, image []byte) error {
	if f.buf.Enabled() {
		if err := f.buf.Put(page, image, f.evictToDisk); err != nil {
			return err
		}
		return f.buf.FlushIfThreshold(f.flushPageToDisk)
	}
	return f.flushPageToDisk(page, image)
}

// evictToDisk is the WriteBuffer's eviction callback: persist the evicted
// page exactly like a normal flush.
func (f *File) evictToDisk(page uint64, data []byte) error {
	return f.flushPageToDisk(page, data)
}

// flushPageToDisk runs one page through the full write-path: codec, then
// free the old extent into the hole set and allocate a new one (see
// Allocator.Allocate for hole reuse), then persist extent + index entry,
// then mark the index dirty.
func (f *File) flushPageToDisk(page uint64, plain []byte) error {
	res, err := f.codec.EncodePage(plain)
	if err != nil {
		return fmt.Errorf("ccvfs: flush page %d: %w", page, err)
	}

	old := f.index.Get(page)
	if old.Allocated() {
		f.alloc.Free(old.PhysicalOffset, extentHeaderSize+uint64(old.CompressedSize))
	}

	var offset uint64
	if len(res.payload) == 0 && res.flags&PageSparse != 0 {
		// Sparse pages never touch the data region; mark the entry but
		// allocate no extent.
		f.index.Set(page, IndexEntry{
			PhysicalOffset: 0,
			CompressedSize: 0,
			OriginalSize:   uint32(len(plain)),
			Checksum:       res.checksum,
			Flags:          res.flags,
		})
		return nil
	}

	offset = f.alloc.Allocate(page, uint64(len(res.payload)))
	eh := ExtentHeader{
		LogicalPage:    page,
		OriginalSize:   uint32(len(plain)),
		CompressedSize: uint32(len(res.payload)),
		Checksum:       res.checksum,
		Flags:          res.flags,
		Sequence:       f.nextSeq(),
	}
	if _, err := f.backing.WriteAt(eh.marshal(), int64(offset)); err != nil {
		return fmt.Errorf("ccvfs: flush page %d: write extent header: %w", page, err)
	}
	if len(res.payload) > 0 {
		if _, err := f.backing.WriteAt(res.payload, int64(offset)+extentHeaderSize); err != nil {
			return fmt.Errorf("ccvfs: flush page %d: write extent payload: %w", page, err)
		}
	}

	f.index.Set(page, IndexEntry{
		PhysicalOffset: offset,
		CompressedSize: uint32(len(res.payload)),
		OriginalSize:   uint32(len(plain)),
		Checksum:       res.checksum,
		Flags:          res.flags,
	})
	return nil
}

// Truncate shrinks or grows the logical size to newSize bytes. Pages beyond
// the new high-water mark are freed and zeroed in the index; the index
// region itself is never reclaimed.
func (f *File) Truncate(newSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	ps := int64(f.pageSize())
	newPages := uint64(0)
	if newSize > 0 {
		newPages = uint64((newSize + ps - 1) / ps)
	}

	if newPages < uint64(f.index.Len()) {
		for p := newPages; p < uint64(f.index.Len()); p++ {
			entry := f.index.Get(p)
			if entry.Allocated() {
				f.alloc.Free(entry.PhysicalOffset, extentHeaderSize+uint64(entry.CompressedSize))
			}
			f.index.Set(p, IndexEntry{})
			if f.buf.Enabled() {
				_ = f.buf.FlushPage(p, func(uint64, []byte) error { return nil })
			}
		}
		f.index.entries = f.index.entries[:newPages]
		f.index.dirty = true
	} else if newPages > uint64(f.index.Len()) {
		if err := f.index.Expand(newPages); err != nil {
			return err
		}
	}

	f.header.TotalPages = newPages
	f.headerDirty = true
	return nil
}

// Sync persists everything: flush the write buffer, save the index if
// dirty, save the header if dirty, and delegate sync to the backing file.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncLocked()
}

func (f *File) syncLocked() error {
	if f.closed {
		return ErrClosed
	}
	if err := f.buf.FlushAll(f.flushPageToDisk); err != nil {
		return fmt.Errorf("ccvfs: sync: %w", err)
	}
	if f.index.Dirty() {
		if err := f.saveIndexLocked(); err != nil {
			return err
		}
	}
	if f.headerDirty {
		if err := f.saveHeaderLocked(); err != nil {
			return err
		}
	}
	return f.backing.Sync()
}

func (f *File) saveIndexLocked() error {
	buf := f.index.marshal()
	if len(buf) > 0 {
		if _, err := f.backing.WriteAt(buf, headerSize); err != nil {
			return fmt.Errorf("ccvfs: save index: %w", err)
		}
	}
	f.index.ClearDirty()
	return nil
}

func (f *File) saveHeaderLocked() error {
	f.header.PhysicalSize = f.alloc.PhysicalSize()
	f.header.OriginalSize = f.header.TotalPages * uint64(f.header.PageSize)
	if f.header.OriginalSize > 0 {
		f.header.CompressionRatio = uint32(f.header.PhysicalSize * 100 / f.header.OriginalSize)
	}
	if _, err := f.backing.WriteAt(f.header.marshal(), 0); err != nil {
		return fmt.Errorf("ccvfs: save header: %w", err)
	}
	f.headerDirty = false
	return nil
}

// FileSize returns the logical size seen by the host.
func (f *File) FileSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(f.header.TotalPages) * int64(f.header.PageSize)
}

// Stats returns a snapshot of operational counters (fileControl).
func (f *File) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Buffer:           f.buf.Stats(),
		Alloc:            f.alloc.Stats(),
		CorruptPagesSeen: f.corruptPagesSeen,
		TotalPages:       f.header.TotalPages,
		PhysicalSize:     f.alloc.PhysicalSize(),
	}
}

// HoleCount exposes the allocator's current hole count (used by fileControl
// and by tests asserting the hole-soundness invariant).
func (f *File) HoleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alloc.HoleCount()
}

// Close force-flushes the buffer, force-saves the index and header, and
// releases the backing handle.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if err := f.buf.FlushAll(f.flushPageToDisk); err != nil {
		f.closed = true
		_ = f.backing.Close()
		return fmt.Errorf("ccvfs: close: %w", err)
	}
	f.index.dirty = true // force-save regardless of the dirty flag
	if err := f.saveIndexLocked(); err != nil {
		f.closed = true
		_ = f.backing.Close()
		return err
	}
	f.headerDirty = true
	if err := f.saveHeaderLocked(); err != nil {
		f.closed = true
		_ = f.backing.Close()
		return err
	}
	f.closed = true
	return f.backing.Close()
}
