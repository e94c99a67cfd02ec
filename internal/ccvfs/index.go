package ccvfs

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Index table
// ───────────────────────────────────────────────────────────────────────────
//
// One 24-byte entry per logical page number, packed starting at the fixed
// offset IndexOffset (always headerSize, 128). The persisted region is
// bounded to MaxPages * 24 bytes; the in-memory slice grows with amortized
// 1.5x capacity ahead of that, but writes that would need more than
// MaxPages entries fail with ErrIndexFull, a hard format limit.
//
//  Offset  Size  Field
//  0       8     PhysicalOffset  uint64 LE (0 = unallocated)
//  8       4     CompressedSize  uint32 LE
//  12      4     OriginalSize    uint32 LE
//  16      4     Checksum        uint32 LE (CRC32 of the plaintext page)
//  20      4     Flags           uint32 LE

const (
	indexEntrySize = 24

	idxOffPhysicalOffset = 0
	idxOffCompressedSize = 8
	idxOffOriginalSize   = 12
	idxOffChecksum       = 16
	idxOffFlags          = 20
)

// PageFlag is a bitmask describing how a logical page's extent is encoded.
type PageFlag uint32

const (
	PageCompressed PageFlag = 1 << iota
	PageEncrypted
	PageSparse
)

const pageFlagLevelShift = 24 // top 8 bits hold the compression level

// Level extracts the 8-bit compression level packed into the flags word.
func (f PageFlag) Level() uint8 { return uint8(f >> pageFlagLevelShift) }

// WithLevel returns f with its compression-level field set to level.
func (f PageFlag) WithLevel(level uint8) PageFlag {
	const mask = PageFlag(0xFF) << pageFlagLevelShift
	return (f &^ mask) | (PageFlag(level) << pageFlagLevelShift)
}

// IndexEntry describes where a logical page's extent lives and how to
// decode it. A PhysicalOffset of 0 marks the page as unallocated (never
// written, or truncated away).
type IndexEntry struct {
	PhysicalOffset uint64
	CompressedSize uint32
	OriginalSize   uint32
	Checksum       uint32
	Flags          PageFlag
}

// Allocated reports whether this entry points at a live extent.
func (e IndexEntry) Allocated() bool { return e.PhysicalOffset != 0 }

func (e IndexEntry) marshal(dst []byte) {
	binary.LittleEndian.PutUint64(dst[idxOffPhysicalOffset:], e.PhysicalOffset)
	binary.LittleEndian.PutUint32(dst[idxOffCompressedSize:], e.CompressedSize)
	binary.LittleEndian.PutUint32(dst[idxOffOriginalSize:], e.OriginalSize)
	binary.LittleEndian.PutUint32(dst[idxOffChecksum:], e.Checksum)
	binary.LittleEndian.PutUint32(dst[idxOffFlags:], uint32(e.Flags))
}

func unmarshalIndexEntry(src []byte) IndexEntry {
	return IndexEntry{
		PhysicalOffset: binary.LittleEndian.Uint64(src[idxOffPhysicalOffset:]),
		CompressedSize: binary.LittleEndian.Uint32(src[idxOffCompressedSize:]),
		OriginalSize:   binary.LittleEndian.Uint32(src[idxOffOriginalSize:]),
		Checksum:       binary.LittleEndian.Uint32(src[idxOffChecksum:]),
		Flags:          PageFlag(binary.LittleEndian.Uint32(src[idxOffFlags:])),
	}
}

// Index is the in-memory, resizable working copy of the fixed-capacity
// on-disk index table.
type Index struct {
	entries  []IndexEntry
	maxPages int
	dirty    bool
}

// newIndex allocates an empty index with a small starting capacity.
func newIndex(maxPages int) *Index {
	return &Index{maxPages: maxPages, entries: make([]IndexEntry, 0, 64)}
}

// loadIndex parses the first totalPages*24 bytes of raw, the index region
// as already read by the caller, into entries. If totalPages is 0, an empty
// index with a small starting capacity is returned.
func loadIndex(raw []byte, totalPages uint64, maxPages int) (*Index, error) {
	idx := &Index{maxPages: maxPages}
	if totalPages == 0 {
		idx.entries = make([]IndexEntry, 0, 64)
		return idx, nil
	}
	need := int(totalPages) * indexEntrySize
	if need > len(raw) {
		return nil, fmt.Errorf("index: short read (%d of %d bytes): %w", len(raw), need, ErrCorruptIndex)
	}
	// amortized growth: reserve slack ahead of totalPages.
	capEntries := int(float64(totalPages)*1.5) + 16
	idx.entries = make([]IndexEntry, totalPages, capEntries)
	for i := uint64(0); i < totalPages; i++ {
		off := int(i) * indexEntrySize
		idx.entries[i] = unmarshalIndexEntry(raw[off : off+indexEntrySize])
	}
	return idx, nil
}

// Len returns the number of logical pages currently tracked.
func (idx *Index) Len() int { return len(idx.entries) }

// Get returns the entry for a logical page number, or the zero entry if the
// page is beyond the current index length.
func (idx *Index) Get(page uint64) IndexEntry {
	if int(page) >= len(idx.entries) {
		return IndexEntry{}
	}
	return idx.entries[page]
}

// Set stores the entry for a logical page number; page must already be
// within range (call Expand first).
func (idx *Index) Set(page uint64, e IndexEntry) {
	idx.entries[page] = e
	idx.dirty = true
}

// Dirty reports whether the index has unsaved changes.
func (idx *Index) Dirty() bool { return idx.dirty }

// ClearDirty resets the dirty flag after a successful save.
func (idx *Index) ClearDirty() { idx.dirty = false }

// Expand grows the in-memory index to cover newCount logical pages,
// zero-initializing any new entries. Returns ErrIndexFull if newCount would
// exceed the format's fixed persisted capacity.
func (idx *Index) Expand(newCount uint64) error {
	if newCount <= uint64(len(idx.entries)) {
		return nil
	}
	if newCount > uint64(idx.maxPages) {
		return fmt.Errorf("index: page %d exceeds capacity %d: %w", newCount-1, idx.maxPages, ErrIndexFull)
	}
	if newCount <= uint64(cap(idx.entries)) {
		idx.entries = idx.entries[:newCount]
	} else {
		grown := make([]IndexEntry, newCount, maxUint64(newCount, uint64(float64(cap(idx.entries))*1.5)))
		copy(grown, idx.entries)
		idx.entries = grown
	}
	idx.dirty = true
	return nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// marshal serializes every tracked entry into a totalPages*24-byte buffer.
func (idx *Index) marshal() []byte {
	buf := make([]byte, len(idx.entries)*indexEntrySize)
	for i, e := range idx.entries {
		off := i * indexEntrySize
		e.marshal(buf[off : off+indexEntrySize])
	}
	return buf
}

// IndexEntryRef pairs a logical page number with its index entry.
type IndexEntryRef struct {
	Page  uint64
	Entry IndexEntry
}

// All returns every (page, entry) pair with an allocated extent, ordered by
// page number.
func (idx *Index) All() []IndexEntryRef {
	out := make([]IndexEntryRef, 0, len(idx.entries))
	for i, e := range idx.entries {
		if e.Allocated() {
			out = append(out, IndexEntryRef{Page: uint64(i), Entry: e})
		}
	}
	return out
}
