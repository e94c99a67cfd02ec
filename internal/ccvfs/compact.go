package ccvfs

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Compaction reclaims dead space that the allocator's hole cap leaves
// behind once Free starts dropping spans instead of tracking them: rewrite
// every live extent contiguously into a fresh file in logical-page order,
// then atomically swap it in for the original. Liveness here just means
// "has an allocated index entry" since every live page is named directly
// by the index, with no separate reachability graph to walk.
//
// Uses google/uuid for a collision-free sibling temp-file name and
// natefinch/atomic for the rename-based swap, so a crash mid-compaction
// leaves either the original file intact or the fully-written replacement,
// never a half-written one in the original's place.

// CompactReport summarizes one compaction run.
type CompactReport struct {
	PagesCopied    uint64
	BytesReclaimed uint64
	PhysicalBefore uint64
	PhysicalAfter  uint64
}

// compactHandle rewrites h's container to eliminate fragmentation and
// reclaim dead space, then swaps the in-process Handle over to the new
// backing file.
func compactHandle(h *Handle) (CompactReport, error) {
	f := h.of.file
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return CompactReport{}, ErrClosed
	}
	if err := f.syncLocked(); err != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact: pre-flush: %w", err)
	}

	tmpPath := h.path + ".compact-" + uuid.NewString() + ".tmp"
	tmpBacking, err := OpenOSFile(tmpPath)
	if err != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact: create temp: %w", err)
	}

	report := CompactReport{PhysicalBefore: f.alloc.PhysicalSize()}

	compacted := newIndex(f.index.maxPages)
	if err := compacted.Expand(uint64(f.index.Len())); err != nil {
		_ = tmpBacking.Close()
		return CompactReport{}, fmt.Errorf("ccvfs: compact: %w", err)
	}

	cursor := int64(dataRegionStart)
	for _, ref := range f.index.All() {
		entry := ref.Entry
		span := extentHeaderSize + uint64(entry.CompressedSize)
		buf := make([]byte, span)
		if _, err := f.backing.ReadAt(buf, int64(entry.PhysicalOffset)); err != nil {
			_ = tmpBacking.Close()
			return CompactReport{}, fmt.Errorf("ccvfs: compact: read page %d: %w", ref.Page, err)
		}
		if _, err := tmpBacking.WriteAt(buf, cursor); err != nil {
			_ = tmpBacking.Close()
			return CompactReport{}, fmt.Errorf("ccvfs: compact: write page %d: %w", ref.Page, err)
		}

		newEntry := entry
		newEntry.PhysicalOffset = uint64(cursor)
		compacted.Set(ref.Page, newEntry)

		cursor += int64(span)
		report.PagesCopied++
	}

	newHeader := *f.header
	newHeader.PhysicalSize = uint64(cursor)
	newHeader.TotalPages = uint64(f.index.Len())
	if newHeader.OriginalSize > 0 {
		newHeader.CompressionRatio = uint32(newHeader.PhysicalSize * 100 / newHeader.OriginalSize)
	}

	if _, err := tmpBacking.WriteAt(newHeader.marshal(), 0); err != nil {
		_ = tmpBacking.Close()
		return CompactReport{}, fmt.Errorf("ccvfs: compact: write header: %w", err)
	}
	if idxBuf := compacted.marshal(); len(idxBuf) > 0 {
		if _, err := tmpBacking.WriteAt(idxBuf, headerSize); err != nil {
			_ = tmpBacking.Close()
			return CompactReport{}, fmt.Errorf("ccvfs: compact: write index: %w", err)
		}
	}
	if err := tmpBacking.Truncate(cursor); err != nil {
		_ = tmpBacking.Close()
		return CompactReport{}, fmt.Errorf("ccvfs: compact: truncate: %w", err)
	}
	if err := tmpBacking.Sync(); err != nil {
		_ = tmpBacking.Close()
		return CompactReport{}, fmt.Errorf("ccvfs: compact: sync temp: %w", err)
	}
	if err := tmpBacking.Close(); err != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact: close temp: %w", err)
	}

	if err := f.backing.Close(); err != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact: close original: %w", err)
	}
	if err := atomic.ReplaceFile(tmpPath, h.path); err != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact: swap: %w", err)
	}

	newBacking, err := OpenOSFile(h.path)
	if err != nil {
		return CompactReport{}, fmt.Errorf("ccvfs: compact: reopen: %w", err)
	}

	newAlloc := NewAllocator(newHeader.PhysicalSize, f.cfg.Holes.MaxHoles, f.cfg.Holes.MinHoleSize)
	if f.cfg.Holes.Enabled {
		newAlloc.Rebuild(compacted.All(), dataRegionStart)
	}

	f.backing = newBacking
	f.header = &newHeader
	f.index = compacted
	f.alloc = newAlloc
	f.headerDirty = false

	report.PhysicalAfter = newHeader.PhysicalSize
	if report.PhysicalBefore > report.PhysicalAfter {
		report.BytesReclaimed = report.PhysicalBefore - report.PhysicalAfter
	}
	return report, nil
}
