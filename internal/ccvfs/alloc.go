package ccvfs

// Space allocator: tracks free space in the data region as a capped set of
// variable-length (offset, length) holes. Extents here are variable sized,
// so a hole is described by both ends rather than a fixed page id, and holes
// are never written to disk: they are rebuilt at open by scanning the index.

// hole describes one freed range inside the data region.
type hole struct {
	offset uint64
	length uint64
}

// AllocStats tracks allocator activity for diagnostics and the CLI.
type AllocStats struct {
	Reuse           uint64
	Expand          uint64
	NewAllocation   uint64
	HoleReclaim     uint64
	BestFit         uint64
	SequentialWrite uint64
}

// Allocator tracks free space in the data region and decides where new
// extents land.
type Allocator struct {
	holes       []hole
	maxHoles    int
	minHoleSize uint64
	physSize    uint64 // current end of the data region (= file size)
	lastPage    int64  // last logical page written, for the sequential heuristic
	stats       AllocStats
}

// NewAllocator creates an allocator over a data region that currently ends
// at physSize bytes from the start of the file.
func NewAllocator(physSize uint64, maxHoles int, minHoleSize uint64) *Allocator {
	if maxHoles <= 0 {
		maxHoles = 256
	}
	if minHoleSize == 0 {
		minHoleSize = 64
	}
	return &Allocator{physSize: physSize, maxHoles: maxHoles, minHoleSize: minHoleSize, lastPage: -1}
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() AllocStats { return a.stats }

// HoleCount returns the number of holes currently tracked.
func (a *Allocator) HoleCount() int { return len(a.holes) }

// PhysicalSize returns the current end of the data region.
func (a *Allocator) PhysicalSize() uint64 { return a.physSize }

// Allocate reserves size+extentHeaderSize bytes for a new extent, either by
// reusing a hole (best-fit, low-offset tie-break) or by appending to the
// data region. page is the logical page being written, used only to drive
// the sequential-write heuristic. Returns the physical offset at which the
// extent header should be written.
func (a *Allocator) Allocate(page uint64, size uint64) uint64 {
	need := size + extentHeaderSize

	sequential := int64(page) == a.lastPage+1
	a.lastPage = int64(page)
	if sequential {
		a.stats.SequentialWrite++
	}

	if !sequential {
		if off, ok := a.reuseHole(need); ok {
			a.stats.Reuse++
			a.stats.BestFit++
			return off
		}
	}

	off := a.physSize
	a.physSize += need
	a.stats.NewAllocation++
	a.stats.Expand++
	return off
}

// reuseHole scans the hole set for the smallest hole that fits need,
// breaking ties by lowest offset. On a fit, it carves from the low end: if
// the remainder is still worth keeping, the hole shrinks in place; else the
// whole hole is consumed.
func (a *Allocator) reuseHole(need uint64) (uint64, bool) {
	best := -1
	for i, h := range a.holes {
		if h.length < need {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		bh := a.holes[best]
		if h.length < bh.length || (h.length == bh.length && h.offset < bh.offset) {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}

	h := a.holes[best]
	off := h.offset
	remainder := h.length - need
	if remainder >= a.minHoleSize {
		a.holes[best] = hole{offset: h.offset + need, length: remainder}
	} else {
		a.holes = append(a.holes[:best], a.holes[best+1:]...)
	}
	return off, true
}

// Free returns a previously allocated extent's span to the hole set. Spans
// smaller than minHoleSize, or holes beyond the configured cap, are simply
// dropped. The engine accepts bounded fragmentation in exchange for bounded
// hole-tracking memory.
func (a *Allocator) Free(offset, length uint64) {
	if length < a.minHoleSize || len(a.holes) >= a.maxHoles {
		return
	}
	a.holes = append(a.holes, hole{offset: offset, length: length})
	a.stats.HoleReclaim++
}

// Rebuild reconstructs the hole set from scratch by sorting populated index
// entries by physical offset and recording gaps of at least minHoleSize
// between consecutive extents (and between the start of the data region
// and the first extent). Called once at open.
func (a *Allocator) Rebuild(entries []IndexEntryRef, dataRegionStart uint64) {
	a.holes = a.holes[:0]

	sorted := append([]IndexEntryRef(nil), entries...)
	sortByOffset(sorted)

	cursor := dataRegionStart
	for _, ref := range sorted {
		off := ref.Entry.PhysicalOffset
		if off > cursor {
			gap := off - cursor
			if gap >= a.minHoleSize && len(a.holes) < a.maxHoles {
				a.holes = append(a.holes, hole{offset: cursor, length: gap})
			}
		}
		end := off + extentHeaderSize + uint64(ref.Entry.CompressedSize)
		if end > cursor {
			cursor = end
		}
	}
	if cursor > a.physSize {
		a.physSize = cursor
	}
}

func sortByOffset(refs []IndexEntryRef) {
	// Insertion sort: hole rebuilding runs once at open over a set bounded
	// by the host's page count, so O(n^2) is not a concern in practice, and
	// it keeps this file dependency-free and deterministic.
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j].Entry.PhysicalOffset < refs[j-1].Entry.PhysicalOffset; j-- {
			refs[j], refs[j-1] = refs[j-1], refs[j]
		}
	}
}
