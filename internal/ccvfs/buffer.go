package ccvfs

// A bounded, coalescing write-behind cache of dirty logical pages. At most
// one entry exists per logical page: a later Put replaces the earlier one
// in place (a "merge") rather than evicting and re-inserting, since flush
// order for buffered pages is unspecified and callers must see the last
// write win.

// bufferEntry is one buffered dirty logical page.
type bufferEntry struct {
	page        uint64
	data        []byte
	lastTouched uint64 // logical clock, not wall time; see WriteBuffer.clock
}

// BufferStats tracks write-buffer activity for diagnostics and the CLI.
type BufferStats struct {
	Hits    uint64
	Merges  uint64
	Flushes uint64
}

// BufferConfig configures a WriteBuffer.
type BufferConfig struct {
	Enabled        bool
	MaxEntries     int
	MaxBufferSize  int
	AutoFlushPages int
}

// WriteBuffer is a bounded, per-file write-behind cache. At most one entry
// exists per logical page number at any time.
type WriteBuffer struct {
	cfg     BufferConfig
	entries map[uint64]*bufferEntry
	order   []uint64 // insertion order, oldest first; eviction picks by lastTouched
	size    int      // sum of buffered payload lengths
	clock   uint64
	stats   BufferStats
}

// NewWriteBuffer creates a write buffer under the given configuration.
func NewWriteBuffer(cfg BufferConfig) *WriteBuffer {
	return &WriteBuffer{cfg: cfg, entries: make(map[uint64]*bufferEntry)}
}

// Enabled reports whether buffering is turned on for this file.
func (b *WriteBuffer) Enabled() bool { return b.cfg.Enabled }

// Stats returns a snapshot of the buffer's counters.
func (b *WriteBuffer) Stats() BufferStats { return b.stats }

// EntryCount returns the number of distinct buffered pages.
func (b *WriteBuffer) EntryCount() int { return len(b.entries) }

// Get returns the buffered copy of page, if present (a hit).
func (b *WriteBuffer) Get(page uint64) ([]byte, bool) {
	e, ok := b.entries[page]
	if !ok {
		return nil, false
	}
	b.stats.Hits++
	return e.data, true
}

// evictor is called by Put when capacity must be freed before inserting a
// new page. It receives the page number and data of the page chosen for
// eviction and must persist it (flush) before Put proceeds.
type evictor func(page uint64, data []byte) error

// Put inserts or replaces the buffered image of a logical page. If page is
// already buffered, this is a merge: the bytes are replaced in place and the
// merge counter increments. Otherwise, if inserting would exceed either
// configured cap, flushLRU evicts down to the low-water mark (half capacity)
// before the new entry is added.
func (b *WriteBuffer) Put(page uint64, data []byte, flushLRU evictor) error {
	b.clock++
	if e, ok := b.entries[page]; ok {
		b.size += len(data) - len(e.data)
		e.data = data
		e.lastTouched = b.clock
		b.stats.Merges++
		return nil
	}

	if b.overCapacity(len(data)) {
		// Evict down to the low-water mark: half of each configured cap.
		for len(b.entries) > 0 &&
			((b.cfg.MaxEntries > 0 && len(b.entries) > b.cfg.MaxEntries/2) ||
				(b.cfg.MaxBufferSize > 0 && b.size+len(data) > b.cfg.MaxBufferSize/2)) {
			if err := b.evictOldest(flushLRU); err != nil {
				return err
			}
		}
	}

	e := &bufferEntry{page: page, data: data, lastTouched: b.clock}
	b.entries[page] = e
	b.order = append(b.order, page)
	b.size += len(data)
	return nil
}

func (b *WriteBuffer) overCapacity(incoming int) bool {
	if len(b.entries) == 0 {
		return false
	}
	if b.cfg.MaxEntries > 0 && len(b.entries)+1 > b.cfg.MaxEntries {
		return true
	}
	if b.cfg.MaxBufferSize > 0 && b.size+incoming > b.cfg.MaxBufferSize {
		return true
	}
	return false
}

// evictOldest flushes and removes the least-recently-touched entry.
func (b *WriteBuffer) evictOldest(flushLRU evictor) error {
	oldestIdx := -1
	var oldest uint64
	for i, p := range b.order {
		e, ok := b.entries[p]
		if !ok {
			continue // already removed; skip stale order entries
		}
		if oldestIdx == -1 || e.lastTouched < oldest {
			oldestIdx = i
			oldest = e.lastTouched
		}
	}
	if oldestIdx == -1 {
		return nil
	}
	page := b.order[oldestIdx]
	e := b.entries[page]
	if flushLRU != nil {
		if err := flushLRU(page, e.data); err != nil {
			return err
		}
	}
	b.removeLocked(page)
	return nil
}

func (b *WriteBuffer) removeLocked(page uint64) {
	if e, ok := b.entries[page]; ok {
		b.size -= len(e.data)
		delete(b.entries, page)
	}
	for i, p := range b.order {
		if p == page {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Pages returns every buffered logical page number, in no particular order;
// flush order across buffered pages is unspecified.
func (b *WriteBuffer) Pages() []uint64 {
	out := make([]uint64, 0, len(b.entries))
	for p := range b.entries {
		out = append(out, p)
	}
	return out
}

// FlushAll drains every buffered entry through flush, then clears the
// buffer and increments the flush counter once per call, not per page:
// callers see flush_all as a single operation.
func (b *WriteBuffer) FlushAll(flush func(page uint64, data []byte) error) error {
	if len(b.entries) == 0 {
		return nil
	}
	for page, e := range b.entries {
		if err := flush(page, e.data); err != nil {
			return err
		}
	}
	b.entries = make(map[uint64]*bufferEntry)
	b.order = nil
	b.size = 0
	b.stats.Flushes++
	return nil
}

// FlushIfThreshold calls FlushAll once EntryCount reaches AutoFlushPages.
func (b *WriteBuffer) FlushIfThreshold(flush func(page uint64, data []byte) error) error {
	if b.cfg.AutoFlushPages <= 0 || len(b.entries) < b.cfg.AutoFlushPages {
		return nil
	}
	return b.FlushAll(flush)
}

// FlushPage flushes and removes a single buffered entry, if present.
// File.Truncate calls it with a no-op flush to drop buffered pages beyond
// the new size.
func (b *WriteBuffer) FlushPage(page uint64, flush func(page uint64, data []byte) error) error {
	e, ok := b.entries[page]
	if !ok {
		return nil
	}
	if err := flush(page, e.data); err != nil {
		return err
	}
	b.removeLocked(page)
	return nil
}
