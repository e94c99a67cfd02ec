package ccvfs

import (
	"bytes"
	"path/filepath"
	"testing"
)

// incompressiblePage returns a page with no byte runs of 4 or more, so the
// "rle" compressor cannot shrink it, used to establish a realistic,
// non-trivial baseline extent size before testing a later highly
// compressible overwrite.
func incompressiblePage(size, seed int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte((i*7 + seed*3 + i%3) % 251)
	}
	return buf
}

func TestCompact_ReclaimsSpaceAndPreservesData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compactable.ccvfs")

	cfg := DefaultConfig()
	cfg.Buffer.Enabled = false
	cfg.Compression = "rle"
	vfs := NewVFS()
	h, err := vfs.Open(path, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pages := make([][]byte, 4)
	for i := range pages {
		pages[i] = incompressiblePage(cfg.PageSize, i)
		if err := h.Write(int64(i)*int64(cfg.PageSize), pages[i]); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
	}
	// Overwriting page 0 with a highly compressible page frees most of its
	// original extent into a hole that nothing subsequent needs, leaving
	// reclaimable dead space behind for Compact to remove.
	pages[0] = bytes.Repeat([]byte{0xAA}, cfg.PageSize)
	if err := h.Write(0, pages[0]); err != nil {
		t.Fatalf("overwrite page 0: %v", err)
	}
	if err := h.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	before := h.Stats().PhysicalSize
	report, err := h.Compact()
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if report.PhysicalAfter >= before {
		t.Fatalf("compaction did not shrink physical size: before=%d after=%d", before, report.PhysicalAfter)
	}
	if report.PagesCopied != 4 {
		t.Fatalf("PagesCopied = %d, want 4", report.PagesCopied)
	}

	got1, err := h.Read(int64(cfg.PageSize), cfg.PageSize)
	if err != nil {
		t.Fatalf("read page 1 after compact: %v", err)
	}
	if !bytes.Equal(got1, pages[1]) {
		t.Fatal("page 1 content changed across compaction")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestCompact_HoleCountResetsAfterCompaction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holes.ccvfs")

	cfg := DefaultConfig()
	cfg.Buffer.Enabled = false
	cfg.Holes.MaxHoles = 4
	vfs := NewVFS()
	h, err := vfs.Open(path, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	for i := 0; i < 10; i++ {
		if err := h.Write(0, bytes.Repeat([]byte{byte(i)}, cfg.PageSize)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if _, err := h.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if h.of.file.HoleCount() != 0 {
		t.Fatalf("HoleCount() = %d, want 0 immediately after compaction", h.of.file.HoleCount())
	}
}
