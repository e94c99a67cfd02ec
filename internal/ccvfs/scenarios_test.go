package ccvfs

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// End-to-end scenarios driven at page_size 4096 through the same layers the
// host database would exercise.

func randomPage(t *testing.T, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return buf
}

func TestScenario_FreshFileSinglePage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	cfg.Compression = "rle"
	f, path := openFreshFile(t, cfg)

	page := bytes.Repeat([]byte{0x41}, 4096)
	if err := f.Write(0, page); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backing, err := OpenOSFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f2, err := OpenFile(backing, cfg)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f2.Close()

	got, err := f2.Read(0, 4096)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, page) {
		t.Fatal("round trip mismatch after close/reopen")
	}
	if cs := f2.index.Get(0).CompressedSize; cs > 8 {
		t.Fatalf("compressed size = %d, want <= 8 for a run-length-encoded uniform page", cs)
	}
}

func TestScenario_SparseWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	if err := f.Write(40960, []byte("abcd")); err != nil {
		t.Fatalf("write: %v", err)
	}

	zeros, err := f.Read(0, 4096)
	if err != nil {
		t.Fatalf("read page 0: %v", err)
	}
	if !bytes.Equal(zeros, make([]byte, 4096)) {
		t.Fatal("page 0 was never written and must read as zeros")
	}

	got, err := f.Read(40960, 4)
	if err != nil {
		t.Fatalf("read written range: %v", err)
	}
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("read %q, want %q", got, "abcd")
	}

	tail, err := f.Read(40964, 1)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if tail[0] != 0x00 {
		t.Fatalf("byte after the written range = %#x, want 0x00", tail[0])
	}
}

func TestScenario_OverwriteTriggersHoleThenAppend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	cfg.Compression = "rle"
	cfg.Buffer.Enabled = false
	cfg.Holes.MinHoleSize = 8
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	tiny := bytes.Repeat([]byte{0x01}, 4096) // collapses to one RLE packet
	if err := f.Write(0, tiny); err != nil {
		t.Fatalf("write page 0: %v", err)
	}
	large := randomPage(t, 4096)
	if err := f.Write(4096, large); err != nil {
		t.Fatalf("write page 1: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	oldOffset := f.index.Get(0).PhysicalOffset

	// The rewrite is far larger than the freed extent, so it cannot land at
	// the old offset and must be appended, leaving the old span as a hole.
	rewrite := randomPage(t, 4096)
	if err := f.Write(0, rewrite); err != nil {
		t.Fatalf("rewrite page 0: %v", err)
	}
	newEntry := f.index.Get(0)
	if newEntry.PhysicalOffset == oldOffset {
		t.Fatal("a larger rewrite cannot fit the original tiny extent's offset")
	}
	if f.HoleCount() < 1 {
		t.Fatalf("HoleCount() = %d, want >= 1 after the rewrite", f.HoleCount())
	}

	got, err := f.Read(0, 4096)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, rewrite) {
		t.Fatal("round trip mismatch after rewrite")
	}
}

func TestScenario_EncryptionRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	cfg.Encryption = "xor"
	cfg.Key = []byte("key01234")
	cfg.Buffer.Enabled = false
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	if err := f.Write(0, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.Read(0, 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("read %q, want %q", got, "hello")
	}

	entry := f.index.Get(0)
	raw := make([]byte, 1)
	if _, err := f.backing.ReadAt(raw, int64(entry.PhysicalOffset)+extentHeaderSize); err != nil {
		t.Fatalf("read raw payload: %v", err)
	}
	if raw[0] == 'h' {
		t.Fatal("first payload byte on disk must not equal the plaintext 'h'")
	}
}

func TestScenario_BufferCoalescing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	cfg.Buffer = BufferConfig{Enabled: true, MaxEntries: 4, AutoFlushPages: 8}
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	for pass := 0; pass < 2; pass++ {
		for i := 0; i < 4; i++ {
			page := bytes.Repeat([]byte{byte(pass*16 + i + 1)}, 4096)
			if err := f.Write(int64(i)*4096, page); err != nil {
				t.Fatalf("pass %d write page %d: %v", pass, i, err)
			}
		}
	}

	stats := f.buf.Stats()
	if stats.Merges < 4 {
		t.Fatalf("Merges = %d, want >= 4 (four pages each rewritten once)", stats.Merges)
	}
	if stats.Flushes != 0 {
		t.Fatalf("Flushes = %d, want 0 before sync", stats.Flushes)
	}

	if err := f.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if f.buf.Stats().Flushes == 0 {
		t.Fatal("sync must flush the buffer")
	}
}

func TestScenario_CorruptionDetection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PageSize = 4096
	cfg.Buffer.Enabled = false
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	page := randomPage(t, 4096)
	if err := f.Write(5*4096, page); err != nil {
		t.Fatalf("write page 5: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	entry := f.index.Get(5)
	flip := make([]byte, 1)
	if _, err := f.backing.ReadAt(flip, int64(entry.PhysicalOffset)+extentHeaderSize); err != nil {
		t.Fatalf("read payload byte: %v", err)
	}
	flip[0] ^= 0xFF
	if _, err := f.backing.WriteAt(flip, int64(entry.PhysicalOffset)+extentHeaderSize); err != nil {
		t.Fatalf("flip payload byte: %v", err)
	}

	if _, err := f.Read(5*4096, 4096); !errors.Is(err, ErrCorruptPage) {
		t.Fatalf("strict read of the corrupted page returned %v, want ErrCorruptPage", err)
	}

	f.cfg.StrictChecksum = false
	f.cfg.DataRecovery = true
	got, err := f.Read(5*4096, 4096)
	if err != nil {
		t.Fatalf("recovery-mode read: %v", err)
	}
	if len(got) != 4096 {
		t.Fatalf("recovery-mode read returned %d bytes, want 4096", len(got))
	}
	if f.corruptPagesSeen == 0 {
		t.Fatal("recovery-mode read must increment the corrupt-pages counter")
	}
}

func TestCore_SequenceContinuesAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.Enabled = false
	f, path := openFreshFile(t, cfg)

	var maxSeq uint32
	for i := 0; i < 3; i++ {
		page := bytes.Repeat([]byte{byte(i + 1)}, cfg.PageSize)
		if err := f.Write(int64(i)*int64(cfg.PageSize), page); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
		if eh := readExtentHeaderAt(t, f, uint64(i)); eh.Sequence > maxSeq {
			maxSeq = eh.Sequence
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backing, err := OpenOSFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f2, err := OpenFile(backing, cfg)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f2.Close()

	if err := f2.Write(0, bytes.Repeat([]byte{0xEE}, cfg.PageSize)); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	if eh := readExtentHeaderAt(t, f2, 0); eh.Sequence <= maxSeq {
		t.Fatalf("post-reopen sequence %d did not exceed the pre-close max %d", eh.Sequence, maxSeq)
	}
}

func TestCore_OpenRejectsWrongOrMissingKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encryption = "xor"
	cfg.Key = []byte("key01234")
	cfg.Buffer.Enabled = false
	f, path := openFreshFile(t, cfg)

	if err := f.Write(0, bytes.Repeat([]byte{0x33}, cfg.PageSize)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	wrong := cfg
	wrong.Key = []byte("key99999")
	backing, err := OpenOSFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := OpenFile(backing, wrong); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("open with the wrong key returned %v, want ErrKeyMismatch", err)
	}

	missing := cfg
	missing.Key = nil
	if _, err := OpenFile(backing, missing); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("open with no key returned %v, want ErrKeyRequired", err)
	}
	_ = backing.Close()
}

func TestVFS_PassthroughOpenRoutesUncompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.ccvfs-journal")
	vfs := NewVFS()

	h, err := vfs.OpenFlags(path, DefaultConfig(), OpenPassthrough)
	if err != nil {
		t.Fatalf("open passthrough: %v", err)
	}
	payload := []byte("journal frame bytes")
	if err := h.Write(0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := h.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if h.FileSize() != int64(len(payload)) {
		t.Fatalf("FileSize() = %d, want %d", h.FileSize(), len(payload))
	}

	got, err := h.Read(0, len(payload)+4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got[:len(payload)], payload) {
		t.Fatal("passthrough read mismatch")
	}
	if !bytes.Equal(got[len(payload):], []byte{0, 0, 0, 0}) {
		t.Fatal("passthrough read past EOF must return zeros")
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The bytes must land on disk verbatim: no container header, no extent
	// framing, nothing compressed.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	if !bytes.Equal(raw, payload) {
		t.Fatalf("on-disk bytes %q, want verbatim %q", raw, payload)
	}
}

func TestVFS_OpenWithoutCreatePropagatesPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.dat")
	if err := os.WriteFile(path, []byte("not a container"), 0644); err != nil {
		t.Fatalf("seed plain file: %v", err)
	}

	vfs := NewVFS()
	h, err := vfs.OpenFlags(path, DefaultConfig(), 0)
	if err != nil {
		t.Fatalf("open without create: %v", err)
	}
	defer h.Close()

	got, err := h.Read(0, len("not a container"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("not a container")) {
		t.Fatal("plain-file contents must be readable unchanged")
	}
	if _, err := h.Compact(); !errors.Is(err, ErrMisuse) {
		t.Fatalf("compacting a plain file returned %v, want ErrMisuse", err)
	}
}

func TestCore_ChecksumConsistencyAcrossIndexAndExtents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.Enabled = false
	cfg.Compression = "rle"
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	pages := make([][]byte, 3)
	for i := range pages {
		pages[i] = randomPage(t, cfg.PageSize)
		if err := f.Write(int64(i)*int64(cfg.PageSize), pages[i]); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
	}

	for i := range pages {
		entry := f.index.Get(uint64(i))
		eh := readExtentHeaderAt(t, f, uint64(i))
		want := Checksum(pages[i])
		if entry.Checksum != want {
			t.Fatalf("page %d: index checksum %08x, want CRC32 of plaintext %08x", i, entry.Checksum, want)
		}
		if eh.Checksum != want {
			t.Fatalf("page %d: extent checksum %08x, want CRC32 of plaintext %08x", i, eh.Checksum, want)
		}
	}
}

func TestCore_RebuiltHolesAreDisjointFromExtents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.Enabled = false
	cfg.Compression = "rle"
	cfg.Holes.MinHoleSize = 8
	f, path := openFreshFile(t, cfg)

	for i := 0; i < 4; i++ {
		if err := f.Write(int64(i)*int64(cfg.PageSize), randomPage(t, cfg.PageSize)); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
	}
	// Shrinking page 1 leaves a gap in the data region for the reopen scan
	// to rediscover.
	if err := f.Write(int64(cfg.PageSize), bytes.Repeat([]byte{0x44}, cfg.PageSize)); err != nil {
		t.Fatalf("shrink page 1: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backing, err := OpenOSFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	f2, err := OpenFile(backing, cfg)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f2.Close()

	if f2.HoleCount() == 0 {
		t.Fatal("reopen should have rebuilt at least one hole from the index gaps")
	}
	for _, h := range f2.alloc.holes {
		for _, ref := range f2.index.All() {
			start := ref.Entry.PhysicalOffset
			end := start + extentHeaderSize + uint64(ref.Entry.CompressedSize)
			if h.offset < end && start < h.offset+h.length {
				t.Fatalf("hole [%d,%d) overlaps extent for page %d [%d,%d)",
					h.offset, h.offset+h.length, ref.Page, start, end)
			}
		}
	}
}

func TestCore_TruncateToZeroZeroesEverything(t *testing.T) {
	cfg := DefaultConfig()
	f, _ := openFreshFile(t, cfg)
	defer f.Close()

	for i := 0; i < 3; i++ {
		if err := f.Write(int64(i)*int64(cfg.PageSize), randomPage(t, cfg.PageSize)); err != nil {
			t.Fatalf("write page %d: %v", i, err)
		}
	}
	if err := f.Truncate(0); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if f.header.TotalPages != 0 {
		t.Fatalf("TotalPages = %d, want 0", f.header.TotalPages)
	}
	if f.FileSize() != 0 {
		t.Fatalf("FileSize() = %d, want 0", f.FileSize())
	}
	got, err := f.Read(0, cfg.PageSize)
	if err != nil {
		t.Fatalf("read after truncate: %v", err)
	}
	if !bytes.Equal(got, make([]byte, cfg.PageSize)) {
		t.Fatal("every read after Truncate(0) must return zeros")
	}
}
