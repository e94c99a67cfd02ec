package ccvfs

import "testing"

func TestAllocator_SequentialWriteAppends(t *testing.T) {
	a := NewAllocator(dataRegionStart, 16, 8)
	off0 := a.Allocate(0, 100)
	off1 := a.Allocate(1, 100)
	if off1 <= off0 {
		t.Fatalf("sequential writes should append: off0=%d off1=%d", off0, off1)
	}
	if a.stats.SequentialWrite != 2 {
		t.Fatalf("SequentialWrite = %d, want 2", a.stats.SequentialWrite)
	}
}

func TestAllocator_HoleReuseBestFit(t *testing.T) {
	a := NewAllocator(dataRegionStart, 16, 8)
	// Build two holes of different sizes.
	a.Free(1000, 200)
	a.Free(2000, 50)

	// A non-sequential allocation (page 5 after never having written page 4)
	// that fits the smaller hole should take it, not the larger one.
	off := a.Allocate(5, 50-extentHeaderSize)
	if off != 2000 {
		t.Fatalf("expected best-fit hole at 2000, got %d", off)
	}
	if a.stats.BestFit != 1 {
		t.Fatalf("BestFit = %d, want 1", a.stats.BestFit)
	}
}

func TestAllocator_FreeBelowMinHoleSizeIsDropped(t *testing.T) {
	a := NewAllocator(dataRegionStart, 16, 64)
	a.Free(1000, 10)
	if a.HoleCount() != 0 {
		t.Fatalf("hole below minHoleSize should be dropped, got %d holes", a.HoleCount())
	}
}

func TestAllocator_HoleCountBounded(t *testing.T) {
	a := NewAllocator(dataRegionStart, 2, 8)
	a.Free(1000, 100)
	a.Free(2000, 100)
	a.Free(3000, 100)
	if a.HoleCount() > 2 {
		t.Fatalf("hole count %d exceeds cap of 2", a.HoleCount())
	}
}

func TestAllocator_RebuildFromIndex(t *testing.T) {
	a := NewAllocator(dataRegionStart, 16, 8)
	entries := []IndexEntryRef{
		{Page: 0, Entry: IndexEntry{PhysicalOffset: dataRegionStart, CompressedSize: 100}},
		{Page: 1, Entry: IndexEntry{PhysicalOffset: dataRegionStart + 132 + 200, CompressedSize: 50}},
	}
	a.Rebuild(entries, dataRegionStart)

	if a.HoleCount() != 1 {
		t.Fatalf("expected exactly one gap hole, got %d", a.HoleCount())
	}
	want := uint64(dataRegionStart + extentHeaderSize + 100)
	if a.holes[0].offset != want {
		t.Fatalf("hole offset = %d, want %d", a.holes[0].offset, want)
	}
}

func TestAllocator_RebuildExtendsPhysicalSize(t *testing.T) {
	a := NewAllocator(dataRegionStart, 16, 8)
	entries := []IndexEntryRef{
		{Page: 0, Entry: IndexEntry{PhysicalOffset: dataRegionStart, CompressedSize: 1000}},
	}
	a.Rebuild(entries, dataRegionStart)
	want := uint64(dataRegionStart + extentHeaderSize + 1000)
	if a.PhysicalSize() != want {
		t.Fatalf("PhysicalSize() = %d, want %d", a.PhysicalSize(), want)
	}
}
