package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ccvfs-go/ccvfs/internal/ccvfs"
)

func main() {
	pageSize := flag.Int("page-size", ccvfs.DefaultPageSize, "page size for -create (bytes, power of two)")
	compression := flag.String("compress", "", "compression algorithm name (rle, zstd, xz, or empty for none)")
	encryption := flag.String("encrypt", "", "encryption algorithm name (xor, chacha20poly, or empty for none)")
	doCreate := flag.Bool("create", false, "create a new container instead of inspecting an existing one")
	doCompact := flag.Bool("compact", false, "compact the container before reporting stats")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <container-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := ccvfs.DefaultConfig()
	cfg.PageSize = *pageSize
	cfg.Compression = *compression
	cfg.Encryption = *encryption

	vfs := ccvfs.DefaultVFS()
	if *doCreate && vfs.Exists(path) {
		log.Fatalf("ccvfsctl: %s already exists, refusing -create", path)
	}

	h, err := vfs.Open(path, cfg)
	if err != nil {
		log.Fatalf("ccvfsctl: open %s: %v", path, err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.Printf("ccvfsctl: close: %v", err)
		}
	}()

	if *doCompact {
		report, err := h.Compact()
		if err != nil {
			log.Fatalf("ccvfsctl: compact: %v", err)
		}
		fmt.Printf("compacted: %d pages copied, %d bytes reclaimed (%d -> %d)\n",
			report.PagesCopied, report.BytesReclaimed, report.PhysicalBefore, report.PhysicalAfter)
	}

	if err := h.Sync(); err != nil {
		log.Fatalf("ccvfsctl: sync: %v", err)
	}

	stats := h.Stats()
	fmt.Printf("path:              %s\n", path)
	fmt.Printf("logical size:      %d bytes\n", h.FileSize())
	fmt.Printf("total pages:       %d\n", stats.TotalPages)
	fmt.Printf("physical size:     %d bytes\n", stats.PhysicalSize)
	fmt.Printf("corrupt pages seen: %d\n", stats.CorruptPagesSeen)
	fmt.Println("allocator:")
	fmt.Printf("  reuse=%d expand=%d new=%d hole_reclaim=%d best_fit=%d sequential=%d\n",
		stats.Alloc.Reuse, stats.Alloc.Expand, stats.Alloc.NewAllocation,
		stats.Alloc.HoleReclaim, stats.Alloc.BestFit, stats.Alloc.SequentialWrite)
	fmt.Println("write buffer:")
	fmt.Printf("  hits=%d merges=%d flushes=%d\n", stats.Buffer.Hits, stats.Buffer.Merges, stats.Buffer.Flushes)
}
