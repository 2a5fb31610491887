// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import "testing"

func sampleFiles() []FileEntry {
	return []FileEntry{
		{Name: "book.pdf", Source: "original", Format: "Text PDF", Size: 5000},
		{Name: "book_archive.torrent", Source: "metadata", Format: "Archive BitTorrent", Size: 200},
		{Name: "scans/page001.jpg", Source: "derivative", Format: "JPEG", Size: 1200},
		{Name: "scans/page002.jpg", Source: "derivative", Format: "JPEG", Size: 1200},
		{Name: "book_djvu.xml", Source: "metadata", Format: "Djvu XML", Size: -1},
	}
}

func TestApplyFilterDefaultIncludesEverything(t *testing.T) {
	items, err := applyFilter(sampleFiles(), DefaultFilter())
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != len(sampleFiles()) {
		t.Fatalf("got %d items, want %d", len(items), len(sampleFiles()))
	}
}

func TestApplyFilterSourceGating(t *testing.T) {
	f := Filter{IncludeOriginal: true}
	items, err := applyFilter(sampleFiles(), f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 1 || items[0].File.Name != "book.pdf" {
		t.Fatalf("expected only book.pdf, got %+v", items)
	}
}

func TestApplyFilterGlobInclude(t *testing.T) {
	f := DefaultFilter()
	f.IncludePatterns = []string{"*.jpg"}
	items, err := applyFilter(sampleFiles(), f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 jpg files, got %d", len(items))
	}
}

func TestApplyFilterExcludeWins(t *testing.T) {
	f := DefaultFilter()
	f.IncludePatterns = []string{"*.jpg"}
	f.ExcludePatterns = []string{"page001*"}
	items, err := applyFilter(sampleFiles(), f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 1 || items[0].File.Name != "scans/page002.jpg" {
		t.Fatalf("expected only page002.jpg, got %+v", items)
	}
}

func TestApplyFilterSubfolder(t *testing.T) {
	f := DefaultFilter()
	f.IncludeSubfolders = []string{"scans"}
	items, err := applyFilter(sampleFiles(), f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 files under scans/, got %d", len(items))
	}
}

func TestApplyFilterSizeBounds(t *testing.T) {
	min := int64(1000)
	f := DefaultFilter()
	f.MinSize = &min
	items, err := applyFilter(sampleFiles(), f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	// book.pdf (5000), two jpgs (1200 each) pass; torrent (200) and the
	// unknown-size xml (since a bound is set) are excluded.
	if len(items) != 3 {
		t.Fatalf("expected 3 files >= 1000 bytes, got %d: %+v", len(items), items)
	}
}

func TestApplyFilterUnknownSizePassesOnlyUnbounded(t *testing.T) {
	files := []FileEntry{{Name: "unknown.bin", Source: "original", Size: -1}}

	f := DefaultFilter()
	items, err := applyFilter(files, f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected unknown-size file to pass unbounded filter, got %d", len(items))
	}

	max := int64(100)
	f.MaxSize = &max
	items, err = applyFilter(files, f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected unknown-size file to be excluded once a bound is set, got %d", len(items))
	}
}

func TestApplyFilterRegex(t *testing.T) {
	f := DefaultFilter()
	f.UseRegex = true
	f.IncludePatterns = []string{`^page[0-9]+\.jpg$`}
	items, err := applyFilter(sampleFiles(), f)
	if err != nil {
		t.Fatalf("applyFilter: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 jpgs via regex, got %d", len(items))
	}
}
