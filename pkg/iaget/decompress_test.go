// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestDetectArchiveFormat(t *testing.T) {
	cases := map[string]string{
		"book.tar.gz":  "tar.gz",
		"book.tgz":     "tar.gz",
		"book.tar.bz2": "tar.bz2",
		"book.tar.xz":  "tar.xz",
		"book.tar":     "tar",
		"book.gz":      "gz",
		"book.bz2":     "bz2",
		"book.xz":      "xz",
		"book.zip":     "zip",
		"book.pdf":     "",
	}
	for name, want := range cases {
		if got := detectArchiveFormat(name); got != want {
			t.Errorf("detectArchiveFormat(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestFormatAllowed(t *testing.T) {
	if !formatAllowed("gz", nil) {
		t.Fatal("empty allow-list should permit every format")
	}
	if !formatAllowed("gz", []string{"zip", "gz"}) {
		t.Fatal("gz should be allowed")
	}
	if formatAllowed("tar", []string{"zip", "gz"}) {
		t.Fatal("tar should not be allowed")
	}
}

func TestDecompressGzip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "data.txt.gz")

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("payload"))
	gw.Close()
	if err := os.WriteFile(srcPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write gz: %v", err)
	}

	destDir := filepath.Join(dir, "out")
	if err := decompress(srcPath, destDir, "gz"); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "data.txt"))
	if err != nil {
		t.Fatalf("read decompressed file: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("got %q, want %q", got, "payload")
	}
}

func TestDecompressTarPathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "evil.tar")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "../../escape.txt", Size: 4, Mode: 0o644})
	tw.Write([]byte("evil"))
	tw.Close()
	if err := os.WriteFile(srcPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write tar: %v", err)
	}

	destDir := filepath.Join(dir, "out")
	if err := decompress(srcPath, destDir, "tar"); err == nil {
		t.Fatal("expected a path-traversal entry to be rejected")
	}
}

func TestDecompressTarRegularAndDir(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "good.tar")

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "sub/", Typeflag: tar.TypeDir, Mode: 0o755})
	tw.WriteHeader(&tar.Header{Name: "sub/file.txt", Size: 5, Mode: 0o644})
	tw.Write([]byte("hello"))
	tw.Close()
	if err := os.WriteFile(srcPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write tar: %v", err)
	}

	destDir := filepath.Join(dir, "out")
	if err := decompress(srcPath, destDir, "tar"); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "sub", "file.txt"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}
