// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestHashSetVerify(t *testing.T) {
	data := []byte("hello archive")
	sum := sha256.Sum256(data)
	fe := FileEntry{Name: "f.txt", SHA256: hex.EncodeToString(sum[:])}

	hs := newHashSet(fe)
	if _, err := hs.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := hs.verify(fe); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestHashSetVerifyMismatch(t *testing.T) {
	fe := FileEntry{Name: "f.txt", SHA256: "0000000000000000000000000000000000000000000000000000000000000000"}
	hs := newHashSet(fe)
	hs.Write([]byte("hello archive"))

	err := hs.verify(fe)
	if err == nil {
		t.Fatal("expected a verification error")
	}
	var verr *VerifyError
	if ve, ok := err.(*VerifyError); ok {
		verr = ve
	}
	if verr == nil || verr.Method != "sha256" {
		t.Fatalf("expected sha256 VerifyError, got %v", err)
	}
}

func TestLocalFileMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	data := []byte("hello archive")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	sum := sha256.Sum256(data)
	fe := FileEntry{Name: "f.txt", Size: int64(len(data)), SHA256: hex.EncodeToString(sum[:])}

	ok, err := localFileMatches(path, fe)
	if err != nil {
		t.Fatalf("localFileMatches: %v", err)
	}
	if !ok {
		t.Fatal("expected file to match its declared hash and size")
	}

	fe.Size = int64(len(data)) + 1
	ok, err = localFileMatches(path, fe)
	if err != nil {
		t.Fatalf("localFileMatches: %v", err)
	}
	if ok {
		t.Fatal("expected size mismatch to fail localFileMatches")
	}
}

// TestSeedHashCoversResumedBytes checks that seeding a hash from the
// bytes already on disk, then writing the remainder directly to the same
// hashSet, produces the same digest as hashing the whole file at once —
// the invariant a resumed download's verification step depends on.
func TestSeedHashCoversResumedBytes(t *testing.T) {
	full := []byte("the quick brown fox jumps over the lazy dog")
	firstHalf, secondHalf := full[:20], full[20:]

	dir := t.TempDir()
	partPath := filepath.Join(dir, "f.txt.part")
	if err := os.WriteFile(partPath, firstHalf, 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	sum := sha256.Sum256(full)
	fe := FileEntry{Name: "f.txt", Size: int64(len(full)), SHA256: hex.EncodeToString(sum[:])}

	hs := newHashSet(fe)
	if err := seedHash(hs, partPath, int64(len(firstHalf))); err != nil {
		t.Fatalf("seedHash: %v", err)
	}
	if _, err := hs.Write(secondHalf); err != nil {
		t.Fatalf("write remainder: %v", err)
	}
	if err := hs.verify(fe); err != nil {
		t.Fatalf("verify: %v (resumed hash should cover the whole file)", err)
	}
}

// TestSeedHashDetectsCorruptedPartialFile checks that a corrupted byte in
// the bytes already on disk is caught even though only the remainder was
// streamed in this attempt.
func TestSeedHashDetectsCorruptedPartialFile(t *testing.T) {
	full := []byte("the quick brown fox jumps over the lazy dog")
	corruptFirstHalf := append([]byte{}, full[:20]...)
	corruptFirstHalf[0] ^= 0xFF
	secondHalf := full[20:]

	dir := t.TempDir()
	partPath := filepath.Join(dir, "f.txt.part")
	if err := os.WriteFile(partPath, corruptFirstHalf, 0o644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	sum := sha256.Sum256(full)
	fe := FileEntry{Name: "f.txt", Size: int64(len(full)), SHA256: hex.EncodeToString(sum[:])}

	hs := newHashSet(fe)
	if err := seedHash(hs, partPath, int64(len(corruptFirstHalf))); err != nil {
		t.Fatalf("seedHash: %v", err)
	}
	if _, err := hs.Write(secondHalf); err != nil {
		t.Fatalf("write remainder: %v", err)
	}
	if err := hs.verify(fe); err == nil {
		t.Fatal("expected corruption in the pre-resume bytes to fail verification")
	}
}

func TestLocalFileMatchesMissing(t *testing.T) {
	ok, err := localFileMatches(filepath.Join(t.TempDir(), "missing.txt"), FileEntry{Name: "missing.txt"})
	if err != nil {
		t.Fatalf("localFileMatches: %v", err)
	}
	if ok {
		t.Fatal("expected a missing file not to match")
	}
}
