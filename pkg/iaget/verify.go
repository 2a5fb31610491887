// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// hashSet accumulates every digest the destination's File Entry declares,
// in a single pass over the stream (spec §4.7 step 7: "compute all hashes
// the metadata document declares, not just the first one found").
type hashSet struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash
	w      io.Writer
}

func newHashSet(fe FileEntry) *hashSet {
	hs := &hashSet{}
	var writers []io.Writer
	if fe.MD5 != "" {
		hs.md5 = md5.New()
		writers = append(writers, hs.md5)
	}
	if fe.SHA1 != "" {
		hs.sha1 = sha1.New()
		writers = append(writers, hs.sha1)
	}
	if fe.SHA256 != "" {
		hs.sha256 = sha256.New()
		writers = append(writers, hs.sha256)
	}
	hs.w = io.MultiWriter(writers...)
	return hs
}

func (hs *hashSet) Write(p []byte) (int, error) { return hs.w.Write(p) }

// verify compares every digest this hashSet accumulated against fe's
// declared values, returning the first mismatch found. Declared digests
// that were never populated (fe had no MD5 and so on) are skipped.
func (hs *hashSet) verify(fe FileEntry) error {
	checks := []struct {
		method   string
		h        hash.Hash
		expected string
	}{
		{"sha256", hs.sha256, fe.SHA256},
		{"sha1", hs.sha1, fe.SHA1},
		{"md5", hs.md5, fe.MD5},
	}
	for _, c := range checks {
		if c.h == nil || c.expected == "" {
			continue
		}
		actual := hex.EncodeToString(c.h.Sum(nil))
		if actual != c.expected {
			return &VerifyError{Name: fe.Name, Method: c.method, Expected: c.expected, Actual: actual}
		}
	}
	return nil
}

// localFileMatches reports whether a file already on disk matches fe's
// declared size and digests, used to skip re-downloading (spec §4.7 step
// 2 "shouldSkip"). A file with no declared hashes matches on size alone.
func localFileMatches(path string, fe FileEntry) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if fe.Size >= 0 && fi.Size() != fe.Size {
		return false, nil
	}
	if fe.MD5 == "" && fe.SHA1 == "" && fe.SHA256 == "" {
		return fe.Size >= 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	hs := newHashSet(fe)
	if _, err := io.Copy(hs, f); err != nil {
		return false, err
	}
	return hs.verify(fe) == nil, nil
}
