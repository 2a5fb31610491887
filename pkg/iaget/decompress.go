// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// detectArchiveFormat returns the lower-case, dot-free format name used by
// Policy.DecompressFormats, derived from the file's extension chain (spec
// §4.8). It returns "" for names it doesn't recognize as an archive.
func detectArchiveFormat(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return "tar.bz2"
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return "tar.xz"
	case strings.HasSuffix(lower, ".tar"):
		return "tar"
	case strings.HasSuffix(lower, ".gz"):
		return "gz"
	case strings.HasSuffix(lower, ".bz2"):
		return "bz2"
	case strings.HasSuffix(lower, ".xz"):
		return "xz"
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	default:
		return ""
	}
}

// formatAllowed reports whether format is enabled under allowed, an empty
// allowed list meaning every recognized format is enabled.
func formatAllowed(format string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, format) {
			return true
		}
	}
	return false
}

// decompress extracts srcPath (whose format was detected as format) into
// destDir, a sibling directory of srcPath. Archive members are extracted
// through sanitizeRelPath so a crafted path-traversal entry cannot write
// outside destDir (grounded in the pack's path-traversal-safe extractor
// pattern).
func decompress(srcPath, destDir, format string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	switch format {
	case "gz":
		return decompressSingle(f, destDir, strings.TrimSuffix(filepath.Base(srcPath), ".gz"), gzipReader)
	case "bz2":
		return decompressSingle(f, destDir, strings.TrimSuffix(filepath.Base(srcPath), ".bz2"), bzip2Reader)
	case "xz":
		return decompressSingle(f, destDir, strings.TrimSuffix(filepath.Base(srcPath), ".xz"), xzReader)
	case "zip":
		return extractZip(srcPath, destDir)
	case "tar":
		return extractTar(f, destDir)
	case "tar.gz":
		r, err := gzipReader(f)
		if err != nil {
			return err
		}
		return extractTar(r, destDir)
	case "tar.bz2":
		return extractTar(bzip2.NewReader(f), destDir)
	case "tar.xz":
		r, err := xzReader(f)
		if err != nil {
			return err
		}
		return extractTar(r, destDir)
	default:
		return fmt.Errorf("decompress: unrecognized format %q", format)
	}
}

func gzipReader(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
func bzip2Reader(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil }
func xzReader(r io.Reader) (io.Reader, error)    { return xz.NewReader(r) }

func decompressSingle(f io.Reader, destDir, outName string, open func(io.Reader) (io.Reader, error)) error {
	r, err := open(f)
	if err != nil {
		return fmt.Errorf("open compressed stream: %w", err)
	}
	clean, err := sanitizeRelPath(outName)
	if err != nil {
		return err
	}
	out, err := os.Create(filepath.Join(destDir, clean))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := extractTarEntry(tr, hdr, destDir); err != nil {
			return err
		}
	}
}

func extractTarEntry(tr *tar.Reader, hdr *tar.Header, destDir string) error {
	clean, err := sanitizeRelPath(hdr.Name)
	if err != nil {
		return fmt.Errorf("archive entry %q: %w", hdr.Name, err)
	}
	target := filepath.Join(destDir, filepath.FromSlash(clean))

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777|0o200)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, tr)
		return err
	default:
		// symlinks, hardlinks, devices, etc. are skipped: spec's decompression
		// pipeline only promises regular-file and directory members.
		return nil
	}
}

func extractZip(srcPath, destDir string) error {
	zr, err := zip.OpenReader(srcPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		clean, err := sanitizeRelPath(zf.Name)
		if err != nil {
			return fmt.Errorf("archive entry %q: %w", zf.Name, err)
		}
		target := filepath.Join(destDir, filepath.FromSlash(clean))

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, zf.Mode()&0o777|0o200)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}
