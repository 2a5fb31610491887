// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Request describes one download session against the archive.
//
// Input accepts whatever the user typed: a bare identifier, a /details/
// page URL, a /download/ page URL, or a /metadata/ URL directly. See
// ResolveIdentifier for the normalization rules.
//
// Example:
//
//	req := iaget.Request{
//	    Input:     "nasa_images",
//	    OutputDir: "./Downloads",
//	    Filter:    iaget.DefaultFilter(),
//	    Policy:    iaget.DefaultPolicy(),
//	    Concurrency: 4,
//	}
type Request struct {
	// Input is the user-supplied item identifier or URL.
	Input string

	// OutputDir is the directory under which "<identifier>/" is created.
	// If empty, defaults to the current directory.
	OutputDir string

	// Filter selects which files in the item are downloaded.
	Filter Filter

	// Policy controls retry, resume, verification, and decompression behavior.
	Policy Policy

	// Concurrency is the number of files downloaded at once, 1..10.
	// If <= 0, defaults to 3.
	Concurrency int

	// PerHostConcurrency caps in-flight requests per server hostname.
	// If <= 0, defaults to Concurrency.
	PerHostConcurrency int

	// Token is an optional archive.org bearer credential, sent on the
	// metadata fetch and every file request. Empty performs anonymous
	// requests, which is sufficient for any public item.
	Token string

	// Progress receives user-facing ProgressEvents as the session runs.
	// Nil disables progress reporting.
	Progress ProgressFunc

	// Logger receives internal diagnostic messages distinct from the
	// user-facing ProgressFunc stream (e.g. a best-effort cleanup that
	// failed). Defaults to a no-op logger.
	Logger hclog.Logger
}

// Policy configures the per-file download task (spec §6 TaskPolicy).
type Policy struct {
	// MaxRetries is the number of retry attempts per file after the
	// initial attempt, 0..20. If <= 0, defaults to 3.
	MaxRetries int

	// Resume enables byte-range continuation of partially downloaded files.
	Resume bool

	// Verify enables post-download hash/size verification (spec §4.7 step 7).
	Verify bool

	// Decompress enables the optional decompression pipeline after a
	// successful, verified download (spec §4.7 step 9).
	Decompress bool

	// DecompressFormats restricts decompression to files whose detected
	// format is in this set (lower-case, without the leading dot — e.g.
	// "gz", "tar.gz", "zip"). Empty means all recognized formats.
	DecompressFormats []string

	// KeepCompressedSource retains the original downloaded file after a
	// successful decompression. Spec §4.6: "source file is retained
	// unless policy says otherwise" — default true.
	KeepCompressedSource bool

	// PreserveMTime copies the Last-Modified response header onto the
	// finalized file's modification time when present.
	PreserveMTime bool

	// UserAgent overrides the default "iaget/<version> (<contact>)"
	// User-Agent header. Always non-empty after DefaultPolicy().
	UserAgent string

	// Token is the bearer credential threaded down from Request.Token,
	// sent on every file request this task issues. Empty means anonymous.
	Token string

	// BackoffInitial is the base retry delay (spec §4.7: default 1s).
	BackoffInitial time.Duration

	// BackoffMax caps the exponential retry delay (spec §4.7: default 600s).
	BackoffMax time.Duration

	// BufferSize is the read buffer used while streaming to disk,
	// minimum 8 KiB (spec §4.7 step 5). If <= 0, defaults to 256 KiB.
	BufferSize int
}

// DefaultPolicy returns a Policy with the defaults spec'd in §4.7 and §6.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		Resume:               true,
		Verify:               true,
		Decompress:           false,
		KeepCompressedSource: true,
		PreserveMTime:        true,
		UserAgent:            DefaultUserAgent,
		BackoffInitial:       time.Second,
		BackoffMax:           600 * time.Second,
		BufferSize:           256 * 1024,
	}
}

// DefaultUserAgent identifies this tool to the archive per spec §6.
const DefaultUserAgent = "iaget/1 (https://github.com/iaget/iaget)"

// Filter selects a subset of an item's File Entries (spec §4.4).
//
// Matching is case-insensitive throughout. An empty Filter (the zero
// value) excludes every source classification, since IncludeOriginal,
// IncludeDerivative, and IncludeMetadata all default to false — use
// DefaultFilter for the usual "everything" behavior.
type Filter struct {
	// IncludePatterns, ExcludePatterns match the file basename (the
	// portion after the final "/"). Wildcard dialect (*, ?) unless
	// UseRegex is set, in which case patterns are POSIX-extended regex.
	// An empty IncludePatterns matches every basename.
	IncludePatterns []string
	ExcludePatterns []string

	// UseRegex switches IncludePatterns/ExcludePatterns/IncludeSubfolders/
	// ExcludeSubfolders from glob to POSIX-extended regex matching.
	UseRegex bool

	// IncludeSubfolders, ExcludeSubfolders match the parent-folder portion
	// of the file's relative path (the part before the final "/"). A file
	// is included if its parent path has a matching prefix or a full glob
	// match against at least one include pattern; empty include matches all.
	IncludeSubfolders []string
	ExcludeSubfolders []string

	// IncludeFormats, ExcludeFormats are matched case-insensitively
	// against both the file extension and the metadata "format" field.
	IncludeFormats []string
	ExcludeFormats []string

	// MinSize, MaxSize bound file size in bytes, inclusive. nil means
	// unbounded on that side. Files with unknown size pass only if both
	// bounds are nil (spec §4.4).
	MinSize *int64
	MaxSize *int64

	// IncludeOriginal, IncludeDerivative, IncludeMetadata gate the
	// file's "source" classification.
	IncludeOriginal   bool
	IncludeDerivative bool
	IncludeMetadata   bool
}

// DefaultFilter returns a Filter that passes every file regardless of
// source classification, with no name/size restriction.
func DefaultFilter() Filter {
	return Filter{
		IncludeOriginal:   true,
		IncludeDerivative: true,
		IncludeMetadata:   true,
	}
}

// ProgressEvent reports a single moment during one file's download
// (spec §9 "Progress reporting").
type ProgressEvent struct {
	Time time.Time

	// Event is one of: "file_start", "file_progress", "retry",
	// "file_done", "error".
	Event string

	// Level is "debug", "info", "warn", or "error". Empty means "info".
	Level string

	Identifier string
	Path       string
	Bytes      int64
	Total      int64
	Downloaded int64
	Attempt    int
	Message    string
}

// ProgressFunc receives ProgressEvents. It is called from multiple
// goroutines concurrently and must be safe to call that way; passing nil
// is equivalent to a no-op sink.
type ProgressFunc func(ProgressEvent)
