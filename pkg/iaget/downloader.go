// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
)

const partSuffix = ".part"

// downloadTask carries everything one file's state machine needs, mirroring
// the per-file goroutine in the pack's concurrency-limited scheduler.
type downloadTask struct {
	identifier string
	server     string // datanode host serving this item's files
	dir        string // item's storage path on that datanode
	item       PlanItem
	outputDir  string
	policy     Policy
	cl         *client
	rl         *rateLimiter
	progress   ProgressFunc
	log        hclog.Logger
}

func (t *downloadTask) emit(ev ProgressEvent) {
	if t.progress == nil {
		return
	}
	ev.Time = time.Now()
	ev.Identifier = t.identifier
	ev.Path = t.item.Dest
	t.progress(ev)
}

// run executes the full per-file state machine from spec §4.7: optional
// skip, probe, resumable streamed download, verify, optional
// decompress, atomic finalize. It always returns a FileOutcome, never an
// error: failures are recorded on the outcome itself.
func (t *downloadTask) run(ctx context.Context) FileOutcome {
	start := time.Now()
	outcome := FileOutcome{Name: t.item.File.Name, Dest: t.item.Dest, Started: start}

	finalPath := filepath.Join(t.outputDir, filepath.FromSlash(t.item.Dest))
	partPath := finalPath + partSuffix

	t.emit(ProgressEvent{Event: "file_start", Total: t.item.File.Size})

	if match, err := localFileMatches(finalPath, t.item.File); err == nil && match {
		outcome.State = StateSkipped
		outcome.Bytes = t.item.File.Size
		outcome.Finished = time.Now()
		t.emit(ProgressEvent{Event: "file_done", Message: "already present"})
		return outcome
	}

	backoffP := newBackoff(t.policy.BackoffInitial, t.policy.BackoffMax)
	maxRetries := t.policy.MaxRetries

	var lastErr error
	var lastKind FailureKind
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			outcome.State = StateCancelled
			outcome.FailureKind = FailCancelled
			outcome.Err = ctx.Err()
			outcome.Finished = time.Now()
			return outcome
		}
		if attempt > 0 {
			t.log.Debug("retrying file", "name", t.item.File.Name, "attempt", attempt, "last_error", lastErr)
			t.emit(ProgressEvent{Event: "retry", Attempt: attempt, Message: fmt.Sprint(lastErr)})
			if !sleepCtx(ctx, backoffP.delay(attempt-1)) {
				outcome.State = StateCancelled
				outcome.FailureKind = FailCancelled
				outcome.Err = ctx.Err()
				outcome.Finished = time.Now()
				return outcome
			}
		}

		bytes, kind, err := t.attempt(ctx, partPath, finalPath)
		outcome.Attempts = attempt + 1
		outcome.Bytes = bytes
		if err == nil {
			outcome.State = StateFinalized
			outcome.Finished = time.Now()
			t.emit(ProgressEvent{Event: "file_done", Bytes: bytes})
			return outcome
		}
		lastErr, lastKind = err, kind
		if !retryable(kind) {
			break
		}
	}

	outcome.State = StateFailed
	outcome.FailureKind = lastKind
	outcome.Err = lastErr
	outcome.Finished = time.Now()
	t.emit(ProgressEvent{Event: "error", Level: "error", Message: fmt.Sprint(lastErr)})
	return outcome
}

func retryable(k FailureKind) bool {
	switch k {
	case FailNotFound, FailForbidden, FailLocalIO, FailCancelled:
		return false
	default:
		return true
	}
}

// attempt runs exactly one probe+stream+verify+finalize pass and reports
// the byte count written and a FailureKind on error.
func (t *downloadTask) attempt(ctx context.Context, partPath, finalPath string) (int64, FailureKind, error) {
	if err := t.rl.wait(ctx); err != nil {
		return 0, FailCancelled, err
	}

	url := fileDownloadURL(t.server, t.dir, t.item.File.Name)
	size, acceptsRanges, lastModified, err := t.cl.headAcceptRanges(ctx, url, t.policy.Token)
	if err != nil {
		return classifyForOutcome(err, t.rl)
	}
	if size <= 0 {
		size = t.item.File.Size
	}

	var resumeFrom int64
	if t.policy.Resume && acceptsRanges {
		if fi, err := os.Stat(partPath); err == nil {
			resumeFrom = fi.Size()
		}
	} else {
		os.Remove(partPath)
	}
	if size > 0 && resumeFrom >= size {
		resumeFrom = 0
		os.Remove(partPath)
	}

	rangeHeader := ""
	if resumeFrom > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-", resumeFrom)
	}

	if err := t.rl.wait(ctx); err != nil {
		return 0, FailCancelled, err
	}
	resp, err := t.cl.openStream(ctx, url, rangeHeader, t.policy.Token)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			resumeFrom = 0
			os.Remove(partPath)
			resp, err = t.cl.openStream(ctx, url, "", t.policy.Token)
		}
		if err != nil {
			return classifyForOutcome(err, t.rl)
		}
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		resumeFrom = 0
	}
	if err := os.MkdirAll(filepath.Dir(partPath), 0o755); err != nil {
		return 0, FailLocalIO, err
	}
	out, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return 0, FailLocalIO, err
	}
	defer out.Close()

	hs := newHashSet(t.item.File)
	if t.policy.Verify && resumeFrom > 0 {
		if err := seedHash(hs, partPath, resumeFrom); err != nil {
			return 0, FailLocalIO, err
		}
	}
	var w io.Writer = out
	if t.policy.Verify {
		w = io.MultiWriter(out, hs)
	}

	buf := make([]byte, bufferSize(t.policy.BufferSize))
	total := resumeFrom
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, FailLocalIO, werr
			}
			total += int64(n)
			t.emit(ProgressEvent{Event: "file_progress", Downloaded: total, Total: size})
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			kind, serr := classifyStreamErr(rerr)
			return total, kind, serr
		}
	}

	if t.item.File.Size >= 0 && total != t.item.File.Size {
		return total, FailShortRead, fmt.Errorf("expected %d bytes, got %d", t.item.File.Size, total)
	}

	if t.policy.Verify {
		if err := hs.verify(t.item.File); err != nil {
			out.Close()
			os.Remove(partPath)
			return total, FailHashMismatch, err
		}
	}
	if err := out.Close(); err != nil {
		return total, FailLocalIO, err
	}

	if t.policy.PreserveMTime && !lastModified.IsZero() {
		_ = os.Chtimes(partPath, lastModified, lastModified)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return total, FailLocalIO, err
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return total, FailLocalIO, err
	}

	if t.policy.Decompress {
		format := detectArchiveFormat(finalPath)
		if format != "" && formatAllowed(format, t.policy.DecompressFormats) {
			destDir := finalPath[:len(finalPath)-len(filepath.Ext(finalPath))]
			t.emit(ProgressEvent{Event: "file_progress", Message: "decompressing"})
			if err := decompress(finalPath, destDir, format); err != nil {
				t.log.Warn("decompression failed", "name", t.item.File.Name, "format", format, "error", err)
				return total, FailDecompressFailed, err
			}
			if !t.policy.KeepCompressedSource {
				os.Remove(finalPath)
			}
		}
	}

	return total, FailNone, nil
}

// seedHash feeds the first n bytes already on disk at path into hs before
// a resumed transfer appends the rest, so the final digest covers the
// whole file rather than just the bytes written in this attempt.
func seedHash(hs *hashSet, path string, n int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.CopyN(hs, f, n)
	return err
}

func bufferSize(n int) int {
	if n < 8*1024 {
		return 256 * 1024
	}
	return n
}

func classifyForOutcome(err error, rl *rateLimiter) (int64, FailureKind, error) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if d, ok := parseRetryAfter(statusErr.RetryAfter); ok {
			rl.pauseFor(d)
		}
		switch statusErr.StatusCode {
		case 404:
			return 0, FailNotFound, err
		case 403:
			return 0, FailForbidden, err
		default:
			return 0, FailNetworkGaveUp, err
		}
	}
	return 0, FailNetworkGaveUp, err
}

func classifyStreamErr(err error) (FailureKind, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailCancelled, err
	}
	return FailNetworkGaveUp, err
}
