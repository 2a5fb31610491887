// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/klauspost/compress/gzip"
)

// Timeouts from spec §5.
const (
	connectTimeout   = 10 * time.Second
	firstByteTimeout = 30 * time.Second
	idleReadTimeout  = 60 * time.Second
	metadataTimeout  = 30 * time.Second
	chunkTimeout     = 300 * time.Second
	maxRedirects     = 10
)

// ClientErrorKind classifies a transport-level failure (spec §4.1).
type ClientErrorKind string

const (
	ErrKindTimeout    ClientErrorKind = "timeout"
	ErrKindNetwork    ClientErrorKind = "network"
	ErrKindHTTPStatus ClientErrorKind = "http_status"
	ErrKindTLS        ClientErrorKind = "tls"
	ErrKindDecode     ClientErrorKind = "decode"
)

// ClientError wraps a transport failure with its classification.
type ClientError struct {
	Kind ClientErrorKind
	Err  error
}

func (e *ClientError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *ClientError) Unwrap() error { return e.Err }

// client is the single shared, connection-pooled HTTP client described in
// spec §4.1. One instance is built per Request and handed to every
// goroutine the scheduler spawns; *http.Client is safe for concurrent use.
type client struct {
	http      *http.Client
	userAgent string
}

// newClient builds the shared HTTP client: pooled transport (grounded in
// hashicorp/nomad's use of go-cleanhttp), fixed timeouts, and a bounded
// redirect policy.
func newClient(userAgent string) *client {
	tr := cleanhttp.DefaultPooledTransport()
	tr.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	tr.TLSHandshakeTimeout = connectTimeout
	tr.DisableCompression = true // decompression is opt-in per request, see getJSON

	hc := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &client{http: hc, userAgent: userAgent}
}

func (c *client) addHeaders(req *http.Request, token string) {
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// getJSON fetches and decodes a JSON document, with a bounded overall
// timeout and transparent gzip decompression (spec §4.1: "transparent
// decompression for metadata responses only").
func (c *client) getJSON(ctx context.Context, url, token string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ClientError{Kind: ErrKindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	c.addHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	body := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return &ClientError{Kind: ErrKindDecode, Err: err}
		}
		defer gz.Close()
		body = gz
	}

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return &ClientError{Kind: ErrKindDecode, Err: err}
	}
	return nil
}

// streamBody wraps a response body with idle-read and whole-chunk
// timeouts (spec §5): a Read that stalls for 60s, or a chunk that runs
// longer than 300s total, cancels the underlying request context.
type streamBody struct {
	rc        io.ReadCloser
	cancel    context.CancelFunc
	idle      *time.Timer
	chunk     *time.Timer
	closeOnce sync.Once
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.idle.Reset(idleReadTimeout)
	}
	return n, err
}

func (b *streamBody) Close() error {
	b.closeOnce.Do(func() {
		b.idle.Stop()
		b.chunk.Stop()
		b.cancel()
	})
	return b.rc.Close()
}

// openStream issues a GET (optionally with a Range header) and returns
// the response with body reads bound by the idle/chunk timeouts. token is
// the bearer credential, if any; rangeHeader may be empty.
func (c *client) openStream(ctx context.Context, url, rangeHeader, token string) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, &ClientError{Kind: ErrKindNetwork, Err: err}
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	req.Header.Set("Accept-Encoding", "identity")
	c.addHeaders(req, token)

	fbTimer := time.AfterFunc(firstByteTimeout, cancel)
	resp, err := c.http.Do(req)
	fbTimer.Stop()
	if err != nil {
		cancel()
		return nil, classifyErr(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 && resp.StatusCode != 206 {
		defer resp.Body.Close()
		cancel()
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	resp.Body = &streamBody{
		rc:     resp.Body,
		cancel: cancel,
		idle:   time.AfterFunc(idleReadTimeout, cancel),
		chunk:  time.AfterFunc(chunkTimeout, cancel),
	}
	return resp, nil
}

// headAcceptRanges issues a probe request to learn Content-Length and
// whether the server honors byte ranges (spec §4.7 step 3).
func (c *client) headAcceptRanges(ctx context.Context, url, token string) (size int64, acceptsRanges bool, lastModified time.Time, err error) {
	ctx, cancel := context.WithTimeout(ctx, firstByteTimeout)
	defer cancel()

	req, rerr := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if rerr != nil {
		return 0, false, time.Time{}, &ClientError{Kind: ErrKindNetwork, Err: rerr}
	}
	c.addHeaders(req, token)

	resp, derr := c.http.Do(req)
	if derr != nil {
		return 0, false, time.Time{}, classifyErr(derr)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false, time.Time{}, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        url,
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	acceptsRanges = strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
	size = resp.ContentLength
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			lastModified = t
		}
	}
	return size, acceptsRanges, lastModified, nil
}

// classifyErr maps a low-level transport error to a ClientError kind.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Kind: ErrKindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Kind: ErrKindTimeout, Err: err}
	}
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) || strings.Contains(strings.ToLower(err.Error()), "tls:") {
		return &ClientError{Kind: ErrKindTLS, Err: err}
	}
	return &ClientError{Kind: ErrKindNetwork, Err: err}
}
