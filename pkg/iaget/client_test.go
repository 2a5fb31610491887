// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHeadAcceptRanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "42")
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	}))
	defer srv.Close()

	cl := newClient("")
	size, ranges, mtime, err := cl.headAcceptRanges(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("headAcceptRanges: %v", err)
	}
	if size != 42 {
		t.Errorf("size = %d, want 42", size)
	}
	if !ranges {
		t.Error("expected Accept-Ranges: bytes to report true")
	}
	if mtime.IsZero() {
		t.Error("expected a parsed Last-Modified time")
	}
}

func TestOpenStreamRange(t *testing.T) {
	body := "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rng := r.Header.Get("Range"); rng == "bytes=5-" {
			w.Header().Set("Content-Range", "bytes 5-9/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte(body[5:]))
			return
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	cl := newClient("")
	resp, err := cl.openStream(context.Background(), srv.URL, "bytes=5-", "")
	if err != nil {
		t.Fatalf("openStream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	buf := make([]byte, 16)
	n, _ := resp.Body.Read(buf)
	if string(buf[:n]) != "56789" {
		t.Fatalf("got %q, want %q", buf[:n], "56789")
	}
}

func TestOpenStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cl := newClient("")
	_, err := cl.openStream(context.Background(), srv.URL, "", "")
	if err == nil {
		t.Fatal("expected an error for a 403 response")
	}
}
