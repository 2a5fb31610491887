// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveIdentifier(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"nasa_images", "nasa_images", false},
		{"  nasa_images  ", "nasa_images", false},
		{"https://archive.org/details/nasa_images", "nasa_images", false},
		{"https://archive.org/download/nasa_images/foo.txt", "nasa_images", false},
		{"https://archive.org/metadata/nasa_images", "nasa_images", false},
		{"https://example.com/details/nasa_images", "", true},
		{"ab", "", true}, // too short
		{"", "", true},
		{"has a space", "", true},
	}
	for _, c := range cases {
		got, err := ResolveIdentifier(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ResolveIdentifier(%q) expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveIdentifier(%q) unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ResolveIdentifier(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := rawMetadataDoc{
			Server: "ia801234.us.archive.org",
			Dir:    "/1/items/demo_item",
		}
		doc.Metadata.Identifier = "demo_item"
		doc.Files = []rawFileItem{
			{Name: "demo_item.pdf", Source: "original", Format: "Text PDF", Size: "1024", MD5: "abc"},
			{Name: "demo_item_meta.xml", Source: "metadata", Size: "not-a-number"},
		}
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	cl := newClient("")
	var doc rawMetadataDoc
	if err := cl.getJSON(context.Background(), srv.URL, "", &doc); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if doc.Metadata.Identifier != "demo_item" {
		t.Fatalf("unexpected identifier %q", doc.Metadata.Identifier)
	}
	if len(doc.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(doc.Files))
	}
}

func TestFileDownloadURLUsesDatanode(t *testing.T) {
	got := fileDownloadURL("ia801234.us.archive.org", "/1/items/demo_item", "sub dir/file name.txt")
	want := "https://ia801234.us.archive.org/1/items/demo_item/sub%20dir/file%20name.txt"
	if got != want {
		t.Fatalf("fileDownloadURL() = %q, want %q", got, want)
	}
}

func TestFetchMetadataNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	cl := newClient("")
	var doc rawMetadataDoc
	err := cl.getJSON(context.Background(), srv.URL, "", &doc)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *HTTPStatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", statusErr.StatusCode)
	}
}
