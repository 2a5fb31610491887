// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// identifierPattern is the archive item identifier grammar from spec §4.2.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,100}$`)

const (
	metadataURLTemplate = "https://archive.org/metadata/%s"
	detailsURLTemplate  = "https://archive.org/details/%s"

	// fileURLTemplate is the per-item datanode form from spec §3/§6:
	// "https://{server}{dir}/{name}" — archive.org serves file bytes from
	// a per-item host (e.g. ia801234.us.archive.org), not the front door.
	fileURLTemplate = "https://%s%s/%s"
)

// FileEntry is one file listed in an item's metadata document (spec §4.3).
type FileEntry struct {
	Name     string // path relative to the item root, "/"-separated
	Source   string // "original", "derivative", or "metadata"
	Format   string
	Size     int64 // -1 if the metadata document omits or cannot parse a size
	MD5      string
	SHA1     string
	SHA256   string
	Mtime    string
	Original string // for derivatives, the name of the file it was derived from
}

// ItemMetadata is the parsed form of an item's /metadata/<id> document,
// trimmed to the fields this tool needs (spec §4.2, §4.3).
type ItemMetadata struct {
	Identifier string
	Server     string
	Dir        string
	Files      []FileEntry
}

// rawMetadataDoc mirrors the archive.org metadata JSON shape.
type rawMetadataDoc struct {
	Metadata struct {
		Identifier string `json:"identifier"`
	} `json:"metadata"`
	Server string        `json:"server"`
	Dir    string        `json:"dir"`
	Files  []rawFileItem `json:"files"`
}

type rawFileItem struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Format   string `json:"format"`
	Size     string `json:"size"`
	MD5      string `json:"md5"`
	SHA1     string `json:"sha1"`
	SHA256   string `json:"sha256"`
	Mtime    string `json:"mtime"`
	Original string `json:"original"`
}

// ResolveIdentifier extracts and validates an archive item identifier from
// user input, which may be a bare identifier or a metadata/details/download
// URL (spec §4.2).
func ResolveIdentifier(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrInvalidIdentifier
	}

	if !strings.Contains(input, "://") {
		if identifierPattern.MatchString(input) {
			return input, nil
		}
		return "", ErrInvalidIdentifier
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", ErrInvalidIdentifier
	}
	host := strings.ToLower(u.Hostname())
	if host != "archive.org" && !strings.HasSuffix(host, ".archive.org") {
		return "", ErrInvalidIdentifier
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, kind := range segs {
		switch kind {
		case "metadata", "details", "download":
			if i+1 < len(segs) && identifierPattern.MatchString(segs[i+1]) {
				return segs[i+1], nil
			}
		}
	}
	return "", ErrInvalidIdentifier
}

// metadataURL builds the canonical metadata endpoint for an identifier.
func metadataURL(identifier string) string {
	return fmt.Sprintf(metadataURLTemplate, identifier)
}

// fileDownloadURL builds the canonical download URL for one of an item's
// files, from the datanode server and dir the metadata document reported
// for the item (spec §3: "download_url: derived as
// https://{server}{dir}/{name}").
func fileDownloadURL(server, dir, name string) string {
	return fmt.Sprintf(fileURLTemplate, server, dir, pathEscapeSegments(name))
}

func pathEscapeSegments(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// fetchMetadata retrieves and parses an item's metadata document, applying
// the edge-case rules from spec §4.3: files with a non-numeric or missing
// "size" are kept with Size -1 rather than dropped, since the downloader
// treats an unknown declared size as "accept whatever arrives".
func (c *client) fetchMetadata(ctx context.Context, identifier, token string) (*ItemMetadata, error) {
	var doc rawMetadataDoc
	if err := c.getJSON(ctx, metadataURL(identifier), token, &doc); err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			switch statusErr.StatusCode {
			case 404:
				return nil, fmt.Errorf("%s: %w", identifier, ErrNotFound)
			case 403:
				return nil, fmt.Errorf("%s: %w", identifier, ErrForbidden)
			case 429:
				return nil, fmt.Errorf("%s: %w", identifier, ErrRateLimited)
			}
		}
		var clientErr *ClientError
		if errors.As(err, &clientErr) && clientErr.Kind == ErrKindDecode {
			return nil, fmt.Errorf("%s: %w: %v", identifier, ErrDecode, clientErr.Err)
		}
		return nil, err
	}

	if doc.Metadata.Identifier == "" || len(doc.Files) == 0 {
		return nil, fmt.Errorf("%s: %w", identifier, ErrNotFound)
	}

	out := &ItemMetadata{
		Identifier: doc.Metadata.Identifier,
		Server:     doc.Server,
		Dir:        doc.Dir,
		Files:      make([]FileEntry, 0, len(doc.Files)),
	}
	for _, f := range doc.Files {
		if f.Name == "" {
			continue
		}
		size := int64(-1)
		if f.Size != "" {
			if n, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
				size = n
			}
		}
		source := f.Source
		if source == "" {
			source = "original"
		}
		out.Files = append(out.Files, FileEntry{
			Name:     f.Name,
			Source:   source,
			Format:   f.Format,
			Size:     size,
			MD5:      f.MD5,
			SHA1:     f.SHA1,
			SHA256:   f.SHA256,
			Mtime:    f.Mtime,
			Original: f.Original,
		})
	}
	return out, nil
}
