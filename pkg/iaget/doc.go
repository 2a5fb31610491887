// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package iaget downloads files belonging to an archive.org item: it
// resolves a user-supplied identifier or URL, fetches the item's metadata
// document, applies an include/exclude filter over the listed files, and
// streams the surviving files to disk with resumable, verified,
// bounded-parallelism downloads.
//
// The entry point is Download, which runs one session to completion (or
// cancellation) and returns a SessionReport describing the outcome of
// every planned file.
package iaget
