// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget_test

import (
	"context"
	"fmt"

	"github.com/iaget/iaget/pkg/iaget"
)

// ExampleDownload shows the minimal shape of a download session: resolve
// an identifier, apply a filter that keeps only PDFs, and run it.
// It has no "Output:" comment since it talks to the network; it documents
// the call shape rather than asserting a result.
func ExampleDownload() {
	filter := iaget.DefaultFilter()
	filter.IncludePatterns = []string{"*.pdf"}

	req := iaget.Request{
		Input:       "nasa_images",
		OutputDir:   "./downloads",
		Filter:      filter,
		Policy:      iaget.DefaultPolicy(),
		Concurrency: 4,
	}

	report := iaget.Download(context.Background(), req)
	fmt.Println(report.Identifier, report.Exit)
}
