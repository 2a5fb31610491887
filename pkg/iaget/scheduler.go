// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// PlanResult is the filtered file selection a session would download,
// computed without any file transfer (spec SUPPLEMENTED FEATURES:
// dry-run/plan preview).
type PlanResult struct {
	Identifier string
	Items      []PlanItem
	TotalBytes int64 // sum of declared sizes; unknown-size files don't contribute
}

// Plan resolves the identifier, fetches metadata, and applies req.Filter,
// returning the file selection a call to Download with the same Request
// would act on. It issues the same metadata request Download does but
// never opens a file download stream.
func Plan(ctx context.Context, req Request) (*PlanResult, error) {
	identifier, err := ResolveIdentifier(req.Input)
	if err != nil {
		return nil, err
	}

	cl := newClient(req.Policy.UserAgent)
	md, err := cl.fetchMetadata(ctx, identifier, req.Token)
	if err != nil {
		return nil, err
	}

	items, err := applyFilter(md.Files, req.Filter)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, it := range items {
		if it.File.Size > 0 {
			total += it.File.Size
		}
	}

	return &PlanResult{Identifier: identifier, Items: items, TotalBytes: total}, nil
}

// Download runs one full session: resolve the identifier, fetch metadata,
// apply the filter, and schedule the surviving files under bounded
// parallelism (spec §4.9). It always returns a SessionReport; a session
// that fails before any file download begins sets Exit to
// ExitFatalError and leaves Outcomes empty.
func Download(ctx context.Context, req Request) *SessionReport {
	started := time.Now()
	logger := req.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	identifier, err := ResolveIdentifier(req.Input)
	if err != nil {
		return fatalReport(req.Input, started, err)
	}

	cl := newClient(req.Policy.UserAgent)
	rl := newRateLimiter()

	if err := rl.wait(ctx); err != nil {
		return fatalReport(identifier, started, err)
	}
	md, err := cl.fetchMetadata(ctx, identifier, req.Token)
	if err != nil {
		return fatalReport(identifier, started, err)
	}

	items, err := applyFilter(md.Files, req.Filter)
	if err != nil {
		return fatalReport(identifier, started, err)
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	outputDir = outputDir + "/" + identifier

	policy := req.Policy
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = DefaultPolicy().MaxRetries
	}
	if policy.BackoffInitial <= 0 {
		policy.BackoffInitial = DefaultPolicy().BackoffInitial
	}
	if policy.BackoffMax <= 0 {
		policy.BackoffMax = DefaultPolicy().BackoffMax
	}
	if policy.UserAgent == "" {
		policy.UserAgent = DefaultUserAgent
	}
	policy.Token = req.Token

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	perHost := req.PerHostConcurrency
	if perHost <= 0 {
		perHost = concurrency
	}

	report := &SessionReport{
		Identifier: identifier,
		Outcomes:   make([]FileOutcome, len(items)),
		Started:    started,
	}

	sched := &scheduler{
		global:  make(chan struct{}, concurrency),
		perHost: make(chan struct{}, perHost),
	}

	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.acquire(ctx)
			defer sched.release()

			task := &downloadTask{
				identifier: identifier,
				server:     md.Server,
				dir:        md.Dir,
				item:       item,
				outputDir:  outputDir,
				policy:     policy,
				cl:         cl,
				rl:         rl,
				progress:   req.Progress,
				log:        logger,
			}
			report.Outcomes[i] = task.run(ctx)
		}()
	}
	wg.Wait()

	report.Finished = time.Now()
	report.Exit = classifySessionExit(ctx, report.Outcomes)
	if report.Exit == ExitPartialFailure || report.Exit == ExitFatalError {
		report.Err = collectFailures(report.Outcomes)
	}
	return report
}

// scheduler bounds how many downloadTask goroutines may run concurrently,
// globally and per host (spec §4.9). All items in this tool target the
// same archive.org host, so the per-host gate is a second, typically
// tighter, slot pool layered on top of the global one.
type scheduler struct {
	global  chan struct{}
	perHost chan struct{}
}

func (s *scheduler) acquire(ctx context.Context) {
	select {
	case s.global <- struct{}{}:
	case <-ctx.Done():
		return
	}
	select {
	case s.perHost <- struct{}{}:
	case <-ctx.Done():
		<-s.global
		return
	}
}

func (s *scheduler) release() {
	select {
	case <-s.perHost:
	default:
	}
	select {
	case <-s.global:
	default:
	}
}

func fatalReport(identifier string, started time.Time, err error) *SessionReport {
	return &SessionReport{
		Identifier: identifier,
		Exit:       ExitFatalError,
		Err:        err,
		Started:    started,
		Finished:   time.Now(),
	}
}

// collectFailures combines every failed file's error into one, so a
// caller that only checks report.Err still sees every failure rather
// than just the last one observed.
func collectFailures(outcomes []FileOutcome) error {
	var merr *multierror.Error
	for _, o := range outcomes {
		if o.State == StateFailed && o.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}
	return merr.ErrorOrNil()
}

// classifySessionExit implements spec §7: Cancelled takes priority, then
// FatalError "iff no file finished" (every selected file failed and none
// succeeded), then PartialFailure if only some failed, else Success.
func classifySessionExit(ctx context.Context, outcomes []FileOutcome) ExitCode {
	if ctx.Err() != nil {
		return ExitCancelled
	}

	var succeeded, failed int
	for _, o := range outcomes {
		switch o.State {
		case StateFinalized, StateSkipped:
			succeeded++
		case StateFailed:
			failed++
		}
	}

	switch {
	case failed > 0 && succeeded == 0:
		return ExitFatalError
	case failed > 0:
		return ExitPartialFailure
	default:
		return ExitSuccess
	}
}
