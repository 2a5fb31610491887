// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iaget/iaget/internal/metrics"
	"github.com/iaget/iaget/pkg/iaget"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	Token       string
	JSONOut     bool
	Quiet       bool
	Verbose     bool
	Config      string
	LogFile     string
	LogLevel    string
	MetricsAddr string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "iaget",
		Short:         "Fast, resumable downloader for archive.org items",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "archive.org access token (also reads IA_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, plan, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal logs)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&ro.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090) while downloading")

	downloadCmd := newDownloadCmd(ctx, ro)
	root.AddCommand(downloadCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())

	root.RunE = downloadCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// downloadFlags mirrors the pieces of iaget.Request/Filter/Policy the CLI
// exposes as flags; finalize() folds it into the real structures.
type downloadFlags struct {
	outputDir          string
	concurrency        int
	perHostConcurrency int
	includePatterns    []string
	excludePatterns    []string
	includeSubfolders  []string
	excludeSubfolders  []string
	includeFormats     []string
	excludeFormats     []string
	useRegex           bool
	minSize            string
	maxSize            string
	noOriginal         bool
	noDerivative       bool
	noMetadata         bool
	retries            int
	resume             bool
	verify             bool
	decompress         bool
	keepCompressed     bool
}

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	flags := &downloadFlags{}
	var dryRun bool
	var planFmt string

	cmd := &cobra.Command{
		Use:   "download [IDENTIFIER]",
		Short: "Download files belonging to an archive.org item",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applyConfigDefaults(cmd, ro)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := finalize(ro, flags, args)
			if err != nil {
				return err
			}

			level := hclog.LevelFromString(ro.LogLevel)
			if ro.Verbose {
				level = hclog.Debug
			}
			var logOut io.Writer = os.Stderr
			if ro.LogFile != "" {
				lf, err := os.OpenFile(ro.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("--log-file: %w", err)
				}
				defer lf.Close()
				logOut = io.MultiWriter(os.Stderr, lf)
			}
			logger := hclog.New(&hclog.LoggerOptions{
				Name:   "iaget",
				Level:  level,
				Output: logOut,
			})
			req.Logger = logger

			if dryRun {
				return runPlanOnly(ctx, req, ro.JSONOut || strings.EqualFold(planFmt, "json"))
			}

			var collector *metrics.Collector
			if ro.MetricsAddr != "" {
				var reg *prometheus.Registry
				collector, reg = metrics.NewCollector()
				go func() {
					if err := metrics.Serve(ctx, ro.MetricsAddr, reg); err != nil {
						logger.Warn("metrics server stopped", "error", err)
					}
				}()
			}

			req.Progress = wrapWithMetrics(progressSink(ro), collector)

			report := iaget.Download(ctx, req)
			return renderReport(ro, report)
		},
	}

	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "Downloads", "Destination base directory")
	cmd.Flags().IntVarP(&flags.concurrency, "connections", "c", 3, "Concurrent file downloads")
	cmd.Flags().IntVar(&flags.perHostConcurrency, "per-host", 0, "Per-host concurrency cap (defaults to --connections)")

	cmd.Flags().StringSliceVarP(&flags.includePatterns, "include", "i", nil, "Include files whose basename matches this pattern (repeatable)")
	cmd.Flags().StringSliceVarP(&flags.excludePatterns, "exclude", "x", nil, "Exclude files whose basename matches this pattern (repeatable)")
	cmd.Flags().StringSliceVar(&flags.includeSubfolders, "include-subfolder", nil, "Include only files under this parent folder (repeatable)")
	cmd.Flags().StringSliceVar(&flags.excludeSubfolders, "exclude-subfolder", nil, "Exclude files under this parent folder (repeatable)")
	cmd.Flags().StringSliceVar(&flags.includeFormats, "include-format", nil, "Include only files with this extension/format (repeatable)")
	cmd.Flags().StringSliceVar(&flags.excludeFormats, "exclude-format", nil, "Exclude files with this extension/format (repeatable)")
	cmd.Flags().BoolVar(&flags.useRegex, "regex", false, "Treat include/exclude patterns as POSIX-extended regular expressions")
	cmd.Flags().StringVar(&flags.minSize, "min-size", "", "Minimum file size, e.g. 10MB")
	cmd.Flags().StringVar(&flags.maxSize, "max-size", "", "Maximum file size, e.g. 2GB")
	cmd.Flags().BoolVar(&flags.noOriginal, "no-original", false, "Exclude files sourced as \"original\"")
	cmd.Flags().BoolVar(&flags.noDerivative, "no-derivative", false, "Exclude files sourced as \"derivative\"")
	cmd.Flags().BoolVar(&flags.noMetadata, "no-metadata", false, "Exclude files sourced as \"metadata\"")

	cmd.Flags().IntVar(&flags.retries, "retries", 3, "Max retry attempts per file")
	cmd.Flags().BoolVar(&flags.resume, "resume", true, "Resume partially downloaded files via HTTP Range")
	cmd.Flags().BoolVar(&flags.verify, "verify", true, "Verify file hashes declared in item metadata")
	cmd.Flags().BoolVar(&flags.decompress, "decompress", false, "Decompress recognized archive formats after download")
	cmd.Flags().BoolVar(&flags.keepCompressed, "keep-compressed", true, "Keep the compressed source file after decompression")

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan only: print the selected files and exit")
	cmd.Flags().StringVar(&planFmt, "plan-format", "table", "Plan output format for --dry-run: table|json")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(ro *RootOpts, flags *downloadFlags, args []string) (iaget.Request, error) {
	if len(args) == 0 {
		return iaget.Request{}, fmt.Errorf("missing IDENTIFIER (an item id or a details/metadata URL)")
	}

	filter := iaget.DefaultFilter()
	filter.IncludePatterns = flags.includePatterns
	filter.ExcludePatterns = flags.excludePatterns
	filter.IncludeSubfolders = flags.includeSubfolders
	filter.ExcludeSubfolders = flags.excludeSubfolders
	filter.IncludeFormats = flags.includeFormats
	filter.ExcludeFormats = flags.excludeFormats
	filter.UseRegex = flags.useRegex
	filter.IncludeOriginal = !flags.noOriginal
	filter.IncludeDerivative = !flags.noDerivative
	filter.IncludeMetadata = !flags.noMetadata

	if flags.minSize != "" {
		n, err := parseSize(flags.minSize)
		if err != nil {
			return iaget.Request{}, fmt.Errorf("--min-size: %w", err)
		}
		filter.MinSize = &n
	}
	if flags.maxSize != "" {
		n, err := parseSize(flags.maxSize)
		if err != nil {
			return iaget.Request{}, fmt.Errorf("--max-size: %w", err)
		}
		filter.MaxSize = &n
	}

	policy := iaget.DefaultPolicy()
	policy.MaxRetries = flags.retries
	policy.Resume = flags.resume
	policy.Verify = flags.verify
	policy.Decompress = flags.decompress
	policy.KeepCompressedSource = flags.keepCompressed

	tok := strings.TrimSpace(ro.Token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("IA_TOKEN"))
	}

	req := iaget.Request{
		Input:              args[0],
		OutputDir:          flags.outputDir,
		Filter:             filter,
		Policy:             policy,
		Concurrency:        flags.concurrency,
		PerHostConcurrency: flags.perHostConcurrency,
		Token:              tok,
	}
	return req, nil
}

func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

func runPlanOnly(ctx context.Context, req iaget.Request, asJSON bool) error {
	plan, err := iaget.Plan(ctx, req)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	fmt.Printf("%s: %d file(s) selected, %s total\n", plan.Identifier, len(plan.Items), humanize.Bytes(uint64(plan.TotalBytes)))
	for _, it := range plan.Items {
		size := "unknown size"
		if it.File.Size >= 0 {
			size = humanize.Bytes(uint64(it.File.Size))
		}
		fmt.Printf("  %s (%s)\n", it.Dest, size)
	}
	return nil
}

func renderReport(ro *RootOpts, report *iaget.SessionReport) error {
	if ro.JSONOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("%s: %s (%d ok, %d failed)\n", report.Identifier, report.Exit, report.Succeeded(), report.Failed())
	for _, o := range report.Outcomes {
		switch o.State {
		case iaget.StateFailed:
			fmt.Printf("  FAILED  %s: %v\n", o.Dest, o.Err)
		case iaget.StateSkipped:
			fmt.Printf("  skip    %s\n", o.Dest)
		default:
			fmt.Printf("  done    %s (%d bytes)\n", o.Dest, o.Bytes)
		}
	}
	if report.Exit == iaget.ExitFatalError {
		return report.Err
	}
	if report.Exit == iaget.ExitPartialFailure {
		return report.Err
	}
	return nil
}

func applyConfigDefaults(cmd *cobra.Command, ro *RootOpts) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		for _, candidate := range []string{
			filepath.Join(home, ".config", "iaget.json"),
			filepath.Join(home, ".config", "iaget.yaml"),
			filepath.Join(home, ".config", "iaget.yml"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg map[string]any
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	if !cmd.Flags().Changed("token") && os.Getenv("IA_TOKEN") == "" {
		if v, ok := cfg["token"]; ok && v != nil {
			ro.Token = fmt.Sprint(v)
		}
	}

	for _, name := range []string{"output", "connections", "per-host", "retries", "resume", "verify", "decompress", "metrics-addr"} {
		v, ok := cfg[name]
		if !ok || v == nil || cmd.Flags().Changed(name) {
			continue
		}
		if err := cmd.Flags().Set(name, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("config file %q: %w", name, err)
		}
	}

	return nil
}

// progressSink builds the user-facing progress handler selected by the
// root flags: JSON lines, quiet text, or a normal text stream.
func progressSink(ro *RootOpts) iaget.ProgressFunc {
	if ro.JSONOut {
		return jsonProgress(os.Stdout)
	}
	if ro.Quiet {
		return func(ev iaget.ProgressEvent) {
			if ev.Event == "error" {
				fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
			}
		}
	}
	return textProgress()
}

func textProgress() iaget.ProgressFunc {
	return func(ev iaget.ProgressEvent) {
		switch ev.Event {
		case "retry":
			fmt.Printf("retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "file_start":
			fmt.Printf("downloading: %s (%d bytes)\n", ev.Path, ev.Total)
		case "file_done":
			if ev.Message != "" {
				fmt.Printf("done: %s (%s)\n", ev.Path, ev.Message)
			} else {
				fmt.Printf("done: %s\n", ev.Path)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", ev.Path, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) iaget.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev iaget.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// wrapWithMetrics updates a Collector from the ProgressEvent stream
// without threading metrics types through pkg/iaget. A nil collector
// makes this a passthrough.
func wrapWithMetrics(next iaget.ProgressFunc, c *metrics.Collector) iaget.ProgressFunc {
	if c == nil {
		return next
	}
	var mu sync.Mutex
	lastBytes := make(map[string]int64)
	startTimes := make(map[string]time.Time)

	return func(ev iaget.ProgressEvent) {
		switch ev.Event {
		case "file_start":
			c.Inflight.Inc()
			mu.Lock()
			startTimes[ev.Path] = ev.Time
			mu.Unlock()
		case "retry":
			c.Retries.Inc()
		case "file_progress":
			mu.Lock()
			delta := ev.Downloaded - lastBytes[ev.Path]
			lastBytes[ev.Path] = ev.Downloaded
			mu.Unlock()
			if delta > 0 {
				c.Bytes.Add(float64(delta))
			}
		case "file_done":
			c.Inflight.Dec()
			c.Processed.WithLabelValues("finalized").Inc()
			c.Requests.WithLabelValues("success").Inc()
			mu.Lock()
			started, ok := startTimes[ev.Path]
			delete(startTimes, ev.Path)
			mu.Unlock()
			if ok {
				c.Duration.Observe(ev.Time.Sub(started).Seconds())
			}
		case "error":
			c.Inflight.Dec()
			c.Processed.WithLabelValues("failed").Inc()
			c.Requests.WithLabelValues("error").Inc()
			mu.Lock()
			delete(startTimes, ev.Path)
			mu.Unlock()
		}
		if next != nil {
			next(ev)
		}
	}
}
