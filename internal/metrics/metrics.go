// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes a Prometheus endpoint reporting request, byte,
// and retry counters for a running download session.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the counters and histograms a session updates as it runs.
type Collector struct {
	Requests  *prometheus.CounterVec
	Bytes     prometheus.Counter
	Duration  prometheus.Histogram
	Retries   prometheus.Counter
	Inflight  prometheus.Gauge
	Processed *prometheus.CounterVec
}

// NewCollector registers a fresh set of metrics on its own registry, so
// multiple sessions in the same process (e.g. under test) don't collide.
func NewCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iaget",
			Name:      "http_requests_total",
			Help:      "Outbound requests to archive.org, by outcome.",
		}, []string{"outcome"}),
		Bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "iaget",
			Name:      "bytes_downloaded_total",
			Help:      "Total bytes written to disk across all files.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "iaget",
			Name:      "file_duration_seconds",
			Help:      "Time to finalize a single file, from first attempt to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "iaget",
			Name:      "retries_total",
			Help:      "Total retry attempts across all files.",
		}),
		Inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "iaget",
			Name:      "files_inflight",
			Help:      "Files currently in a non-terminal state.",
		}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iaget",
			Name:      "files_processed_total",
			Help:      "Files reaching a terminal state, by final state.",
		}, []string{"state"}),
	}
	return c, reg
}

// Serve starts a blocking HTTP server exposing reg on /metrics. It returns
// once ctx is cancelled or the listener fails.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
