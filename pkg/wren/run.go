// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package wren

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/telekom/wren/internal/logger"
	"github.com/telekom/wren/internal/traceroute"
	"github.com/telekom/wren/pkg/config"
	"github.com/telekom/wren/pkg/wren/metrics"
)

const shutdownTimeout = 5 * time.Second

// Wren is the main struct of the wren application. It owns the decision to
// abort: every fatal condition of the engine surfaces here as a typed error
// and is mapped to the process exit status by the command layer.
type Wren struct {
	// config is the startup configuration of the wren
	config *config.Config
	// metrics is used to collect metrics and manage tracing
	metrics metrics.Provider
	// trace holds the domain metric collectors
	trace traceMetrics
	// out is the stream the per-round report lines go to
	out io.Writer
	// newClient opens the raw socket and builds the probing client;
	// swapped in tests
	newClient func(traceroute.Session) (traceroute.Client, error)
}

// New creates a new wren from a given config
func New(cfg *config.Config) *Wren {
	m := metrics.New(cfg.Telemetry)
	t := newTraceMetrics()
	m.GetRegistry().MustRegister(t.GetCollectors()...)

	return &Wren{
		config:  cfg,
		metrics: m,
		trace:   t,
		out:     os.Stdout,
		newClient: func(session traceroute.Session) (traceroute.Client, error) {
			conn, err := traceroute.NewRawConn()
			if err != nil {
				return nil, err
			}
			return traceroute.NewClient(conn, session), nil
		},
	}
}

// Run traces the route to dest, a dotted-decimal IPv4 address, reporting
// each round on the output stream as it completes. It returns nil when the
// trace ran to completion, whether or not the destination answered.
func (w *Wren) Run(ctx context.Context, dest string) error {
	ctx, cancel := logger.NewContextWithLogger(ctx)
	defer cancel()
	log := logger.FromContext(ctx)

	addr, err := netip.ParseAddr(dest)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("invalid IPv4 network address: %q", dest)
	}

	if err := w.metrics.InitTracing(ctx); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer scancel()
		if serr := w.metrics.Shutdown(sctx); serr != nil {
			log.ErrorContext(ctx, "Failed to shutdown telemetry", "error", serr)
		}
	}()

	if w.config.Telemetry.Enabled {
		w.serveMetrics(ctx)
	}

	session := traceroute.Session{ID: uint16(os.Getpid())} // #nosec G115 // truncation to the 16-bit identifier is intended
	client, err := w.newClient(session)
	if err != nil {
		return fmt.Errorf("could not create a socket: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			log.ErrorContext(ctx, "Failed to close raw socket", "error", cerr)
		}
	}()

	rep := &reporter{out: w.out}
	opts := w.config.Trace
	opts.OnRound = func(res traceroute.RoundResult) {
		rep.Report(res)
		w.trace.Record(dest, res)
	}

	rounds, err := client.Run(ctx, addr, &opts)
	if err != nil {
		return fmt.Errorf("trace to %s failed: %w", dest, err)
	}

	if n := len(rounds); n > 0 && rounds[n-1].Reached() {
		log.DebugContext(ctx, "Trace completed", "dest", dest, "hops", n)
	}
	return nil
}

// serveMetrics exposes the prometheus registry on the configured address.
// The endpoint lives for the duration of the trace; a failing listener is
// logged but does not abort the trace.
func (w *Wren) serveMetrics(ctx context.Context) {
	log := logger.FromContext(ctx)

	router := chi.NewRouter()
	router.Use(logger.Middleware(ctx))
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(w.metrics.GetRegistry(), promhttp.HandlerOpts{}),
	)

	srv := &http.Server{
		Addr:              w.config.Telemetry.Address,
		Handler:           router,
		ReadHeaderTimeout: shutdownTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.ErrorContext(ctx, "Metrics endpoint failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}
