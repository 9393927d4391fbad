// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/telekom/wren/internal/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Client = (*icmpClient)(nil)

// Client is able to run a trace to a single destination.
type Client interface {
	// Run executes the trace for the given destination with the specified
	// options. It returns the completed rounds in TTL order; the trace was
	// successful when the last round reached the destination.
	Run(ctx context.Context, dest netip.Addr, opts *Options) ([]RoundResult, error)
	// Close releases the underlying socket.
	Close() error
}

// icmpClient drives one round of probing per TTL over a shared raw socket.
// Rounds execute strictly sequentially; the socket is owned by the client
// for the lifetime of the trace.
type icmpClient struct {
	conn    packetConn
	session Session
	sender  *sender
	coll    *collector
}

// NewClient creates a traceroute client probing with the given session
// identity. The client takes ownership of the connection; Close releases it.
func NewClient(conn *RawConn, session Session) Client {
	return newICMPClient(conn, session)
}

func newICMPClient(conn packetConn, session Session) *icmpClient {
	return &icmpClient{
		conn:    conn,
		session: session,
		sender:  &sender{conn: conn},
		coll:    &collector{conn: conn},
	}
}

func (c *icmpClient) Close() error {
	return c.conn.Close()
}

func (c *icmpClient) Run(ctx context.Context, dest netip.Addr, opts *Options) ([]RoundResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	o := opts.withDefaults()

	log := logger.FromContext(ctx)
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer("traceroute.icmpClient")
	ctx, sp := tracer.Start(ctx, "Run", trace.WithAttributes(
		attribute.Stringer("traceroute.dest", dest),
		attribute.Int("traceroute.options.max_hops", o.MaxHops),
		attribute.Stringer("traceroute.options.timeout", o.Timeout),
	))
	defer sp.End()

	log.InfoContext(ctx, "Starting trace", "dest", dest, "maxHops", o.MaxHops, "timeout", o.Timeout)

	var rounds []RoundResult
	for ttl := 1; ttl <= o.MaxHops; ttl++ {
		res, err := c.round(ctx, tracer, dest, ttl, o)
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, "Trace aborted")
			return rounds, err
		}

		rounds = append(rounds, res)
		if o.OnRound != nil {
			o.OnRound(res)
		}
		if res.Reached() {
			log.InfoContext(ctx, "Destination reached", "dest", dest, "ttl", ttl, "rtt", res.Reply.RTT)
			return rounds, nil
		}
	}

	log.InfoContext(ctx, "Trace ended without reaching the destination", "dest", dest, "maxHops", o.MaxHops)
	return rounds, nil
}

// round sends the probes for one TTL and collects their responses. All
// probes of a round share one signature with the sequence number set to the
// TTL, and one collection window decides the round.
func (c *icmpClient) round(ctx context.Context, tracer trace.Tracer, dest netip.Addr, ttl int, opts Options) (RoundResult, error) {
	ctx, span := tracer.Start(ctx, "round", trace.WithAttributes(
		attribute.Stringer("traceroute.dest", dest),
		attribute.Int("traceroute.ttl", ttl),
	))
	defer span.End()

	req := EchoRequest{
		Signature: c.session.signature(uint16(ttl)), // #nosec G115 // ttl is bounded by MaxHops, which Validate caps at 255
		TTL:       ttl,
		Dest:      dest,
	}
	if err := c.sender.send(ctx, req); err != nil {
		return RoundResult{}, wrapError(ctx, err, "failed to send probes", "ttl", ttl)
	}

	res, err := c.coll.collect(ctx, req.Signature, opts.Timeout)
	if err != nil {
		return RoundResult{}, wrapError(ctx, err, "failed to collect responses", "ttl", ttl)
	}

	res.TTL = ttl
	span.AddEvent("Round classified", trace.WithAttributes(
		attribute.Stringer("traceroute.round", res),
		attribute.Bool("traceroute.reached", res.Reached()),
	))
	return res, nil
}
