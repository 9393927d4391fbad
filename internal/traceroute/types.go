// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Signature is the (identifier, sequence) pair stamped into every outgoing
// probe of a round. Responses are correlated with their round by comparing
// this pair, either directly (echo replies) or through the original header
// quoted in a time-exceeded message.
type Signature struct {
	// ID identifies the probing session. It is chosen once per session.
	ID uint16
	// Seq identifies the round within the session. All probes of a round
	// share one sequence number, so a response can be attributed to a round
	// but never to an individual probe of that round.
	Seq uint16
}

// Session carries the per-process probe identity. It is created once by the
// caller and passed into the client rather than read from ambient process
// state, so two clients can run with distinct identities.
type Session struct {
	// ID is the identifier stamped into every probe of this session.
	ID uint16
}

// signature returns the probe signature for one round of the session.
func (s Session) signature(seq uint16) Signature {
	return Signature{ID: s.ID, Seq: seq}
}

// EchoRequest describes the outgoing probes of one round.
type EchoRequest struct {
	// Signature is stamped into the probe header.
	Signature Signature
	// TTL is the IP time-to-live set on the outgoing datagram.
	TTL int
	// Dest is the IPv4 destination address.
	Dest netip.Addr
}

func (e EchoRequest) Validate() error {
	if e.TTL < 1 {
		return fmt.Errorf("invalid ttl: %d, must be at least 1", e.TTL)
	}
	if !e.Dest.IsValid() || !e.Dest.Is4() {
		return fmt.Errorf("invalid destination address: %s, must be IPv4", e.Dest)
	}
	return nil
}

// Options contains the optional configuration for a trace.
type Options struct {
	// MaxHops is the highest TTL probed before the trace gives up.
	MaxHops int `json:"maxHops" yaml:"maxHops" mapstructure:"maxHops"`
	// Timeout is the collection window of a single round. It is armed once
	// per round and never extended.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	// OnRound, when set, is invoked with each completed round before the
	// next round starts. Callers use it to report progress live.
	OnRound func(RoundResult) `json:"-" yaml:"-" mapstructure:"-"`
}

// Default trace parameters, applied by [Options.withDefaults].
const (
	// DefaultMaxHops bounds the TTL sweep.
	DefaultMaxHops = 30
	// DefaultTimeout is the per-round collection window.
	DefaultTimeout = time.Second
)

// maxTTL is the highest value the IP time-to-live field can carry, and
// therefore the ceiling for MaxHops.
const maxTTL = 255

func (o *Options) withDefaults() Options {
	opts := Options{MaxHops: DefaultMaxHops, Timeout: DefaultTimeout}
	if o == nil {
		return opts
	}
	opts.OnRound = o.OnRound
	if o.MaxHops > 0 {
		opts.MaxHops = o.MaxHops
	}
	if o.Timeout > 0 {
		opts.Timeout = o.Timeout
	}
	return opts
}

func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	if o.MaxHops < 0 || o.MaxHops > maxTTL {
		return fmt.Errorf("invalid maxHops: %d, must be between 0 and %d", o.MaxHops, maxTTL)
	}
	if o.Timeout < 0 {
		return errors.New("invalid timeout: must not be negative")
	}
	return nil
}

// RoundKind classifies the outcome of one round.
type RoundKind int

const (
	// RoundTimeout means the collection window elapsed without a single
	// relevant response.
	RoundTimeout RoundKind = iota
	// RoundEchoReply means the destination answered; the trace is complete.
	RoundEchoReply
	// RoundExceeded means intermediate routers reported the TTL expiring.
	// The sample set may be complete or partial, see [ExceededSamples].
	RoundExceeded
)

// EchoReply holds the single measurement of a round answered by the
// destination itself.
type EchoReply struct {
	// Responder is the address the reply came from.
	Responder netip.Addr
	// RTT is the elapsed time between the start of the round and the reply.
	RTT time.Duration
}

// ExceededSamples accumulates time-exceeded evidence for one round: up to
// [probeCount] round-trip times, and the responding addresses deduplicated
// by exact equality. The invariant len(Responders) <= len(RTTs) <= probeCount
// holds at all times.
type ExceededSamples struct {
	// Responders are the unique addresses that reported the TTL expiring.
	Responders []netip.Addr
	// RTTs are the round-trip times of all accepted samples, in arrival
	// order. Duplicate responders still contribute an RTT.
	RTTs []time.Duration
}

// add records one accepted sample. The RTT is always appended; the responder
// only if no equal address is present yet.
func (s *ExceededSamples) add(responder netip.Addr, rtt time.Duration) {
	s.RTTs = append(s.RTTs, rtt)
	for _, a := range s.Responders {
		if a == responder {
			return
		}
	}
	s.Responders = append(s.Responders, responder)
}

// Collected returns the number of accepted samples.
func (s ExceededSamples) Collected() int {
	return len(s.RTTs)
}

// Complete reports whether evidence from all probes of the round arrived.
func (s ExceededSamples) Complete() bool {
	return len(s.RTTs) == probeCount
}

// MeanRTT returns the average of the collected round-trip times.
// It is only meaningful for a complete sample set.
func (s ExceededSamples) MeanRTT() time.Duration {
	if len(s.RTTs) == 0 {
		return 0
	}
	var total time.Duration
	for _, rtt := range s.RTTs {
		total += rtt
	}
	return total / time.Duration(len(s.RTTs))
}

// RoundResult is the single outcome of one round. Exactly one of Reply and
// Exceeded is set, matching Kind; for RoundTimeout both are nil.
type RoundResult struct {
	// TTL is the hop limit probed in this round.
	TTL int
	// Kind tags which variant of the result is populated.
	Kind RoundKind
	// Reply is set when Kind is RoundEchoReply.
	Reply *EchoReply
	// Exceeded is set when Kind is RoundExceeded.
	Exceeded *ExceededSamples
}

// Reached reports whether this round ended the trace successfully.
func (r RoundResult) Reached() bool {
	return r.Kind == RoundEchoReply
}

// String renders the round as one report line: the TTL, up to three unique
// responder addresses left-justified in 15-character fields, and either the
// mean round-trip time in whole milliseconds, "*" for a silent round, or
// "???" for a partial sample set.
func (r RoundResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.", r.TTL)
	switch r.Kind {
	case RoundEchoReply:
		fmt.Fprintf(&sb, " %-15s %dms", r.Reply.Responder, r.Reply.RTT.Milliseconds())
	case RoundExceeded:
		for _, addr := range r.Exceeded.Responders {
			fmt.Fprintf(&sb, " %-15s", addr)
		}
		if r.Exceeded.Complete() {
			fmt.Fprintf(&sb, " %dms", r.Exceeded.MeanRTT().Milliseconds())
		} else {
			sb.WriteString(" ???")
		}
	default:
		sb.WriteString(" *")
	}
	return sb.String()
}
