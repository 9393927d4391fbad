// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEchoRequest_Validate(t *testing.T) {
	dest := netip.MustParseAddr("203.0.113.9")

	tests := []struct {
		name    string
		req     EchoRequest
		wantErr bool
	}{
		{
			name: "valid request",
			req:  EchoRequest{Signature: Signature{ID: 1, Seq: 1}, TTL: 1, Dest: dest},
		},
		{
			name:    "zero ttl",
			req:     EchoRequest{TTL: 0, Dest: dest},
			wantErr: true,
		},
		{
			name:    "negative ttl",
			req:     EchoRequest{TTL: -3, Dest: dest},
			wantErr: true,
		},
		{
			name:    "missing destination",
			req:     EchoRequest{TTL: 1},
			wantErr: true,
		},
		{
			name:    "ipv6 destination",
			req:     EchoRequest{TTL: 1, Dest: netip.MustParseAddr("2001:db8::1")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		opts *Options
		want Options
	}{
		{
			name: "nil options",
			opts: nil,
			want: Options{MaxHops: DefaultMaxHops, Timeout: DefaultTimeout},
		},
		{
			name: "zero values filled in",
			opts: &Options{},
			want: Options{MaxHops: DefaultMaxHops, Timeout: DefaultTimeout},
		},
		{
			name: "explicit values kept",
			opts: &Options{MaxHops: 5, Timeout: 100 * time.Millisecond},
			want: Options{MaxHops: 5, Timeout: 100 * time.Millisecond},
		},
		{
			name: "partial override",
			opts: &Options{MaxHops: 12},
			want: Options{MaxHops: 12, Timeout: DefaultTimeout},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.opts.withDefaults()
			assert.Equal(t, tt.want.MaxHops, got.MaxHops)
			assert.Equal(t, tt.want.Timeout, got.Timeout)
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	var nilOpts *Options
	assert.NoError(t, nilOpts.Validate())
	assert.NoError(t, (&Options{MaxHops: 10, Timeout: time.Second}).Validate())
	assert.NoError(t, (&Options{MaxHops: 255}).Validate())
	assert.Error(t, (&Options{MaxHops: -1}).Validate())
	assert.Error(t, (&Options{MaxHops: 256}).Validate(), "maxHops beyond the ttl ceiling must be rejected")
	assert.Error(t, (&Options{Timeout: -time.Second}).Validate())
}

func TestExceededSamples_Add(t *testing.T) {
	routerA := netip.MustParseAddr("10.0.0.1")
	routerB := netip.MustParseAddr("10.0.0.2")

	var s ExceededSamples
	s.add(routerA, 10*time.Millisecond)
	s.add(routerA, 20*time.Millisecond)
	s.add(routerB, 30*time.Millisecond)

	// Duplicate responders are folded while every sample keeps its timing.
	assert.Equal(t, []netip.Addr{routerA, routerB}, s.Responders)
	assert.Equal(t, 3, s.Collected())
	assert.True(t, s.Complete())
	assert.LessOrEqual(t, len(s.Responders), len(s.RTTs))
	assert.Equal(t, 20*time.Millisecond, s.MeanRTT())
}

func TestExceededSamples_MeanRTT(t *testing.T) {
	var empty ExceededSamples
	assert.Equal(t, time.Duration(0), empty.MeanRTT())

	partial := ExceededSamples{RTTs: []time.Duration{10 * time.Millisecond}}
	assert.False(t, partial.Complete())
	assert.Equal(t, 10*time.Millisecond, partial.MeanRTT())
}

func TestRoundResult_String(t *testing.T) {
	routerA := netip.MustParseAddr("10.0.0.1")
	routerB := netip.MustParseAddr("172.16.254.254")
	dest := netip.MustParseAddr("203.0.113.9")

	tests := []struct {
		name string
		res  RoundResult
		want string
	}{
		{
			name: "timeout",
			res:  RoundResult{TTL: 4, Kind: RoundTimeout},
			want: "4. *",
		},
		{
			name: "echo reply",
			res: RoundResult{
				TTL:   9,
				Kind:  RoundEchoReply,
				Reply: &EchoReply{Responder: dest, RTT: 23 * time.Millisecond},
			},
			want: "9. 203.0.113.9     23ms",
		},
		{
			name: "complete round with one responder",
			res: RoundResult{
				TTL:  2,
				Kind: RoundExceeded,
				Exceeded: &ExceededSamples{
					Responders: []netip.Addr{routerA},
					RTTs:       []time.Duration{10 * time.Millisecond, 12 * time.Millisecond, 14 * time.Millisecond},
				},
			},
			want: "2. 10.0.0.1        12ms",
		},
		{
			name: "complete round with two responders",
			res: RoundResult{
				TTL:  3,
				Kind: RoundExceeded,
				Exceeded: &ExceededSamples{
					Responders: []netip.Addr{routerA, routerB},
					RTTs:       []time.Duration{9 * time.Millisecond, 9 * time.Millisecond, 9 * time.Millisecond},
				},
			},
			want: "3. 10.0.0.1        172.16.254.254  9ms",
		},
		{
			name: "partial evidence",
			res: RoundResult{
				TTL:  5,
				Kind: RoundExceeded,
				Exceeded: &ExceededSamples{
					Responders: []netip.Addr{routerA},
					RTTs:       []time.Duration{10 * time.Millisecond},
				},
			},
			want: "5. 10.0.0.1        ???",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.String())
		})
	}
}

func TestSession_Signature(t *testing.T) {
	s := Session{ID: 0x1234}
	assert.Equal(t, Signature{ID: 0x1234, Seq: 7}, s.signature(7))
}

func TestRoundResult_Reached(t *testing.T) {
	assert.True(t, RoundResult{Kind: RoundEchoReply}.Reached())
	assert.False(t, RoundResult{Kind: RoundExceeded}.Reached())
	assert.False(t, RoundResult{Kind: RoundTimeout}.Reached())
}
