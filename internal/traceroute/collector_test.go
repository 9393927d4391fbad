// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

var _ packetConn = (*fakeSocket)(nil)

type sentProbe struct {
	payload []byte
	dst     netip.Addr
	ttl     int
}

type fakeDatagram struct {
	payload []byte
	from    netip.Addr
}

// fakeSocket scripts the socket behavior seen by the sender and collector.
// Each batch is delivered after one readable wake; draining a batch ends
// with a would-block error. An empty batch list means the wait sleeps its
// full budget and times out, like a quiet select(2). The first interrupts
// waits return immediately without data, like a signal-interrupted wait.
type fakeSocket struct {
	sent       []sentProbe
	batches    [][]fakeDatagram
	waits      []time.Duration
	interrupts int
	sendErr    error
	recvErr    error
	waitErr    error
	closed     bool
}

func (f *fakeSocket) SendTo(b []byte, dst netip.Addr, ttl int) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	payload := make([]byte, len(b))
	copy(payload, b)
	f.sent = append(f.sent, sentProbe{payload: payload, dst: dst, ttl: ttl})
	return len(b), nil
}

func (f *fakeSocket) RecvFrom(b []byte) (int, netip.Addr, error) {
	if f.recvErr != nil {
		return 0, netip.Addr{}, f.recvErr
	}
	if len(f.batches) == 0 {
		return 0, netip.Addr{}, unix.EAGAIN
	}
	if len(f.batches[0]) == 0 {
		f.batches = f.batches[1:]
		return 0, netip.Addr{}, unix.EAGAIN
	}

	d := f.batches[0][0]
	f.batches[0] = f.batches[0][1:]
	n := copy(b, d.payload)
	return n, d.from, nil
}

func (f *fakeSocket) WaitReadable(d time.Duration) (bool, error) {
	f.waits = append(f.waits, d)
	if f.waitErr != nil {
		return false, f.waitErr
	}
	if f.interrupts > 0 {
		f.interrupts--
		return false, nil
	}
	if len(f.batches) == 0 {
		time.Sleep(d)
		return false, nil
	}
	return true, nil
}

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

// exceededFrom builds a full IPv4 datagram carrying a time-exceeded message
// for the given signature, sent by from.
func exceededFrom(t *testing.T, from netip.Addr, sig Signature) fakeDatagram {
	t.Helper()
	return fakeDatagram{
		payload: buildDatagram(t, 20, from, buildTimeExceeded(t, 20, sig)),
		from:    from,
	}
}

// replyFrom builds a full IPv4 datagram carrying an echo reply for the given
// signature, sent by from.
func replyFrom(t *testing.T, from netip.Addr, sig Signature) fakeDatagram {
	t.Helper()
	return fakeDatagram{
		payload: buildDatagram(t, 20, from, buildEchoReply(t, sig)),
		from:    from,
	}
}

func TestCollector_Collect(t *testing.T) {
	sig := Signature{ID: 0x1111, Seq: 4}
	routerA := netip.MustParseAddr("10.0.0.1")
	routerB := netip.MustParseAddr("10.0.0.2")
	dest := netip.MustParseAddr("203.0.113.9")

	tests := []struct {
		name      string
		batches   [][]fakeDatagram
		wantKind  RoundKind
		wantAddrs []netip.Addr
		wantNum   int
	}{
		{
			name:     "no traffic times out",
			batches:  nil,
			wantKind: RoundTimeout,
		},
		{
			name: "three samples complete the round",
			batches: [][]fakeDatagram{{
				exceededFrom(t, routerA, sig),
				exceededFrom(t, routerA, sig),
				exceededFrom(t, routerB, sig),
			}},
			wantKind:  RoundExceeded,
			wantAddrs: []netip.Addr{routerA, routerB},
			wantNum:   3,
		},
		{
			name: "samples accumulate across wakes",
			batches: [][]fakeDatagram{
				{exceededFrom(t, routerA, sig)},
				{exceededFrom(t, routerB, sig)},
				{exceededFrom(t, routerB, sig)},
			},
			wantKind:  RoundExceeded,
			wantAddrs: []netip.Addr{routerA, routerB},
			wantNum:   3,
		},
		{
			name: "partial evidence when the window closes",
			batches: [][]fakeDatagram{{
				exceededFrom(t, routerA, sig),
				exceededFrom(t, routerB, sig),
			}},
			wantKind:  RoundExceeded,
			wantAddrs: []netip.Addr{routerA, routerB},
			wantNum:   2,
		},
		{
			name: "echo reply wins over accumulated samples",
			batches: [][]fakeDatagram{{
				exceededFrom(t, routerA, sig),
				replyFrom(t, dest, sig),
				exceededFrom(t, routerB, sig),
			}},
			wantKind: RoundEchoReply,
		},
		{
			name: "foreign and malformed traffic is discarded",
			batches: [][]fakeDatagram{{
				replyFrom(t, dest, Signature{ID: 0x2222, Seq: 4}),
				exceededFrom(t, routerA, Signature{ID: 0x1111, Seq: 5}),
				{payload: []byte{0x45, 0x00}, from: routerA},
				exceededFrom(t, routerA, sig),
			}},
			wantKind:  RoundExceeded,
			wantAddrs: []netip.Addr{routerA},
			wantNum:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock := &fakeSocket{batches: tt.batches}
			c := &collector{conn: sock}

			res, err := c.collect(t.Context(), sig, 250*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)

			switch tt.wantKind {
			case RoundEchoReply:
				require.NotNil(t, res.Reply)
				assert.Equal(t, dest, res.Reply.Responder)
				assert.GreaterOrEqual(t, res.Reply.RTT, time.Duration(0))
				assert.Nil(t, res.Exceeded)
			case RoundExceeded:
				require.NotNil(t, res.Exceeded)
				assert.Equal(t, tt.wantAddrs, res.Exceeded.Responders)
				assert.Equal(t, tt.wantNum, res.Exceeded.Collected())
				assert.Nil(t, res.Reply)
			default:
				assert.Nil(t, res.Reply)
				assert.Nil(t, res.Exceeded)
			}
		})
	}
}

func TestCollector_DeadlineShrinks(t *testing.T) {
	sig := Signature{ID: 3, Seq: 1}
	routerA := netip.MustParseAddr("10.0.0.1")

	// Three wakes deliver irrelevant traffic before the window closes. The
	// wait budget passed to each wake must never grow: the deadline is armed
	// once per round and only recomputed, so unrelated traffic cannot extend
	// the round.
	foreign := Signature{ID: 4, Seq: 1}
	sock := &fakeSocket{batches: [][]fakeDatagram{
		{exceededFrom(t, routerA, foreign)},
		{exceededFrom(t, routerA, foreign)},
		{exceededFrom(t, routerA, foreign)},
	}}
	c := &collector{conn: sock}

	const timeout = 250 * time.Millisecond
	res, err := c.collect(t.Context(), sig, timeout)
	require.NoError(t, err)
	assert.Equal(t, RoundTimeout, res.Kind)

	require.NotEmpty(t, sock.waits)
	prev := timeout
	for _, d := range sock.waits {
		assert.LessOrEqual(t, d, prev, "wait budget must never grow within a round")
		prev = d
	}
}

func TestCollector_InterruptedWaitKeepsWindowOpen(t *testing.T) {
	sig := Signature{ID: 9, Seq: 3}
	dest := netip.MustParseAddr("203.0.113.9")

	// The first two waits return without data while most of the window is
	// still unspent, as a signal interrupt does. The collector must wait
	// again with the recomputed budget instead of expiring the round; the
	// reply delivered on the third wake still decides it.
	sock := &fakeSocket{
		interrupts: 2,
		batches:    [][]fakeDatagram{{replyFrom(t, dest, sig)}},
	}
	c := &collector{conn: sock}

	res, err := c.collect(t.Context(), sig, 250*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, RoundEchoReply, res.Kind)
	require.NotNil(t, res.Reply)
	assert.Equal(t, dest, res.Reply.Responder)
	assert.GreaterOrEqual(t, len(sock.waits), 3, "the interrupted waits must be retried")
}

func TestCollector_DrainBudget(t *testing.T) {
	sig := Signature{ID: 5, Seq: 2}
	routerA := netip.MustParseAddr("10.0.0.1")

	// A flood of irrelevant datagrams larger than the per-round budget must
	// not keep the collector busy: the round ends with what was collected.
	flood := make([]fakeDatagram, drainBudget+10)
	for i := range flood {
		flood[i] = exceededFrom(t, routerA, Signature{ID: 6, Seq: 2})
	}
	sock := &fakeSocket{batches: [][]fakeDatagram{flood}}
	c := &collector{conn: sock}

	res, err := c.collect(t.Context(), sig, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, RoundTimeout, res.Kind)
	assert.NotEmpty(t, sock.batches[0], "collector must stop parsing once the budget is spent")
}

func TestCollector_FatalReceiveError(t *testing.T) {
	sock := &fakeSocket{
		batches: [][]fakeDatagram{{}},
		recvErr: unix.ECONNREFUSED,
	}
	c := &collector{conn: sock}

	_, err := c.collect(t.Context(), Signature{ID: 1, Seq: 1}, 250*time.Millisecond)
	require.Error(t, err)

	var recvErr *ReceiveError
	assert.ErrorAs(t, err, &recvErr)
	assert.ErrorIs(t, err, unix.ECONNREFUSED)
}

func TestCollector_ReferenceCodecAgrees(t *testing.T) {
	// The hand-rolled parser and the x/net reference implementation must
	// agree on the embedded probe header of a time-exceeded message.
	sig := Signature{ID: 0x7777, Seq: 12}
	raw := buildTimeExceeded(t, 20, sig)

	msg, err := parseMessage(raw)
	require.NoError(t, err)
	orig, err := msg.embeddedProbeHeader()
	require.NoError(t, err)

	ref, err := icmp.ParseMessage(ipv4.ICMPTypeTimeExceeded.Protocol(), raw)
	require.NoError(t, err)
	body, ok := ref.Body.(*icmp.TimeExceeded)
	require.True(t, ok)

	refOrig, err := parseMessage(body.Data[ipv4.HeaderLen:])
	require.NoError(t, err)
	assert.Equal(t, refOrig.id, orig.id)
	assert.Equal(t, refOrig.seq, orig.seq)
}
