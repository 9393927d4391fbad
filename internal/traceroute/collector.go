// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"
	"net/netip"
	"time"

	"github.com/telekom/wren/internal/logger"
)

// drainBudget caps how many datagrams a single round will parse. Irrelevant
// traffic never extends the round deadline, but without a cap an adversary
// flooding the socket could burn CPU for the whole collection window. When
// the budget runs out the round ends with whatever was collected.
const drainBudget = 4096

// collector waits for the responses of one round and classifies them.
type collector struct {
	conn packetConn
}

// collect blocks until the round is decided: an echo reply matching sig
// arrives, [probeCount] time-exceeded samples are accumulated, or the
// timeout elapses. The wait budget shrinks across iterations and is never
// re-armed, so the total wall-clock time of a round is bounded by the
// timeout no matter how much unrelated traffic arrives.
func (c *collector) collect(ctx context.Context, sig Signature, timeout time.Duration) (RoundResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	deadline := start.Add(timeout)
	samples := &ExceededSamples{}
	budget := drainBudget
	buf := make([]byte, mtuSize)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.expire(ctx, sig, samples), nil
		}

		ready, err := c.conn.WaitReadable(remaining)
		if err != nil {
			return RoundResult{}, err
		}
		if !ready {
			// A wait can return early without data, e.g. when a signal
			// interrupts it. Recompute the remaining budget and wait again;
			// the check at the top of the loop decides whether the window
			// is actually over.
			continue
		}

		// Drain everything that is immediately available without blocking.
		for {
			n, from, err := c.conn.RecvFrom(buf)
			if err != nil {
				if isWouldBlock(err) {
					break
				}
				return RoundResult{}, &ReceiveError{Err: err}
			}

			if budget--; budget < 0 {
				log.WarnContext(ctx, "Datagram budget exhausted, ending round early", "seq", sig.Seq)
				return c.expire(ctx, sig, samples), nil
			}

			rtt := time.Since(start)
			res, ok := c.classify(ctx, sig, buf[:n], from, rtt, samples)
			if ok {
				return res, nil
			}
		}
	}
}

// classify parses and validates one datagram. It returns a decided round
// result and true when the datagram ends the round; otherwise the datagram
// either contributed a sample or was discarded, and collection continues.
func (c *collector) classify(ctx context.Context, sig Signature, datagram []byte, from netip.Addr, rtt time.Duration, samples *ExceededSamples) (RoundResult, bool) {
	log := logger.FromContext(ctx)

	outer, err := parseOuterHeader(datagram)
	if err != nil {
		log.DebugContext(ctx, "Discarding unparsable datagram", "from", from, "error", err)
		return RoundResult{}, false
	}

	msg, err := parseMessage(datagram[outer.headerLen:])
	if err != nil {
		log.DebugContext(ctx, "Discarding datagram without icmp message", "from", outer.src, "error", err)
		return RoundResult{}, false
	}

	switch {
	case msg.isEchoReply():
		if !msg.matchesEchoReply(sig) {
			log.DebugContext(ctx, "Discarding echo reply with foreign signature",
				"from", outer.src, "id", msg.id, "seq", msg.seq)
			return RoundResult{}, false
		}
		// The destination answered. This always wins over any accumulated
		// time-exceeded evidence.
		log.DebugContext(ctx, "Echo reply received", "from", outer.src, "rtt", rtt)
		return RoundResult{
			Kind:  RoundEchoReply,
			Reply: &EchoReply{Responder: outer.src, RTT: rtt},
		}, true

	case msg.isTimeExceeded():
		ok, err := msg.matchesTimeExceeded(sig)
		if err != nil {
			log.DebugContext(ctx, "Discarding malformed time-exceeded message", "from", outer.src, "error", err)
			return RoundResult{}, false
		}
		if !ok {
			log.DebugContext(ctx, "Discarding time-exceeded message for foreign probe", "from", outer.src)
			return RoundResult{}, false
		}

		samples.add(outer.src, rtt)
		log.DebugContext(ctx, "Time-exceeded sample accepted",
			"from", outer.src, "rtt", rtt, "collected", samples.Collected())
		if samples.Complete() {
			return RoundResult{Kind: RoundExceeded, Exceeded: samples}, true
		}
		return RoundResult{}, false

	default:
		// Unrelated ICMP traffic on the shared raw socket, ignore.
		log.DebugContext(ctx, "Discarding irrelevant icmp message", "from", outer.src, "type", msg.icmpType)
		return RoundResult{}, false
	}
}

// expire classifies a round whose collection window ran out. With no
// accepted samples the round timed out; with a partial sample set the
// caller must treat the evidence as insufficient rather than as a full
// measurement.
func (c *collector) expire(ctx context.Context, sig Signature, samples *ExceededSamples) RoundResult {
	log := logger.FromContext(ctx)
	if samples.Collected() == 0 {
		log.DebugContext(ctx, "Round timed out without relevant responses", "seq", sig.Seq)
		return RoundResult{Kind: RoundTimeout}
	}

	log.DebugContext(ctx, "Round ended with partial evidence",
		"seq", sig.Seq, "collected", samples.Collected())
	return RoundResult{Kind: RoundExceeded, Exceeded: samples}
}
