// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"context"

	"github.com/telekom/wren/internal/logger"
)

// probeCount is the number of identical probes sent per round. All of them
// carry the round's signature, so responses are attributed to the round,
// not to an individual probe.
const probeCount = 3

// sender builds and transmits echo-request probes.
type sender struct {
	conn packetConn
}

// send transmits the probes of one round. Transmission failures are fatal
// for the trace; no retry is attempted.
func (s *sender) send(ctx context.Context, req EchoRequest) error {
	log := logger.FromContext(ctx)
	if err := req.Validate(); err != nil {
		return err
	}

	probe, err := buildEchoRequest(req.Signature)
	if err != nil {
		return err
	}

	for i := 0; i < probeCount; i++ {
		n, err := s.conn.SendTo(probe, req.Dest, req.TTL)
		if err != nil {
			return &TransmitError{TTL: req.TTL, Err: err}
		}
		log.DebugContext(ctx, "Probe transmitted",
			"dest", req.Dest,
			"ttl", req.TTL,
			"seq", req.Signature.Seq,
			"bytes", n,
		)
	}
	return nil
}
