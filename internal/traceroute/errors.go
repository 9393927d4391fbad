// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// errRawSocketNotAvailable is returned when the raw ICMP socket cannot be
// created due to lack of NET_RAW capabilities. This typically occurs when the
// process does not run as root or in an environment where raw sockets are
// restricted (e.g., some containerized environments).
var errRawSocketNotAvailable = errors.New("no NET_RAW capabilities, raw ICMP socket not available")

// errOddChecksumLength is returned when the internet checksum is requested
// over a buffer of odd length. Every header this package builds or verifies
// is a multiple of two bytes, so an odd length indicates caller misuse.
var errOddChecksumLength = errors.New("checksum requires an even number of bytes")

// errNoEmbeddedHeader is returned when the original probe header is requested
// from a message that is not a time-exceeded message and therefore does not
// quote one.
var errNoEmbeddedHeader = errors.New("message does not quote an original probe header")

// truncatedError reports a datagram that is too short to contain the
// structure being parsed.
type truncatedError struct {
	what string
	want int
	got  int
}

func (e *truncatedError) Error() string {
	return fmt.Sprintf("%s truncated: need %d bytes, got %d", e.what, e.want, e.got)
}

// TransmitError wraps a fatal failure to send a probe. No retry is attempted;
// the caller decides whether to abort the trace.
type TransmitError struct {
	TTL int
	Err error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("failed to transmit probe with ttl %d: %v", e.TTL, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }

// ReceiveError wraps a fatal failure to read from the socket. Reads that
// merely signal an empty socket buffer are not receive errors; they end the
// drain phase of a round instead.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("failed to receive datagram: %v", e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// isWouldBlock reports whether err signals an empty socket buffer on a
// non-blocking read.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
