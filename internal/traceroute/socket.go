// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// packetConn is the raw-socket surface shared by the sender and the
// collector. Exactly one instance exists per trace; rounds never overlap, so
// no synchronization is needed.
type packetConn interface {
	// SendTo transmits one datagram to dst with the given IP time-to-live
	// and returns the number of bytes accepted by the transport.
	SendTo(b []byte, dst netip.Addr, ttl int) (int, error)
	// RecvFrom performs a non-blocking read of one datagram into b,
	// returning the datagram length and the sender address. When no data is
	// available the error satisfies [isWouldBlock].
	RecvFrom(b []byte) (int, netip.Addr, error)
	// WaitReadable blocks until the socket is readable or d elapses, and
	// reports which of the two happened.
	WaitReadable(d time.Duration) (bool, error)
	// Close releases the socket.
	Close() error
}

var _ packetConn = (*RawConn)(nil)

// RawConn is a packetConn over a raw ICMP socket.
type RawConn struct {
	fd int
}

// NewRawConn opens a raw IPv4 ICMP socket. Creating one requires NET_RAW
// capabilities; without them the returned error wraps a dedicated sentinel
// so callers can produce a useful diagnostic.
func NewRawConn() (*RawConn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		if errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("failed to create raw socket: %w", errRawSocketNotAvailable)
		}
		return nil, fmt.Errorf("failed to create raw socket: %w", err)
	}
	return &RawConn{fd: fd}, nil
}

func (c *RawConn) SendTo(b []byte, dst netip.Addr, ttl int) (int, error) {
	if err := unix.SetsockoptInt(c.fd, unix.IPPROTO_IP, unix.IP_TTL, ttl); err != nil {
		return 0, fmt.Errorf("failed to set IP_TTL to %d: %w", ttl, err)
	}

	sa := &unix.SockaddrInet4{Addr: dst.As4()}
	if err := unix.Sendto(c.fd, b, 0, sa); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *RawConn) RecvFrom(b []byte) (int, netip.Addr, error) {
	n, from, err := unix.Recvfrom(c.fd, b, unix.MSG_DONTWAIT)
	if err != nil {
		return 0, netip.Addr{}, err
	}

	var src netip.Addr
	if sa, ok := from.(*unix.SockaddrInet4); ok {
		src = netip.AddrFrom4(sa.Addr)
	}
	return n, src, nil
}

// WaitReadable multiplexes on the socket with the given budget. A signal
// interrupting the wait counts as "not readable"; the caller recomputes the
// remaining budget and waits again, so the round deadline is unaffected.
func (c *RawConn) WaitReadable(d time.Duration) (bool, error) {
	if d < 0 {
		d = 0
	}

	var fds unix.FdSet
	fds.Zero()
	fds.Set(c.fd)
	tv := unix.NsecToTimeval(d.Nanoseconds())

	n, err := unix.Select(c.fd+1, &fds, nil, nil, &tv)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("failed to wait on raw socket: %w", err)
	}
	return n > 0, nil
}

func (c *RawConn) Close() error {
	return unix.Close(c.fd)
}
