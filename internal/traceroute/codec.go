// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package traceroute

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"golang.org/x/net/ipv4"
)

const (
	// headerLengthMask extracts the IHL field from the first byte of an
	// IPv4 header.
	headerLengthMask = 0x0F
	// byteMultiplier converts the IHL field from 4-byte words to bytes.
	byteMultiplier = 4
	// srcAddrOffset is the offset of the source address in an IPv4 header.
	srcAddrOffset = 12

	// echoHeaderLen is the fixed ICMP header length shared by all message
	// types this package handles.
	echoHeaderLen = 8
	// maxMessageLen bounds how much of a received ICMP message is retained:
	// an 8-byte error-message header, up to 60 bytes of quoted IPv4 header,
	// and the first 8 bytes of the original probe header.
	maxMessageLen = 76
	// mtuSize is the receive buffer capacity, sized to the largest possible
	// IPv4 datagram.
	mtuSize = 65535
)

// Wire offsets within the fixed ICMP header.
const (
	typeOffset     = 0
	codeOffset     = 1
	checksumOffset = 2
	idOffset       = 4
	seqOffset      = 6
)

// checksum computes the RFC 1071 one's-complement internet checksum over b.
// The buffer must have even length; every header this package produces does.
func checksum(b []byte) (uint16, error) {
	if len(b)%2 != 0 {
		return 0, errOddChecksumLength
	}
	var sum uint32
	for i := 0; i < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	sum = (sum >> 16) + (sum & 0xffff)
	return uint16(^(sum + (sum >> 16))), nil
}

// outerHeader is the result of parsing the variable-length IPv4 header in
// front of an ICMP message. The message itself starts at headerLen.
type outerHeader struct {
	// headerLen is the IPv4 header length in bytes, derived from the IHL
	// field.
	headerLen int
	// src is the source address of the datagram.
	src netip.Addr
}

// parseOuterHeader locates the payload of an IPv4 datagram. The header
// length is taken from the IHL field of the first byte; implausible values
// are rejected rather than propagated into out-of-bounds slicing.
func parseOuterHeader(b []byte) (outerHeader, error) {
	if len(b) < ipv4.HeaderLen {
		return outerHeader{}, &truncatedError{what: "ipv4 header", want: ipv4.HeaderLen, got: len(b)}
	}

	headerLen := int(b[0]&headerLengthMask) * byteMultiplier
	if headerLen < ipv4.HeaderLen {
		return outerHeader{}, fmt.Errorf("implausible ipv4 header length: %d bytes", headerLen)
	}
	if headerLen > len(b) {
		return outerHeader{}, &truncatedError{what: "ipv4 datagram", want: headerLen, got: len(b)}
	}

	src, _ := netip.AddrFromSlice(b[srcAddrOffset : srcAddrOffset+4])
	return outerHeader{headerLen: headerLen, src: src}, nil
}

// message is one received ICMP message, truncated to [maxMessageLen].
// The id/seq pair is populated from the header for every type; it only
// carries meaning for echo-family messages. For error messages the payload
// holds the quoted datagram that triggered the error.
type message struct {
	icmpType uint8
	code     uint8
	id       uint16
	seq      uint16
	payload  []byte
}

// parseMessage decodes the ICMP message starting at b, which must point at
// the payload offset of the outer datagram. At most maxMessageLen bytes are
// retained; anything beyond that cannot contain the quoted original header
// and is irrelevant to correlation.
func parseMessage(b []byte) (message, error) {
	if len(b) < echoHeaderLen {
		return message{}, &truncatedError{what: "icmp header", want: echoHeaderLen, got: len(b)}
	}

	if len(b) > maxMessageLen {
		b = b[:maxMessageLen]
	}
	m := message{
		icmpType: b[typeOffset],
		code:     b[codeOffset],
		id:       binary.BigEndian.Uint16(b[idOffset : idOffset+2]),
		seq:      binary.BigEndian.Uint16(b[seqOffset : seqOffset+2]),
	}
	m.payload = make([]byte, len(b)-echoHeaderLen)
	copy(m.payload, b[echoHeaderLen:])
	return m, nil
}

func (m message) isEchoReply() bool {
	return m.icmpType == uint8(ipv4.ICMPTypeEchoReply)
}

func (m message) isTimeExceeded() bool {
	return m.icmpType == uint8(ipv4.ICMPTypeTimeExceeded)
}

// embeddedProbeHeader extracts the first 8 bytes of the original probe
// header quoted in a time-exceeded message. The quoted data is a complete
// IPv4 header followed by the leading bytes of the original message, so a
// second header parse is required to find the probe header's offset.
func (m message) embeddedProbeHeader() (message, error) {
	if !m.isTimeExceeded() {
		return message{}, errNoEmbeddedHeader
	}

	quoted, err := parseOuterHeader(m.payload)
	if err != nil {
		return message{}, fmt.Errorf("failed to parse quoted ipv4 header: %w", err)
	}

	return parseMessage(m.payload[quoted.headerLen:])
}

// matchesEchoReply reports whether m is an echo reply to a probe carrying
// sig.
func (m message) matchesEchoReply(sig Signature) bool {
	return m.isEchoReply() && m.id == sig.ID && m.seq == sig.Seq
}

// matchesTimeExceeded reports whether m is a time-exceeded message caused by
// a probe carrying sig. The signature is read from the quoted original
// header, not from the error message's own header.
func (m message) matchesTimeExceeded(sig Signature) (bool, error) {
	if !m.isTimeExceeded() {
		return false, nil
	}

	orig, err := m.embeddedProbeHeader()
	if err != nil {
		return false, err
	}
	return orig.id == sig.ID && orig.seq == sig.Seq, nil
}

// buildEchoRequest encodes an 8-byte echo-request header carrying sig, with
// the checksum computed over the header with a zeroed checksum field.
func buildEchoRequest(sig Signature) ([]byte, error) {
	b := make([]byte, echoHeaderLen)
	b[typeOffset] = uint8(ipv4.ICMPTypeEcho)
	b[codeOffset] = 0
	binary.BigEndian.PutUint16(b[idOffset:idOffset+2], sig.ID)
	binary.BigEndian.PutUint16(b[seqOffset:seqOffset+2], sig.Seq)

	sum, err := checksum(b)
	if err != nil {
		return nil, fmt.Errorf("failed to compute probe checksum: %w", err)
	}
	binary.BigEndian.PutUint16(b[checksumOffset:checksumOffset+2], sum)
	return b, nil
}
