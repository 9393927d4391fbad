// Package traceroute implements ICMP-based path discovery: it sends
// echo-request probes with increasing time-to-live values and correlates the
// echo-reply and time-exceeded messages they provoke.
//
// It exposes a [Client] for tracing the route to a single IPv4 destination
// with configurable [Options].
// Under the hood it owns one raw ICMP socket for the whole trace, sends
// three identically signed probes per TTL, and decides each round with a
// single bounded collection window: the per-round deadline is armed once and
// the remaining budget shrinks across multiplexed waits, so unrelated
// traffic can never extend a round.
//
// Key features:
//   - Manual wire handling: RFC 1071 checksum, variable-length IPv4 header
//     arithmetic, and extraction of the original probe header quoted inside
//     time-exceeded messages
//   - Round-scoped correlation via an (identifier, sequence) signature, with
//     responder addresses deduplicated and round-trip times averaged over up
//     to three samples
//   - Strict-but-forgiving validation: irrelevant or malformed datagrams are
//     discarded without consuming the round deadline
//   - Typed errors for every fatal category, leaving the abort decision to
//     the caller
//   - Built-in OpenTelemetry spans and events for tracing each round
//
// Typical usage:
//
//	conn, err := traceroute.NewRawConn()
//	client := traceroute.NewClient(conn, traceroute.Session{ID: id})
//	rounds, err := client.Run(ctx, dest, &traceroute.Options{MaxHops: 30, Timeout: time.Second})
//	// rounds holds one RoundResult per probed TTL
//
// Creating the raw socket requires NET_RAW capabilities.
package traceroute
