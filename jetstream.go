// Package jetstream is a secure, multiplexed, mobility-aware datagram
// transport over UDP: a hybrid post-quantum handshake, a framed wire
// codec with optional delta header compression, stream multiplexing
// with per-stream delivery modes, selective-ack reliability,
// pluggable congestion control, a four-level QoS send pipeline, and
// path validation that survives address changes without opening an
// amplification window.
//
// Connect and Listen are the two entry points described in this
// package's Caller API; everything else (wire codec, crypto handshake,
// reliability, congestion, QoS, path validation) lives in its own
// subpackage and is composed by transport.Connection.
package jetstream

import (
	"github.com/jetstream-proto/jetstream/config"
	"github.com/jetstream-proto/jetstream/listener"
	"github.com/jetstream-proto/jetstream/stream"
	"github.com/jetstream-proto/jetstream/transport"
)

// Connection is the caller-facing handle to an established session.
type Connection = transport.Connection

// Listener accepts inbound connections on a bound UDP socket.
type Listener = listener.Listener

// Priority and DeliveryMode mirror the stream package's types so callers
// never need to import it directly for a basic connect/send/recv flow.
type Priority = uint8
type DeliveryMode = stream.DeliveryMode

var (
	Reliable   = stream.DeliveryMode{Tag: stream.Reliable}
	BestEffort = stream.DeliveryMode{Tag: stream.BestEffort}
)

// PartiallyReliableMode returns a DeliveryMode that retries a frame
// until ttlMillis elapses, then drops it (§3).
func PartiallyReliableMode(ttlMillis uint32) stream.DeliveryMode {
	return stream.DeliveryMode{Tag: stream.PartiallyReliable, TTLMillis: ttlMillis}
}

// Connect dials peer and runs the client handshake to completion
// (§6: connect(peer, config) -> Connection).
func Connect(peer string, cfg config.Config) (*Connection, error) {
	return transport.Dial(peer, cfg)
}

// ConnectWithFallback behaves like Connect, but falls back to a QUIC-based
// overlay transport if the UDP handshake doesn't complete promptly —
// networks that block or throttle arbitrary UDP often still allow
// UDP/443 traffic indistinguishable from ordinary QUIC. This operationalizes
// spec.md §1's "optional TCP/QUIC fallback" line.
func ConnectWithFallback(peer string, cfg config.Config) (*Connection, error) {
	return transport.DialWithFallback(peer, cfg)
}

// Listen binds local and returns a Listener (§6: listen(local, config)
// -> Listener).
func Listen(local string, cfg config.Config) (*Listener, error) {
	return listener.Listen(local, cfg)
}

// DefaultConfig returns §6's default configuration.
func DefaultConfig() config.Config { return config.New() }

// Close sends a Close frame carrying reason and message, then tears
// down conn's background tasks (§6: close(reason, message)). A thin
// wrapper is needed because Connection is an alias for transport's own
// type, which necessarily uses its own CloseReason to avoid an import
// cycle (transport cannot import this package).
func Close(conn *Connection, reason CloseReason, message string) error {
	return conn.Close(transport.CloseReason(reason), message)
}
