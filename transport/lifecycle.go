package transport

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/jetstream-proto/jetstream/metrics"
	"github.com/jetstream-proto/jetstream/wire"
)

// CloseReason mirrors the top-level package's CloseReason (§7); kept as
// its own type here so transport never imports the root package (which
// imports transport to build Connect/Listen).
type CloseReason uint8

const (
	CloseNormal CloseReason = iota
	CloseGoingAway
	CloseProtocolError
	CloseTimeout
	CloseRateLimitExceeded
	CloseInternalError
)

type closePayload struct {
	Reason  CloseReason `cbor:"reason"`
	Message string      `cbor:"message"`
}

// Close sends a Close frame carrying reason and message, then halts the
// connection's background tasks (§6's close(reason, message)).
func (c *Connection) Close(reason CloseReason, message string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	payload, err := cbor.Marshal(closePayload{Reason: reason, Message: message})
	if err == nil {
		c.sendControlFrame(c.PeerAddr(), wire.MsgClose, payload)
	}
	c.Halt()
	c.pc.Close()
	return nil
}

// closeLocal tears the connection down without notifying the peer, for
// cases where the peer is already gone (inbound Close, heartbeat
// timeout). Unlike Close, this always runs on one of the connection's
// own background goroutines (receiveLoop/heartbeatTask), so it cannot
// call Halt synchronously — Halt waits on that same goroutine's
// WaitGroup entry to finish, which would deadlock. Halt runs on a
// detached goroutine instead; the caller still returns immediately,
// letting its own Go-tracked goroutine finish normally.
func (c *Connection) closeLocal() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.pc.Close()
	go c.Halt()
}

// Metrics returns the connection's metrics collector.
func (c *Connection) Metrics() *metrics.Collector { return c.metricsCollector }
