package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jetstream-proto/jetstream/config"
	"github.com/jetstream-proto/jetstream/transport/quicfallback"
)

// errUDPBlocked is returned internally when the UDP handshake attempt in
// DialWithFallback doesn't complete within the probe window; callers never
// see it, since DialWithFallback transparently retries over QUIC.
var errUDPBlocked = errors.New("transport: udp handshake did not complete within probe window")

// udpProbeTimeout bounds how long DialWithFallback waits for the UDP
// handshake before concluding the path is blocked and falling back to
// QUIC/443. This operationalizes spec.md §1's "optional TCP/QUIC fallback"
// line (see SPEC_FULL.md's Fallback detector entry); spec.md names the
// feature but leaves its trigger condition unspecified, so a fixed timeout
// shorter than the handshake's own 10s deadline is this implementation's
// choice.
const udpProbeTimeout = 3 * time.Second

// DialWithFallback behaves like Dial, but if the UDP handshake doesn't
// complete within udpProbeTimeout — the common symptom of a network that
// blocks or rate-limits arbitrary UDP — it abandons the UDP attempt and
// retries the same handshake over a QUIC stream dialed to peer, which
// typically survives such networks since it looks like ordinary UDP/443
// traffic. Selecting which fallback endpoint to dial is the caller's
// responsibility; peer is used unchanged for both attempts.
func DialWithFallback(peer string, cfg config.Config) (*Connection, error) {
	result := make(chan dialResult, 1)
	go func() {
		conn, err := dialUDPWithTimeout(peer, cfg)
		result <- dialResult{conn, err}
	}()

	select {
	case r := <-result:
		if r.err == nil {
			return r.conn, nil
		}
		if !errors.Is(r.err, errUDPBlocked) {
			return nil, r.err
		}
	case <-time.After(udpProbeTimeout):
	}

	return dialQUICFallback(peer, cfg)
}

type dialResult struct {
	conn *Connection
	err  error
}

func dialUDPWithTimeout(peer string, cfg config.Config) (*Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	conn, err := dialOverConn(pc, raddr, cfg, nil, nil)
	if err != nil {
		var hErr *HandshakeError
		if errors.As(err, &hErr) {
			return nil, errUDPBlocked
		}
		return nil, err
	}
	return conn, nil
}

func dialQUICFallback(peer string, cfg config.Config) (*Connection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SessionTimeout())
	defer cancel()
	sc, err := quicfallback.DialAddr(ctx, peer)
	if err != nil {
		return nil, err
	}
	return dialOverConn(sc, sc.RemoteAddr(), cfg, nil, nil)
}
