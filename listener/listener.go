// Package listener implements the server side of §6's Caller API:
// Listen(local, config) -> Listener, Listener.accept() -> Connection. It
// owns one UDP socket, on which it handles only Handshake frames carrying
// a ClientHello, de-duplicated by connection-id. Each accepted Connection
// gets its own freshly bound UDP socket and completes the handshake from
// there. Datagrams of any other type that reach the listening socket are
// dropped; they are not routed to existing Connections by connection-id
// or by address.
package listener

import (
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jetstream-proto/jetstream/config"
	"github.com/jetstream-proto/jetstream/crypto"
	"github.com/jetstream-proto/jetstream/replay"
	"github.com/jetstream-proto/jetstream/transport"
	"github.com/jetstream-proto/jetstream/wire"
)

// ErrClosed is returned by Accept once the listener has been closed.
var ErrClosed = errors.New("listener: closed")

const maxDatagramSize = 64 * 1024

// Listener accepts inbound connections on a bound UDP socket.
type Listener struct {
	log *log.Logger
	cfg config.Config
	pc  *net.UDPConn

	codec *wire.Codec

	// replayG guards every inbound ClientHello (§4.3, §4.4): it must
	// outlive any single accept attempt, since the replay this guards
	// against is exactly two ClientHello deliveries that each try to
	// start their own accept. byConn below is a separate concern — it
	// only dedups legitimate handshake retries for one in-flight
	// connection-id, and is not a substitute for this.
	replayG *replay.Guard

	// stek is the ticket-sealing key generated once per listener when
	// cfg.EnableTicketResumption is set; nil disables 0-RTT resumption
	// for every Connection this listener accepts (§4.4, §9).
	stek *[32]byte

	mu      sync.Mutex
	byConn  map[uint64]*net.UDPAddr
	pending chan *transport.Connection
	closed  bool
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Listen binds local and returns a Listener ready to Accept connections
// (§6: listen(local, config) -> Listener).
func Listen(local string, cfg config.Config) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		log: log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          "listener",
		}),
		cfg:     cfg,
		pc:      pc,
		codec:   wire.NewCodec(),
		replayG: replay.New(replay.DefaultMaxClockSkewMillis, replay.DefaultCapacity),
		byConn:  make(map[uint64]*net.UDPAddr),
		pending: make(chan *transport.Connection, 64),
	}
	if cfg.EnableTicketResumption {
		var stek [32]byte
		if _, err := io.ReadFull(rand.Reader, stek[:]); err != nil {
			pc.Close()
			return nil, err
		}
		l.stek = &stek
	}
	go l.demuxLoop()
	return l, nil
}

// Accept blocks until a new, handshake-complete Connection is available.
func (l *Listener) Accept() (*transport.Connection, error) {
	c, ok := <-l.pending
	if !ok {
		return nil, ErrClosed
	}
	return c, nil
}

// Close stops accepting new connections and releases the socket. It
// does not close Connections already handed out by Accept.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.pending)
	return l.pc.Close()
}

func (l *Listener) LocalAddr() net.Addr { return l.pc.LocalAddr() }

// demuxLoop reads datagrams and, for any whose connection-id is unknown,
// attempts to parse a ClientHello and spin up a new Connection (§5).
// Frames for already-known connections belong to that Connection's own
// receive loop, not this listener, so only unrecognized handshake
// traffic is handled here.
func (l *Listener) demuxLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := l.pc.ReadFromUDP(buf)
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			l.log.Warnf("listener read error: %v", err)
			continue
		}

		l.onDatagram(append([]byte(nil), buf[:n]...), addr)
	}
}

func (l *Listener) onDatagram(datagram []byte, addr *net.UDPAddr) {
	frames, err := l.codec.DecodeDatagram(datagram)
	if err != nil || len(frames) == 0 {
		l.log.Debugf("malformed datagram from %v: %v", addr, err)
		return
	}
	l.dispatch(frames[0].Header, frames[0].Payload, addr)
}

func (l *Listener) dispatch(hdr *wire.Header, payload []byte, addr *net.UDPAddr) {
	if hdr.MsgType != wire.MsgHandshake {
		// A non-handshake frame for a connection-id this listener hasn't
		// seen yet (e.g. the Connection already migrated addresses and
		// owns its own socket) isn't this listener's concern.
		return
	}

	hello, err := crypto.DecodeClientHello(payload)
	if err != nil {
		l.log.Debugf("malformed ClientHello from %v: %v", addr, err)
		return
	}

	if err := l.replayG.CheckAndRegister(hello.Nonce, hello.Timestamp, nowMillis()); err != nil {
		l.log.Debugf("replay guard rejected ClientHello from %v nonce=%d: %v", addr, hello.Nonce, err)
		return
	}

	l.mu.Lock()
	if _, seen := l.byConn[hello.ConnectionID]; seen {
		l.mu.Unlock()
		return
	}
	l.byConn[hello.ConnectionID] = addr
	l.mu.Unlock()

	go l.accept(hello, addr)
}

func (l *Listener) accept(hello *crypto.ClientHello, addr *net.UDPAddr) {
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		l.log.Errorf("accept: open per-connection socket: %v", err)
		return
	}
	conn, err := transport.AcceptConnection(pc, addr, hello, l.cfg, l.stek)
	if err != nil {
		l.log.Warnf("accept: handshake with %v failed: %v", addr, err)
		pc.Close()
		return
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		conn.Close(transport.CloseGoingAway, "listener closed")
		return
	}

	select {
	case l.pending <- conn:
	default:
		l.log.Warnf("accept backlog full, dropping connection from %v", addr)
		conn.Close(transport.CloseGoingAway, "accept backlog full")
	}
}
