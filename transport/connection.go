// Package transport composes the codec, crypto, replay guard, session,
// stream table, reliability, congestion, QoS and path-validation layers
// (C1–C9) into Connection, the caller-facing object that owns the UDP
// endpoint (§4.10, §6's Caller API).
package transport

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fxamacker/cbor/v2"

	"github.com/jetstream-proto/jetstream/config"
	"github.com/jetstream-proto/jetstream/congestion"
	"github.com/jetstream-proto/jetstream/crypto"
	"github.com/jetstream-proto/jetstream/crypto/aead"
	"github.com/jetstream-proto/jetstream/internal/worker"
	"github.com/jetstream-proto/jetstream/metrics"
	"github.com/jetstream-proto/jetstream/pathval"
	"github.com/jetstream-proto/jetstream/qos"
	"github.com/jetstream-proto/jetstream/reliability"
	"github.com/jetstream-proto/jetstream/replay"
	"github.com/jetstream-proto/jetstream/session"
	"github.com/jetstream-proto/jetstream/stream"
	"github.com/jetstream-proto/jetstream/wire"
)

// HandshakeError wraps a failure during the handshake state machine.
type HandshakeError struct{ Err error }

func (e *HandshakeError) Error() string { return "transport: handshake failed: " + e.Err.Error() }
func (e *HandshakeError) Unwrap() error { return e.Err }

var (
	ErrStreamNotFound  = stream.ErrStreamNotFound
	ErrMaxStreams      = stream.ErrMaxStreamsReached
	ErrRateLimited     = errors.New("transport: rate limit exceeded")
	ErrCongestionFull  = errors.New("transport: congestion window full")
	ErrCircuitOpen     = qos.ErrCircuitOpen
	ErrClosing         = errors.New("transport: connection is closing")
	ErrReplayRejected  = errors.New("transport: replayed or out-of-window packet")
)

// RecvItem is one in-order payload delivered to the caller by Recv.
type RecvItem struct {
	StreamID uint32
	Payload  []byte
}

// supportedSuites and supportedFormats are this implementation's
// negotiation preference lists, most preferred first (§4.2, §4.4).
var supportedSuites = []aead.Suite{aead.SuiteChaCha20Poly1305, aead.SuiteAES256GCM}
var supportedFormats = []uint8{0} // 0 = CBOR self-describing, the only format offered

// Connection is an authenticated, encrypted, multiplexed session
// between two UDP endpoints. It owns the socket and the per-connection
// background tasks described in §5: receive loop, sender task,
// heartbeat, and coalescing flush.
type Connection struct {
	worker.Worker

	mu sync.Mutex

	log *log.Logger
	cfg config.Config

	pc       net.PacketConn
	isClient bool

	connID    uint64
	peerAddr  net.Addr
	localAddr net.Addr

	sess     *session.Session
	streams  *stream.Table
	rel      *reliability.Reliability
	cc       congestion.Controller
	sched    *qos.Scheduler
	coalesce *qos.Coalescer
	breaker  *qos.CircuitBreaker
	pv       *pathval.Validator
	replayG  *replay.Guard
	codec    *wire.Codec
	rl       *RateLimiter

	// stek is the server-local ticket-sealing key (§4.4, §9's "0-RTT").
	// nil means this Connection's listener never enabled ticket
	// resumption, so AcceptConnection never attempts to honor an
	// incoming ticket and this Connection never issues one.
	stek *[32]byte

	// pendingTicketKey is the traffic key derived during a fresh (non-
	// resumed) server handshake, held so a post-handshake MsgTicket can
	// be sealed and issued to the client once the connection is up.
	pendingTicketKey []byte

	// ticketCh delivers a resumption ticket issued by the server, to the
	// client's Ticket() caller, for it to persist via ticketstore.
	ticketCh chan *session.Ticket

	metricsCollector *metrics.Collector

	sendNonceCounter uint64

	pendingAckMu   sync.Mutex
	pendingAck     *uint64
	pendingAckTime time.Time

	sendNotify chan struct{}
	recvReady  chan struct{}
	pending    []RecvItem

	closed bool
}

func newConnection(pc net.PacketConn, peerAddr net.Addr, connID uint64, cfg config.Config, isClient bool, prefix string, stek *[32]byte) *Connection {
	c := &Connection{
		log: log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          prefix,
		}),
		cfg:        cfg,
		pc:         pc,
		isClient:   isClient,
		connID:     connID,
		peerAddr:   peerAddr,
		localAddr:  pc.LocalAddr(),
		streams:    stream.NewTable(cfg.MaxStreams),
		rel:        reliability.New(),
		cc:         congestion.NewNewReno(),
		sched:      qos.NewScheduler(),
		coalesce:   qos.NewCoalescer(cfg.PathMTU, cfg.CoalescingWindowMillis),
		breaker:    qos.NewCircuitBreaker(),
		pv:         pathval.New(),
		replayG:    replay.New(replay.DefaultMaxClockSkewMillis, replay.DefaultCapacity),
		codec:      wire.NewCodec(),
		rl:         NewRateLimiter(cfg.RateLimitMessagesPerSec, cfg.RateLimitBytesPerSec),
		sendNotify: make(chan struct{}, 1),
		recvReady:  make(chan struct{}, 1),
		sess:       session.New(cfg.SessionTimeout()),
		stek:       stek,
		ticketCh:   make(chan *session.Ticket, 1),
	}
	c.metricsCollector = metrics.New(nil, connID)
	c.pv.Stable(connID, peerAddr)
	return c
}

// Dial opens a UDP socket to peer and runs the client handshake
// (§6: connect(peer, config) -> Connection).
func Dial(peer string, cfg config.Config) (*Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	return dialOverConn(pc, raddr, cfg, nil, nil)
}

// DialResume behaves like Dial but presents ticket to attempt 0-RTT
// resumption (§4.4, §9): the server may accept it and skip the hybrid
// KEM, or reject it (expired, unknown, fails to decrypt) and fall back
// to a full handshake exactly as if no ticket had been presented at
// all — so this is always safe to call speculatively with whatever the
// caller's ticketstore last returned for peer. trafficKey must be the
// same Ticket.TrafficKey the ticket was issued alongside.
func DialResume(peer string, cfg config.Config, ticket *session.Ticket, trafficKey []byte) (*Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	return dialOverConn(pc, raddr, cfg, ticket, trafficKey)
}

// dialOverConn runs the client handshake over an already-constructed
// net.PacketConn against peerAddr. Dial uses this directly over a raw UDP
// socket; DialWithFallback uses it over a quicfallback.StreamConn when UDP
// appears to be blocked. ticket/resumeKey are nil for a fresh handshake.
func dialOverConn(pc net.PacketConn, peerAddr net.Addr, cfg config.Config, ticket *session.Ticket, resumeKey []byte) (*Connection, error) {
	var connID uint64
	if err := randomUint64(&connID); err != nil {
		pc.Close()
		return nil, err
	}

	c := newConnection(pc, peerAddr, connID, cfg, true, "transport/conn(client)", nil)
	if err := c.clientHandshake(ticket, resumeKey); err != nil {
		pc.Close()
		return nil, &HandshakeError{Err: err}
	}
	c.start()
	return c, nil
}

// AcceptConnection is used by the listener package: the datagram
// carrying the inbound ClientHello has already been read by the
// listener's demux loop, so the server-side handshake completes by
// replying on pc. stek is the listener's ticket-sealing key, or nil if
// ticket resumption isn't enabled.
func AcceptConnection(pc net.PacketConn, peerAddr net.Addr, hello *crypto.ClientHello, cfg config.Config, stek *[32]byte) (*Connection, error) {
	c := newConnection(pc, peerAddr, hello.ConnectionID, cfg, false, "transport/conn(server)", stek)
	if err := c.serverHandshake(hello); err != nil {
		return nil, &HandshakeError{Err: err}
	}
	c.start()
	return c, nil
}

func (c *Connection) clientHandshake(ticket *session.Ticket, resumeKey []byte) error {
	hello, state, err := crypto.BeginClientHandshake(rand.Reader, c.connID, supportedSuites, supportedFormats)
	if err != nil {
		return err
	}
	if ticket != nil {
		hello.Ticket = ticket.Opaque
	}
	if err := c.sess.MarkHelloSent(); err != nil {
		return err
	}

	payload, err := crypto.EncodeClientHello(hello)
	if err != nil {
		return err
	}
	if err := c.sendHandshakeFrame(payload); err != nil {
		return err
	}

	c.pc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.pc.SetReadDeadline(time.Time{})

	buf := make([]byte, 64*1024)
	n, _, err := c.pc.ReadFrom(buf)
	if err != nil {
		return err
	}
	frames, err := c.codec.DecodeDatagram(buf[:n])
	if err != nil {
		return err
	}
	if len(frames) == 0 || frames[0].Header.MsgType != wire.MsgHandshake {
		return errors.New("transport: expected Handshake frame from peer")
	}
	serverHello, err := crypto.DecodeServerHello(frames[0].Payload)
	if err != nil {
		return err
	}

	if serverHello.Resumed {
		if len(resumeKey) == 0 {
			return errors.New("transport: server confirmed resumption but no ticket was presented")
		}
		sendCipher, recvCipher, err := crypto.DeriveCiphers(serverHello.SelectedSuite, resumeKey)
		if err != nil {
			return err
		}
		return c.sess.CompleteAsClient(sendCipher, recvCipher, serverHello.SelectedSuite, serverHello.SessionID, serverHello.SelectedFormat)
	}

	sendCipher, recvCipher, trafficKey, err := crypto.CompleteClientHandshake(state, serverHello)
	if err != nil {
		return err
	}
	c.pendingTicketKey = trafficKey
	return c.sess.CompleteAsClient(sendCipher, recvCipher, serverHello.SelectedSuite, serverHello.SessionID, serverHello.SelectedFormat)
}

func (c *Connection) serverHandshake(hello *crypto.ClientHello) error {
	if err := c.replayG.CheckAndRegister(hello.Nonce, hello.Timestamp, nowMillis()); err != nil {
		c.metricsCollector.ReplayRejected.Inc()
		c.log.Debugf("replay guard rejected ClientHello nonce=%d: %v", hello.Nonce, err)
		return ErrReplayRejected
	}

	var sessionID uint64
	if err := randomUint64(&sessionID); err != nil {
		return err
	}

	if resumed, serverHello, sendCipher, recvCipher, err := c.tryResumeTicket(hello, sessionID); resumed {
		if err != nil {
			return err
		}
		if err := c.sess.CompleteAsServer(sendCipher, recvCipher, serverHello.SelectedSuite, sessionID, serverHello.SelectedFormat); err != nil {
			return err
		}
		payload, err := crypto.EncodeServerHello(serverHello)
		if err != nil {
			return err
		}
		return c.sendHandshakeFrame(payload)
	}

	serverHello, sendCipher, recvCipher, trafficKey, err := crypto.ServerRespond(rand.Reader, hello, supportedSuites, supportedFormats, sessionID)
	if err != nil {
		return err
	}
	if err := c.sess.CompleteAsServer(sendCipher, recvCipher, serverHello.SelectedSuite, sessionID, serverHello.SelectedFormat); err != nil {
		return err
	}
	c.pendingTicketKey = trafficKey

	payload, err := crypto.EncodeServerHello(serverHello)
	if err != nil {
		return err
	}
	return c.sendHandshakeFrame(payload)
}

// tryResumeTicket attempts 0-RTT resumption from hello.Ticket. resumed
// reports whether resumption was attempted at all (a ticket was
// presented and this listener has a sealing key); err is only
// meaningful when resumed is true, since a failed attempt always falls
// back to the normal handshake rather than aborting the connection
// (§4.4's "Failure: ticket expired -> fall back to full handshake").
func (c *Connection) tryResumeTicket(hello *crypto.ClientHello, sessionID uint64) (resumed bool, serverHello *crypto.ServerHello, sendCipher, recvCipher *aead.Cipher, err error) {
	if c.stek == nil || len(hello.Ticket) == 0 {
		return false, nil, nil, nil, nil
	}
	trafficKey, suite, format, _, oerr := crypto.OpenTicket(*c.stek, hello.Ticket, time.Now())
	if oerr != nil {
		c.log.Debugf("ticket resumption declined, falling back to full handshake: %v", oerr)
		return false, nil, nil, nil, nil
	}
	recvCipher, sendCipher, derr := crypto.DeriveCiphers(suite, trafficKey)
	if derr != nil {
		c.log.Warnf("ticket resumption: rebuilding ciphers failed, falling back to full handshake: %v", derr)
		return false, nil, nil, nil, nil
	}
	serverHello, herr := crypto.BuildResumedServerHello(rand.Reader, sessionID, suite, format)
	if herr != nil {
		return true, nil, nil, nil, herr
	}
	return true, serverHello, sendCipher, recvCipher, nil
}

const handshakeTimeout = 10 * time.Second

func (c *Connection) sendHandshakeFrame(payload []byte) error {
	h := &wire.Header{MsgType: wire.MsgHandshake, ConnectionID: &c.connID}
	headerBytes, err := wire.EncodeSelfDescribing(h)
	if err != nil {
		return err
	}
	datagram, err := wire.EncodeFrame(nil, headerBytes, payload)
	if err != nil {
		return err
	}
	_, err = c.pc.WriteTo(datagram, c.peerAddr)
	return err
}

func randomUint64(out *uint64) error {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return err
	}
	v := uint64(0)
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	*out = v
	return nil
}

// start launches the background tasks (§5): receive loop, sender task,
// heartbeat, and coalescing flush.
func (c *Connection) start() {
	c.Go(c.receiveLoop)
	c.Go(c.senderTask)
	c.Go(c.heartbeatTask)
	c.Go(c.retransmitTask)
	if c.cfg.CoalescingWindowMillis > 0 {
		c.Go(c.flushTask)
	}
	if !c.isClient && c.stek != nil && c.pendingTicketKey != nil {
		c.issueTicket()
	}
}

// issueTicket seals the connection's traffic key under the listener's
// STEK and sends it to the client as a MsgTicket frame, so a future
// reconnect can resume without the hybrid KEM (§4.2's "0-RTT", §9). Best
// effort: a send failure here only costs the client a future fast path,
// never the current connection.
func (c *Connection) issueTicket() {
	suite := c.sess.Suite
	format := c.sess.Format
	t, err := crypto.IssueTicket(*c.stek, c.pendingTicketKey, suite, format, c.sess.SessionID, c.cfg.TicketLifetime())
	if err != nil {
		c.log.Warnf("issue ticket: %v", err)
		return
	}
	payload, err := cbor.Marshal(wireTicket{Opaque: t.Opaque, CreatedAt: t.CreatedAt.Unix(), LifetimeS: t.LifetimeS})
	if err != nil {
		c.log.Warnf("encode ticket: %v", err)
		return
	}
	h := &wire.Header{MsgType: wire.MsgTicket}
	c.enqueueFrame(h, payload, qos.System)
}

// wireTicket is the on-wire shape of an issued MsgTicket payload. The
// client rebuilds a session.Ticket from this plus its own locally-held
// TrafficKey (never transmitted, since only the client needs it and the
// server already authenticated the channel it's sent over).
type wireTicket struct {
	Opaque    []byte
	CreatedAt int64
	LifetimeS uint32
}

// Ticket returns a channel that receives a resumption ticket issued by
// the server after a fresh (non-resumed) handshake, if the server has
// ticket resumption enabled. Callers that want 0-RTT reconnects should
// drain this (non-blocking is fine, it's buffered) and persist the
// result, keyed by peer address, alongside the TrafficKey the
// connection's handshake derived.
func (c *Connection) Ticket() <-chan *session.Ticket {
	return c.ticketCh
}

// Handshake reports whether the handshake is Established: nil if so, an
// error otherwise. It does not run, resume or complete a handshake
// itself; Dial and Listener.Accept run the handshake to completion before
// returning a Connection.
func (c *Connection) Handshake() error {
	if c.sess.State() == session.StateEstablished {
		return nil
	}
	return fmt.Errorf("transport: handshake not established")
}

func (c *Connection) LocalAddr() net.Addr { return c.localAddr }
func (c *Connection) PeerAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}
func (c *Connection) SessionID() uint64 { return c.sess.SessionID }
func (c *Connection) ConnectionID() uint64 { return c.connID }
