// Package session implements the per-connection handshake state machine
// and session object (§3 "Session", §4.4). Session is the data a
// Connection creates on first send or on receipt of ClientHello, and
// destroys on close or idle-timeout; exactly one Connection owns a
// Session at a time.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/jetstream-proto/jetstream/crypto/aead"
)

// State is the handshake state machine's current position.
type State uint8

const (
	// StateNew is the initial state before any handshake message has
	// been sent or received.
	StateNew State = iota
	// StateHelloSent is entered by a client after sending ClientHello;
	// the server never visits this state, moving New -> Established
	// directly on ClientHello (§4.4).
	StateHelloSent
	// StateEstablished is the sticky terminal state until Close or
	// timeout.
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHelloSent:
		return "hello_sent"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned by the state-machine methods when
// called out of order (e.g. completing a handshake twice).
var ErrInvalidTransition = errors.New("session: invalid state transition")

// DefaultIdleTimeout is §6's session_timeout default.
const DefaultIdleTimeout = 30 * time.Second

// Session holds everything the spec's §3 "Session" data model names.
type Session struct {
	mu sync.Mutex

	state State

	LocalRandom  [32]byte
	PeerRandom   [32]byte
	Suite        aead.Suite
	SendCipher   *aead.Cipher
	RecvCipher   *aead.Cipher
	SessionID    uint64
	Format       uint8

	IdleTimeout  time.Duration
	lastActivity time.Time

	Ticket *Ticket
}

// New returns a fresh Session in StateNew.
func New(idleTimeout time.Duration) *Session {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Session{
		state:        StateNew,
		IdleTimeout:  idleTimeout,
		lastActivity: time.Now(),
	}
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkHelloSent transitions New -> HelloSent. Only the client side calls
// this; the server goes directly to Established.
func (s *Session) MarkHelloSent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNew {
		return ErrInvalidTransition
	}
	s.state = StateHelloSent
	return nil
}

// CompleteAsClient transitions HelloSent -> Established once the client
// has processed ServerHello and derived keys.
func (s *Session) CompleteAsClient(sendCipher, recvCipher *aead.Cipher, suite aead.Suite, sessionID uint64, format uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHelloSent {
		return ErrInvalidTransition
	}
	s.SendCipher, s.RecvCipher = sendCipher, recvCipher
	s.Suite, s.SessionID, s.Format = suite, sessionID, format
	s.state = StateEstablished
	s.lastActivity = time.Now()
	return nil
}

// CompleteAsServer transitions New -> Established directly, per §4.4's
// server-side shortcut.
func (s *Session) CompleteAsServer(sendCipher, recvCipher *aead.Cipher, suite aead.Suite, sessionID uint64, format uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNew {
		return ErrInvalidTransition
	}
	s.SendCipher, s.RecvCipher = sendCipher, recvCipher
	s.Suite, s.SessionID, s.Format = suite, sessionID, format
	s.state = StateEstablished
	s.lastActivity = time.Now()
	return nil
}

// Touch records activity now, resetting the idle-timeout clock. Called on
// every frame sent or received (§4.4).
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleSince reports how long it has been since the last recorded
// activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// IsIdleExpired reports whether the session has been idle for at least
// IdleTimeout.
func (s *Session) IsIdleExpired() bool {
	return s.IdleSince() >= s.IdleTimeout
}
