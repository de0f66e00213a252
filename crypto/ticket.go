package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/jetstream-proto/jetstream/crypto/aead"
	"github.com/jetstream-proto/jetstream/session"
)

// TicketKeySize is the server-local symmetric key used to seal and open
// session tickets (§4.4's "opaque encrypted state... encrypted with a
// server key in production"). It never leaves the server; the client
// only ever stores and replays the sealed bytes it's handed.
const TicketKeySize = 32

// ErrTicketDecryptFailed covers a missing/malformed/forged ticket; the
// caller's only correct response is the same as an expired ticket: fall
// back to a full handshake (§4.4's "Failure" case).
var ErrTicketDecryptFailed = errors.New("crypto: ticket decryption failed")

// ticketPayload is the plaintext a ticket's Opaque field decrypts to:
// enough to resume a session without repeating the hybrid KEM. Lifetime
// is carried inside the ciphertext, not trusted from the client's copy,
// since only the server's own clock may decide when a ticket it issued
// expires.
type ticketPayload struct {
	TrafficKey []byte
	Suite      aead.Suite
	Format     uint8
	SessionID  uint64
	CreatedAt  int64
	LifetimeS  uint32
}

// IssueTicket seals trafficKey, the negotiated suite/format, and the
// session-id under stek into a new opaque ticket good for lifetime.
// Called by the server once a handshake completes (§4.4, §9). The
// returned Ticket's Opaque field is exactly what the client must send
// back, byte for byte, on a future ClientHello.Ticket to resume.
func IssueTicket(stek [TicketKeySize]byte, trafficKey []byte, suite aead.Suite, format uint8, sessionID uint64, lifetime time.Duration) (*session.Ticket, error) {
	sealer, err := aead.New(aead.SuiteChaCha20Poly1305, stek[:])
	if err != nil {
		return nil, err
	}

	now := nowFunc()
	payload := ticketPayload{
		TrafficKey: trafficKey,
		Suite:      suite,
		Format:     format,
		SessionID:  sessionID,
		CreatedAt:  now.Unix(),
		LifetimeS:  uint32(lifetime / time.Second),
	}
	plain, err := cbor.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var nonceBuf [8]byte
	if _, err := io.ReadFull(rand.Reader, nonceBuf[:]); err != nil {
		return nil, err
	}
	packetNonce := binary.BigEndian.Uint64(nonceBuf[:])
	sealed := sealer.Seal(append([]byte(nil), nonceBuf[:]...), packetNonce, plain, nil)

	var id [32]byte
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		return nil, err
	}

	return &session.Ticket{
		ID:        id,
		Opaque:    sealed,
		CreatedAt: now,
		LifetimeS: payload.LifetimeS,
	}, nil
}

// OpenTicket decrypts opaque (a ClientHello.Ticket value) under stek and
// validates it against now. Any failure here — expired, truncated, or
// forged — is the server's cue to fall back to a full handshake rather
// than rejecting the connection outright (§4.4).
func OpenTicket(stek [TicketKeySize]byte, opaque []byte, now time.Time) (trafficKey []byte, suite aead.Suite, format uint8, sessionID uint64, err error) {
	if len(opaque) < 8 {
		return nil, 0, 0, 0, ErrTicketDecryptFailed
	}

	opener, err := aead.New(aead.SuiteChaCha20Poly1305, stek[:])
	if err != nil {
		return nil, 0, 0, 0, err
	}
	packetNonce := binary.BigEndian.Uint64(opaque[:8])
	plain, err := opener.Open(nil, packetNonce, opaque[8:], nil)
	if err != nil {
		return nil, 0, 0, 0, ErrTicketDecryptFailed
	}

	var payload ticketPayload
	if err := cbor.Unmarshal(plain, &payload); err != nil {
		return nil, 0, 0, 0, ErrTicketDecryptFailed
	}

	expiry := time.Unix(payload.CreatedAt, 0).Add(time.Duration(payload.LifetimeS) * time.Second)
	if now.After(expiry) {
		return nil, 0, 0, 0, session.ErrTicketExpired
	}
	return payload.TrafficKey, payload.Suite, payload.Format, payload.SessionID, nil
}
