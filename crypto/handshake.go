// Package crypto ties the hybridkem, aead and ratchet sub-packages
// together into the handshake state machine §4.2 and §4.4 describe:
// ClientHello/ServerHello message shapes, cipher/format negotiation, and
// derivation of the per-direction AEAD ciphers from the hybrid shared
// secret.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"github.com/jetstream-proto/jetstream/crypto/aead"
	"github.com/jetstream-proto/jetstream/crypto/hybridkem"
)

// ErrUnsupportedCipher is returned by ServerRespond when client and
// server share no cipher suite (or no serialization format).
var ErrUnsupportedCipher = errors.New("crypto: no mutually supported cipher suite")

// ProtocolVersion is the single version this implementation speaks.
const ProtocolVersion uint8 = 1

// ClientHello is the wire-level handshake payload a client sends to open
// a session (§6's handshake payload list).
type ClientHello struct {
	Version      uint8
	Random       [32]byte
	SessionID    uint64 // 0 on first contact
	CipherSuites []aead.Suite
	X25519Pub    [hybridkem.X25519PublicKeySize]byte
	KyberPub     []byte
	Nonce        uint64
	Timestamp    uint64
	ConnectionID uint64
	Formats      []uint8

	// Ticket is the opaque, server-sealed resumption ticket from a prior
	// session (§4.4, §9's "0-RTT"), or nil on a fresh handshake. The
	// hybrid KEM fields above are always populated regardless, so the
	// server can fall back to a full handshake if Ticket is absent,
	// expired, or fails to decrypt.
	Ticket []byte
}

// ServerHello is the server's reply, adding the negotiated suite, the
// Kyber ciphertext, and the negotiated serialization format.
type ServerHello struct {
	Version         uint8
	Random          [32]byte
	SessionID       uint64
	SelectedSuite   aead.Suite
	X25519Pub       [hybridkem.X25519PublicKeySize]byte
	KyberCiphertext []byte
	SelectedFormat  uint8

	// Resumed reports whether this ServerHello confirms a ticket-based
	// resumption (§4.4, §9). When true, X25519Pub/KyberCiphertext carry
	// no key material — the client must rebuild ciphers from the traffic
	// key it already holds locally rather than running the KEM.
	Resumed bool
}

// ClientState carries the ephemeral keying material a client must retain
// between sending ClientHello and processing ServerHello.
type ClientState struct {
	Keypair      *hybridkem.ClientKeypair
	ClientRandom [32]byte
}

// BeginClientHandshake generates the client's ephemeral keys and random,
// and returns both the ClientHello to send and the state needed to
// process the matching ServerHello.
func BeginClientHandshake(rnd io.Reader, connectionID uint64, preferredSuites []aead.Suite, formats []uint8) (*ClientHello, *ClientState, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	kp, err := hybridkem.GenerateClientKeypair(rnd)
	if err != nil {
		return nil, nil, err
	}
	var random [32]byte
	if _, err := io.ReadFull(rnd, random[:]); err != nil {
		return nil, nil, err
	}
	var nonceBuf [8]byte
	if _, err := io.ReadFull(rnd, nonceBuf[:]); err != nil {
		return nil, nil, err
	}

	hello := &ClientHello{
		Version:      ProtocolVersion,
		Random:       random,
		SessionID:    0,
		CipherSuites: preferredSuites,
		X25519Pub:    kp.X25519Pub,
		KyberPub:     kp.KyberPub,
		Nonce:        binary.BigEndian.Uint64(nonceBuf[:]),
		Timestamp:    nowMillis(),
		ConnectionID: connectionID,
		Formats:      formats,
	}
	return hello, &ClientState{Keypair: kp, ClientRandom: random}, nil
}

// ServerRespond runs the server's half of the handshake: negotiates
// cipher suite and format, completes the hybrid KEM, and derives the
// traffic key. Returns the ServerHello to send, the server's send and
// receive ciphers, and the traffic key. The suite is the first one in the
// client's preference order that the server also supports.
func ServerRespond(rnd io.Reader, hello *ClientHello, supportedSuites []aead.Suite, supportedFormats []uint8, sessionID uint64) (*ServerHello, *aead.Cipher, *aead.Cipher, []byte, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	suite, ok := aead.NegotiateSuite(hello.CipherSuites, supportedSuites)
	if !ok {
		return nil, nil, nil, nil, ErrUnsupportedCipher
	}
	format, ok := negotiateFormat(supportedFormats, hello.Formats)
	if !ok {
		return nil, nil, nil, nil, ErrUnsupportedCipher
	}

	result, err := hybridkem.ServerRespond(rnd, hello.X25519Pub, hello.KyberPub)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var serverRandom [32]byte
	if _, err := io.ReadFull(rnd, serverRandom[:]); err != nil {
		return nil, nil, nil, nil, err
	}

	trafficKey, err := hybridkem.DeriveTrafficKey(result.SharedX, result.SharedK, hello.Random[:], serverRandom[:])
	if err != nil {
		return nil, nil, nil, nil, err
	}
	recvCipher, sendCipher, err := DeriveCiphers(suite, trafficKey)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	serverHello := &ServerHello{
		Version:         ProtocolVersion,
		Random:          serverRandom,
		SessionID:       sessionID,
		SelectedSuite:   suite,
		X25519Pub:       result.X25519Pub,
		KyberCiphertext: result.KyberCiphertext,
		SelectedFormat:  format,
	}
	// The server sends on DeriveCiphers' server->client cipher and
	// receives on its client->server cipher, the mirror image of
	// CompleteClientHandshake. trafficKey is also returned so a caller that establishes
	// this session can seal it into a resumption ticket (§4.4, §9).
	return serverHello, sendCipher, recvCipher, trafficKey, nil
}

// BuildResumedServerHello constructs a ServerHello confirming a ticket
// resumption: no KEM was run, so X25519Pub/KyberCiphertext stay zero and
// Resumed is set so the client knows to rebuild ciphers from the traffic
// key it already holds rather than attempting KEM decapsulation (§4.4,
// §9).
func BuildResumedServerHello(rnd io.Reader, sessionID uint64, suite aead.Suite, format uint8) (*ServerHello, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var serverRandom [32]byte
	if _, err := io.ReadFull(rnd, serverRandom[:]); err != nil {
		return nil, err
	}
	return &ServerHello{
		Version:        ProtocolVersion,
		Random:         serverRandom,
		SessionID:      sessionID,
		SelectedSuite:  suite,
		SelectedFormat: format,
		Resumed:        true,
	}, nil
}

// CompleteClientHandshake finishes the client side after receiving
// ServerHello: completes the hybrid KEM and derives the traffic key,
// returning ciphers from the client's perspective (send, recv).
func CompleteClientHandshake(state *ClientState, serverHello *ServerHello) (*aead.Cipher, *aead.Cipher, []byte, error) {
	sharedX, sharedK, err := state.Keypair.ClientDecapsulate(serverHello.X25519Pub, serverHello.KyberCiphertext)
	if err != nil {
		return nil, nil, nil, err
	}
	trafficKey, err := hybridkem.DeriveTrafficKey(sharedX, sharedK, state.ClientRandom[:], serverHello.Random[:])
	if err != nil {
		return nil, nil, nil, err
	}
	// DeriveCiphers' first return is the client->server cipher (the
	// client's send) and the second the server->client cipher (the
	// client's recv); ServerRespond binds them the other way round.
	sendCipher, recvCipher, err := DeriveCiphers(serverHello.SelectedSuite, trafficKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return sendCipher, recvCipher, trafficKey, nil
}

// DeriveCiphers builds the client->server and server->client AEAD
// ciphers from one traffic key. Each side keeps its own monotonic
// packet-nonce counter starting at zero (§3's "unique per (connection,
// direction)" invariant), so the two directions' nonces overlap; each
// direction therefore gets its own key, expanded from the traffic key by
// HKDF-SHA256 under a per-direction label.
func DeriveCiphers(suite aead.Suite, trafficKey []byte) (clientToServer, serverToClient *aead.Cipher, err error) {
	c2sKey, err := hybridkem.DeriveTrafficKey(trafficKey, nil, []byte("jetstream-c2s"), nil)
	if err != nil {
		return nil, nil, err
	}
	s2cKey, err := hybridkem.DeriveTrafficKey(trafficKey, nil, []byte("jetstream-s2c"), nil)
	if err != nil {
		return nil, nil, err
	}
	c, err := aead.New(suite, c2sKey)
	if err != nil {
		return nil, nil, err
	}
	s, err := aead.New(suite, s2cKey)
	if err != nil {
		return nil, nil, err
	}
	return c, s, nil
}

func negotiateFormat(local, remote []uint8) (uint8, bool) {
	remoteSet := make(map[uint8]bool, len(remote))
	for _, f := range remote {
		remoteSet[f] = true
	}
	for _, f := range local {
		if remoteSet[f] {
			return f, true
		}
	}
	return 0, false
}

func nowMillis() uint64 {
	return uint64(nowFunc().UnixMilli())
}
