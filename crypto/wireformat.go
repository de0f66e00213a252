package crypto

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/jetstream-proto/jetstream/crypto/aead"
)

// wireClientHello and wireServerHello are the CBOR-on-the-wire shapes of
// ClientHello/ServerHello (§6's handshake payload list), kept distinct
// from the in-memory structs so a fixed-size array field never trips up
// a codec upgrade independently of the in-memory API.
type wireClientHello struct {
	Version      uint8
	Random       []byte
	SessionID    uint64
	CipherSuites []uint8
	X25519Pub    []byte
	KyberPub     []byte
	Nonce        uint64
	Timestamp    uint64
	ConnectionID uint64
	Formats      []uint8
	Ticket       []byte
}

type wireServerHello struct {
	Version         uint8
	Random          []byte
	SessionID       uint64
	SelectedSuite   uint8
	X25519Pub       []byte
	KyberCiphertext []byte
	SelectedFormat  uint8
	Resumed         bool
}

// EncodeClientHello renders h as the CBOR handshake payload sent over
// the wire inside a Handshake-typed frame.
func EncodeClientHello(h *ClientHello) ([]byte, error) {
	suites := make([]uint8, len(h.CipherSuites))
	for i, s := range h.CipherSuites {
		suites[i] = uint8(s)
	}
	return cbor.Marshal(wireClientHello{
		Version:      h.Version,
		Random:       h.Random[:],
		SessionID:    h.SessionID,
		CipherSuites: suites,
		X25519Pub:    h.X25519Pub[:],
		KyberPub:     h.KyberPub,
		Nonce:        h.Nonce,
		Timestamp:    h.Timestamp,
		ConnectionID: h.ConnectionID,
		Formats:      h.Formats,
		Ticket:       h.Ticket,
	})
}

// DecodeClientHello parses the CBOR handshake payload of a ClientHello.
func DecodeClientHello(b []byte) (*ClientHello, error) {
	var w wireClientHello
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	h := &ClientHello{
		Version:      w.Version,
		SessionID:    w.SessionID,
		Nonce:        w.Nonce,
		Timestamp:    w.Timestamp,
		ConnectionID: w.ConnectionID,
		Formats:      w.Formats,
		KyberPub:     w.KyberPub,
		Ticket:       w.Ticket,
	}
	copy(h.Random[:], w.Random)
	copy(h.X25519Pub[:], w.X25519Pub)
	h.CipherSuites = make([]aead.Suite, len(w.CipherSuites))
	for i, s := range w.CipherSuites {
		h.CipherSuites[i] = aead.Suite(s)
	}
	return h, nil
}

// EncodeServerHello renders h as the CBOR handshake payload of a
// ServerHello.
func EncodeServerHello(h *ServerHello) ([]byte, error) {
	return cbor.Marshal(wireServerHello{
		Version:         h.Version,
		Random:          h.Random[:],
		SessionID:       h.SessionID,
		SelectedSuite:   uint8(h.SelectedSuite),
		X25519Pub:       h.X25519Pub[:],
		KyberCiphertext: h.KyberCiphertext,
		SelectedFormat:  h.SelectedFormat,
		Resumed:         h.Resumed,
	})
}

// DecodeServerHello parses the CBOR handshake payload of a ServerHello.
func DecodeServerHello(b []byte) (*ServerHello, error) {
	var w wireServerHello
	if err := cbor.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	h := &ServerHello{
		Version:        w.Version,
		SessionID:      w.SessionID,
		SelectedSuite:  aead.Suite(w.SelectedSuite),
		SelectedFormat: w.SelectedFormat,
		Resumed:        w.Resumed,
	}
	copy(h.Random[:], w.Random)
	copy(h.X25519Pub[:], w.X25519Pub)
	h.KyberCiphertext = w.KyberCiphertext
	return h, nil
}
