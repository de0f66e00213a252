// Package aead implements the negotiable AEAD cipher-suite abstraction
// used to seal and open every packet after the handshake completes
// (§4.2). Grounded on the teacher's use of golang.org/x/crypto AEAD
// constructors (ratchet.go reaches for nacl/secretbox directly; this
// package generalizes the same "seal with a derived key and a per-packet
// nonce" shape to the two negotiable cipher suites the handshake can
// choose between).
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite identifies a negotiated cipher suite.
type Suite uint8

const (
	SuiteChaCha20Poly1305 Suite = iota
	SuiteAES256GCM
)

func (s Suite) String() string {
	switch s {
	case SuiteChaCha20Poly1305:
		return "chacha20-poly1305"
	case SuiteAES256GCM:
		return "aes-256-gcm"
	default:
		return "unknown"
	}
}

// KeySize is the traffic key length required by every suite this package
// supports (both ChaCha20-Poly1305 and AES-256-GCM take 32-byte keys).
const KeySize = 32

// NonceSize is the fixed AEAD nonce length every suite here uses.
const NonceSize = 12

// Cipher seals and opens packets for one direction of one session using a
// single negotiated suite and traffic key.
type Cipher struct {
	suite Suite
	aead  cipher.AEAD
}

// New constructs a Cipher for suite using key, which must be exactly
// KeySize bytes.
func New(suite Suite, key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	var a cipher.AEAD
	var err error
	switch suite {
	case SuiteChaCha20Poly1305:
		a, err = chacha20poly1305.New(key)
	case SuiteAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		a, err = cipher.NewGCM(block)
	default:
		return nil, ErrUnsupportedSuite
	}
	if err != nil {
		return nil, err
	}
	return &Cipher{suite: suite, aead: a}, nil
}

// Suite reports which cipher suite this Cipher was constructed with.
func (c *Cipher) Suite() Suite { return c.suite }

// nonce builds the 96-bit AEAD nonce from a monotonic per-packet counter:
// four zero bytes followed by the big-endian 64-bit packet nonce (§4.2).
func nonce(packetNonce uint64) [NonceSize]byte {
	var n [NonceSize]byte
	binary.BigEndian.PutUint64(n[4:], packetNonce)
	return n
}

// Seal encrypts and authenticates plaintext under packetNonce, appending
// the result to dst. aad is authenticated but not encrypted (typically
// the packet's header bytes).
func (c *Cipher) Seal(dst []byte, packetNonce uint64, plaintext, aad []byte) []byte {
	n := nonce(packetNonce)
	return c.aead.Seal(dst, n[:], plaintext, aad)
}

// Open authenticates and decrypts ciphertext under packetNonce, appending
// the plaintext to dst. It returns ErrAuthFailed on any tag mismatch or
// tamper, never a more specific error, so callers cannot distinguish
// truncation from forgery.
func (c *Cipher) Open(dst []byte, packetNonce uint64, ciphertext, aad []byte) ([]byte, error) {
	n := nonce(packetNonce)
	pt, err := c.aead.Open(dst, n[:], ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

// Overhead returns the number of bytes Seal adds beyond the plaintext
// length (the authentication tag).
func (c *Cipher) Overhead() int { return c.aead.Overhead() }
