// Package hybridkem composes an X25519 Diffie-Hellman exchange with a
// Kyber768 key encapsulation mechanism into the single hybrid shared
// secret the handshake's key schedule consumes (§4.2).
//
// Grounded on core/crypto/nike/hybrid/hybrid.go's pattern of gluing two
// key-agreement primitives behind one scheme (there: CTIDH+X25519 composed
// as a single NIKE). Kyber768 is encapsulation-shaped rather than
// DH-shaped, so here the composition is X25519 NIKE + Kyber768 KEM rather
// than two NIKEs. The Kyber768 half is resolved via circl's kem/schemes
// registry exactly as core/pki/descriptor.go resolves KEM schemes by name.
package hybridkem

import (
	"crypto/rand"
	"io"

	"github.com/cloudflare/circl/kem"
	kemschemes "github.com/cloudflare/circl/kem/schemes"
	"golang.org/x/crypto/curve25519"
)

const (
	// X25519PublicKeySize and X25519PrivateKeySize are the fixed sizes of
	// an X25519 static keypair.
	X25519PublicKeySize  = 32
	X25519PrivateKeySize = 32
)

var kyberScheme = kemschemes.ByName("Kyber768")

// KyberPublicKeySize and KyberCiphertextSize expose the PQ scheme's fixed
// sizes so callers can size wire buffers without importing circl directly.
func KyberPublicKeySize() int  { return kyberScheme.PublicKeySize() }
func KyberCiphertextSize() int { return kyberScheme.CiphertextSize() }
func KyberSharedKeySize() int  { return kyberScheme.SharedKeySize() }

// ClientKeypair holds the client's ephemeral hybrid keying material for a
// single handshake attempt.
type ClientKeypair struct {
	X25519Priv [X25519PrivateKeySize]byte
	X25519Pub  [X25519PublicKeySize]byte

	KyberPub  []byte
	kyberPriv kem.PrivateKey
}

// GenerateClientKeypair produces the client's ephemeral X25519 static
// secret and Kyber768 keypair for one handshake attempt. A nil rnd uses
// crypto/rand.
func GenerateClientKeypair(rnd io.Reader) (*ClientKeypair, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	ck := &ClientKeypair{}
	if _, err := io.ReadFull(rnd, ck.X25519Priv[:]); err != nil {
		return nil, err
	}
	curve25519.ScalarBaseMult(&ck.X25519Pub, &ck.X25519Priv)

	kyberPub, kyberPriv, err := kyberScheme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	ck.kyberPriv = kyberPriv
	ck.KyberPub, err = kyberPub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return ck, nil
}

// ServerResult is everything the server sends back to the client plus the
// two shared-secret halves it derived.
type ServerResult struct {
	X25519Pub       [X25519PublicKeySize]byte
	KyberCiphertext []byte

	SharedX []byte // X25519 DH output
	SharedK []byte // Kyber768 encapsulated shared secret
}

// ServerRespond runs the server side of the hybrid exchange: a fresh
// X25519 static secret against the client's X25519 public, and a Kyber768
// encapsulation against the client's Kyber768 public key.
func ServerRespond(rnd io.Reader, clientX25519Pub [X25519PublicKeySize]byte, clientKyberPub []byte) (*ServerResult, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var serverPriv [X25519PrivateKeySize]byte
	if _, err := io.ReadFull(rnd, serverPriv[:]); err != nil {
		return nil, err
	}
	var serverPub [X25519PublicKeySize]byte
	curve25519.ScalarBaseMult(&serverPub, &serverPriv)

	sharedX, err := curve25519.X25519(serverPriv[:], clientX25519Pub[:])
	if err != nil {
		return nil, err
	}

	pub, err := kyberScheme.UnmarshalBinaryPublicKey(clientKyberPub)
	if err != nil {
		return nil, err
	}
	ct, sharedK, err := kyberScheme.Encapsulate(pub)
	if err != nil {
		return nil, err
	}

	return &ServerResult{
		X25519Pub:       serverPub,
		KyberCiphertext: ct,
		SharedX:         sharedX,
		SharedK:         sharedK,
	}, nil
}

// ClientDecapsulate completes the client side: an X25519 DH against the
// server's public key and a Kyber768 decapsulation of the server's
// ciphertext, using the keypair from GenerateClientKeypair.
func (ck *ClientKeypair) ClientDecapsulate(serverX25519Pub [X25519PublicKeySize]byte, kyberCiphertext []byte) (sharedX, sharedK []byte, err error) {
	sharedX, err = curve25519.X25519(ck.X25519Priv[:], serverX25519Pub[:])
	if err != nil {
		return nil, nil, err
	}
	sharedK, err = kyberScheme.Decapsulate(ck.kyberPriv, kyberCiphertext)
	if err != nil {
		return nil, nil, err
	}
	return sharedX, sharedK, nil
}
