package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/jetstream-proto/jetstream/crypto/aead"
	"github.com/stretchr/testify/require"
)

func TestClientHelloWireRoundTrip(t *testing.T) {
	hello, _, err := BeginClientHandshake(rand.Reader, 42, []aead.Suite{aead.SuiteChaCha20Poly1305}, []uint8{0})
	require.NoError(t, err)

	encoded, err := EncodeClientHello(hello)
	require.NoError(t, err)

	decoded, err := DecodeClientHello(encoded)
	require.NoError(t, err)

	require.Equal(t, hello.Version, decoded.Version)
	require.Equal(t, hello.Random, decoded.Random)
	require.Equal(t, hello.ConnectionID, decoded.ConnectionID)
	require.Equal(t, hello.X25519Pub, decoded.X25519Pub)
	require.Equal(t, hello.KyberPub, decoded.KyberPub)
	require.Equal(t, hello.CipherSuites, decoded.CipherSuites)
}

func TestServerHelloWireRoundTrip(t *testing.T) {
	hello, _, err := BeginClientHandshake(rand.Reader, 7, []aead.Suite{aead.SuiteChaCha20Poly1305}, []uint8{0})
	require.NoError(t, err)

	serverHello, _, _, _, err := ServerRespond(rand.Reader, hello, []aead.Suite{aead.SuiteChaCha20Poly1305}, []uint8{0}, 99)
	require.NoError(t, err)

	encoded, err := EncodeServerHello(serverHello)
	require.NoError(t, err)

	decoded, err := DecodeServerHello(encoded)
	require.NoError(t, err)

	require.Equal(t, serverHello.SessionID, decoded.SessionID)
	require.Equal(t, serverHello.SelectedSuite, decoded.SelectedSuite)
	require.Equal(t, serverHello.X25519Pub, decoded.X25519Pub)
	require.Equal(t, serverHello.KyberCiphertext, decoded.KyberCiphertext)
}
