package hybridkem

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHybridExchangeAgreesAndDerivesSameKey(t *testing.T) {
	client, err := GenerateClientKeypair(rand.Reader)
	require.NoError(t, err)

	serverResult, err := ServerRespond(rand.Reader, client.X25519Pub, client.KyberPub)
	require.NoError(t, err)

	clientSharedX, clientSharedK, err := client.ClientDecapsulate(serverResult.X25519Pub, serverResult.KyberCiphertext)
	require.NoError(t, err)

	require.Equal(t, serverResult.SharedX, clientSharedX)
	require.Equal(t, serverResult.SharedK, clientSharedK)

	clientRandom := []byte("client-random-32-bytes-exactly!!")
	serverRandom := []byte("server-random-32-bytes-exactly!!")

	clientKey, err := DeriveTrafficKey(clientSharedX, clientSharedK, clientRandom, serverRandom)
	require.NoError(t, err)
	serverKey, err := DeriveTrafficKey(serverResult.SharedX, serverResult.SharedK, clientRandom, serverRandom)
	require.NoError(t, err)

	require.Equal(t, clientKey, serverKey)
	require.Len(t, clientKey, TrafficKeySize)
}

func TestMismatchedKyberCiphertextDoesNotAgree(t *testing.T) {
	client, err := GenerateClientKeypair(rand.Reader)
	require.NoError(t, err)

	serverResult, err := ServerRespond(rand.Reader, client.X25519Pub, client.KyberPub)
	require.NoError(t, err)

	other, err := GenerateClientKeypair(rand.Reader)
	require.NoError(t, err)
	otherServerResult, err := ServerRespond(rand.Reader, other.X25519Pub, other.KyberPub)
	require.NoError(t, err)

	// Decapsulating a ciphertext meant for a different keypair must not
	// reproduce the same shared secret.
	_, sharedK, err := client.ClientDecapsulate(serverResult.X25519Pub, otherServerResult.KyberCiphertext)
	if err == nil {
		require.NotEqual(t, serverResult.SharedK, sharedK)
	}
}
