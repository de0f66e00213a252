package aead

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, KeySize)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestSealOpenRoundTrip(t *testing.T) {
	for _, suite := range []Suite{SuiteChaCha20Poly1305, SuiteAES256GCM} {
		key := randomKey(t)
		c, err := New(suite, key)
		require.NoError(t, err)

		plaintext := []byte("weighted deficit round robin")
		aad := []byte("header-bytes")

		sealed := c.Seal(nil, 42, plaintext, aad)
		require.NotEqual(t, plaintext, sealed)

		opened, err := c.Open(nil, 42, sealed, aad)
		require.NoError(t, err)
		require.Equal(t, plaintext, opened)
	}
}

func TestOpenFailsOnWrongNonce(t *testing.T) {
	key := randomKey(t)
	c, err := New(SuiteChaCha20Poly1305, key)
	require.NoError(t, err)

	sealed := c.Seal(nil, 1, []byte("data"), nil)
	_, err = c.Open(nil, 2, sealed, nil)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenFailsOnTamperedAAD(t *testing.T) {
	key := randomKey(t)
	c, err := New(SuiteAES256GCM, key)
	require.NoError(t, err)

	sealed := c.Seal(nil, 1, []byte("data"), []byte("original-aad"))
	_, err = c.Open(nil, 1, sealed, []byte("different-aad"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestNewRejectsBadKeySize(t *testing.T) {
	_, err := New(SuiteChaCha20Poly1305, make([]byte, 16))
	require.ErrorIs(t, err, ErrBadKeySize)
}

func TestNegotiateSuitePrefersLocalOrder(t *testing.T) {
	local := []Suite{SuiteAES256GCM, SuiteChaCha20Poly1305}
	remote := []Suite{SuiteChaCha20Poly1305, SuiteAES256GCM}

	got, ok := NegotiateSuite(local, remote)
	require.True(t, ok)
	require.Equal(t, SuiteAES256GCM, got)
}

func TestNegotiateSuiteNoOverlap(t *testing.T) {
	_, ok := NegotiateSuite([]Suite{SuiteAES256GCM}, nil)
	require.False(t, ok)
}
