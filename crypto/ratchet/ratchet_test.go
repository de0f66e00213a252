package ratchet

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func trafficKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestInitiatorSendThenResponderReceive(t *testing.T) {
	tk := trafficKey(t)
	alice, err := New(tk, true, rand.Reader)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := New(tk, false, rand.Reader)
	require.NoError(t, err)
	defer bob.Close()

	msgKey, pub, n, err := alice.NextSendKey()
	require.NoError(t, err)

	gotKey, err := bob.ReceiveKey(pub, n)
	require.NoError(t, err)
	require.Equal(t, msgKey, gotKey)
}

func TestResponderCanSendAfterFirstReceive(t *testing.T) {
	tk := trafficKey(t)
	alice, err := New(tk, true, rand.Reader)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := New(tk, false, rand.Reader)
	require.NoError(t, err)
	defer bob.Close()

	_, pub, n, err := alice.NextSendKey()
	require.NoError(t, err)
	_, err = bob.ReceiveKey(pub, n)
	require.NoError(t, err)

	replyKey, replyPub, replyN, err := bob.NextSendKey()
	require.NoError(t, err)

	gotReplyKey, err := alice.ReceiveKey(replyPub, replyN)
	require.NoError(t, err)
	require.Equal(t, replyKey, gotReplyKey)
}

func TestOutOfOrderDeliveryWithinSameEpoch(t *testing.T) {
	tk := trafficKey(t)
	alice, err := New(tk, true, rand.Reader)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := New(tk, false, rand.Reader)
	require.NoError(t, err)
	defer bob.Close()

	key0, pub, n0, err := alice.NextSendKey()
	require.NoError(t, err)
	key1, _, n1, err := alice.NextSendKey()
	require.NoError(t, err)
	key2, _, n2, err := alice.NextSendKey()
	require.NoError(t, err)

	// message 2 arrives first, skipping 0 and 1 into the cache
	got2, err := bob.ReceiveKey(pub, n2)
	require.NoError(t, err)
	require.Equal(t, key2, got2)

	got0, err := bob.ReceiveKey(pub, n0)
	require.NoError(t, err)
	require.Equal(t, key0, got0)

	got1, err := bob.ReceiveKey(pub, n1)
	require.NoError(t, err)
	require.Equal(t, key1, got1)
}

func TestTooManySkippedFails(t *testing.T) {
	tk := trafficKey(t)
	alice, err := New(tk, true, rand.Reader)
	require.NoError(t, err)
	defer alice.Close()
	bob, err := New(tk, false, rand.Reader)
	require.NoError(t, err)
	defer bob.Close()

	var lastPub [32]byte
	var lastN uint64
	for i := 0; i < MaxSkippedMessageKeys+2; i++ {
		_, pub, n, err := alice.NextSendKey()
		require.NoError(t, err)
		lastPub, lastN = pub, n
	}

	_, err = bob.ReceiveKey(lastPub, lastN)
	require.ErrorIs(t, err, ErrTooManySkipped)
}
