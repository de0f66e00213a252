package pathval

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addr(s string) net.Addr {
	a, _ := net.ResolveUDPAddr("udp", s)
	return a
}

func TestStableAddressDoesNotTriggerChallenge(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))
	_, should, err := v.OnReceive(1, addr("127.0.0.1:1000"), 100)
	require.NoError(t, err)
	require.False(t, should)
}

func TestNewAddressTriggersChallengeAndCommitsOnMatchingResponse(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))

	token, should, err := v.OnReceive(1, addr("127.0.0.1:2000"), 100)
	require.NoError(t, err)
	require.True(t, should)

	state, _, _ := v.State(1)
	require.Equal(t, Probing, state)

	err = v.OnResponse(1, addr("127.0.0.1:2000"), token)
	require.NoError(t, err)

	state, curAddr, _ := v.State(1)
	require.Equal(t, Stable, state)
	require.Equal(t, "127.0.0.1:2000", curAddr.String())
}

func TestMismatchedTokenRejected(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))
	_, _, err := v.OnReceive(1, addr("127.0.0.1:2000"), 100)
	require.NoError(t, err)

	var wrong [TokenSize]byte
	err = v.OnResponse(1, addr("127.0.0.1:2000"), wrong)
	require.ErrorIs(t, err, ErrTokenMismatch)
}

func TestReChallengeIntervalExpiry(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))
	token, _, err := v.OnReceive(1, addr("127.0.0.1:2000"), 100)
	require.NoError(t, err)

	v.paths[1].startedAt = time.Now().Add(-2 * ReChallengeInterval)

	err = v.OnResponse(1, addr("127.0.0.1:2000"), token)
	require.ErrorIs(t, err, ErrReChallengeExpired)
}

func TestAmplificationLimitBlocksExcessSend(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))
	candidate := addr("127.0.0.1:2000")
	_, _, err := v.OnReceive(1, candidate, 100)
	require.NoError(t, err)

	require.True(t, v.CanSend(1, candidate, 300))
	v.RecordSent(1, candidate, 300)
	require.False(t, v.CanSend(1, candidate, 1))
}

func TestCompressionSuppressedAfterCommit(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))
	token, _, err := v.OnReceive(1, addr("127.0.0.1:2000"), 100)
	require.NoError(t, err)
	require.NoError(t, v.OnResponse(1, addr("127.0.0.1:2000"), token))
	require.True(t, v.CompressionSuppressed(1))
}

func TestClientMigrationGeneratesTokenAndSuppressesCompression(t *testing.T) {
	v := New()
	v.Stable(1, addr("127.0.0.1:1000"))
	_, err := v.BeginClientMigration(1, addr("10.0.0.5:4000"))
	require.NoError(t, err)
	require.True(t, v.CompressionSuppressed(1))
}
