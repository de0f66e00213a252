package crypto

import (
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/jetstream-proto/jetstream/crypto/aead"
	"github.com/stretchr/testify/require"
)

func randomSTEK(t *testing.T) [TicketKeySize]byte {
	t.Helper()
	var stek [TicketKeySize]byte
	_, err := io.ReadFull(rand.Reader, stek[:])
	require.NoError(t, err)
	return stek
}

func TestTicketIssueThenOpenRoundTrip(t *testing.T) {
	stek := randomSTEK(t)
	trafficKey := make([]byte, aead.KeySize)
	_, err := io.ReadFull(rand.Reader, trafficKey)
	require.NoError(t, err)

	ticket, err := IssueTicket(stek, trafficKey, aead.SuiteAES256GCM, 1, 7, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, ticket.Opaque)

	gotKey, gotSuite, gotFormat, gotSessionID, err := OpenTicket(stek, ticket.Opaque, time.Now())
	require.NoError(t, err)
	require.Equal(t, trafficKey, gotKey)
	require.Equal(t, aead.SuiteAES256GCM, gotSuite)
	require.Equal(t, uint8(1), gotFormat)
	require.Equal(t, uint64(7), gotSessionID)
}

func TestTicketOpenRejectsExpired(t *testing.T) {
	stek := randomSTEK(t)
	trafficKey := make([]byte, aead.KeySize)

	ticket, err := IssueTicket(stek, trafficKey, aead.SuiteChaCha20Poly1305, 0, 1, time.Minute)
	require.NoError(t, err)

	_, _, _, _, err = OpenTicket(stek, ticket.Opaque, time.Now().Add(2*time.Minute))
	require.Error(t, err)
}

func TestTicketOpenRejectsWrongKey(t *testing.T) {
	stek := randomSTEK(t)
	other := randomSTEK(t)
	trafficKey := make([]byte, aead.KeySize)

	ticket, err := IssueTicket(stek, trafficKey, aead.SuiteChaCha20Poly1305, 0, 1, time.Hour)
	require.NoError(t, err)

	_, _, _, _, err = OpenTicket(other, ticket.Opaque, time.Now())
	require.ErrorIs(t, err, ErrTicketDecryptFailed)
}

func TestBuildResumedServerHelloMarksResumed(t *testing.T) {
	sh, err := BuildResumedServerHello(rand.Reader, 42, aead.SuiteAES256GCM, 1)
	require.NoError(t, err)
	require.True(t, sh.Resumed)
	require.Equal(t, uint64(42), sh.SessionID)
}
