package session

import (
	"testing"
	"time"

	"github.com/jetstream-proto/jetstream/crypto/aead"
	"github.com/stretchr/testify/require"
)

func TestClientHandshakeStateMachine(t *testing.T) {
	s := New(0)
	require.Equal(t, StateNew, s.State())

	require.NoError(t, s.MarkHelloSent())
	require.Equal(t, StateHelloSent, s.State())

	err := s.MarkHelloSent()
	require.ErrorIs(t, err, ErrInvalidTransition)

	cipher, _ := aead.New(aead.SuiteChaCha20Poly1305, make([]byte, 32))
	require.NoError(t, s.CompleteAsClient(cipher, cipher, aead.SuiteChaCha20Poly1305, 7, 1))
	require.Equal(t, StateEstablished, s.State())
}

func TestServerHandshakeSkipsHelloSent(t *testing.T) {
	s := New(0)
	cipher, _ := aead.New(aead.SuiteAES256GCM, make([]byte, 32))
	require.NoError(t, s.CompleteAsServer(cipher, cipher, aead.SuiteAES256GCM, 1, 1))
	require.Equal(t, StateEstablished, s.State())
}

func TestIdleExpiry(t *testing.T) {
	s := New(10 * time.Millisecond)
	require.False(t, s.IsIdleExpired())
	time.Sleep(20 * time.Millisecond)
	require.True(t, s.IsIdleExpired())
	s.Touch()
	require.False(t, s.IsIdleExpired())
}

func TestTicketExpiry(t *testing.T) {
	tk := &Ticket{CreatedAt: time.Now().Add(-2 * time.Hour), LifetimeS: 3600}
	require.ErrorIs(t, tk.Validate(time.Now()), ErrTicketExpired)

	fresh := &Ticket{CreatedAt: time.Now(), LifetimeS: 3600}
	require.NoError(t, fresh.Validate(time.Now()))
}
