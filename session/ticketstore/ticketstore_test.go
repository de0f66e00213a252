package ticketstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jetstream-proto/jetstream/session"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "tickets.db"), []byte("test-passphrase"))
	require.NoError(t, err)
	defer store.Close()

	ticket := &session.Ticket{
		ID:        [32]byte{1, 2, 3},
		Opaque:    []byte("opaque-traffic-key-blob"),
		CreatedAt: time.Now(),
		LifetimeS: 3600,
	}
	store.Put("peer-a", ticket)

	require.Eventually(t, func() bool {
		got, err := store.Get("peer-a")
		return err == nil && got != nil && got.Opaque != nil
	}, time.Second, 10*time.Millisecond)

	got, err := store.Get("peer-a")
	require.NoError(t, err)
	require.Equal(t, ticket.Opaque, got.Opaque)
	require.Equal(t, ticket.ID, got.ID)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "tickets.db"), []byte("pw"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("nobody")
	require.ErrorIs(t, err, ErrNotFound)
}
