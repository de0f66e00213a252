package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jetstream-proto/jetstream/config"
	"github.com/jetstream-proto/jetstream/transport"
)

func TestListenAcceptHandshake(t *testing.T) {
	cfg := config.New()
	cfg.HeartbeatIntervalMillis = 60_000

	ln, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *transport.Connection, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		accepted <- conn
	}()

	client, err := transport.Dial(ln.LocalAddr().String(), cfg)
	require.NoError(t, err)
	defer client.Close(transport.CloseNormal, "")

	select {
	case conn := <-accepted:
		defer conn.Close(transport.CloseNormal, "")
		require.Equal(t, client.SessionID(), conn.SessionID())
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
}

func TestCloseStopsAccept(t *testing.T) {
	cfg := config.New()
	ln, err := Listen("127.0.0.1:0", cfg)
	require.NoError(t, err)

	require.NoError(t, ln.Close())

	_, err = ln.Accept()
	require.ErrorIs(t, err, ErrClosed)
}
