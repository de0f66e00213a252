package quicfallback

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello over the fallback stream")
	done := make(chan error, 1)
	go func() {
		_, err := writeFrame(client, payload)
		done <- err
	}()

	buf := make([]byte, maxFrameSize)
	n, err := readFrame(server, buf)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, payload, buf[:n])
}

func TestFrameRoundTripMultiple(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	frames := [][]byte{[]byte("first"), []byte(""), []byte("third frame is longer")}
	go func() {
		for _, f := range frames {
			if _, err := writeFrame(client, f); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, maxFrameSize)
	for _, want := range frames {
		n, err := readFrame(server, buf)
		require.NoError(t, err)
		require.Equal(t, want, buf[:n])
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var lenBuf [4]byte
		lenBuf[0] = 0xFF // encodes a length far beyond maxFrameSize
		client.Write(lenBuf[:])
	}()

	buf := make([]byte, maxFrameSize)
	_, err := readFrame(server, buf)
	require.Error(t, err)
}
