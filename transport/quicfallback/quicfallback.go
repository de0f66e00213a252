// Package quicfallback adapts a QUIC stream into a net.PacketConn so the
// rest of the transport package (codec, crypto, reliability, ...) can run
// unmodified over it. It exists for the "optional TCP/QUIC fallback" path:
// networks that block or throttle arbitrary UDP often still permit UDP/443
// traffic that looks like ordinary QUIC, so jetstream's own datagrams are
// carried length-prefixed inside a QUIC stream instead of sent as raw UDP.
//
// The PacketConn-over-a-stream idiom here is adapted from katzenpost's
// sockatz QUICProxyConn (sockatz/common/conn.go), which goes the other
// direction (wraps a channel pair as a PacketConn so QUIC can run over an
// arbitrary transport). Here the QUIC connection already exists; this file
// only needs the framing half of that idiom, not QUICProxyConn's
// Accept/Dial machinery.
package quicfallback

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"net"
	"time"

	quic "github.com/quic-go/quic-go"
)

// ErrClosed is returned by StreamConn's Read/Write methods after Close.
var ErrClosed = errors.New("quicfallback: closed")

const maxFrameSize = 64 * 1024

// alpn is the QUIC ALPN token this overlay negotiates. It identifies the
// connection as jetstream-over-QUIC to a peer offering the fallback
// listener; it carries no other semantics.
const alpn = "jetstream-fallback/1"

// StreamConn adapts a single QUIC stream into a net.PacketConn by framing
// each WriteTo payload with a 4-byte big-endian length prefix and reading
// exactly that many bytes back out on ReadFrom. Every packet's "address" is
// the QUIC connection's fixed remote address, since a stream has exactly
// one peer.
type StreamConn struct {
	qconn  quic.Connection
	stream quic.Stream
	local  net.Addr
	remote net.Addr

	readDeadline  time.Time
	writeDeadline time.Time
}

func newStreamConn(qconn quic.Connection, stream quic.Stream) *StreamConn {
	return &StreamConn{
		qconn:  qconn,
		stream: stream,
		local:  qconn.LocalAddr(),
		remote: qconn.RemoteAddr(),
	}
}

// DialAddr dials a QUIC connection to addr and opens its one stream,
// returning a net.PacketConn ready to hand to transport.dialOverConn.
func DialAddr(ctx context.Context, addr string) (*StreamConn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true, // the jetstream handshake authenticates the peer; QUIC/TLS here is just cover traffic
		NextProtos:         []string{alpn},
	}
	qconn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(0, "stream open failed")
		return nil, err
	}
	return newStreamConn(qconn, stream), nil
}

// Accept accepts one QUIC connection on ln and its one stream, returning a
// net.PacketConn for the fallback listener side.
func Accept(ctx context.Context, ln *quic.Listener) (*StreamConn, error) {
	qconn, err := ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		qconn.CloseWithError(0, "stream accept failed")
		return nil, err
	}
	return newStreamConn(qconn, stream), nil
}

// Listen starts a QUIC listener on local suitable for Accept, using a
// self-signed certificate (the overlay's own handshake is what actually
// authenticates peers).
func Listen(local string) (*quic.Listener, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, err
	}
	tlsConf.NextProtos = []string{alpn}
	return quic.ListenAddr(local, tlsConf, nil)
}

// ReadFrom implements net.PacketConn by reading one length-prefixed frame.
func (s *StreamConn) ReadFrom(p []byte) (int, net.Addr, error) {
	if !s.readDeadline.IsZero() {
		s.stream.SetReadDeadline(s.readDeadline)
	}
	n, err := readFrame(s.stream, p)
	if err != nil {
		return 0, nil, err
	}
	return n, s.remote, nil
}

// WriteTo implements net.PacketConn by writing one length-prefixed frame.
// addr is ignored: a QUIC stream has exactly one peer.
func (s *StreamConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	if !s.writeDeadline.IsZero() {
		s.stream.SetWriteDeadline(s.writeDeadline)
	}
	return writeFrame(s.stream, p)
}

// readFrame and writeFrame hold the framing logic on its own, independent
// of quic.Stream, so it can be exercised directly against any io.ReadWriter
// (tests use a net.Pipe) without standing up a real QUIC handshake.
func readFrame(r io.Reader, p []byte) (int, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return 0, errors.New("quicfallback: frame too large")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return copy(p, buf), nil
}

func writeFrame(w io.Writer, p []byte) (int, error) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *StreamConn) Close() error {
	s.stream.Close()
	return s.qconn.CloseWithError(0, "closed")
}

func (s *StreamConn) LocalAddr() net.Addr  { return s.local }
func (s *StreamConn) RemoteAddr() net.Addr { return s.remote }

func (s *StreamConn) SetDeadline(t time.Time) error {
	s.readDeadline = t
	s.writeDeadline = t
	return nil
}
func (s *StreamConn) SetReadDeadline(t time.Time) error {
	s.readDeadline = t
	return nil
}
func (s *StreamConn) SetWriteDeadline(t time.Time) error {
	s.writeDeadline = t
	return nil
}

// selfSignedTLSConfig generates a throwaway RSA certificate, the standard
// pattern QUIC example servers use when the protocol riding on top already
// handles peer authentication.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
