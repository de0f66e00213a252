package transport

import (
	"net"

	"github.com/jetstream-proto/jetstream/pathval"
	"github.com/jetstream-proto/jetstream/wire"
)

// sendControlFrame writes a single unqueued frame directly to addr,
// bypassing the QoS scheduler/coalescer: path-validation control traffic
// (challenge/response) must reach a candidate address that may not be
// the connection's current peer address, and must not wait behind
// coalesced data (§4.9).
func (c *Connection) sendControlFrame(addr net.Addr, msgType wire.MsgType, payload []byte) {
	h := &wire.Header{MsgType: msgType, ConnectionID: &c.connID, Timestamp: nowMillis()}
	headerBytes, err := wire.EncodeSelfDescribing(h)
	if err != nil {
		c.log.Errorf("encode control frame header: %v", err)
		return
	}
	datagram, err := wire.EncodeFrame(nil, headerBytes, payload)
	if err != nil {
		c.log.Errorf("encode control frame: %v", err)
		return
	}
	if _, err := c.pc.WriteTo(datagram, addr); err != nil {
		c.log.Warnf("control frame send to %v failed: %v", addr, err)
	}
}

func (c *Connection) sendPathChallenge(addr net.Addr, token [pathval.TokenSize]byte) {
	c.sendControlFrame(addr, wire.MsgPathChallenge, token[:])
}

func (c *Connection) sendPathResponse(addr net.Addr, token [pathval.TokenSize]byte) {
	c.sendControlFrame(addr, wire.MsgPathResponse, token[:])
}

func (c *Connection) onPathChallenge(f wire.Frame, from net.Addr) {
	if len(f.Payload) != pathval.TokenSize {
		c.log.Debugf("malformed PathChallenge from %v", from)
		return
	}
	var token [pathval.TokenSize]byte
	copy(token[:], f.Payload)
	c.sendPathResponse(from, token)
}

func (c *Connection) onPathResponse(f wire.Frame, from net.Addr) {
	if len(f.Payload) != pathval.TokenSize {
		c.log.Debugf("malformed PathResponse from %v", from)
		return
	}
	var token [pathval.TokenSize]byte
	copy(token[:], f.Payload)
	if err := c.pv.OnResponse(c.connID, from, token); err != nil {
		c.log.Warnf("path validation failed for %v: %v", from, err)
		return
	}
	c.mu.Lock()
	c.peerAddr = from
	c.mu.Unlock()
	c.metricsCollector.MigrationsTotal.Inc()
	c.log.Infof("path to %v validated", from)
}

// Migrate rebinds the connection's local socket and begins client-side
// path validation of the new candidate address (§6's migrate(new_local)).
func (c *Connection) Migrate(newLocal string) error {
	laddr, err := net.ResolveUDPAddr("udp", newLocal)
	if err != nil {
		return err
	}
	newPC, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	oldPC := c.pc
	c.pc = newPC
	c.localAddr = newPC.LocalAddr()
	peer := c.peerAddr
	c.mu.Unlock()

	token, err := c.pv.BeginClientMigration(c.connID, newPC.LocalAddr())
	if err != nil {
		oldPC.Close()
		return err
	}
	c.sendPathChallenge(peer, token)
	oldPC.Close()
	return nil
}
