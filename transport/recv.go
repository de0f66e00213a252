package transport

import (
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/jetstream-proto/jetstream/qos"
	"github.com/jetstream-proto/jetstream/reliability"
	"github.com/jetstream-proto/jetstream/session"
	"github.com/jetstream-proto/jetstream/wire"
)

const maxDatagramSize = 64 * 1024

// receiveLoop awaits datagrams on the UDP endpoint (§5's receive loop):
// decode -> dispatch by msg-type -> replay guard -> reliability record
// -> in-order delivery.
func (c *Connection) receiveLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-c.HaltCh():
			return
		default:
		}

		c.pc.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := c.pc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-c.HaltCh():
				return
			default:
				c.log.Warnf("receive error: %v", err)
				continue
			}
		}

		c.onDatagram(buf[:n], addr)
	}
}

func (c *Connection) onDatagram(datagram []byte, addr net.Addr) {
	token, shouldChallenge, err := c.pv.OnReceive(c.connID, addr, len(datagram))
	if err != nil {
		c.log.Warnf("path validator error: %v", err)
	}
	if shouldChallenge {
		c.log.Infof("new address %v for connection %d, challenging", addr, c.connID)
		c.sendPathChallenge(addr, token)
	}

	frames, err := c.codec.DecodeDatagram(datagram)
	if err != nil {
		c.log.Debugf("malformed datagram from %v: %v", addr, err)
		return
	}

	for _, f := range frames {
		c.metricsCollector.FramesReceived.Inc()
		c.dispatchFrame(f, addr)
	}
}

func (c *Connection) dispatchFrame(f wire.Frame, from net.Addr) {
	h := f.Header
	switch h.MsgType {
	case wire.MsgHandshake:
		// Handled synchronously by clientHandshake/serverHandshake before
		// the receive loop starts; a stray post-handshake Handshake frame
		// is ignored.
	case wire.MsgSTUN, wire.MsgTURN:
		// Candidate gathering is out of scope (spec.md Non-goals); these
		// codes are reserved on the wire but unhandled here.
	case wire.MsgPathChallenge:
		c.onPathChallenge(f, from)
	case wire.MsgPathResponse:
		c.onPathResponse(f, from)
	case wire.MsgHeartbeat:
		c.sess.Touch()
	case wire.MsgClose:
		c.onClose(f)
	case wire.MsgACK:
		c.onAck(f)
	case wire.MsgTicket:
		c.onTicket(f)
	case wire.MsgData:
		c.onData(f)
	}
}

// onTicket imports a resumption ticket the server issued post-handshake
// (§4.2's "0-RTT", §9). Unlike onAck/onClose, the payload here carries
// secret material the client will replay on a future ClientHello, so it
// is explicitly decrypted via RecvCipher before use rather than trusted
// as plaintext.
func (c *Connection) onTicket(f wire.Frame) {
	if c.sess.RecvCipher == nil || len(f.Payload) == 0 {
		return
	}
	plain, err := c.sess.RecvCipher.Open(nil, f.Header.Nonce, f.Payload, nil)
	if err != nil {
		c.log.Warnf("decrypt ticket frame failed: %v", err)
		return
	}
	var wt wireTicket
	if err := cbor.Unmarshal(plain, &wt); err != nil {
		c.log.Debugf("malformed ticket payload: %v", err)
		return
	}
	t := &session.Ticket{
		Opaque:     wt.Opaque,
		TrafficKey: c.pendingTicketKey,
		CreatedAt:  time.Unix(wt.CreatedAt, 0),
		LifetimeS:  wt.LifetimeS,
	}
	select {
	case c.ticketCh <- t:
	default:
	}
}

func (c *Connection) onData(f wire.Frame) {
	if err := c.replayG.CheckAndRegister(f.Header.Nonce, f.Header.Timestamp, nowMillis()); err != nil {
		c.metricsCollector.ReplayRejected.Inc()
		c.log.Debugf("replay guard rejected nonce=%d: %v", f.Header.Nonce, err)
		return
	}

	payload := f.Payload
	if c.sess.RecvCipher != nil && len(payload) > 0 {
		pt, err := c.sess.RecvCipher.Open(nil, f.Header.Nonce, payload, nil)
		if err != nil {
			c.log.Warnf("decrypt failed on stream %d seq %d: %v", f.Header.StreamID, f.Header.Sequence, err)
			return
		}
		payload = pt
	}

	c.sess.Touch()
	c.metricsCollector.BytesReceived.Add(float64(len(payload)))
	dup := c.rel.Receive(&reliability.ReceivedRecord{
		Sequence: f.Header.Sequence,
		StreamID: f.Header.StreamID,
		Payload:  payload,
	})
	if dup {
		c.metricsCollector.DuplicatesDropped.Inc()
		return
	}

	c.deliverInOrder()
	c.maybeSendAck()
}

func (c *Connection) deliverInOrder() {
	ready := c.rel.PopInOrder()
	if len(ready) == 0 {
		return
	}
	c.mu.Lock()
	for _, r := range ready {
		c.pending = append(c.pending, RecvItem{StreamID: r.StreamID, Payload: r.Payload})
	}
	c.mu.Unlock()
	select {
	case c.recvReady <- struct{}{}:
	default:
	}
}

func (c *Connection) maybeSendAck() {
	if !c.rel.ShouldSendBatchedAck() {
		return
	}
	ack, ok := c.rel.CumulativeAck()
	if !ok {
		return
	}
	ranges := c.rel.SACKRanges()
	if len(ranges) == 0 {
		// Nothing but a cumulative ack to report, so let it ride the next
		// outbound Data frame's PiggybackedAck field instead of spending a
		// datagram on it (§4.6). A SACK range has nowhere to ride along
		// with a Data frame's payload, so that case still goes standalone.
		c.stagePiggybackAck(ack)
		return
	}
	c.sendStandaloneAck(ack, ranges)
}

func (c *Connection) stagePiggybackAck(ack uint64) {
	c.pendingAckMu.Lock()
	c.pendingAck = &ack
	c.pendingAckTime = time.Now()
	c.pendingAckMu.Unlock()
}

// takePendingAck returns and clears a staged cumulative ack, for
// enqueueDataFrame to piggyback onto the header it is about to send.
func (c *Connection) takePendingAck() *uint64 {
	c.pendingAckMu.Lock()
	defer c.pendingAckMu.Unlock()
	ack := c.pendingAck
	c.pendingAck = nil
	return ack
}

// flushStalePiggybackAck sends a piggybacked ack standalone once it has
// waited longer than the batch timeout without a Data frame to ride on,
// so a quiet sender doesn't leave the peer's cumulative ack stale.
func (c *Connection) flushStalePiggybackAck() {
	c.pendingAckMu.Lock()
	ack := c.pendingAck
	stagedAt := c.pendingAckTime
	c.pendingAckMu.Unlock()
	if ack == nil || time.Since(stagedAt) < reliability.DefaultBatchTimeout {
		return
	}
	if c.takePendingAck() == nil {
		return
	}
	c.sendStandaloneAck(*ack, c.rel.SACKRanges())
}

func (c *Connection) sendStandaloneAck(ack uint64, ranges [][2]uint64) {
	sackPayload, err := cbor.Marshal(ranges)
	if err != nil {
		c.log.Errorf("encode SACK ranges: %v", err)
		return
	}
	h := &wire.Header{
		MsgType:        wire.MsgACK,
		Timestamp:      nowMillis(),
		PiggybackedAck: &ack,
	}
	c.enqueueFrame(h, sackPayload, qos.System)
	c.rel.MarkAckSent()
}

func (c *Connection) onAck(f wire.Frame) {
	if f.Header.PiggybackedAck == nil {
		return
	}
	var ranges [][2]uint64
	if len(f.Payload) > 0 {
		if err := cbor.Unmarshal(f.Payload, &ranges); err != nil {
			c.log.Debugf("malformed SACK payload: %v", err)
			return
		}
	}
	result := c.rel.ApplyAck(*f.Header.PiggybackedAck, ranges)
	if len(result.RemovedSequences) == 0 {
		return
	}
	c.cc.OnAcked(result.BytesAcked, averageRTT(result.RTTSamples))
	c.breaker.RecordSuccess()
	c.metricsCollector.RTTMillis.Set(float64(averageRTT(result.RTTSamples).Milliseconds()))
}

func averageRTT(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

func (c *Connection) onClose(f wire.Frame) {
	c.log.Infof("peer sent Close")
	c.closeLocal()
}

// Recv returns all in-order ready payloads received since the last
// call (§6).
func (c *Connection) Recv() []RecvItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// RecvReady returns a channel that receives a signal whenever Recv has
// new payloads to return, for callers that want to wait rather than
// poll.
func (c *Connection) RecvReady() <-chan struct{} { return c.recvReady }

// heartbeatTask ticks at the configured interval and pings the peer when
// idle (§5).
func (c *Connection) heartbeatTask() {
	t := time.NewTicker(c.cfg.HeartbeatInterval())
	defer t.Stop()
	missed := 0
	for {
		select {
		case <-c.HaltCh():
			return
		case <-t.C:
			if c.sess.IdleSince() < c.cfg.HeartbeatInterval() {
				missed = 0
				continue
			}
			h := &wire.Header{MsgType: wire.MsgHeartbeat, Timestamp: nowMillis()}
			c.enqueueFrame(h, nil, qos.System)
			missed++
			if missed >= c.cfg.HeartbeatTimeoutCount {
				c.log.Warnf("heartbeat timeout, closing connection")
				c.closeLocal()
				return
			}
		}
	}
}

// flushTask ticks at coalescing_window/2 and flushes any stale
// coalesced buffer (§5).
func (c *Connection) flushTask() {
	interval := time.Duration(c.cfg.CoalescingWindowMillis) * time.Millisecond / 2
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.HaltCh():
			return
		case <-t.C:
			if c.coalesce.Pending() {
				c.flushCoalesced()
			}
		}
	}
}
