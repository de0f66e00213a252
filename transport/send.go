package transport

import (
	"time"

	"github.com/jetstream-proto/jetstream/qos"
	"github.com/jetstream-proto/jetstream/reliability"
	"github.com/jetstream-proto/jetstream/stream"
	"github.com/jetstream-proto/jetstream/wire"
)

// OpenStream allocates a new stream (§4.5) and returns its id.
func (c *Connection) OpenStream(priority uint8, mode stream.DeliveryMode) (uint32, error) {
	s, err := c.streams.Open(priority, mode)
	if err != nil {
		return 0, err
	}
	c.metricsCollector.StreamsOpened.Inc()
	return s.ID, nil
}

// qosPriority maps a stream's 0-255 priority byte onto the four QoS
// classes by quartile, since §4.5's Stream.priority and §4.8's four QoS
// levels are deliberately separate knobs in the source (stream priority
// is advisory scheduling input; QoS class is the WDRR bucket).
func qosPriority(p uint8) qos.Priority {
	switch {
	case p >= 192:
		return qos.System
	case p >= 128:
		return qos.Media
	case p >= 64:
		return qos.Chat
	default:
		return qos.Bulk
	}
}

// SendOnStream enqueues payload for delivery on streamID, per §6's
// send_on_stream contract: fails fast with RateLimited, CongestionFull,
// CircuitOpen, StreamNotFound, or Closing.
func (c *Connection) SendOnStream(streamID uint32, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosing
	}
	c.mu.Unlock()

	s, err := c.streams.Get(streamID)
	if err != nil {
		return ErrStreamNotFound
	}
	if !s.CanSend() {
		return ErrClosing
	}
	if !c.rl.Allow(len(payload)) {
		return ErrRateLimited
	}
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}
	if !c.cc.CanSend(c.inFlight()) {
		return ErrCongestionFull
	}

	rec := c.rel.AssignSequence(streamID, payload, s.Mode)
	s.ReserveSend(uint32(len(payload)))
	c.cc.OnSent(uint64(len(payload)))
	c.metricsCollector.BytesSent.Add(float64(len(payload)))

	c.enqueueDataFrame(streamID, rec, s.Mode)
	return nil
}

func (c *Connection) enqueueDataFrame(streamID uint32, rec *reliability.SentRecord, mode stream.DeliveryMode) {
	payloadLen := uint32(len(rec.Payload))
	h := &wire.Header{
		StreamID:     streamID,
		MsgType:      wire.MsgData,
		Sequence:     rec.Sequence,
		Timestamp:    nowMillis(),
		DeliveryMode: wire.DeliveryMode{Tag: wire.DeliveryModeTag(mode.Tag), TTLMillis: mode.TTLMillis},
		PayloadLen:   &payloadLen,
	}
	if ack := c.takePendingAck(); ack != nil {
		h.PiggybackedAck = ack
		c.rel.MarkAckSent()
	}
	c.enqueueFrame(h, rec.Payload, qosPriority(priorityForStream(c, streamID)))
}

// retransmitTask periodically sweeps the sent buffer for records whose
// RTO has elapsed, re-enqueuing those the delivery mode says to retry
// and reporting drops to the congestion controller (§4.6, §4.7).
func (c *Connection) retransmitTask() {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-c.HaltCh():
			return
		case <-t.C:
			for _, exp := range c.rel.SweepExpired() {
				if exp.Retransmit {
					c.metricsCollector.Retransmissions.Inc()
					c.enqueueDataFrame(exp.Record.StreamID, exp.Record, exp.Record.Mode)
					continue
				}
				c.cc.OnLost(uint64(len(exp.Record.Payload)))
			}
			c.flushStalePiggybackAck()
		}
	}
}

func priorityForStream(c *Connection, streamID uint32) uint8 {
	if s, err := c.streams.Get(streamID); err == nil {
		return s.Priority
	}
	return 0
}

// enqueueFrame seals payload under h.Nonce and frames it behind a
// plaintext header, so the receiver can dispatch on msg-type and run
// the replay guard before ever touching the AEAD cipher (§4.3's "0-RTT
// safe" ordering: decode -> dispatch -> replay check -> decrypt).
func (c *Connection) enqueueFrame(h *wire.Header, payload []byte, p qos.Priority) {
	h.Nonce = c.nextNonce()

	var sealedPayload []byte
	if c.sess.SendCipher != nil && len(payload) > 0 {
		sealedPayload = c.sess.SendCipher.Seal(nil, h.Nonce, payload, nil)
		n := uint32(len(sealedPayload))
		h.PayloadLen = &n
	} else {
		sealedPayload = payload
	}

	compress := c.cfg.EnableHeaderCompression && !c.pv.CompressionSuppressed(c.connID)
	headerBytes, err := c.codec.EncodeHeader(h, compress)
	if err != nil {
		c.log.Errorf("encode header: %v", err)
		return
	}
	frame, err := wire.EncodeFrame(nil, headerBytes, sealedPayload)
	if err != nil {
		c.log.Errorf("encode frame: %v", err)
		return
	}

	c.sched.Enqueue(qos.Packet{Priority: p, StreamID: h.StreamID, Payload: frame})
	c.metricsCollector.FramesSent.Inc()
	c.notifySender()
}

func (c *Connection) notifySender() {
	select {
	case c.sendNotify <- struct{}{}:
	default:
	}
}

// inFlight reports the current unacknowledged byte count, tracked by
// the reliability layer itself (AssignSequence/ApplyAck/SweepExpired).
func (c *Connection) inFlight() uint64 {
	return c.rel.BytesInFlight()
}

// senderTask drains the QoS scheduler, coalesces the frames (already
// AEAD-sealed by enqueueFrame) into datagrams, and transmits them (§5's
// sender task, §4.8).
func (c *Connection) senderTask() {
	flushTicker := newNoopTicker()
	if c.cfg.CoalescingWindowMillis > 0 {
		flushTicker = newTicker(c.cfg.CoalescingWindowMillis)
	}
	defer flushTicker.Stop()

	for {
		select {
		case <-c.HaltCh():
			return
		case <-c.sendNotify:
			c.drainQueue()
		case <-flushTicker.C():
			c.flushCoalesced()
		}
	}
}

func (c *Connection) drainQueue() {
	for {
		pkt, ok := c.sched.Dequeue()
		if !ok {
			c.flushCoalesced()
			return
		}
		datagram := c.coalesce.Add(pkt.Payload)
		if datagram != nil {
			c.transmit(datagram)
		}
	}
}

func (c *Connection) flushCoalesced() {
	if datagram := c.coalesce.Flush(); datagram != nil {
		c.transmit(datagram)
	}
}

func (c *Connection) transmit(datagram []byte) {
	peer := c.PeerAddr()
	if !c.pv.CanSend(c.connID, peer, len(datagram)) {
		c.log.Warnf("amplification limit reached for %v, dropping datagram", peer)
		return
	}
	_, err := c.pc.WriteTo(datagram, peer)
	c.pv.RecordSent(c.connID, peer, len(datagram))
	if err != nil {
		c.breaker.RecordFailure()
		if c.breaker.State() == qos.BreakerOpen {
			c.metricsCollector.CircuitOpenTotal.Inc()
		}
		c.log.Warnf("send failed: %v", err)
		return
	}
	c.breaker.RecordSuccess()
	c.metricsCollector.CongestionWindow.Set(float64(c.cc.Cwnd()))
}
