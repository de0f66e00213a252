// Package reliability implements sequence assignment, the sent/received
// ordered buffers, RFC 6298 RTT/RTO estimation, SACK, ACK batching and
// per-delivery-mode retransmission policy (§4.6).
//
// Grounded on client2/arq.go's ARQ shape (a retransmission map keyed by
// message identity, each entry carrying SentAt/ReplyETA/Retransmissions)
// generalized from ARQ's single identifier space to ordered sequence
// buffers, using gitlab.com/yawning/avl.git (as server/internal/decoy.go
// uses it for its ETA-ordered SURB sweep) to keep sent/received entries
// ordered by sequence number for efficient cumulative-ack advancement and
// RTO sweeps.
package reliability

import (
	"sync"
	"time"

	"github.com/jetstream-proto/jetstream/stream"
	"gitlab.com/yawning/avl.git"
)

// DefaultMinRTO is the RFC 6298 floor (§4.6).
const DefaultMinRTO = 200 * time.Millisecond

// DefaultBatchSize and DefaultBatchTimeout are §6's ack_batch_size /
// ack_batch_timeout_ms defaults.
const (
	DefaultBatchSize    = 10
	DefaultBatchTimeout = 10 * time.Millisecond
)

// SentRecord is one in-flight packet awaiting acknowledgment.
type SentRecord struct {
	Sequence        uint64
	StreamID        uint32
	SendTime        time.Time
	Payload         []byte
	Mode            stream.DeliveryMode
	Retransmissions uint32
}

// ReceivedRecord is one received-but-not-yet-delivered packet.
type ReceivedRecord struct {
	Sequence uint64
	StreamID uint32
	Payload  []byte
}

func cmpSent(a, b interface{}) int {
	x, y := a.(*SentRecord).Sequence, b.(*SentRecord).Sequence
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func cmpReceived(a, b interface{}) int {
	x, y := a.(*ReceivedRecord).Sequence, b.(*ReceivedRecord).Sequence
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Reliability holds one connection's reliability state: sequence
// assignment, the sent/received ordered buffers, RTT estimation and ACK
// batching bookkeeping (§3's "Reliability state").
type Reliability struct {
	mu sync.Mutex

	nextSeq uint64

	sentBuffer     *avl.Tree
	sentBySeq      map[uint64]*avl.Node
	receivedBuffer *avl.Tree
	receivedBySeq  map[uint64]bool

	cumulativeAck uint64
	haveAck       bool

	srtt, rttvar time.Duration
	haveRTT      bool

	bytesInFlight   uint64
	pendingAckCount int
	lastAckTime     time.Time

	duplicateCount uint64

	BatchSize    int
	BatchTimeout time.Duration
}

// New returns an empty Reliability state with §6's default ACK-batching
// thresholds.
func New() *Reliability {
	return &Reliability{
		sentBuffer:     avl.New(cmpSent),
		sentBySeq:      make(map[uint64]*avl.Node),
		receivedBuffer: avl.New(cmpReceived),
		receivedBySeq:  make(map[uint64]bool),
		lastAckTime:    time.Now(),
		BatchSize:      DefaultBatchSize,
		BatchTimeout:   DefaultBatchTimeout,
	}
}

// AssignSequence returns the next strictly-increasing per-connection
// sequence number (§3's Data-frame invariant) and, if mode requires
// retransmission tracking, records payload in the sent buffer.
func (r *Reliability) AssignSequence(streamID uint32, payload []byte, mode stream.DeliveryMode) *SentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++

	rec := &SentRecord{Sequence: seq, StreamID: streamID, SendTime: time.Now(), Payload: payload, Mode: mode}
	if mode.Tag != stream.BestEffort {
		node := r.sentBuffer.Insert(rec)
		r.sentBySeq[seq] = node
	}
	r.bytesInFlight += uint64(len(payload))
	return rec
}

// TrackBestEffort records a BestEffort send briefly so a prompt ACK can
// still contribute an RTT sample (§4.6: "kept briefly only to capture
// RTT"); it is not retransmitted and is dropped once its RTO passes by
// SweepExpired.
func (r *Reliability) TrackBestEffort(rec *SentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node := r.sentBuffer.Insert(rec)
	r.sentBySeq[rec.Sequence] = node
}

// RTO returns the current retransmission timeout, per RFC 6298 with
// §4.6's 200ms floor.
func (r *Reliability) RTO() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rto()
}

func (r *Reliability) rto() time.Duration {
	if !r.haveRTT {
		return DefaultMinRTO
	}
	rto := r.srtt + 4*r.rttvar
	if rto < DefaultMinRTO {
		return DefaultMinRTO
	}
	return rto
}

func (r *Reliability) sampleRTT(sample time.Duration) {
	if !r.haveRTT {
		r.srtt = sample
		r.rttvar = sample / 2
		r.haveRTT = true
		return
	}
	diff := sample - r.srtt
	if diff < 0 {
		diff = -diff
	}
	r.rttvar = (3*r.rttvar + diff) / 4
	r.srtt = (7*r.srtt + sample) / 8
}

// AckResult summarizes what an incoming ACK removed from the sent
// buffer.
type AckResult struct {
	RemovedSequences []uint64
	RTTSamples       []time.Duration
	BytesAcked       uint64
}

// ApplyAck removes every sequence ≤ cumulativeAck and every sequence
// within sackRanges (inclusive [lo,hi] pairs) from the sent buffer,
// taking an RTT sample for each removal (§4.6's "ACK shape").
func (r *Reliability) ApplyAck(cumulativeAck uint64, sackRanges [][2]uint64) AckResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result AckResult
	now := time.Now()

	remove := func(seq uint64) {
		node, ok := r.sentBySeq[seq]
		if !ok {
			return
		}
		rec := node.Value.(*SentRecord)
		r.sentBuffer.Remove(node)
		delete(r.sentBySeq, seq)
		if uint64(len(rec.Payload)) <= r.bytesInFlight {
			r.bytesInFlight -= uint64(len(rec.Payload))
		}
		sample := now.Sub(rec.SendTime)
		r.sampleRTT(sample)
		result.RemovedSequences = append(result.RemovedSequences, seq)
		result.RTTSamples = append(result.RTTSamples, sample)
		result.BytesAcked += uint64(len(rec.Payload))
	}

	for seq := range r.sentBySeq {
		if seq <= cumulativeAck {
			remove(seq)
		}
	}
	for _, rng := range sackRanges {
		for seq := rng[0]; seq <= rng[1]; seq++ {
			remove(seq)
		}
	}
	return result
}

// ExpiredRecord is a sent-buffer entry whose RTO has passed, annotated
// with the action the caller should take per its delivery mode.
type ExpiredRecord struct {
	Record       *SentRecord
	Retransmit   bool
}

// SweepExpired scans the sent buffer for records whose RTO has elapsed
// and applies §4.6's per-mode retransmit policy: Reliable always
// retransmits; PartiallyReliable retransmits only while within its TTL,
// otherwise is dropped; BestEffort is always dropped, never retransmitted.
func (r *Reliability) SweepExpired() []ExpiredRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rto := r.rto()
	now := time.Now()
	var out []ExpiredRecord

	for seq, node := range r.sentBySeq {
		rec := node.Value.(*SentRecord)
		elapsed := now.Sub(rec.SendTime)
		if elapsed < rto {
			continue
		}

		switch rec.Mode.Tag {
		case stream.Reliable:
			rec.Retransmissions++
			rec.SendTime = now
			out = append(out, ExpiredRecord{Record: rec, Retransmit: true})
		case stream.PartiallyReliable:
			ttl := time.Duration(rec.Mode.TTLMillis) * time.Millisecond
			if elapsed < ttl {
				rec.Retransmissions++
				rec.SendTime = now
				out = append(out, ExpiredRecord{Record: rec, Retransmit: true})
			} else {
				r.sentBuffer.Remove(node)
				delete(r.sentBySeq, seq)
				out = append(out, ExpiredRecord{Record: rec, Retransmit: false})
			}
		case stream.BestEffort:
			r.sentBuffer.Remove(node)
			delete(r.sentBySeq, seq)
			out = append(out, ExpiredRecord{Record: rec, Retransmit: false})
		}
	}
	return out
}

// Receive inserts an incoming data packet into the received buffer,
// advancing cumulativeAck as far as contiguity allows, per §4.6's
// "In-order delivery". It reports whether the packet was a duplicate
// (already delivered or already queued), which callers count but which
// never resets ACK batching.
func (r *Reliability) Receive(rec *ReceivedRecord) (duplicate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.haveAck && rec.Sequence <= r.cumulativeAck {
		r.duplicateCount++
		return true
	}
	if r.receivedBySeq[rec.Sequence] {
		r.duplicateCount++
		return true
	}

	r.receivedBuffer.Insert(rec)
	r.receivedBySeq[rec.Sequence] = true
	r.pendingAckCount++

	r.advanceCumulativeAck()
	return false
}

// advanceCumulativeAck extends cumulativeAck forward through any
// contiguous run of received sequences. Before any ack has ever been
// established, the run must start at the lowest sequence number actually
// seen rather than at zero, since a connection's sequence numbering need
// not begin at exactly zero.
func (r *Reliability) advanceCumulativeAck() {
	next := r.cumulativeAck
	if !r.haveAck {
		next = r.lowestPending()
		if !r.receivedBySeq[next] {
			return
		}
		r.cumulativeAck = next
		r.haveAck = true
	}
	for r.receivedBySeq[next+1] {
		next++
	}
	r.cumulativeAck = next
}

func (r *Reliability) lowestPending() uint64 {
	iter := r.receivedBuffer.Iterator(avl.Forward)
	node := iter.First()
	if node == nil {
		return 0
	}
	return node.Value.(*ReceivedRecord).Sequence
}

// PopInOrder returns, in ascending sequence order, every queued record
// whose sequence is ≤ the current cumulative ack, removing them from the
// buffer (§4.6).
func (r *Reliability) PopInOrder() []*ReceivedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.haveAck {
		return nil
	}

	var out []*ReceivedRecord
	iter := r.receivedBuffer.Iterator(avl.Forward)
	for node := iter.First(); node != nil; {
		rec := node.Value.(*ReceivedRecord)
		if rec.Sequence > r.cumulativeAck {
			break
		}
		out = append(out, rec)
		next := iter.Next()
		r.receivedBuffer.Remove(node)
		delete(r.receivedBySeq, rec.Sequence)
		node = next
	}
	return out
}

// SACKRanges computes contiguous runs of received sequences strictly
// above the cumulative ack, in ascending order (§4.6's "ACK shape").
func (r *Reliability) SACKRanges() [][2]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ranges [][2]uint64
	var lo, hi uint64
	open := false

	iter := r.receivedBuffer.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		seq := node.Value.(*ReceivedRecord).Sequence
		if r.haveAck && seq <= r.cumulativeAck {
			continue
		}
		if !open {
			lo, hi = seq, seq
			open = true
			continue
		}
		if seq == hi+1 {
			hi = seq
			continue
		}
		ranges = append(ranges, [2]uint64{lo, hi})
		lo, hi = seq, seq
	}
	if open {
		ranges = append(ranges, [2]uint64{lo, hi})
	}
	return ranges
}

// CumulativeAck reports the current cumulative ack value and whether any
// has been established yet.
func (r *Reliability) CumulativeAck() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cumulativeAck, r.haveAck
}

// ShouldSendBatchedAck reports whether pending received acks have
// crossed the batch-size or batch-timeout threshold (§4.6's "ACK
// batching").
func (r *Reliability) ShouldSendBatchedAck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingAckCount >= r.BatchSize {
		return true
	}
	return time.Since(r.lastAckTime) >= r.BatchTimeout
}

// MarkAckSent resets the ACK-batching counters after an ACK frame (batch
// or piggybacked) has actually been sent.
func (r *Reliability) MarkAckSent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingAckCount = 0
	r.lastAckTime = time.Now()
}

// BytesInFlight reports the current unacknowledged byte count, for
// congestion-control callers.
func (r *Reliability) BytesInFlight() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesInFlight
}

// DuplicateCount reports the running count of duplicate/ignored received
// packets, for metrics.
func (r *Reliability) DuplicateCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicateCount
}
