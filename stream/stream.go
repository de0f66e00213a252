// Package stream implements the stream multiplexer (§3 "Stream", §4.5).
// Grounded on stream/stream.go's StreamState enum (Open/Closing/Closed)
// and its sync.Mutex-guarded per-stream counters, generalized from that
// file's single mixnet-message-box stream to a per-connection table of
// many concurrently open streams with per-stream flow-control windows.
package stream

import (
	"errors"
	"sync"
)

// State is a stream's lifecycle position.
type State uint8

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// DeliveryTag mirrors wire.DeliveryModeTag without importing the wire
// package, keeping stream's dependency graph a leaf below wire.
type DeliveryTag uint8

const (
	Reliable DeliveryTag = iota
	PartiallyReliable
	BestEffort
)

// DeliveryMode is the per-stream delivery discipline the caller chose at
// open_stream time.
type DeliveryMode struct {
	Tag       DeliveryTag
	TTLMillis uint32
}

// DefaultWindowBytes is §3's default 64 KiB send/receive window.
const DefaultWindowBytes = 64 * 1024

// DefaultMaxStreams is §3's default concurrent-stream cap.
const DefaultMaxStreams = 100

var (
	// ErrMaxStreamsReached is returned by Table.Open when the table is
	// already at its configured cap.
	ErrMaxStreamsReached = errors.New("stream: maximum concurrent stream count reached")
	// ErrStreamNotFound is returned when operating on an id the table
	// does not (or no longer) holds.
	ErrStreamNotFound = errors.New("stream: stream not found")
)

// Stream is one multiplexed logical channel within a connection.
type Stream struct {
	mu sync.Mutex

	ID       uint32
	Priority uint8
	Mode     DeliveryMode

	state State

	sendWindow uint32
	recvWindow uint32

	sendSeq uint64
	recvSeq uint64

	lastActivityNanos int64
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanSend reports whether the stream is Open and has send-window
// capacity remaining (§4.5's can_send predicate).
func (s *Stream) CanSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Open && s.sendWindow > 0
}

// ReserveSend decrements the send window by n bytes, as a send proceeds.
// Callers must have already checked CanSend; ReserveSend does not itself
// reject an over-large send, it floors the window at zero.
func (s *Stream) ReserveSend(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.sendWindow {
		s.sendWindow = 0
	} else {
		s.sendWindow -= n
	}
}

// GrantSendWindow increments the send window on a window-update from the
// peer.
func (s *Stream) GrantSendWindow(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendWindow += n
}

// ConsumeRecvWindow decrements the receive window as bytes arrive, and
// GrantRecvWindow restores it once the caller has drained those bytes
// (the window-update the peer sees as GrantSendWindow).
func (s *Stream) ConsumeRecvWindow(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.recvWindow {
		s.recvWindow = 0
	} else {
		s.recvWindow -= n
	}
}

func (s *Stream) GrantRecvWindow(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvWindow += n
}

// NextSendSeq returns and then increments the stream's local
// send-sequence counter.
func (s *Stream) NextSendSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sendSeq
	s.sendSeq++
	return seq
}

func (s *Stream) markClosing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Open || s.state == Opening {
		s.state = Closing
	}
}

func (s *Stream) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
}

// Table is a connection's stream multiplexer: it assigns monotonic ids
// starting at 1, bounds concurrent open streams, and never reuses an id
// once Closed (§3's invariant).
type Table struct {
	mu sync.Mutex

	maxStreams int
	nextID     uint32
	streams    map[uint32]*Stream
}

// NewTable returns an empty Table capped at maxStreams concurrently
// non-Closed streams. A non-positive maxStreams falls back to
// DefaultMaxStreams.
func NewTable(maxStreams int) *Table {
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	return &Table{
		maxStreams: maxStreams,
		streams:    make(map[uint32]*Stream),
	}
}

// Open allocates the next stream id, creates the stream already in Open
// state (§4.5: Opening is transitional and immediate), and returns it.
func (t *Table) Open(priority uint8, mode DeliveryMode) (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.countLive() >= t.maxStreams {
		return nil, ErrMaxStreamsReached
	}

	t.nextID++
	s := &Stream{
		ID:         t.nextID,
		Priority:   priority,
		Mode:       mode,
		state:      Open,
		sendWindow: DefaultWindowBytes,
		recvWindow: DefaultWindowBytes,
	}
	t.streams[s.ID] = s
	return s, nil
}

// countLive counts streams not yet Closed; must be called with t.mu held.
func (t *Table) countLive() int {
	n := 0
	for _, s := range t.streams {
		if s.State() != Closed {
			n++
		}
	}
	return n
}

// Get looks up a stream by id.
func (t *Table) Get(id uint32) (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return s, nil
}

// Close transitions a stream to Closing; ReapClosed later removes it
// from the table once fully Closed.
func (t *Table) Close(id uint32) error {
	s, err := t.Get(id)
	if err != nil {
		return err
	}
	s.markClosing()
	return nil
}

// Finalize transitions a Closing stream to Closed. Until this is called
// the id remains reserved and reflected in countLive.
func (t *Table) Finalize(id uint32) error {
	s, err := t.Get(id)
	if err != nil {
		return err
	}
	s.markClosed()
	return nil
}

// ReapClosed removes every Closed stream's entry from the table. The id
// is never reissued (nextID only ever increases), satisfying §3's
// invariant that an id never reappears after Closed.
func (t *Table) ReapClosed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.streams {
		if s.State() == Closed {
			delete(t.streams, id)
		}
	}
}

// Len reports the number of entries currently tracked, open or not yet
// reaped.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}
