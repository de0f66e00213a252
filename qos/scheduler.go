// Package qos implements the QoS-aware send pipeline (§4.8): a
// weighted-deficit-round-robin priority scheduler, a coalescing window
// that packs small outbound packets into one datagram up to the path
// MTU, and a circuit breaker guarding the underlying socket.
package qos

import "sync"

// Priority is a stream's QoS class. Higher values win more dequeue
// credits.
type Priority uint8

const (
	Bulk Priority = iota
	Chat
	Media
	System
)

// priorityWeight is §4.8's WDRR weight table, indexed by Priority.
var priorityWeight = [4]int{
	Bulk:   1,
	Chat:   2,
	Media:  4,
	System: 8,
}

// Packet is one outbound unit queued for the sender task.
type Packet struct {
	Priority Priority
	StreamID uint32
	Payload  []byte
}

type queue struct {
	items   []Packet
	credits int
}

// Scheduler is a weighted-deficit-round-robin queue over the four QoS
// priority levels. Enqueue tags a packet with its stream's priority;
// Dequeue picks the highest-priority non-empty queue with credits
// remaining, refilling every queue's credits from its weight once all
// are exhausted or empty.
type Scheduler struct {
	mu     sync.Mutex
	queues [4]queue
}

// NewScheduler returns an empty Scheduler with every queue's credits
// freshly refilled from its weight.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	s.refill()
	return s
}

// Enqueue adds pkt to its priority's queue.
func (s *Scheduler) Enqueue(pkt Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[pkt.Priority].items = append(s.queues[pkt.Priority].items, pkt)
}

// Dequeue removes and returns the next packet to send in priority
// order, honoring WDRR credits. Returns false if every queue is empty.
func (s *Scheduler) Dequeue() (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.empty() {
		return Packet{}, false
	}

	for {
		for p := System; ; p-- {
			q := &s.queues[p]
			if len(q.items) > 0 && q.credits > 0 {
				pkt := q.items[0]
				q.items = q.items[1:]
				q.credits--
				return pkt, true
			}
			if p == Bulk {
				break
			}
		}
		// every non-empty queue is out of credits: refill and retry
		s.refill()
	}
}

// refill resets every queue's credits to its configured weight. Called
// with s.mu held.
func (s *Scheduler) refill() {
	for p := Bulk; p <= System; p++ {
		s.queues[p].credits = priorityWeight[p]
	}
}

func (s *Scheduler) empty() bool {
	for p := range s.queues {
		if len(s.queues[p].items) > 0 {
			return false
		}
	}
	return true
}

// Len returns the total number of queued packets across all priorities.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.queues {
		n += len(s.queues[p].items)
	}
	return n
}
