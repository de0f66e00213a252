// Package congestion implements the pluggable congestion-control
// capability interface (§4.7, §9 "Congestion control is behind a
// capability interface"): NewReno and BBRv2, either of which plugs in
// without the reliability layer knowing which is active.
package congestion

import "time"

// State is a controller's coarse-grained reporting state, mainly useful
// for metrics/tests.
type State uint8

// DefaultMSS is §4.7's default maximum segment size.
const DefaultMSS = 1200

// Controller is the capability interface every congestion-control
// algorithm implements.
type Controller interface {
	OnSent(bytes uint64)
	OnAcked(bytes uint64, rtt time.Duration)
	OnLost(bytes uint64)
	Cwnd() uint64
	CanSend(inflight uint64) bool
	State() State
}
