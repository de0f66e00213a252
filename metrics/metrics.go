// Package metrics implements the ambient Prometheus collectors
// exercising every per-connection counter and gauge named across
// §4–§6: stream, reliability and congestion-window observability. The
// registry/exporter service that would serve these over HTTP is out of
// scope (spec.md's Non-goals name the load-balancer/gateway surface);
// the in-process collectors themselves are ambient and carried per
// SPEC_FULL.md's DOMAIN STACK table.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the per-connection metrics a Connection updates as
// it runs. Each Connection constructs its own via New so that multiple
// connections in one process don't collide on label values; callers
// that want a process-wide registry pass one shared *prometheus.Registry
// to New and register all connections' collectors there.
type Collector struct {
	FramesSent       prometheus.Counter
	FramesReceived   prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	Retransmissions  prometheus.Counter
	DuplicatesDropped prometheus.Counter
	ReplayRejected   prometheus.Counter
	StreamsOpened    prometheus.Counter
	StreamsClosed    prometheus.Counter
	CongestionWindow prometheus.Gauge
	RTTMillis        prometheus.Gauge
	CircuitOpenTotal prometheus.Counter
	MigrationsTotal  prometheus.Counter
}

// New builds a Collector labeled by connID and registers it with reg if
// reg is non-nil.
func New(reg *prometheus.Registry, connID uint64) *Collector {
	labels := prometheus.Labels{"connection_id": uint64ToLabel(connID)}
	c := &Collector{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_frames_sent_total", Help: "Frames sent on this connection.", ConstLabels: labels,
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_frames_received_total", Help: "Frames received on this connection.", ConstLabels: labels,
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_bytes_sent_total", Help: "Payload bytes sent.", ConstLabels: labels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_bytes_received_total", Help: "Payload bytes received.", ConstLabels: labels,
		}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_retransmissions_total", Help: "Retransmitted records.", ConstLabels: labels,
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_duplicates_dropped_total", Help: "Duplicate sequence numbers dropped.", ConstLabels: labels,
		}),
		ReplayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_replay_rejected_total", Help: "Packets rejected by the replay guard.", ConstLabels: labels,
		}),
		StreamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_streams_opened_total", Help: "Streams opened.", ConstLabels: labels,
		}),
		StreamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_streams_closed_total", Help: "Streams closed.", ConstLabels: labels,
		}),
		CongestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jetstream_congestion_window_bytes", Help: "Current congestion window.", ConstLabels: labels,
		}),
		RTTMillis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jetstream_rtt_milliseconds", Help: "Smoothed RTT.", ConstLabels: labels,
		}),
		CircuitOpenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_circuit_open_total", Help: "Times the send circuit breaker tripped open.", ConstLabels: labels,
		}),
		MigrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jetstream_migrations_total", Help: "Committed path migrations.", ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.FramesSent, c.FramesReceived, c.BytesSent, c.BytesReceived,
			c.Retransmissions, c.DuplicatesDropped, c.ReplayRejected,
			c.StreamsOpened, c.StreamsClosed, c.CongestionWindow, c.RTTMillis,
			c.CircuitOpenTotal, c.MigrationsTotal,
		)
	}
	return c
}

func uint64ToLabel(v uint64) string {
	const hex = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = hex[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}
