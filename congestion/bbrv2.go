package congestion

import (
	"sync"
	"time"
)

const (
	bbrStateStartup State = iota + 100 // offset clear of NewReno's state space
	bbrStateDrain
	bbrStateProbeBW
	bbrStateProbeRTT
)

// bbrPacingGainCycle is §4.7's 8-phase ProbeBW pacing-gain schedule, each
// phase lasting one min-RTT.
var bbrPacingGainCycle = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

const (
	bbrMinRTTWindow    = 10 * time.Second
	bbrProbeRTTEvery   = 10 * time.Second
	bbrProbeRTTMinStay = 200 * time.Millisecond
	bbrStartupGrowthThreshold = 1.25 // 25% bandwidth growth required per round
	bbrStartupRoundsToGiveUp  = 3
)

// BBRv2 implements the four-state Startup/Drain/ProbeBW/ProbeRTT model
// of §4.7: min-RTT tracked over a 10s window, bottleneck bandwidth as the
// maximum observed delivery rate, and the 8-phase pacing-gain cycle in
// ProbeBW.
type BBRv2 struct {
	mu sync.Mutex

	mss   uint64
	state State

	minRTT       time.Duration
	haveMinRTT   bool
	minRTTSetAt  time.Time

	btlBw float64 // bytes/sec, max observed delivery rate

	startupRoundsNoGrowth int
	lastRoundBtlBw        float64

	probeBWPhase   int
	probeBWPhaseAt time.Time

	probeRTTEnteredAt time.Time
	lastProbeRTTAt    time.Time

	cwnd uint64
}

// NewBBRv2 returns a BBRv2 controller starting in Startup.
func NewBBRv2() *BBRv2 {
	now := time.Now()
	return &BBRv2{
		mss:            DefaultMSS,
		state:          bbrStateStartup,
		cwnd:           10 * DefaultMSS,
		lastProbeRTTAt: now,
		probeBWPhaseAt: now,
	}
}

func (b *BBRv2) OnSent(bytes uint64) {}

// OnAcked updates min-RTT and bottleneck-bandwidth estimates from one
// ACK's (bytes, rtt) sample and advances the state machine.
func (b *BBRv2) OnAcked(bytes uint64, rtt time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.updateMinRTT(rtt, now)

	if rtt > 0 {
		deliveryRate := float64(bytes) / rtt.Seconds()
		if deliveryRate > b.btlBw {
			b.btlBw = deliveryRate
		}
	}

	switch b.state {
	case bbrStateStartup:
		b.stepStartup()
	case bbrStateDrain:
		b.stepDrain()
	case bbrStateProbeBW:
		b.stepProbeBW(now)
	case bbrStateProbeRTT:
		b.stepProbeRTT(now)
	}

	if now.Sub(b.lastProbeRTTAt) >= bbrProbeRTTEvery && b.state != bbrStateProbeRTT {
		b.enterProbeRTT(now)
	}

	b.recomputeCwnd()
}

func (b *BBRv2) updateMinRTT(rtt time.Duration, now time.Time) {
	if !b.haveMinRTT || rtt < b.minRTT || now.Sub(b.minRTTSetAt) > bbrMinRTTWindow {
		b.minRTT = rtt
		b.haveMinRTT = true
		b.minRTTSetAt = now
	}
}

// stepStartup exits Startup for Drain once bandwidth growth has stalled
// for bbrStartupRoundsToGiveUp consecutive rounds (§4.7).
func (b *BBRv2) stepStartup() {
	if b.lastRoundBtlBw > 0 && b.btlBw < b.lastRoundBtlBw*bbrStartupGrowthThreshold {
		b.startupRoundsNoGrowth++
	} else {
		b.startupRoundsNoGrowth = 0
	}
	b.lastRoundBtlBw = b.btlBw

	if b.startupRoundsNoGrowth >= bbrStartupRoundsToGiveUp {
		b.state = bbrStateDrain
	}
}

func (b *BBRv2) stepDrain() {
	// Drain pacing gain (implicit in pacingGain()) below 1.0 lets
	// inflight bleed down to the BDP estimate; once cwnd has drained to
	// that level, move on to steady-state bandwidth probing.
	if b.cwnd <= b.bdpEstimate() {
		b.state = bbrStateProbeBW
		b.probeBWPhase = 0
		b.probeBWPhaseAt = time.Now()
	}
}

func (b *BBRv2) stepProbeBW(now time.Time) {
	if b.haveMinRTT && now.Sub(b.probeBWPhaseAt) >= b.minRTT {
		b.probeBWPhase = (b.probeBWPhase + 1) % len(bbrPacingGainCycle)
		b.probeBWPhaseAt = now
	}
}

func (b *BBRv2) enterProbeRTT(now time.Time) {
	b.state = bbrStateProbeRTT
	b.probeRTTEnteredAt = now
	b.lastProbeRTTAt = now
}

func (b *BBRv2) stepProbeRTT(now time.Time) {
	if now.Sub(b.probeRTTEnteredAt) >= bbrProbeRTTMinStay {
		b.state = bbrStateProbeBW
		b.probeBWPhase = 0
		b.probeBWPhaseAt = now
	}
}

// pacingGain returns the current phase's pacing-gain multiplier.
func (b *BBRv2) pacingGain() float64 {
	switch b.state {
	case bbrStateStartup:
		return 2.77 // standard BBR startup gain (2/ln2), drives the doubling search
	case bbrStateDrain:
		return 1 / 2.77
	case bbrStateProbeBW:
		return bbrPacingGainCycle[b.probeBWPhase]
	case bbrStateProbeRTT:
		return 1.0
	default:
		return 1.0
	}
}

// cwndGain returns §4.7's cwnd-gain: 2.0 in ProbeBW, 1.0 elsewhere.
func (b *BBRv2) cwndGain() float64 {
	if b.state == bbrStateProbeBW {
		return 2.0
	}
	return 1.0
}

func (b *BBRv2) bdpEstimate() uint64 {
	if !b.haveMinRTT || b.btlBw <= 0 {
		return 4 * b.mss
	}
	return uint64(b.btlBw * b.minRTT.Seconds())
}

func (b *BBRv2) recomputeCwnd() {
	if b.state == bbrStateProbeRTT {
		b.cwnd = 4 * b.mss
		return
	}
	target := uint64(float64(b.bdpEstimate()) * b.cwndGain())
	if target < 4*b.mss {
		target = 4 * b.mss
	}
	b.cwnd = target
}

func (b *BBRv2) OnLost(bytes uint64) {
	// BBR does not react to isolated loss the way loss-based controllers
	// do; persistent loss surfaces through the delivery-rate samples
	// OnAcked already folds into btlBw.
}

func (b *BBRv2) Cwnd() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cwnd
}

func (b *BBRv2) CanSend(inflight uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return inflight < b.cwnd
}

func (b *BBRv2) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PacingRate returns the current pacing rate in bytes/sec: bottleneck
// bandwidth scaled by the active phase's pacing gain.
func (b *BBRv2) PacingRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.btlBw * b.pacingGain()
}
