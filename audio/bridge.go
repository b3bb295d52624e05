package audio

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Direction tells which side of a Bridge runs the resampler.
type Direction int

const (
	// Input carries audio from a backend into the graph. The backend
	// pushes at its own rate; the graph pulls through the resampler.
	Input Direction = iota
	// Output carries audio from the graph to a backend. The graph pushes
	// through the resampler; the backend pulls at its own rate.
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// BridgeConfig describes both sides of a Bridge.
type BridgeConfig struct {
	Direction    Direction
	Channels     int
	GraphRate    float64
	GraphBlock   int
	BackendRate  float64
	BackendBlock int
	// Capacity is the per-channel ring size in samples. Zero picks eight
	// backend blocks or eight resampled graph blocks, whichever is larger.
	Capacity int
	// Window is the drift averaging window in consumer blocks.
	Window int
}

// BridgeStats are the counters surfaced by the status timer.
type BridgeStats struct {
	Overflows  uint64
	Underflows uint64
	DriftPPM   float64
	Fill       int
}

// Bridge moves multi-channel audio between two independently clocked
// callbacks through one SPSC ring per channel and a polyphase resampler per
// channel.
//
// The producer side owns Push, the consumer side owns Pull. Each is called
// from exactly one goroutine. The resampler runs on the graph side; the
// drift estimator runs on the consumer side and hands its multiplier over
// through an atomic.
//
// On overflow the newest block is dropped. On underflow the missing tail is
// filled with silence and the bridge re-buffers to half capacity before it
// plays again. Both are counted.
type Bridge struct {
	cfg        BridgeConfig
	rings      Frames
	resamplers []*Resampler
	drift      *DriftEstimator
	multiplier atomic.Uint64 // float64 bits
	applied    float64

	// Producer-side silence for channels missing from a pushed block.
	// Never written after allocation.
	zeros []float32
	// Graph-side scratch.
	scratch [][]float32
	pending [][]float32
	npend   int

	primed     bool
	overflows  atomic.Uint64
	underflows atomic.Uint64
	ppm        atomic.Uint64 // float64 bits
}

// NewBridge allocates rings, resamplers and scratch buffers.
//
// Parameters:
//   - cfg: both clock domains and the transfer direction
//
// Returns:
//   - *Bridge: ready bridge with empty rings
//   - error: invalid rate, block size or channel count
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("audio: bridge needs at least one channel, got %d", cfg.Channels)
	}
	if cfg.GraphBlock <= 0 || cfg.BackendBlock <= 0 {
		return nil, fmt.Errorf("audio: invalid block sizes %d/%d", cfg.GraphBlock, cfg.BackendBlock)
	}

	source, target := cfg.BackendRate, cfg.GraphRate
	if cfg.Direction == Output {
		source, target = cfg.GraphRate, cfg.BackendRate
	}

	b := &Bridge{cfg: cfg, drift: NewDriftEstimator(cfg.Window), applied: 1}
	b.multiplier.Store(math.Float64bits(1))
	for c := 0; c < cfg.Channels; c++ {
		r, err := NewResampler(source, target)
		if err != nil {
			return nil, err
		}
		b.resamplers = append(b.resamplers, r)
	}

	resampledGraph := int(math.Ceil(float64(cfg.GraphBlock)*cfg.BackendRate/cfg.GraphRate)) + 1
	if b.cfg.Capacity <= 0 {
		b.cfg.Capacity = 8 * max(cfg.BackendBlock, resampledGraph)
	}
	b.rings = NewFrames(cfg.Channels, b.cfg.Capacity)
	b.scratch = make([][]float32, cfg.Channels)
	b.pending = make([][]float32, cfg.Channels)
	for c := range b.rings {
		// Room for one resampled graph block at the maximum drift.
		b.scratch[c] = make([]float32, 2*max(resampledGraph, cfg.GraphBlock)+2*b.resamplers[0].MaxOutputs())
		b.pending[c] = make([]float32, 2*cfg.GraphBlock+2*b.resamplers[0].MaxOutputs())
	}
	b.cfg.Capacity = b.rings[0].Cap()
	b.zeros = make([]float32, max(b.cfg.Capacity, cfg.GraphBlock, cfg.BackendBlock))

	logrus.WithFields(logrus.Fields{
		"function":     "NewBridge",
		"direction":    cfg.Direction.String(),
		"channels":     cfg.Channels,
		"graph_rate":   cfg.GraphRate,
		"backend_rate": cfg.BackendRate,
		"capacity":     b.cfg.Capacity,
	}).Debug("Created audio bridge")
	return b, nil
}

// Config returns the effective configuration.
func (b *Bridge) Config() BridgeConfig { return b.cfg }

// Stats returns the counters and the last drift measurement.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Overflows:  b.overflows.Load(),
		Underflows: b.underflows.Load(),
		DriftPPM:   math.Float64frombits(b.ppm.Load()),
		Fill:       b.rings.Len(),
	}
}

// Multiplier returns the drift multiplier most recently published by the
// consumer side.
func (b *Bridge) Multiplier() float64 {
	return math.Float64frombits(b.multiplier.Load())
}

// Push is the producer side. For an Input bridge it takes one backend
// block; for an Output bridge one graph block, which is resampled first.
// A block that does not fit is dropped whole.
func (b *Bridge) Push(block [][]float32) {
	if b.cfg.Direction == Output {
		b.applyDrift()
		frames := 0
		if len(block) > 0 {
			frames = len(block[0])
		}
		n := 0
		for c := range b.resamplers {
			in := b.zeros[:frames]
			if c < len(block) {
				in = block[c]
			}
			n = b.resamplers[c].Process(in, b.scratch[c])
		}
		b.write(b.scratch, n)
		return
	}
	frames := 0
	if len(block) > 0 {
		frames = len(block[0])
	}
	b.write(block, frames)
}

func (b *Bridge) write(block [][]float32, frames int) {
	if frames == 0 {
		return
	}
	if !b.rings.Write(block, frames) {
		b.overflows.Add(1)
	}
}

// Pull is the consumer side. It fills every channel of out completely.
// For an Input bridge out is one graph block, produced through the
// resampler; for an Output bridge out is one backend block read straight
// from the rings.
func (b *Bridge) Pull(out [][]float32) {
	if len(out) == 0 {
		return
	}
	frames := len(out[0])
	before := b.rings.Len()

	if !b.primed {
		if before < b.cfg.Capacity/2 {
			for _, ch := range out {
				clear(ch)
			}
			return
		}
		b.primed = true
	}

	var consumed int
	if b.cfg.Direction == Input {
		consumed = b.pullResampled(out, frames)
	} else {
		consumed = b.pullDirect(out, frames)
	}

	if b.drift.Observe(b.rings.Len(), consumed) {
		b.multiplier.Store(math.Float64bits(b.drift.Multiplier()))
		b.ppm.Store(math.Float64bits(b.drift.Residual()))
	}
}

func (b *Bridge) pullDirect(out [][]float32, frames int) int {
	n := min(b.rings.Len(), frames)
	for c, ring := range b.rings {
		if c < len(out) {
			ring.Read(out[c][:n])
			clear(out[c][n:])
		} else {
			ring.Discard(n)
		}
	}
	if n < frames {
		b.underflow()
	}
	return n
}

func (b *Bridge) pullResampled(out [][]float32, frames int) int {
	b.applyDrift()
	consumed := 0
	for b.npend < frames {
		avail := b.rings.Len()
		if avail == 0 {
			break
		}
		// Enough input for the missing outputs, bounded by the room left in
		// the pending buffer.
		need := int(math.Ceil(float64(frames-b.npend)/b.resamplers[0].Ratio())) + 1
		room := (len(b.pending[0]) - b.npend) / b.resamplers[0].MaxOutputs()
		chunk := min(need, avail, room, len(b.scratch[0]))
		if chunk <= 0 {
			break
		}
		produced := 0
		for c, ring := range b.rings {
			in := b.scratch[c][:chunk]
			ring.Read(in)
			produced = b.resamplers[c].Process(in, b.pending[c][b.npend:])
		}
		b.npend += produced
		consumed += chunk
	}

	n := min(b.npend, frames)
	for c := range out {
		if c < len(b.pending) {
			copy(out[c], b.pending[c][:n])
			copy(b.pending[c], b.pending[c][n:b.npend])
		}
		clear(out[c][n:])
	}
	b.npend -= n
	if n < frames {
		b.underflow()
	}
	return consumed
}

func (b *Bridge) underflow() {
	b.underflows.Add(1)
	b.primed = false
}

// applyDrift moves a newly published multiplier into the resamplers. It
// runs on the graph side only.
func (b *Bridge) applyDrift() {
	m := b.Multiplier()
	if m == b.applied {
		return
	}
	b.applied = m
	for _, r := range b.resamplers {
		r.SetDrift(m)
	}
}

// Reset empties the rings and forgets drift state. Neither side may be
// running.
func (b *Bridge) Reset() {
	for _, r := range b.rings {
		r.Discard(r.Len())
	}
	for _, r := range b.resamplers {
		r.Reset()
		r.SetDrift(1)
	}
	b.drift.Reset()
	b.multiplier.Store(math.Float64bits(1))
	b.applied = 1
	b.npend = 0
	b.primed = false
}
