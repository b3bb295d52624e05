package dsp

import (
	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

// MeterFrame is the accumulated metering of a number of blocks.
type MeterFrame struct {
	Peaks  []float32 // linear absolute peak per channel
	Blocks uint64
	Frames uint64
}

func (f *MeterFrame) reset() {
	clear(f.Peaks)
	f.Blocks = 0
	f.Frames = 0
}

// Meter accumulates per-channel peaks into a double buffer. The audio side
// calls Accumulate and the timer side calls Swap. Callers serialize the two
// with the lock that guards the strip.
type Meter struct {
	front, back MeterFrame
	scratch     []float32
}

// NewMeter creates a meter for channels channels and blocks of up to
// maxFrames frames.
func NewMeter(channels, maxFrames int) *Meter {
	return &Meter{
		front:   MeterFrame{Peaks: make([]float32, channels)},
		back:    MeterFrame{Peaks: make([]float32, channels)},
		scratch: make([]float32, maxFrames),
	}
}

// Accumulate folds one processed block into the front buffer.
func (m *Meter) Accumulate(channels [][]float32) {
	frames := 0
	for c, ch := range channels {
		if c >= len(m.front.Peaks) || len(ch) == 0 {
			continue
		}
		frames = len(ch)
		buf := m.scratch
		if len(buf) < len(ch) {
			buf = make([]float32, len(ch))
			m.scratch = buf
		}
		buf = buf[:len(ch)]
		copy(buf, ch)
		vek32.Abs_Inplace(buf)
		if p := vek32.Max(buf); p > m.front.Peaks[c] {
			m.front.Peaks[c] = p
		}
	}
	m.front.Blocks++
	m.front.Frames += uint64(frames)
}

// Swap hands the accumulated buffer to the caller and starts a fresh one.
// The returned frame stays valid until the next Swap.
func (m *Meter) Swap() *MeterFrame {
	m.front, m.back = m.back, m.front
	m.front.reset()
	return &m.back
}

// PeakDB converts a linear peak to dB with a floor.
func PeakDB(linear, floor float32) float32 {
	if linear <= 0 {
		return floor
	}
	return math32.Max(20*math32.Log10(linear), floor)
}
