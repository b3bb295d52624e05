package dsp

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq, rate, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * math32.Sin(2*math32.Pi*freq*float32(i)/rate)
	}
	return out
}

func peak(x []float32) float32 {
	var p float32
	for _, v := range x {
		if a := math32.Abs(v); a > p {
			p = a
		}
	}
	return p
}

func allFinite(t *testing.T, x []float32) {
	t.Helper()
	for i, v := range x {
		require.False(t, math32.IsNaN(v) || math32.IsInf(v, 0), "sample %d is %v", i, v)
	}
}

func TestDesignDegenerateIsIdentity(t *testing.T) {
	tests := []struct {
		name         string
		f0, q, rate  float32
		filter       FilterType
		expectDesign bool
	}{
		{"zero_q", 1000, 0, 48000, Peak, false},
		{"negative_q", 1000, -1, 48000, LowPass, false},
		{"zero_rate", 1000, 0.7, 0, HighPass, false},
		{"zero_f0", 0, 0.7, 48000, Notch, false},
		{"above_nyquist", 30000, 0.7, 48000, BandPass, false},
		{"nan_f0", math32.NaN(), 0.7, 48000, AllPass, false},
		{"unknown_type", 1000, 0.7, 48000, FilterType(99), false},
		{"valid", 1000, 0.7, 48000, LowPass, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Design(tt.filter, tt.f0, 6, tt.q, tt.rate)
			if tt.expectDesign {
				assert.NotEqual(t, Identity, c)
			} else {
				assert.Equal(t, Identity, c)
			}
		})
	}
}

func TestIdentityPassesThrough(t *testing.T) {
	in := sine(256, 440, 48000, 0.5)
	out := append([]float32(nil), in...)
	s := Biquad{Coefficients: Identity}
	s.Process(out)
	assert.Equal(t, in, out)
}

func TestLowPassAttenuatesHighFrequencies(t *testing.T) {
	rate := float32(48000)
	s := Biquad{Coefficients: Design(LowPass, 500, 0, 0.707, rate)}
	high := sine(4800, 12000, rate, 1)
	s.Process(high)
	// Skip the transient.
	assert.Less(t, peak(high[2400:]), float32(0.01))

	s.Reset()
	low := sine(4800, 50, rate, 1)
	s.Process(low)
	assert.InDelta(t, 1.0, peak(low[2400:]), 0.02)
}

func TestPeakBoostAtCentre(t *testing.T) {
	rate := float32(48000)
	s := Biquad{Coefficients: Design(Peak, 1000, 6, 1, rate)}
	x := sine(9600, 1000, rate, 0.25)
	s.Process(x)
	assert.InDelta(t, 0.25*math32.Pow(10, 6.0/20), peak(x[4800:]), 0.01)
}

func TestFilterTypeNames(t *testing.T) {
	for i := Peak; i <= AllPass; i++ {
		parsed, err := ParseFilterType(i.String())
		require.NoError(t, err)
		assert.Equal(t, i, parsed)
	}
	_, err := ParseFilterType("comb")
	assert.Error(t, err)
}

func TestGainComputer(t *testing.T) {
	comp := GainComputer{Threshold: -20, Ratio: 4, Knee: 0}
	assert.Zero(t, comp.Reduction(-30))
	assert.InDelta(t, -7.5, comp.Reduction(-10), 1e-5) // 10 dB over at 4:1
	assert.Zero(t, comp.Reduction(math32.Inf(-1)))

	soft := GainComputer{Threshold: -20, Ratio: 4, Knee: 10}
	assert.Zero(t, soft.Reduction(-26))
	assert.Less(t, soft.Reduction(-20), float32(0))
	assert.Greater(t, soft.Reduction(-20), float32(-7.5*0.5))
	assert.InDelta(t, comp.Reduction(-5), soft.Reduction(-5), 1e-5)

	exp := GainComputer{Threshold: -40, Ratio: 2, Expander: true}
	assert.Zero(t, exp.Reduction(-30))
	assert.InDelta(t, -10, exp.Reduction(-50), 1e-5)
	assert.Equal(t, maxReductionDB, exp.Reduction(-1000))
}

func TestDynamicsSilenceStaysSilent(t *testing.T) {
	for _, expander := range []bool{false, true} {
		p := DefaultCompressor
		if expander {
			p = DefaultExpander
		}
		p.Enable = true
		p.Makeup = 6
		d := NewDynamics(p, expander, 48000)

		channels := [][]float32{make([]float32, 512), make([]float32, 512)}
		for i := 0; i < 8; i++ {
			d.Process(channels)
		}
		for _, ch := range channels {
			allFinite(t, ch)
			for _, v := range ch {
				assert.Zero(t, v)
			}
		}
		assert.Zero(t, d.Reduction())
	}
}

func TestCompressorLinksChannels(t *testing.T) {
	p := DynamicsParams{Enable: true, Threshold: -20, Ratio: 10, Knee: 0}
	d := NewDynamics(p, false, 48000)

	loud := make([]float32, 64)
	quiet := make([]float32, 64)
	for i := range loud {
		loud[i] = 1 // 0 dBFS
		quiet[i] = 0.01
	}
	d.Process([][]float32{loud, quiet})

	// Instant attack: 20 dB over at 10:1 is -18 dB on both channels.
	gain := math32.Pow(10, -18.0/20)
	assert.InDelta(t, gain, loud[63], 1e-4)
	assert.InDelta(t, 0.01*gain, quiet[63], 1e-6)
}

func TestDetectorAttackRelease(t *testing.T) {
	var d LevelDetector
	d.SetTimes(1, 100, 48000)
	for i := 0; i < 480; i++ {
		d.Next(-10)
	}
	assert.InDelta(t, -10, d.Value(), 0.01, "ten attack time constants")
	for i := 0; i < 480; i++ {
		d.Next(0)
	}
	assert.Less(t, d.Value(), float32(-8), "release is slower")
}

func TestReverbNestedDepths(t *testing.T) {
	for depth := int32(1); depth <= MaxReverbDepth; depth++ {
		r := NewReverb(1, ReverbParams{Enable: true, Delay: 10, Feedback: 0.7, Depth: depth, Mix: 1}, 48000)
		impulse := make([]float32, 48000)
		impulse[0] = 1
		r.Process([][]float32{impulse})
		allFinite(t, impulse)
		assert.Less(t, peak(impulse[40000:]), float32(0.05), "depth %d tail decays", depth)
		assert.Greater(t, peak(impulse[480:]), float32(0), "depth %d produces echoes", depth)
	}
}

func TestReverbClampsParameters(t *testing.T) {
	r := NewReverb(2, ReverbParams{Enable: true, Delay: 5000, Feedback: 3, Depth: 9, Mix: 2}, 8000)
	p := r.Params()
	assert.Equal(t, float32(0.99), p.Feedback)
	assert.Equal(t, int32(MaxReverbDepth), p.Depth)
	assert.Equal(t, float32(1), p.Mix)
}

func TestDelayLine(t *testing.T) {
	d := NewDelayLine(2, 1000)
	d.SetDelay(3)
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{10, 20, 30, 40, 50}
	d.Process([][]float32{a, b})
	assert.Equal(t, []float32{0, 0, 0, 1, 2}, a)
	assert.Equal(t, []float32{0, 0, 0, 10, 20}, b)

	a = []float32{6, 7}
	b = []float32{60, 70}
	d.Process([][]float32{a, b})
	assert.Equal(t, []float32{3, 4}, a)
	assert.Equal(t, []float32{30, 40}, b)

	d.SetDelay(1 << 30)
	assert.Equal(t, 2000, d.Delay())
}

func TestDitherQuantizes(t *testing.T) {
	d := NewDither(1)
	d.SetBits(8)
	x := sine(1024, 440, 48000, 0.9)
	d.Process([][]float32{x})
	for _, v := range x {
		steps := v * 128
		assert.Equal(t, math32.Floor(steps), steps)
	}

	d.SetBits(0)
	y := []float32{0.123}
	d.Process([][]float32{y})
	assert.Equal(t, float32(0.123), y[0])
}

func TestMeterSwapAccountsEveryBlock(t *testing.T) {
	m := NewMeter(2, 64)
	for i := 0; i < 10; i++ {
		m.Accumulate([][]float32{{0.1, -0.5}, {0.25, 0}})
	}
	f := m.Swap()
	assert.Equal(t, uint64(10), f.Blocks)
	assert.Equal(t, uint64(20), f.Frames)
	assert.Equal(t, []float32{0.5, 0.25}, f.Peaks)

	m.Accumulate([][]float32{{0.1}, {0.2}})
	g := m.Swap()
	assert.Equal(t, uint64(1), g.Blocks)
	assert.Equal(t, []float32{0.1, 0.2}, g.Peaks)

	assert.Equal(t, float32(-120), PeakDB(0, -120))
	assert.InDelta(t, -6.0206, PeakDB(0.5, -120), 1e-3)
}

func TestChainVolumeAndMute(t *testing.T) {
	c := NewChain(2, 48000)
	c.SetVolume(0.5)
	l := []float32{1, -1}
	r := []float32{0.5, 0.25}
	c.Process([][]float32{l, r})
	assert.Equal(t, []float32{0.5, -0.5}, l)
	assert.Equal(t, []float32{0.25, 0.125}, r)

	c.SetMute(true)
	c.Process([][]float32{l, r})
	assert.Equal(t, []float32{0, 0}, l)
}

func TestChainBands(t *testing.T) {
	c := NewChain(1, 48000)
	c.SetBandCount(3)
	assert.Equal(t, 3, c.BandCount())
	c.SetBand(1, Band{Enable: true, Type: HighPass, F0: 5000, Q: 0.707})
	b, ok := c.Band(1)
	require.True(t, ok)
	assert.Equal(t, HighPass, b.Type)

	x := sine(4800, 50, 48000, 1)
	c.Process([][]float32{x})
	assert.Less(t, peak(x[2400:]), float32(0.01))

	c.SetBandCount(MaxBands + 10)
	assert.Equal(t, MaxBands, c.BandCount())
	c.SetBand(MaxBands, Band{Enable: true})
	_, ok = c.Band(MaxBands)
	assert.False(t, ok)
}

func TestChainRemoveBandKeepsLaterBandState(t *testing.T) {
	lowPass := Band{Enable: true, Type: LowPass, F0: 500, Q: 0.707}
	shifted := NewChain(1, 48000)
	shifted.SetBandCount(2)
	shifted.SetBand(0, Band{Type: Peak, F0: 2000, Gain: 6, Q: 1})
	shifted.SetBand(1, lowPass)
	alone := NewChain(1, 48000)
	alone.SetBandCount(1)
	alone.SetBand(0, lowPass)

	x := sine(1024, 3000, 48000, 1)
	a, b := append([]float32(nil), x...), append([]float32(nil), x...)
	shifted.Process([][]float32{a})
	alone.Process([][]float32{b})
	require.Equal(t, b, a)

	shifted.RemoveBand(0)
	require.Equal(t, 1, shifted.BandCount())
	got, ok := shifted.Band(0)
	require.True(t, ok)
	assert.Equal(t, lowPass, got)

	// The first samples after the removal carry the low-pass history.
	a, b = append([]float32(nil), x...), append([]float32(nil), x...)
	shifted.Process([][]float32{a})
	alone.Process([][]float32{b})
	assert.Equal(t, b, a)

	shifted.RemoveBand(5)
	assert.Equal(t, 1, shifted.BandCount())
}

func TestChainSilenceIsExact(t *testing.T) {
	c := NewChain(2, 48000)
	c.SetBandCount(2)
	c.SetBand(0, Band{Enable: true, Type: Peak, F0: 200, Gain: 12, Q: 2})
	c.SetExpander(DynamicsParams{Enable: true, Threshold: -40, Ratio: 4, Knee: 6, Attack: 1, Release: 50})
	c.SetCompressor(DynamicsParams{Enable: true, Threshold: -10, Ratio: 4, Knee: 6, Attack: 1, Release: 50})
	c.SetReverb(ReverbParams{Enable: true, Delay: 20, Feedback: 0.5, Depth: 3, Mix: 0.5})
	c.SetVolume(2)

	for i := 0; i < 16; i++ {
		channels := [][]float32{make([]float32, 256), make([]float32, 256)}
		c.Process(channels)
		for _, ch := range channels {
			for _, v := range ch {
				require.Zero(t, v)
			}
		}
	}
	e, comp := c.Reductions()
	assert.Zero(t, e)
	assert.Zero(t, comp)
}
