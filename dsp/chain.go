package dsp

import (
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"
)

// MaxBands bounds the number of EQ bands in a chain.
const MaxBands = 16

// Chain is the fixed per-strip processing pipeline:
//
//	delay -> EQ bands -> expander -> compressor -> reverb -> volume -> mute -> dither
//
// A Chain is not safe for concurrent use. The owning strip serializes
// parameter updates from the control goroutine with Process calls from the
// audio callback. Setters only recompute coefficients; they never allocate,
// except SetBandCount which grows the band list.
type Chain struct {
	channels   int
	sampleRate float32

	delay      *DelayLine
	delayMs    float32
	bands      []*eqBand
	expander   *Dynamics
	compressor *Dynamics
	reverb     *Reverb
	volume     float32
	mute       bool
	dither     *Dither
}

// NewChain allocates a chain for channels channels at sampleRate. All
// stages start bypassed at unity volume.
func NewChain(channels int, sampleRate float32) *Chain {
	logrus.WithFields(logrus.Fields{
		"function":    "NewChain",
		"channels":    channels,
		"sample_rate": sampleRate,
	}).Debug("Allocating filter chain")

	return &Chain{
		channels:   channels,
		sampleRate: sampleRate,
		delay:      NewDelayLine(channels, sampleRate),
		expander:   NewDynamics(DefaultExpander, true, sampleRate),
		compressor: NewDynamics(DefaultCompressor, false, sampleRate),
		reverb:     NewReverb(channels, DefaultReverb, sampleRate),
		volume:     1,
		dither:     NewDither(uint64(channels)<<32 | uint64(sampleRate)),
	}
}

// Channels returns the channel count the chain was built for.
func (c *Chain) Channels() int { return c.channels }

// SampleRate returns the rate the coefficients are designed for.
func (c *Chain) SampleRate() float32 { return c.sampleRate }

// SetDelay sets the input delay in milliseconds.
func (c *Chain) SetDelay(ms float32) {
	c.delayMs = ms
	c.delay.SetDelay(int(ms * 0.001 * c.sampleRate))
}

// SetBandCount grows or shrinks the EQ band list. New bands are bypassed.
func (c *Chain) SetBandCount(n int) {
	if n < 0 {
		n = 0
	}
	if n > MaxBands {
		n = MaxBands
	}
	for len(c.bands) < n {
		c.bands = append(c.bands, newEQBand(c.channels, DefaultBand, c.sampleRate))
	}
	c.bands = c.bands[:n]
}

// RemoveBand deletes band i. Later bands move down one slot and keep their
// own filter state. Out-of-range indices are ignored.
func (c *Chain) RemoveBand(i int) {
	if i < 0 || i >= len(c.bands) {
		return
	}
	c.bands = slices.Delete(c.bands, i, i+1)
}

// BandCount returns the number of EQ bands.
func (c *Chain) BandCount() int { return len(c.bands) }

// SetBand updates band i. Out-of-range indices are ignored.
func (c *Chain) SetBand(i int, b Band) {
	if i < 0 || i >= len(c.bands) {
		return
	}
	c.bands[i].set(b, c.sampleRate)
}

// Band returns the parameters of band i.
func (c *Chain) Band(i int) (Band, bool) {
	if i < 0 || i >= len(c.bands) {
		return Band{}, false
	}
	return c.bands[i].params, true
}

// SetExpander updates the expander.
func (c *Chain) SetExpander(p DynamicsParams) { c.expander.Set(p, c.sampleRate) }

// SetCompressor updates the compressor.
func (c *Chain) SetCompressor(p DynamicsParams) { c.compressor.Set(p, c.sampleRate) }

// SetReverb updates the reverb.
func (c *Chain) SetReverb(p ReverbParams) { c.reverb.Set(p, c.sampleRate) }

// SetVolume sets the linear output gain.
func (c *Chain) SetVolume(linear float32) { c.volume = linear }

// Volume returns the linear output gain.
func (c *Chain) Volume() float32 { return c.volume }

// SetMute silences the output.
func (c *Chain) SetMute(mute bool) { c.mute = mute }

// SetDither sets the dither bit depth, 0 to disable.
func (c *Chain) SetDither(bits int32) { c.dither.SetBits(bits) }

// Reductions returns the gain change of the expander and the compressor on
// the last processed frame, in dB.
func (c *Chain) Reductions() (expander, compressor float32) {
	return c.expander.Reduction(), c.compressor.Reduction()
}

// Process runs one block through every stage in place.
func (c *Chain) Process(channels [][]float32) {
	if len(channels) > c.channels {
		channels = channels[:c.channels]
	}
	c.delay.Process(channels)
	for _, b := range c.bands {
		b.process(channels)
	}
	c.expander.Process(channels)
	c.compressor.Process(channels)
	c.reverb.Process(channels)

	switch {
	case c.mute:
		for _, ch := range channels {
			clear(ch)
		}
		return
	case c.volume != 1:
		for _, ch := range channels {
			vek32.MulNumber_Inplace(ch, c.volume)
		}
	}
	c.dither.Process(channels)
}
