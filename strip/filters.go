package strip

import (
	"github.com/chewxy/math32"

	"github.com/opd-ai/oscmix/dsp"
	"github.com/opd-ai/oscmix/tree"
)

// MaxVolumeDB is the loudest volume a strip accepts.
const MaxVolumeDB = 24

// param registers a leaf whose committed changes call apply. A nil valid
// accepts every value.
func param[T tree.Scalar](c *tree.Container, name string, initial T, valid func(T) bool, apply func()) *tree.Variable[T] {
	v := tree.NewVariable(initial)
	if valid != nil {
		v.AddValidator(func(_, next T) bool { return valid(next) })
	}
	v.OnChange(func(_, _ T) { apply() })
	c.MustAdd(name, v)
	return v
}

func finite(x float32) bool {
	return !math32.IsNaN(x) && !math32.IsInf(x, 0)
}

func within(lo, hi float32) func(float32) bool {
	return func(x float32) bool { return finite(x) && x >= lo && x <= hi }
}

func positive(hi float32) func(float32) bool {
	return func(x float32) bool { return finite(x) && x > 0 && x <= hi }
}

// filterChain is the tree view of a strip's dsp.Chain. Each committed leaf
// change is copied into the chain under the strip lock.
type filterChain struct {
	*tree.Container
	strip *Strip

	volume     *tree.Variable[float32]
	mute       *tree.Variable[bool]
	delay      *tree.Variable[float32]
	dither     *tree.Variable[int32]
	eq         *tree.ContainerArray[*eqBand]
	expander   *dynamicsNode
	compressor *dynamicsNode
	reverb     *reverbNode
}

func newFilterChain(s *Strip) *filterChain {
	fc := &filterChain{Container: tree.NewContainer(), strip: s}

	maxGain := math32.Pow(10, MaxVolumeDB/20.0)
	fc.volume = param(fc.Container, "volume", 1, within(0, maxGain), func() {
		s.update(func(c *dsp.Chain) { c.SetVolume(fc.volume.Get()) })
	})
	fc.volume.SetConversion(tree.Decibels())
	fc.mute = param(fc.Container, "mute", false, nil, func() {
		s.update(func(c *dsp.Chain) { c.SetMute(fc.mute.Get()) })
	})
	fc.delay = param(fc.Container, "delay", 0, within(0, dsp.MaxDelaySeconds*1000), func() {
		s.update(func(c *dsp.Chain) { c.SetDelay(fc.delay.Get()) })
	})

	fc.eq = tree.NewContainerArray(func(int) *eqBand { return newEQBand(fc) })
	fc.eq.SetLimits(0, dsp.MaxBands)
	fc.eq.OnAdd(func(i int, b *eqBand) {
		n := fc.eq.Len()
		s.update(func(c *dsp.Chain) {
			c.SetBandCount(n)
			c.SetBand(i, b.params())
		})
	})
	fc.eq.OnRemove(func(i int, _ *eqBand) {
		s.update(func(c *dsp.Chain) { c.RemoveBand(i) })
	})
	fc.MustAdd("eq", fc.eq)

	fc.expander = newDynamicsNode(dsp.DefaultExpander, func(p dsp.DynamicsParams) {
		s.update(func(c *dsp.Chain) { c.SetExpander(p) })
	})
	fc.MustAdd("expander", fc.expander)
	fc.compressor = newDynamicsNode(dsp.DefaultCompressor, func(p dsp.DynamicsParams) {
		s.update(func(c *dsp.Chain) { c.SetCompressor(p) })
	})
	fc.MustAdd("compressor", fc.compressor)
	fc.reverb = newReverbNode(func(p dsp.ReverbParams) {
		s.update(func(c *dsp.Chain) { c.SetReverb(p) })
	})
	fc.MustAdd("reverb", fc.reverb)

	fc.dither = param(fc.Container, "dither", 0, func(bits int32) bool { return bits >= 0 && bits <= 24 }, func() {
		s.update(func(c *dsp.Chain) { c.SetDither(fc.dither.Get()) })
	})
	return fc
}

// apply copies every parameter into a freshly built chain.
func (fc *filterChain) apply(c *dsp.Chain) {
	c.SetVolume(fc.volume.Get())
	c.SetMute(fc.mute.Get())
	c.SetDelay(fc.delay.Get())
	c.SetDither(fc.dither.Get())
	bands := fc.eq.Elements()
	c.SetBandCount(len(bands))
	for i, b := range bands {
		c.SetBand(i, b.params())
	}
	c.SetExpander(fc.expander.params())
	c.SetCompressor(fc.compressor.params())
	c.SetReverb(fc.reverb.params())
}

// eqBand is one parametric EQ band under filterChain/eq.
type eqBand struct {
	*tree.Container
	enable *tree.Variable[bool]
	kind   *tree.Variable[string]
	f0     *tree.Variable[float32]
	gain   *tree.Variable[float32]
	q      *tree.Variable[float32]
}

func newEQBand(fc *filterChain) *eqBand {
	b := &eqBand{Container: tree.NewContainer()}
	apply := func() {
		i := b.index(fc)
		if i < 0 {
			return
		}
		fc.strip.update(func(c *dsp.Chain) { c.SetBand(i, b.params()) })
	}
	d := dsp.DefaultBand
	b.enable = param(b.Container, "enable", d.Enable, nil, apply)
	b.kind = param(b.Container, "type", d.Type.String(), func(name string) bool {
		_, err := dsp.ParseFilterType(name)
		return err == nil
	}, apply)
	b.f0 = param(b.Container, "f0", d.F0, positive(96000), apply)
	b.gain = param(b.Container, "gain", d.Gain, within(-48, 48), apply)
	b.q = param(b.Container, "q", d.Q, positive(100), apply)
	return b
}

// index finds the band's current position; removals renumber bands.
func (b *eqBand) index(fc *filterChain) int {
	for i, e := range fc.eq.Elements() {
		if e == b {
			return i
		}
	}
	return -1
}

func (b *eqBand) params() dsp.Band {
	t, _ := dsp.ParseFilterType(b.kind.Get())
	return dsp.Band{
		Enable: b.enable.Get(),
		Type:   t,
		F0:     b.f0.Get(),
		Gain:   b.gain.Get(),
		Q:      b.q.Get(),
	}
}

// dynamicsNode is the tree view of a compressor or an expander.
type dynamicsNode struct {
	*tree.Container
	enable    *tree.Variable[bool]
	threshold *tree.Variable[float32]
	ratio     *tree.Variable[float32]
	knee      *tree.Variable[float32]
	attack    *tree.Variable[float32]
	release   *tree.Variable[float32]
	makeup    *tree.Variable[float32]
}

func newDynamicsNode(d dsp.DynamicsParams, set func(dsp.DynamicsParams)) *dynamicsNode {
	n := &dynamicsNode{Container: tree.NewContainer()}
	apply := func() { set(n.params()) }
	n.enable = param(n.Container, "enable", d.Enable, nil, apply)
	n.threshold = param(n.Container, "threshold", d.Threshold, within(-120, 0), apply)
	n.ratio = param(n.Container, "ratio", d.Ratio, within(1, 100), apply)
	n.knee = param(n.Container, "knee", d.Knee, within(0, 48), apply)
	n.attack = param(n.Container, "attack", d.Attack, positive(5000), apply)
	n.release = param(n.Container, "release", d.Release, positive(5000), apply)
	n.makeup = param(n.Container, "makeup", d.Makeup, within(-24, 48), apply)
	return n
}

func (n *dynamicsNode) params() dsp.DynamicsParams {
	return dsp.DynamicsParams{
		Enable:    n.enable.Get(),
		Threshold: n.threshold.Get(),
		Ratio:     n.ratio.Get(),
		Knee:      n.knee.Get(),
		Attack:    n.attack.Get(),
		Release:   n.release.Get(),
		Makeup:    n.makeup.Get(),
	}
}

// reverbNode is the tree view of the reverb.
type reverbNode struct {
	*tree.Container
	enable   *tree.Variable[bool]
	delay    *tree.Variable[float32]
	feedback *tree.Variable[float32]
	depth    *tree.Variable[int32]
	mix      *tree.Variable[float32]
}

func newReverbNode(set func(dsp.ReverbParams)) *reverbNode {
	d := dsp.DefaultReverb
	n := &reverbNode{Container: tree.NewContainer()}
	apply := func() { set(n.params()) }
	n.enable = param(n.Container, "enable", d.Enable, nil, apply)
	n.delay = param(n.Container, "delay", d.Delay, positive(1000), apply)
	n.feedback = param(n.Container, "feedback", d.Feedback, within(-0.99, 0.99), apply)
	n.depth = param(n.Container, "depth", d.Depth, func(v int32) bool { return v >= 1 && v <= dsp.MaxReverbDepth }, apply)
	n.mix = param(n.Container, "mix", d.Mix, within(0, 1), apply)
	return n
}

func (n *reverbNode) params() dsp.ReverbParams {
	return dsp.ReverbParams{
		Enable:   n.enable.Get(),
		Delay:    n.delay.Get(),
		Feedback: n.feedback.Get(),
		Depth:    n.depth.Get(),
		Mix:      n.mix.Get(),
	}
}
