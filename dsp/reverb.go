package dsp

// MaxReverbDepth is the deepest nesting of all-pass stages.
const MaxReverbDepth = 3

// maxReverbSeconds bounds the outer delay of a reverb stage.
const maxReverbSeconds = 1

// nestedRatio scales the delay of each inner stage relative to its parent.
// Mutually prime-ish ratios keep the echoes from lining up.
var nestedRatio = [MaxReverbDepth]float32{1, 0.371, 0.137}

// ReverbParams configures the reverb.
type ReverbParams struct {
	Enable   bool
	Delay    float32 // ms, outer stage
	Feedback float32 // all-pass gain, |g| < 1
	Depth    int32   // nesting depth, 1..MaxReverbDepth
	Mix      float32 // wet share, 0..1
}

// DefaultReverb is a bypassed 50 ms, depth 2 reverb.
var DefaultReverb = ReverbParams{Delay: 50, Feedback: 0.5, Depth: 2, Mix: 0.25}

// allpass is a Schroeder all-pass stage whose delay path may run through
// another all-pass stage.
//
//	v[n] = x[n] + g*inner(v[n-D])
//	y[n] = inner(v[n-D]) - g*v[n]
type allpass struct {
	line  []float32
	delay int
	pos   int
	gain  float32
	inner *allpass
}

// tick runs one sample through the stage and depth-1 stages below it.
func (a *allpass) tick(x float32, depth int32) float32 {
	read := a.pos - a.delay
	if read < 0 {
		read += len(a.line)
	}
	delayed := a.line[read]
	if depth > 1 && a.inner != nil {
		delayed = a.inner.tick(delayed, depth-1)
	}
	v := x + a.gain*delayed
	a.line[a.pos] = flush(v)
	a.pos++
	if a.pos == len(a.line) {
		a.pos = 0
	}
	return delayed - a.gain*v
}

func (a *allpass) reset() {
	for s := a; s != nil; s = s.inner {
		clear(s.line)
		s.pos = 0
	}
}

// Reverb is a nested all-pass reverb, one chain of stages per channel.
type Reverb struct {
	params  ReverbParams
	stages  []*allpass
	dry     float32
	wet     float32
	maxLine int
}

// NewReverb allocates delay memory for the given channel count and sample
// rate.
func NewReverb(channels int, params ReverbParams, sampleRate float32) *Reverb {
	r := &Reverb{maxLine: int(maxReverbSeconds*sampleRate) + 1}
	if r.maxLine < 2 {
		r.maxLine = 2
	}
	r.stages = make([]*allpass, channels)
	for i := range r.stages {
		var inner *allpass
		for d := MaxReverbDepth - 1; d >= 0; d-- {
			inner = &allpass{line: make([]float32, r.maxLine), inner: inner}
		}
		r.stages[i] = inner
	}
	r.Set(params, sampleRate)
	return r
}

// Set updates the parameters without reallocating.
func (r *Reverb) Set(params ReverbParams, sampleRate float32) {
	if params.Depth < 1 {
		params.Depth = 1
	}
	if params.Depth > MaxReverbDepth {
		params.Depth = MaxReverbDepth
	}
	if params.Feedback > 0.99 {
		params.Feedback = 0.99
	}
	if params.Feedback < -0.99 {
		params.Feedback = -0.99
	}
	if params.Mix < 0 {
		params.Mix = 0
	}
	if params.Mix > 1 {
		params.Mix = 1
	}
	if params.Enable && !r.params.Enable {
		for _, s := range r.stages {
			s.reset()
		}
	}
	r.params = params
	r.dry, r.wet = 1-params.Mix, params.Mix

	outer := int(params.Delay * 0.001 * sampleRate)
	for _, s := range r.stages {
		stage := s
		for d := 0; d < MaxReverbDepth; d++ {
			delay := int(float32(outer) * nestedRatio[d])
			if delay < 1 {
				delay = 1
			}
			if delay >= r.maxLine {
				delay = r.maxLine - 1
			}
			stage.delay = delay
			stage.gain = params.Feedback
			stage = stage.inner
		}
	}
}

// Params returns the current parameters.
func (r *Reverb) Params() ReverbParams { return r.params }

// Process mixes the reverberated signal into every channel in place.
func (r *Reverb) Process(channels [][]float32) {
	if !r.params.Enable {
		return
	}
	for c, ch := range channels {
		if c >= len(r.stages) {
			break
		}
		stage := r.stages[c]
		for i, x := range ch {
			ch[i] = r.dry*x + r.wet*stage.tick(x, r.params.Depth)
		}
	}
}
