package dsp

// Band holds the parameters of one parametric EQ stage.
type Band struct {
	Enable bool
	Type   FilterType
	F0     float32
	Gain   float32 // dB
	Q      float32
}

// DefaultBand is a bypassed 1 kHz peak at unity gain.
var DefaultBand = Band{Type: Peak, F0: 1000, Q: 0.707}

// eqBand is one band applied to every channel of a strip.
type eqBand struct {
	params   Band
	sections []Biquad
	designed bool
}

func newEQBand(channels int, params Band, sampleRate float32) *eqBand {
	b := &eqBand{sections: make([]Biquad, channels)}
	b.set(params, sampleRate)
	return b
}

// set stores params and recomputes coefficients when a design input
// changed. Filter state is kept so that sweeps do not click.
func (b *eqBand) set(params Band, sampleRate float32) {
	redesign := params.Type != b.params.Type || params.F0 != b.params.F0 ||
		params.Gain != b.params.Gain || params.Q != b.params.Q || !b.designed
	if params.Enable && !b.params.Enable {
		for i := range b.sections {
			b.sections[i].Reset()
		}
	}
	b.params = params
	if redesign {
		b.redesign(sampleRate)
	}
}

func (b *eqBand) redesign(sampleRate float32) {
	c := Design(b.params.Type, b.params.F0, b.params.Gain, b.params.Q, sampleRate)
	b.designed = true
	for i := range b.sections {
		b.sections[i].Coefficients = c
	}
}

func (b *eqBand) process(channels [][]float32) {
	if !b.params.Enable {
		return
	}
	for i, ch := range channels {
		if i < len(b.sections) {
			b.sections[i].Process(ch)
		}
	}
}
