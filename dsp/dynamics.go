package dsp

import (
	"github.com/chewxy/math32"
)

// maxReductionDB bounds the gain reduction an expander can apply.
const maxReductionDB float32 = -120

// GainComputer maps a level in dB to a gain change in dB (never positive)
// with a quadratic soft knee centred on the threshold.
type GainComputer struct {
	Threshold float32 // dB
	Ratio     float32 // >= 1
	Knee      float32 // dB, full knee width
	Expander  bool    // act below the threshold instead of above it
}

// Reduction returns the gain change for levelDB. A level of minus infinity
// (digital silence) maps to zero reduction.
func (g GainComputer) Reduction(levelDB float32) float32 {
	if math32.IsInf(levelDB, -1) || math32.IsNaN(levelDB) || g.Ratio <= 1 {
		return 0
	}

	// Distance past the threshold in the direction the processor acts on.
	over := levelDB - g.Threshold
	slope := 1 - 1/g.Ratio
	if g.Expander {
		over = g.Threshold - levelDB
		slope = g.Ratio - 1
	}

	var effective float32
	half := g.Knee / 2
	switch {
	case g.Knee <= 0:
		if over <= 0 {
			return 0
		}
		effective = over
	case over < -half:
		return 0
	case over > half:
		effective = over
	default:
		s := over + half
		effective = s * s / (2 * g.Knee)
	}

	r := -effective * slope
	if r < maxReductionDB {
		r = maxReductionDB
	}
	return r
}

// LevelDetector smooths a gain-reduction target with separate attack and
// release time constants. Attack applies while the reduction deepens.
type LevelDetector struct {
	attack, release float32
	env             float32
}

// SetTimes sets the attack and release time constants in milliseconds. A
// time of zero or less is instantaneous.
func (d *LevelDetector) SetTimes(attackMs, releaseMs, sampleRate float32) {
	d.attack = smoothing(attackMs, sampleRate)
	d.release = smoothing(releaseMs, sampleRate)
}

// Next advances the detector by one sample towards target (dB).
func (d *LevelDetector) Next(target float32) float32 {
	coeff := d.release
	if target < d.env {
		coeff = d.attack
	}
	d.env += (target - d.env) * coeff
	if d.env > -1e-6 {
		d.env = 0
	}
	return d.env
}

// Value returns the current smoothed reduction.
func (d *LevelDetector) Value() float32 { return d.env }

// Reset returns the detector to zero reduction.
func (d *LevelDetector) Reset() { d.env = 0 }

func smoothing(ms, sampleRate float32) float32 {
	if ms <= 0 || sampleRate <= 0 {
		return 1
	}
	return 1 - math32.Exp(-1/(ms*0.001*sampleRate))
}

// DynamicsParams configures a compressor or expander.
type DynamicsParams struct {
	Enable    bool
	Threshold float32 // dB
	Ratio     float32
	Knee      float32 // dB
	Attack    float32 // ms
	Release   float32 // ms
	Makeup    float32 // dB
}

// DefaultCompressor is a bypassed 4:1 compressor.
var DefaultCompressor = DynamicsParams{Threshold: -20, Ratio: 4, Knee: 6, Attack: 10, Release: 100}

// DefaultExpander is a bypassed 2:1 expander.
var DefaultExpander = DynamicsParams{Threshold: -50, Ratio: 2, Knee: 6, Attack: 1, Release: 100}

// Dynamics is a linked multi-channel compressor or expander. At every sample
// frame the deepest reduction computed for any channel is applied to all of
// them so the stereo image does not shift.
type Dynamics struct {
	params   DynamicsParams
	computer GainComputer
	detector LevelDetector
	makeup   float32
	// Reduction applied to the last processed frame, dB.
	last float32
}

// NewDynamics creates a compressor, or an expander when expander is true.
func NewDynamics(params DynamicsParams, expander bool, sampleRate float32) *Dynamics {
	d := &Dynamics{computer: GainComputer{Expander: expander}}
	d.Set(params, sampleRate)
	return d
}

// Set updates the parameters.
func (d *Dynamics) Set(params DynamicsParams, sampleRate float32) {
	if params.Enable && !d.params.Enable {
		d.detector.Reset()
	}
	d.params = params
	d.computer.Threshold = params.Threshold
	d.computer.Ratio = params.Ratio
	d.computer.Knee = params.Knee
	d.detector.SetTimes(params.Attack, params.Release, sampleRate)
	d.makeup = math32.Pow(10, params.Makeup/20)
}

// Params returns the current parameters.
func (d *Dynamics) Params() DynamicsParams { return d.params }

// Reduction returns the gain change applied to the last frame, in dB.
func (d *Dynamics) Reduction() float32 { return d.last }

// Process applies the linked gain to every channel in place. All channels
// must have the same length.
func (d *Dynamics) Process(channels [][]float32) {
	if !d.params.Enable || len(channels) == 0 {
		return
	}
	frames := len(channels[0])
	for i := 0; i < frames; i++ {
		target := float32(0)
		for _, ch := range channels {
			x := math32.Abs(ch[i])
			if x == 0 {
				continue
			}
			if r := d.computer.Reduction(20 * math32.Log10(x)); r < target {
				target = r
			}
		}
		reduction := d.detector.Next(target)
		gain := d.makeup
		if reduction != 0 {
			gain *= math32.Pow(10, reduction/20)
		}
		for _, ch := range channels {
			ch[i] *= gain
		}
		d.last = reduction
	}
}
