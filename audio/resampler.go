package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

const (
	// Oversampling is the number of polyphase sub-filters per input sample.
	Oversampling = 128
	// Taps is the length of each sub-filter.
	Taps = 32
	// kaiserBeta trades transition width for stop-band rejection (about 80 dB).
	kaiserBeta = 8.0
	// passband is the cutoff as a share of the lower Nyquist frequency.
	passband = 0.9
)

// ErrInvalidRate is returned for non-positive or non-finite sample rates.
var ErrInvalidRate = errors.New("audio: invalid sample rate")

// Resampler is a polyphase fractional-rate converter for one channel.
//
// The filter bank holds Oversampling+1 phases of Taps taps each, cut from a
// Kaiser-windowed sinc master table. The extra phase is phase zero shifted
// by one input sample, so interpolating between the two phases around any
// fractional position never reads past the bank.
//
// Each Put advances the phase accumulator by Step. Every time the
// accumulator reaches Oversampling one output sample is due; Get emits it
// and subtracts Oversampling, so the accumulator stays in
// [0, Oversampling) between calls and the remainder carries over. Over any
// run the number of outputs therefore differs from inputs*target/source by
// less than one sample.
type Resampler struct {
	source, target float64
	drift          float64
	step           float64
	acc            float64
	cutoff         float64

	bank    [][Taps]float32 // Oversampling+1 phases
	history [2 * Taps]float32
	pos     int
}

// NewResampler creates a resampler converting from source to target Hz.
//
// Parameters:
//   - source: input sample rate in Hz
//   - target: output sample rate in Hz
//
// Returns:
//   - *Resampler: resampler with a drift multiplier of 1
//   - error: ErrInvalidRate if either rate is not positive
func NewResampler(source, target float64) (*Resampler, error) {
	r := &Resampler{drift: 1, bank: make([][Taps]float32, Oversampling+1)}
	if err := r.SetRates(source, target); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewResampler",
		"source":   source,
		"target":   target,
		"step":     r.step,
	}).Debug("Created polyphase resampler")
	return r, nil
}

// SetRates changes the conversion ratio. The filter bank is rebuilt when
// the anti-aliasing cutoff changes. History and accumulator are kept.
func (r *Resampler) SetRates(source, target float64) error {
	if !(source > 0) || !(target > 0) || math.IsInf(source, 0) || math.IsInf(target, 0) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidRate, source, target)
	}
	r.source, r.target = source, target
	cutoff := passband * math.Min(1, target/source)
	if cutoff != r.cutoff {
		r.cutoff = cutoff
		buildBank(r.bank, cutoff)
	}
	r.updateStep()
	return nil
}

// SetDrift sets the clock-drift multiplier applied on top of the nominal
// ratio. Values outside (0.9, 1.1) are clamped.
func (r *Resampler) SetDrift(multiplier float64) {
	r.drift = math.Max(0.9, math.Min(1.1, multiplier))
	r.updateStep()
}

// Drift returns the current drift multiplier.
func (r *Resampler) Drift() float64 { return r.drift }

func (r *Resampler) updateStep() {
	r.step = Oversampling * r.target / r.source * r.drift
}

// Step returns the accumulator increment per input sample.
func (r *Resampler) Step() float64 { return r.step }

// Ratio returns the effective output/input ratio including drift.
func (r *Resampler) Ratio() float64 { return r.step / Oversampling }

// Phase returns the accumulator, always in [0, Oversampling) after Get.
func (r *Resampler) Phase() float64 { return r.acc }

// MaxOutputs is the most samples a single Get can emit.
func (r *Resampler) MaxOutputs() int {
	return int(math.Ceil(r.step/Oversampling)) + 1
}

// Put appends one input sample to the history and advances the phase
// accumulator.
func (r *Resampler) Put(x float32) {
	r.pos++
	if r.pos == Taps {
		r.pos = 0
	}
	r.history[r.pos] = x
	r.history[r.pos+Taps] = x
	r.acc += r.step
}

// Get emits every output sample due since the last Put into out and
// returns how many were written. out should hold MaxOutputs samples; when
// it is shorter the remaining outputs stay due for the next call.
func (r *Resampler) Get(out []float32) int {
	n := 0
	for r.acc >= Oversampling && n < len(out) {
		// How far, in input samples, the due output lies behind the newest one.
		behind := (r.acc - Oversampling) / r.step
		phase := Oversampling * (1 - behind)
		ip := int(phase)
		if ip > Oversampling-1 {
			ip = Oversampling - 1
		}
		if ip < 0 {
			ip = 0
		}
		frac := float32(phase - float64(ip))

		p0, p1 := &r.bank[ip], &r.bank[ip+1]
		window := r.history[r.pos+1 : r.pos+1+Taps]
		var s0, s1 float32
		for k := 0; k < Taps; k++ {
			x := window[Taps-1-k]
			s0 += p0[k] * x
			s1 += p1[k] * x
		}
		out[n] = s0 + frac*(s1-s0)
		n++
		r.acc -= Oversampling
	}
	return n
}

// Process runs a block through the resampler and returns the number of
// samples written to out. out must hold len(in)*Ratio()+MaxOutputs
// samples; anything beyond its length is dropped.
func (r *Resampler) Process(in, out []float32) int {
	n := 0
	for _, x := range in {
		r.Put(x)
		n += r.Get(out[n:])
		if n == len(out) && r.acc >= Oversampling {
			r.acc = math.Mod(r.acc, Oversampling)
		}
	}
	return n
}

// Reset clears the history and the accumulator.
func (r *Resampler) Reset() {
	r.history = [2 * Taps]float32{}
	r.pos = 0
	r.acc = 0
}

// buildBank fills bank from a Kaiser-windowed sinc master table of
// Taps*Oversampling+1 points with the given normalized cutoff. Every phase
// is scaled to unity DC gain.
func buildBank(bank [][Taps]float32, cutoff float64) {
	const length = Taps*Oversampling + 1
	const centre = float64(Taps*Oversampling) / 2
	master := make([]float64, length)
	i0beta := besselI0(kaiserBeta)
	for j := range master {
		t := (float64(j) - centre) / Oversampling
		x := cutoff * t
		sinc := 1.0
		if x != 0 {
			sinc = math.Sin(math.Pi*x) / (math.Pi * x)
		}
		ratio := (float64(j) - centre) / centre
		w := besselI0(kaiserBeta*math.Sqrt(math.Max(0, 1-ratio*ratio))) / i0beta
		master[j] = cutoff * sinc * w
	}

	for p := 0; p <= Oversampling; p++ {
		var sum float64
		for k := 0; k < Taps; k++ {
			if j := k*Oversampling + p; j < length {
				sum += master[j]
			}
		}
		for k := 0; k < Taps; k++ {
			v := 0.0
			if j := k*Oversampling + p; j < length && sum != 0 {
				v = master[j] / sum
			}
			bank[p][k] = float32(v)
		}
	}
}

// besselI0 is the zeroth-order modified Bessel function of the first kind.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	half := x / 2
	for k := 1; k < 50; k++ {
		term *= (half / float64(k)) * (half / float64(k))
		sum += term
		if term < sum*1e-12 {
			break
		}
	}
	return sum
}
