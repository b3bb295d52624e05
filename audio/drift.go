package audio

import "math"

const (
	// DefaultDriftWindow is the number of consumer blocks averaged per
	// occupancy sample.
	DefaultDriftWindow = 64
	// DriftGain is the share of each residual measurement folded into the
	// correction.
	DriftGain = 0.05
	// MaxDriftPPM bounds a single residual measurement.
	MaxDriftPPM = 1000
	// MaxCorrectionPPM bounds the integrated correction, so a long run of
	// underruns cannot wind it up past any clock a device could have.
	MaxCorrectionPPM = 5000
)

// DriftEstimator measures how fast a ring buffer fills or drains and
// integrates that rate into a resampling multiplier.
//
// Every window of consumer blocks the average occupancy is taken. Given two
// consecutive averages the residual drift is
//
//	ppm = (avg2 - avg1) / samplesConsumedInWindow * 1e6
//
// clamped to ±MaxDriftPPM and integrated as correction += DriftGain*ppm,
// the sum held within ±MaxCorrectionPPM.
// The multiplier is 1 - correction*1e-6: a growing buffer lowers the
// output-per-input ratio of the resampler that feeds or drains it.
type DriftEstimator struct {
	window   int
	blocks   int
	sum      float64
	consumed uint64

	prev     float64
	havePrev bool

	residual   float64
	correction float64
}

// NewDriftEstimator creates an estimator averaging over window blocks.
func NewDriftEstimator(window int) *DriftEstimator {
	if window <= 0 {
		window = DefaultDriftWindow
	}
	return &DriftEstimator{window: window}
}

// Observe records the occupancy after one consumer block and the number of
// samples that block consumed. It reports whether the correction changed.
func (d *DriftEstimator) Observe(occupancy, consumed int) bool {
	d.sum += float64(occupancy)
	d.consumed += uint64(consumed)
	d.blocks++
	if d.blocks < d.window {
		return false
	}

	avg := d.sum / float64(d.blocks)
	consumedInWindow := d.consumed
	d.sum, d.consumed, d.blocks = 0, 0, 0

	if !d.havePrev {
		d.prev, d.havePrev = avg, true
		return false
	}
	defer func() { d.prev = avg }()
	if consumedInWindow == 0 {
		return false
	}

	ppm := (avg - d.prev) / float64(consumedInWindow) * 1e6
	ppm = math.Max(-MaxDriftPPM, math.Min(MaxDriftPPM, ppm))
	d.residual = ppm
	d.correction = math.Max(-MaxCorrectionPPM, math.Min(MaxCorrectionPPM, d.correction+DriftGain*ppm))
	return true
}

// Residual returns the last measured drift in ppm.
func (d *DriftEstimator) Residual() float64 { return d.residual }

// Correction returns the integrated correction in ppm.
func (d *DriftEstimator) Correction() float64 { return d.correction }

// Multiplier returns the resampling drift multiplier.
func (d *DriftEstimator) Multiplier() float64 {
	return 1 - d.correction*1e-6
}

// Reset forgets all measurements and the integrated correction.
func (d *DriftEstimator) Reset() {
	*d = DriftEstimator{window: d.window}
}
