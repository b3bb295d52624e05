package dsp

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
)

// FilterType selects a biquad design.
type FilterType int32

const (
	Peak FilterType = iota
	LowShelf
	HighShelf
	LowPass
	HighPass
	BandPass
	Notch
	AllPass
)

var filterTypeNames = [...]string{"peak", "lowshelf", "highshelf", "lowpass", "highpass", "bandpass", "notch", "allpass"}

func (t FilterType) String() string {
	if t < 0 || int(t) >= len(filterTypeNames) {
		return fmt.Sprintf("FilterType(%d)", int32(t))
	}
	return filterTypeNames[t]
}

// ParseFilterType maps a filter name to its type.
func ParseFilterType(name string) (FilterType, error) {
	for i, n := range filterTypeNames {
		if strings.EqualFold(n, name) {
			return FilterType(i), nil
		}
	}
	return 0, fmt.Errorf("dsp: unknown filter type %q", name)
}

// Valid reports whether t names a known design.
func (t FilterType) Valid() bool {
	return t >= 0 && int(t) < len(filterTypeNames)
}

// Coefficients of a biquad section with a0 normalized to one.
//
//	y = B0*x + z1
//	z1 = B1*x - A1*y + z2
//	z2 = B2*x - A2*y
type Coefficients struct {
	B0, B1, B2 float32
	A1, A2     float32
}

// Identity is the pass-through section.
var Identity = Coefficients{B0: 1}

// Design computes RBJ cookbook coefficients. gainDB is used by the peak and
// shelf designs only. Degenerate input (q <= 0, sampleRate <= 0, f0
// outside (0, sampleRate/2), non-finite values) yields Identity.
func Design(t FilterType, f0, gainDB, q, sampleRate float32) Coefficients {
	if !t.Valid() || !finite(f0) || !finite(gainDB) || !finite(q) || !finite(sampleRate) {
		return Identity
	}
	if q <= 0 || sampleRate <= 0 || f0 <= 0 || f0 >= sampleRate/2 {
		return Identity
	}

	w0 := 2 * math32.Pi * f0 / sampleRate
	cw := math32.Cos(w0)
	sw := math32.Sin(w0)
	alpha := sw / (2 * q)
	a := math32.Pow(10, gainDB/40)

	var b0, b1, b2, a0, a1, a2 float32
	switch t {
	case Peak:
		b0, b1, b2 = 1+alpha*a, -2*cw, 1-alpha*a
		a0, a1, a2 = 1+alpha/a, -2*cw, 1-alpha/a
	case LowShelf:
		sa := 2 * math32.Sqrt(a) * alpha
		b0 = a * ((a + 1) - (a-1)*cw + sa)
		b1 = 2 * a * ((a - 1) - (a+1)*cw)
		b2 = a * ((a + 1) - (a-1)*cw - sa)
		a0 = (a + 1) + (a-1)*cw + sa
		a1 = -2 * ((a - 1) + (a+1)*cw)
		a2 = (a + 1) + (a-1)*cw - sa
	case HighShelf:
		sa := 2 * math32.Sqrt(a) * alpha
		b0 = a * ((a + 1) + (a-1)*cw + sa)
		b1 = -2 * a * ((a - 1) + (a+1)*cw)
		b2 = a * ((a + 1) + (a-1)*cw - sa)
		a0 = (a + 1) - (a-1)*cw + sa
		a1 = 2 * ((a - 1) - (a+1)*cw)
		a2 = (a + 1) - (a-1)*cw - sa
	case LowPass:
		b0, b1, b2 = (1-cw)/2, 1-cw, (1-cw)/2
		a0, a1, a2 = 1+alpha, -2*cw, 1-alpha
	case HighPass:
		b0, b1, b2 = (1+cw)/2, -(1 + cw), (1+cw)/2
		a0, a1, a2 = 1+alpha, -2*cw, 1-alpha
	case BandPass:
		b0, b1, b2 = alpha, 0, -alpha
		a0, a1, a2 = 1+alpha, -2*cw, 1-alpha
	case Notch:
		b0, b1, b2 = 1, -2*cw, 1
		a0, a1, a2 = 1+alpha, -2*cw, 1-alpha
	case AllPass:
		b0, b1, b2 = 1-alpha, -2*cw, 1+alpha
		a0, a1, a2 = 1+alpha, -2*cw, 1-alpha
	}

	if a0 == 0 || !finite(a0) {
		return Identity
	}
	c := Coefficients{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
	if !finite(c.B0) || !finite(c.B1) || !finite(c.B2) || !finite(c.A1) || !finite(c.A2) {
		return Identity
	}
	return c
}

// Biquad is one second-order section in direct form II transposed.
type Biquad struct {
	Coefficients
	z1, z2 float32
}

// Process filters block in place.
func (s *Biquad) Process(block []float32) {
	b0, b1, b2, a1, a2 := s.B0, s.B1, s.B2, s.A1, s.A2
	z1, z2 := s.z1, s.z2
	for i, x := range block {
		y := b0*x + z1
		z1 = b1*x - a1*y + z2
		z2 = b2*x - a2*y
		block[i] = y
	}
	s.z1, s.z2 = flush(z1), flush(z2)
}

// Reset clears the filter state.
func (s *Biquad) Reset() {
	s.z1, s.z2 = 0, 0
}

func finite(x float32) bool {
	return !math32.IsNaN(x) && !math32.IsInf(x, 0)
}

// flush zeroes denormal-range state so silent tails do not stall the FPU.
func flush(x float32) float32 {
	if x > -1e-20 && x < 1e-20 {
		return 0
	}
	return x
}
