package dsp

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
)

// Dither adds triangular (TPDF) noise of one LSB and quantizes to a bit
// depth. A depth of zero disables it.
type Dither struct {
	bits  int32
	scale float32
	rng   *rand.Rand
}

// NewDither creates a dither stage with a seeded generator.
func NewDither(seed uint64) *Dither {
	return &Dither{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// SetBits sets the target bit depth, 0 to disable. Depths outside 1..24
// disable the stage.
func (d *Dither) SetBits(bits int32) {
	if bits <= 0 || bits > 24 {
		d.bits, d.scale = 0, 0
		return
	}
	d.bits = bits
	d.scale = math32.Pow(2, float32(bits-1))
}

// Bits returns the target bit depth.
func (d *Dither) Bits() int32 { return d.bits }

// Process dithers and quantizes every channel in place.
func (d *Dither) Process(channels [][]float32) {
	if d.bits == 0 {
		return
	}
	inv := 1 / d.scale
	for _, ch := range channels {
		for i, x := range ch {
			noise := d.rng.Float32() - d.rng.Float32()
			q := math32.Floor(x*d.scale + noise + 0.5)
			if q > d.scale-1 {
				q = d.scale - 1
			}
			if q < -d.scale {
				q = -d.scale
			}
			ch[i] = q * inv
		}
	}
}
