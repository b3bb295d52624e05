package audio

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResamplerRejectsBadRates(t *testing.T) {
	for _, rates := range [][2]float64{{0, 48000}, {48000, 0}, {-1, 48000}, {math.NaN(), 48000}, {math.Inf(1), 48000}} {
		_, err := NewResampler(rates[0], rates[1])
		assert.ErrorIs(t, err, ErrInvalidRate)
	}
}

func TestBankHasUnityDCGain(t *testing.T) {
	r, err := NewResampler(48000, 44100)
	require.NoError(t, err)
	require.Len(t, r.bank, Oversampling+1)
	for p, phase := range r.bank {
		var sum float64
		for _, c := range phase {
			sum += float64(c)
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "phase %d", p)
	}
}

func TestRateTrackingIsBoundedByOneSample(t *testing.T) {
	tests := []struct {
		name           string
		source, target float64
		drift          float64
	}{
		{"44k1_to_48k", 44100, 48000, 1},
		{"48k_to_44k1", 48000, 44100, 1},
		{"8k_to_48k", 8000, 48000, 1},
		{"96k_to_8k", 96000, 8000, 1},
		{"unity_with_drift", 48000, 48000, 1.000137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResampler(tt.source, tt.target)
			require.NoError(t, err)
			r.SetDrift(tt.drift)
			ratio := r.Ratio()

			rng := rand.New(rand.NewPCG(1, 2))
			out := make([]float32, 8192)
			in := make([]float32, 1024)
			inputs, outputs := 0, 0
			for inputs < 400000 {
				n := 1 + rng.IntN(len(in))
				outputs += r.Process(in[:n], out)
				inputs += n

				// floor or ceil of the exact count, whichever rounding lands on.
				require.InDelta(t, float64(inputs)*ratio, float64(outputs), 1+1e-6)
				require.GreaterOrEqual(t, r.Phase(), 0.0)
				require.Less(t, r.Phase(), float64(Oversampling))
			}
		})
	}
}

func TestResamplerPassesDC(t *testing.T) {
	r, err := NewResampler(44100, 48000)
	require.NoError(t, err)
	in := make([]float32, 4410)
	for i := range in {
		in[i] = 0.5
	}
	out := make([]float32, 6000)
	n := r.Process(in, out)
	require.Greater(t, n, 4000)
	for _, v := range out[Taps*2 : n] {
		assert.InDelta(t, 0.5, v, 1e-3)
	}
}

func TestResamplerPreservesSine(t *testing.T) {
	const source, target, freq = 48000.0, 44100.0, 1000.0
	r, err := NewResampler(source, target)
	require.NoError(t, err)

	in := make([]float32, 48000)
	for i := range in {
		in[i] = float32(0.8 * math.Sin(2*math.Pi*freq*float64(i)/source))
	}
	out := make([]float32, 45000)
	n := r.Process(in, out)

	// The pass band is flat, so the amplitude survives the conversion.
	var peak float32
	for _, v := range out[1000:n] {
		peak = max(peak, v)
	}
	assert.InDelta(t, 0.8, peak, 0.01)
}

func TestGetWithShortBufferKeepsOutputsDue(t *testing.T) {
	r, err := NewResampler(8000, 48000)
	require.NoError(t, err)
	r.Put(1)
	one := make([]float32, 1)
	total := 0
	for r.Get(one) == 1 {
		total++
	}
	assert.Equal(t, 6, total)
	assert.Less(t, r.Phase(), float64(Oversampling))
}
