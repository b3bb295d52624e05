package netaudio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendPCM16 interleaves frames samples from every channel of planar as
// big-endian int16, clipping to [-1, 1].
func AppendPCM16(dst []byte, planar [][]float32, frames int) []byte {
	for i := 0; i < frames; i++ {
		for _, ch := range planar {
			dst = appendSample(dst, ch[i])
		}
	}
	return dst
}

func appendSample(dst []byte, v float32) []byte {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return binary.BigEndian.AppendUint16(dst, uint16(int16(math.Round(float64(v)*math.MaxInt16))))
}

// DecodePCM16 de-interleaves a big-endian int16 payload into planar. Every
// channel of planar must hold at least frames samples.
func DecodePCM16(payload []byte, channels, frames int, planar [][]float32) error {
	need := 2 * channels * frames
	if len(payload) < need {
		return fmt.Errorf("%w: payload %d bytes, need %d", ErrShortPacket, len(payload), need)
	}
	const scale = 1.0 / 32768
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			s := int16(binary.BigEndian.Uint16(payload[2*(i*channels+c):]))
			planar[c][i] = float32(s) * scale
		}
	}
	return nil
}
