package netaudio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/opus"
)

// ErrOpusPacket is returned for an Opus packet whose table of contents
// cannot be read.
var ErrOpusPacket = errors.New("netaudio: malformed opus packet")

// maxOpusBytes holds 120 ms of stereo 16-bit audio at 48 kHz, the longest
// an Opus packet can carry.
const maxOpusBytes = 5760 * 2 * 2

// frameUnits is the duration of one Opus frame in 2.5 ms units, indexed by
// the TOC configuration number.
var frameUnits = [32]int{
	4, 8, 16, 24, 4, 8, 16, 24, 4, 8, 16, 24, // SILK NB, MB, WB
	4, 8, 4, 8, // hybrid SWB, FB
	1, 2, 4, 8, 1, 2, 4, 8, 1, 2, 4, 8, 1, 2, 4, 8, // CELT NB, WB, SWB, FB
}

// opusDuration returns the packet duration in 2.5 ms units from its TOC.
func opusDuration(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, ErrOpusPacket
	}
	toc := packet[0]
	units := frameUnits[toc>>3]
	switch toc & 0x3 {
	case 0:
		return units, nil
	case 1, 2:
		return 2 * units, nil
	default:
		if len(packet) < 2 {
			return 0, ErrOpusPacket
		}
		return int(packet[1]&0x3F) * units, nil
	}
}

// opusDecoder turns Opus payloads into planar float32 at the rate of the
// coded bandwidth.
type opusDecoder struct {
	dec opus.Decoder
	pcm []byte
}

func newOpusDecoder() *opusDecoder {
	return &opusDecoder{dec: opus.NewDecoder(), pcm: make([]byte, maxOpusBytes)}
}

// decode writes up to len(planar[c]) frames per channel and returns the
// frame count, channel count and sample rate.
func (d *opusDecoder) decode(payload []byte, planar [][]float32) (frames, channels int, rate float64, err error) {
	units, err := opusDuration(payload)
	if err != nil {
		return 0, 0, 0, err
	}
	bw, stereo, err := d.dec.Decode(payload, d.pcm)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("opus decode failed: %w", err)
	}
	rate = float64(bw.SampleRate())
	channels = 1
	if stereo {
		channels = 2
	}
	frames = units * int(rate) / 400
	if limit := len(d.pcm) / (2 * channels); frames > limit {
		frames = limit
	}
	for c := 0; c < channels && c < len(planar); c++ {
		if len(planar[c]) < frames {
			frames = len(planar[c])
		}
	}

	const scale = 1.0 / 32768
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			if c >= len(planar) {
				continue
			}
			s := int16(binary.LittleEndian.Uint16(d.pcm[2*(i*channels+c):]))
			planar[c][i] = float32(s) * scale
		}
	}
	return frames, channels, rate, nil
}
