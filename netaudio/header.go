package netaudio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/oscmix/limits"
)

// HeaderSize is the fixed size of the packet header in bytes.
const HeaderSize = 28

// Magic starts every network audio packet.
var Magic = [4]byte{'N', 'A', 'U', 'D'}

// Codec identifies the payload encoding.
type Codec uint8

const (
	// CodecPCM16 is interleaved signed 16-bit big-endian PCM.
	CodecPCM16 Codec = 0x10
	// CodecOpus is one Opus packet. It is only ever received.
	CodecOpus Codec = 0x4F
)

func (c Codec) String() string {
	switch c {
	case CodecPCM16:
		return "pcm16"
	case CodecOpus:
		return "opus"
	default:
		return fmt.Sprintf("codec(0x%02x)", uint8(c))
	}
}

// SampleRates is the rate table indexed by the header's rate byte.
var SampleRates = [...]float64{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000, 176400, 192000}

var (
	// ErrShortPacket is returned for a packet smaller than its header or
	// its declared payload.
	ErrShortPacket = errors.New("netaudio: short packet")
	// ErrBadMagic is returned when the magic bytes do not match.
	ErrBadMagic = errors.New("netaudio: bad magic")
	// ErrRate is returned for a rate index or rate outside the table.
	ErrRate = errors.New("netaudio: unsupported sample rate")
	// ErrCodec is returned for an unknown codec tag.
	ErrCodec = errors.New("netaudio: unsupported codec")
	// ErrStreamName is returned for a stream name longer than the field.
	ErrStreamName = errors.New("netaudio: stream name too long")
)

// RateIndex returns the table index of rate.
func RateIndex(rate float64) (uint8, error) {
	for i, r := range SampleRates {
		if r == rate {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrRate, rate)
}

// Header is the decoded form of the 28-byte packet header:
//
//	0  magic "NAUD"
//	4  sample rate table index
//	5  sample count - 1
//	6  channel count - 1
//	7  codec tag
//	8  stream name, NUL padded to 16 bytes
//	24 frame counter, big-endian uint32
type Header struct {
	RateIndex uint8
	Samples   int
	Channels  int
	Codec     Codec
	Name      string
	Counter   uint32
}

// SampleRate returns the rate in Hz named by RateIndex.
func (h *Header) SampleRate() float64 {
	if int(h.RateIndex) >= len(SampleRates) {
		return 0
	}
	return SampleRates[h.RateIndex]
}

// AppendBinary appends the encoded header to dst.
func (h *Header) AppendBinary(dst []byte) ([]byte, error) {
	if int(h.RateIndex) >= len(SampleRates) {
		return dst, fmt.Errorf("%w: index %d", ErrRate, h.RateIndex)
	}
	if err := limits.ValidateAudioBlock(h.Samples, h.Channels); err != nil {
		return dst, err
	}
	if len(h.Name) > limits.MaxStreamName {
		return dst, fmt.Errorf("%w: %q", ErrStreamName, h.Name)
	}
	if h.Codec != CodecPCM16 && h.Codec != CodecOpus {
		return dst, fmt.Errorf("%w: %v", ErrCodec, h.Codec)
	}
	dst = append(dst, Magic[:]...)
	dst = append(dst, h.RateIndex, uint8(h.Samples-1), uint8(h.Channels-1), uint8(h.Codec))
	var name [limits.MaxStreamName]byte
	copy(name[:], h.Name)
	dst = append(dst, name[:]...)
	return binary.BigEndian.AppendUint32(dst, h.Counter), nil
}

// ParseHeader decodes the header at the start of packet and returns the
// payload that follows it.
func ParseHeader(packet []byte) (Header, []byte, error) {
	if len(packet) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}
	if !bytes.Equal(packet[:4], Magic[:]) {
		return Header{}, nil, ErrBadMagic
	}
	h := Header{
		RateIndex: packet[4],
		Samples:   int(packet[5]) + 1,
		Channels:  int(packet[6]) + 1,
		Codec:     Codec(packet[7]),
		Counter:   binary.BigEndian.Uint32(packet[24:28]),
	}
	if int(h.RateIndex) >= len(SampleRates) {
		return Header{}, nil, fmt.Errorf("%w: index %d", ErrRate, h.RateIndex)
	}
	if h.Codec != CodecPCM16 && h.Codec != CodecOpus {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrCodec, h.Codec)
	}
	name := packet[8:24]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	h.Name = string(name)
	return h, packet[HeaderSize:], nil
}
