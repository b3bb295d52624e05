package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/oscmix/limits"
	"github.com/sirupsen/logrus"
)

// bundleTag is the 8-byte bundle marker, "#bundle" plus its NUL.
var bundleTag = []byte("#bundle\x00")

// Immediately is the special time tag meaning "execute on receipt".
const Immediately uint64 = 1

// bundleHeaderSize is the marker plus the time tag.
const bundleHeaderSize = 16

// Bundle groups packets under one time tag.
type Bundle struct {
	Timetag  uint64
	Elements []Packet
}

// NewBundle creates an immediate bundle holding the given messages.
func NewBundle(messages ...*Message) *Bundle {
	b := &Bundle{Timetag: Immediately}
	for _, m := range messages {
		b.Elements = append(b.Elements, m)
	}
	return b
}

// Append adds a packet to the bundle.
func (b *Bundle) Append(p Packet) {
	b.Elements = append(b.Elements, p)
}

// MarshalBinary encodes the bundle and all its elements.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(bundleTag)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], b.Timetag)
	buf.Write(scratch[:])

	for i, element := range b.Elements {
		data, err := element.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("bundle element %d: %w", i, err)
		}
		binary.BigEndian.PutUint32(scratch[:4], uint32(len(data)))
		buf.Write(scratch[:4])
		buf.Write(data)
	}

	if err := limits.ValidatePacket(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsBundle reports whether data starts with the bundle marker.
func IsBundle(data []byte) bool {
	return bytes.HasPrefix(data, bundleTag)
}

// ParsePacket decodes a message or a bundle.
//
// Bundles are decoded leniently: an element that fails to decode is logged
// and skipped. A size prefix that runs past the end of the bundle ends the
// walk, since the remaining element boundaries are unknown.
func ParsePacket(data []byte) (Packet, error) {
	if err := limits.ValidatePacket(data); err != nil {
		return nil, err
	}
	if IsBundle(data) {
		b, err := parseBundle(data)
		if b == nil {
			return nil, err
		}
		return b, err
	}
	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func parseBundle(data []byte) (*Bundle, error) {
	if len(data) < bundleHeaderSize {
		return nil, fmt.Errorf("%w: bundle header truncated", ErrMalformed)
	}

	b := &Bundle{Timetag: binary.BigEndian.Uint64(data[8:16])}
	offset := bundleHeaderSize
	for index := 0; offset < len(data); index++ {
		if offset+4 > len(data) {
			return b, fmt.Errorf("%w: truncated element size at %d", ErrMalformed, offset)
		}
		size := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if size < 0 || offset+size > len(data) {
			return b, fmt.Errorf("%w: element %d size %d overruns bundle", ErrMalformed, index, size)
		}

		element, err := ParsePacket(data[offset : offset+size])
		offset += size
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "parseBundle",
				"element":  index,
				"size":     size,
				"error":    err.Error(),
			}).Warn("Skipping malformed bundle element")
			continue
		}
		b.Elements = append(b.Elements, element)
	}
	return b, nil
}

// Messages flattens a packet into its messages in wire order.
func Messages(p Packet) []*Message {
	var out []*Message
	var walk func(Packet)
	walk = func(p Packet) {
		switch v := p.(type) {
		case *Message:
			out = append(out, v)
		case *Bundle:
			for _, e := range v.Elements {
				walk(e)
			}
		}
	}
	if p != nil {
		walk(p)
	}
	return out
}
