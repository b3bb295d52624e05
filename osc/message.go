package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/opd-ai/oscmix/limits"
)

// Type tags understood by the codec.
const (
	TypeInt32   byte = 'i'
	TypeFloat32 byte = 'f'
	TypeString  byte = 's'
	TypeTrue    byte = 'T'
	TypeFalse   byte = 'F'
)

// Packet is either a *Message or a *Bundle.
type Packet interface {
	MarshalBinary() ([]byte, error)
}

// Message is a single addressed command with its arguments.
//
// Arguments hold int32, float32, string or bool values. Append normalizes
// int and float64 to int32 and float32 so callers can pass untyped
// constants.
type Message struct {
	Address   string
	Arguments []any
}

// NewMessage creates a message for address with the given arguments.
func NewMessage(address string, args ...any) *Message {
	m := &Message{Address: address}
	m.Append(args...)
	return m
}

// Append adds arguments to the message.
func (m *Message) Append(args ...any) {
	for _, arg := range args {
		switch v := arg.(type) {
		case int:
			m.Arguments = append(m.Arguments, int32(v))
		case float64:
			m.Arguments = append(m.Arguments, float32(v))
		default:
			m.Arguments = append(m.Arguments, arg)
		}
	}
}

// TypeTags returns the type tag string of the message, including the
// leading ','.
func (m *Message) TypeTags() (string, error) {
	var sb strings.Builder
	sb.WriteByte(',')
	for i, arg := range m.Arguments {
		tag, err := typeTag(arg)
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		sb.WriteByte(tag)
	}
	return sb.String(), nil
}

func typeTag(arg any) (byte, error) {
	switch v := arg.(type) {
	case int32:
		return TypeInt32, nil
	case float32:
		return TypeFloat32, nil
	case string:
		return TypeString, nil
	case bool:
		if v {
			return TypeTrue, nil
		}
		return TypeFalse, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, arg)
	}
}

// MarshalBinary encodes the message into its wire representation.
func (m *Message) MarshalBinary() ([]byte, error) {
	if !strings.HasPrefix(m.Address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, m.Address)
	}
	if err := limits.ValidateAddress(m.Address); err != nil {
		return nil, err
	}

	tags, err := m.TypeTags()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writePaddedString(&buf, m.Address); err != nil {
		return nil, err
	}
	if err := writePaddedString(&buf, tags); err != nil {
		return nil, err
	}

	var scratch [4]byte
	for _, arg := range m.Arguments {
		switch v := arg.(type) {
		case int32:
			binary.BigEndian.PutUint32(scratch[:], uint32(v))
			buf.Write(scratch[:])
		case float32:
			binary.BigEndian.PutUint32(scratch[:], math.Float32bits(v))
			buf.Write(scratch[:])
		case string:
			if err := writePaddedString(&buf, v); err != nil {
				return nil, err
			}
		}
	}

	if err := limits.ValidatePacket(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String renders the message for logs, e.g. "/strip/0/volume ,f -6".
func (m *Message) String() string {
	tags, err := m.TypeTags()
	if err != nil {
		tags = ",?"
	}
	var sb strings.Builder
	sb.WriteString(m.Address)
	sb.WriteByte(' ')
	sb.WriteString(tags)
	for _, arg := range m.Arguments {
		fmt.Fprintf(&sb, " %v", arg)
	}
	return sb.String()
}

// ParseMessage decodes a single message.
func ParseMessage(data []byte) (*Message, error) {
	address, offset, err := readPaddedString(data, 0)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	if !strings.HasPrefix(address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if err := limits.ValidateAddress(address); err != nil {
		return nil, err
	}

	msg := &Message{Address: address}
	if offset == len(data) {
		// A message without a type tag string carries no arguments.
		return msg, nil
	}

	tags, offset, err := readPaddedString(data, offset)
	if err != nil {
		return nil, fmt.Errorf("type tags: %w", err)
	}
	if !strings.HasPrefix(tags, ",") {
		return nil, fmt.Errorf("%w: type tags %q missing ','", ErrMalformed, tags)
	}

	for i := 1; i < len(tags); i++ {
		switch tags[i] {
		case TypeInt32:
			if offset+4 > len(data) {
				return nil, fmt.Errorf("%w: truncated int32 argument", ErrMalformed)
			}
			msg.Arguments = append(msg.Arguments, int32(binary.BigEndian.Uint32(data[offset:])))
			offset += 4
		case TypeFloat32:
			if offset+4 > len(data) {
				return nil, fmt.Errorf("%w: truncated float32 argument", ErrMalformed)
			}
			msg.Arguments = append(msg.Arguments, math.Float32frombits(binary.BigEndian.Uint32(data[offset:])))
			offset += 4
		case TypeString:
			var s string
			s, offset, err = readPaddedString(data, offset)
			if err != nil {
				return nil, fmt.Errorf("string argument: %w", err)
			}
			msg.Arguments = append(msg.Arguments, s)
		case TypeTrue:
			msg.Arguments = append(msg.Arguments, true)
		case TypeFalse:
			msg.Arguments = append(msg.Arguments, false)
		default:
			return nil, fmt.Errorf("%w: tag %q", ErrUnsupportedType, tags[i])
		}
	}

	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-offset)
	}
	return msg, nil
}

// padded returns n rounded up to a multiple of four.
func padded(n int) int {
	return (n + 3) &^ 3
}

func writePaddedString(buf *bytes.Buffer, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: string contains NUL", ErrMalformed)
	}
	buf.WriteString(s)
	// At least one terminating NUL, then pad to four bytes.
	for n := padded(len(s)+1) - len(s); n > 0; n-- {
		buf.WriteByte(0)
	}
	return nil
}

func readPaddedString(data []byte, offset int) (string, int, error) {
	if offset >= len(data) {
		return "", 0, fmt.Errorf("%w: string past end of packet", ErrMalformed)
	}
	end := bytes.IndexByte(data[offset:], 0)
	if end < 0 {
		return "", 0, fmt.Errorf("%w: unterminated string", ErrMalformed)
	}
	next := offset + padded(end+1)
	if next > len(data) {
		return "", 0, fmt.Errorf("%w: string padding past end of packet", ErrMalformed)
	}
	for _, b := range data[offset+end : next] {
		if b != 0 {
			return "", 0, fmt.Errorf("%w: non-zero string padding", ErrMalformed)
		}
	}
	return string(data[offset : offset+end]), next, nil
}
