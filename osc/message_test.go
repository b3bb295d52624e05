package osc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncoding(t *testing.T) {
	msg := NewMessage("/strip/0/volume", float32(-6.0))
	data, err := msg.MarshalBinary()
	require.NoError(t, err)

	expected := []byte{
		'/', 's', 't', 'r', 'i', 'p', '/', '0', '/', 'v', 'o', 'l', 'u', 'm', 'e', 0,
		',', 'f', 0, 0,
		0xC0, 0xC0, 0x00, 0x00, // -6.0 big-endian
	}
	assert.Equal(t, expected, data)
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{name: "no_arguments", msg: NewMessage("/strip")},
		{name: "int", msg: NewMessage("/strip/add", int32(3))},
		{name: "negative_int", msg: NewMessage("/a", int32(-2147483648))},
		{name: "float", msg: NewMessage("/strip/0/filterChain/volume", float32(-6))},
		{name: "string_padding_1", msg: NewMessage("/abc", "abc")},
		{name: "string_padding_4", msg: NewMessage("/abcd", "abcd")},
		{name: "empty_string", msg: NewMessage("/s", "")},
		{name: "booleans", msg: NewMessage("/strip/0/enable", true, false)},
		{name: "mixed", msg: NewMessage("/graph/connect", "a:out_1", "b:in_1", int32(7), float32(0.5), true)},
		{name: "infinity", msg: NewMessage("/meter", float32(math.Inf(-1)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.MarshalBinary()
			require.NoError(t, err)
			assert.Zero(t, len(data)%4, "packet size must be a multiple of four")

			decoded, err := ParseMessage(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Address, decoded.Address)
			assert.Equal(t, len(tt.msg.Arguments), len(decoded.Arguments))
			for i := range tt.msg.Arguments {
				assert.Equal(t, tt.msg.Arguments[i], decoded.Arguments[i])
			}

			again, err := decoded.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestMessageAppendNormalizes(t *testing.T) {
	msg := NewMessage("/x", 5, 1.5)
	assert.Equal(t, []any{int32(5), float32(1.5)}, msg.Arguments)
}

func TestMessageEncodeErrors(t *testing.T) {
	_, err := NewMessage("no-slash").MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewMessage("/x", int64(1)).MarshalBinary()
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = NewMessage("/x", "a\x00b").MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseMessageErrors(t *testing.T) {
	valid, err := NewMessage("/a", int32(1), "xy").MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "unterminated_address", data: []byte{'/', 'a', 'b', 'c'}, want: ErrMalformed},
		{name: "no_leading_slash", data: []byte{'a', 0, 0, 0}, want: ErrInvalidAddress},
		{name: "missing_comma", data: []byte{'/', 'a', 0, 0, 'i', 0, 0, 0, 0, 0, 0, 1}, want: ErrMalformed},
		{name: "unknown_tag", data: []byte{'/', 'a', 0, 0, ',', 'b', 0, 0}, want: ErrUnsupportedType},
		{name: "truncated_int", data: valid[:10], want: ErrMalformed},
		{name: "truncated_string", data: valid[:len(valid)-4], want: ErrMalformed},
		{name: "trailing_bytes", data: append(append([]byte{}, valid...), 0, 0, 0, 0), want: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMessageString(t *testing.T) {
	msg := NewMessage("/strip/0/enable", true)
	assert.Equal(t, "/strip/0/enable ,T true", msg.String())
}
