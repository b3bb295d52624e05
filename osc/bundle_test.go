package osc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleRoundTrip(t *testing.T) {
	b := NewBundle(
		NewMessage("/strip/0/enable", true),
		NewMessage("/strip/0/filterChain/volume", float32(-6)),
	)
	data, err := b.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, IsBundle(data))
	assert.Equal(t, uint64(Immediately), binary.BigEndian.Uint64(data[8:16]))

	p, err := ParsePacket(data)
	require.NoError(t, err)
	decoded, ok := p.(*Bundle)
	require.True(t, ok)
	assert.Len(t, decoded.Elements, 2)

	again, err := decoded.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestNestedBundleMessages(t *testing.T) {
	inner := NewBundle(NewMessage("/b", int32(2)))
	outer := NewBundle(NewMessage("/a", int32(1)))
	outer.Append(inner)
	outer.Append(NewMessage("/c", int32(3)))

	data, err := outer.MarshalBinary()
	require.NoError(t, err)

	p, err := ParsePacket(data)
	require.NoError(t, err)

	msgs := Messages(p)
	require.Len(t, msgs, 3)
	assert.Equal(t, "/a", msgs[0].Address)
	assert.Equal(t, "/b", msgs[1].Address)
	assert.Equal(t, "/c", msgs[2].Address)
}

func TestBundleSkipsMalformedElement(t *testing.T) {
	good1, err := NewMessage("/a", int32(1)).MarshalBinary()
	require.NoError(t, err)
	good2, err := NewMessage("/c", int32(3)).MarshalBinary()
	require.NoError(t, err)
	bad := []byte{'x', 0, 0, 0} // address without '/'

	data := append([]byte{}, bundleTag...)
	data = binary.BigEndian.AppendUint64(data, Immediately)
	for _, element := range [][]byte{good1, bad, good2} {
		data = binary.BigEndian.AppendUint32(data, uint32(len(element)))
		data = append(data, element...)
	}

	p, err := ParsePacket(data)
	require.NoError(t, err)
	msgs := Messages(p)
	require.Len(t, msgs, 2)
	assert.Equal(t, "/a", msgs[0].Address)
	assert.Equal(t, "/c", msgs[1].Address)
}

func TestBundleOverrunKeepsEarlierElements(t *testing.T) {
	good, err := NewMessage("/a", int32(1)).MarshalBinary()
	require.NoError(t, err)

	data := append([]byte{}, bundleTag...)
	data = binary.BigEndian.AppendUint64(data, Immediately)
	data = binary.BigEndian.AppendUint32(data, uint32(len(good)))
	data = append(data, good...)
	data = binary.BigEndian.AppendUint32(data, 1000)

	p, err := ParsePacket(data)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Len(t, Messages(p), 1)
}

func TestParsePacketEmpty(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.Error(t, err)

	_, err = ParsePacket(bundleTag)
	assert.ErrorIs(t, err, ErrMalformed)
}
