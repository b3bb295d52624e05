package otodev

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/oscmix/backend"
)

func TestRegisteredAsOto(t *testing.T) {
	d, err := backend.Lookup("oto")
	require.NoError(t, err)
	devs, err := d.Devices()
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, DeviceID, devs[0].ID)
}

func TestOpenRejectsCaptureAndBadChannels(t *testing.T) {
	d := &Driver{}
	_, err := d.Open(backend.StreamConfig{Inputs: 1, Outputs: 2}, nil)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
	_, err = d.Open(backend.StreamConfig{Outputs: 3}, nil)
	assert.ErrorIs(t, err, backend.ErrUnsupported)
	_, err = d.Open(backend.StreamConfig{Device: "hw:1", Outputs: 2}, nil)
	assert.ErrorIs(t, err, backend.ErrNoDevice)
}

func TestReaderRendersInterleavedFloat32(t *testing.T) {
	calls := 0
	s := &stream{
		block:    2,
		channels: 2,
		out:      [][]float32{make([]float32, 2), make([]float32, 2)},
		process: func(_, out [][]float32) {
			calls++
			out[0][0], out[0][1] = 0.5, -0.5
			out[1][0], out[1][1] = 1, -1
		},
	}

	// Three frames: one full block plus half of the next.
	p := make([]byte, 3*2*4)
	n, err := s.Read(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)
	assert.Equal(t, 2, calls)

	var got []float32
	for i := 0; i < len(p); i += 4 {
		got = append(got, math.Float32frombits(binary.LittleEndian.Uint32(p[i:])))
	}
	assert.Equal(t, []float32{0.5, 1, -0.5, -1, 0.5, 1}, got)
}
