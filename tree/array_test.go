package tree

import (
	"strconv"
	"testing"

	"github.com/opd-ai/oscmix/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// band is a small sub-tree element that records when it is closed.
type band struct {
	Container
	gain   *Variable[float32]
	closed *int
}

func newBand(closed *int) *band {
	b := &band{Container: Container{children: make(map[string]Node)}, gain: NewVariable[float32](0), closed: closed}
	b.MustAdd("gain", b.gain)
	return b
}

func (b *band) Close() error {
	*b.closed++
	return nil
}

func newBandArray(t *testing.T) (*Container, *ContainerArray[*band], *recorder, *int) {
	t.Helper()
	rec := &recorder{}
	root := NewRoot(rec.sink)
	closed := new(int)
	arr := NewContainerArray(func(int) *band { return newBand(closed) })
	root.MustAdd("eq", arr)
	return root, arr, rec, closed
}

func TestArrayAddIsDenseAndDistinct(t *testing.T) {
	root, arr, rec, _ := newBandArray(t)

	require.NoError(t, root.Execute(osc.NewMessage("/eq/add")))
	require.NoError(t, root.Execute(osc.NewMessage("/eq/add")))

	require.Equal(t, 2, arr.Len())
	first, _ := arr.At(0)
	second, _ := arr.At(1)
	assert.NotSame(t, first, second)
	assert.Equal(t, "/eq/0/gain", first.gain.Address())
	assert.Equal(t, "/eq/1/gain", second.gain.Address())
	assert.Equal(t, int32(2), arr.Size().Get())

	// Structural notification, then the size, then the new element.
	assert.Equal(t, []string{
		"/eq/add", "/eq/size", "/eq/0/gain",
		"/eq/add", "/eq/size", "/eq/1/gain",
	}, rec.addresses())
	assert.Equal(t, []any{int32(1)}, rec.msgs[3].Arguments)
}

func TestArrayAddCount(t *testing.T) {
	root, arr, _, _ := newBandArray(t)
	require.NoError(t, root.Execute(osc.NewMessage("/eq/add", int32(3))))
	assert.Equal(t, 3, arr.Len())
	assert.ErrorIs(t, root.Execute(osc.NewMessage("/eq/add", "x")), ErrTypeMismatch)
}

func TestArrayAddCountIsBounded(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		count   int32
		wantLen int
		wantErr error
	}{
		{"zero_adds_nothing", 0, 0, 0, nil},
		{"negative", 0, -1, 0, ErrOutOfRange},
		{"at_cap", 0, MaxAddCount, MaxAddCount, nil},
		{"past_cap", 0, MaxAddCount + 1, 0, ErrOutOfRange},
		{"huge", 0, 1 << 30, 0, ErrOutOfRange},
		{"fits_max", 4, 4, 4, nil},
		{"past_max_adds_nothing", 4, 5, 0, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, arr, _, _ := newBandArray(t)
			arr.SetLimits(0, tt.max)
			err := root.Execute(osc.NewMessage("/eq/add", tt.count))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantLen, arr.Len())
		})
	}
}

func TestArrayRemoveShiftsLaterElements(t *testing.T) {
	root, arr, rec, closed := newBandArray(t)
	require.NoError(t, arr.Resize(4))
	for i, b := range arr.Elements() {
		require.NoError(t, b.gain.Set(float32(i)))
	}
	rec.reset()

	// Removing index 1 twice removes the original elements 1 and 2.
	require.NoError(t, root.Execute(osc.NewMessage("/eq/remove", int32(1))))
	require.NoError(t, root.Execute(osc.NewMessage("/eq/remove", int32(1))))

	assert.Equal(t, 2, *closed)
	require.Equal(t, 2, arr.Len())
	for i, want := range []float32{0, 3} {
		b, _ := arr.At(i)
		assert.Equal(t, want, b.gain.Get())
		assert.Equal(t, "/eq/"+strconv.Itoa(i)+"/gain", b.gain.Address())
		assert.Same(t, b, root.Lookup("/eq/"+strconv.Itoa(i)))
	}
	assert.Nil(t, root.Lookup("/eq/2"))
	assert.Equal(t, int32(2), arr.Size().Get())
	assert.Equal(t, []string{"/eq/remove", "/eq/size", "/eq/remove", "/eq/size"}, rec.addresses())
}

func TestArrayRemoveDefaultsToLast(t *testing.T) {
	root, arr, _, _ := newBandArray(t)
	require.NoError(t, arr.Resize(3))
	last, _ := arr.At(2)

	require.NoError(t, root.Execute(osc.NewMessage("/eq/remove")))
	assert.Equal(t, 2, arr.Len())
	assert.Nil(t, last.Parent())

	assert.ErrorIs(t, root.Execute(osc.NewMessage("/eq/remove", int32(7))), ErrOutOfRange)
}

func TestArrayLimits(t *testing.T) {
	root, arr, _, _ := newBandArray(t)
	arr.SetLimits(1, 2)
	require.NoError(t, arr.Resize(2))

	assert.ErrorIs(t, root.Execute(osc.NewMessage("/eq/add")), ErrOutOfRange)
	require.NoError(t, root.Execute(osc.NewMessage("/eq/remove")))
	assert.ErrorIs(t, root.Execute(osc.NewMessage("/eq/remove")), ErrOutOfRange)
	assert.Equal(t, 1, arr.Len())
}

func TestArrayWildcardTargetsElementsOnly(t *testing.T) {
	root, arr, rec, _ := newBandArray(t)
	require.NoError(t, arr.Resize(3))
	rec.reset()

	require.NoError(t, root.Execute(osc.NewMessage("/eq/*/gain", float32(-3))))
	for _, b := range arr.Elements() {
		assert.Equal(t, float32(-3), b.gain.Get())
	}
	assert.Len(t, rec.msgs, 3)
}

func TestArraySizeIsReadOnly(t *testing.T) {
	root, arr, _, _ := newBandArray(t)
	assert.ErrorIs(t, root.Execute(osc.NewMessage("/eq/size", int32(5))), ErrReadOnly)
	assert.Zero(t, arr.Len())
}

func TestArraySnapshotRestore(t *testing.T) {
	_, src, _, _ := newBandArray(t)
	require.NoError(t, src.Resize(2))
	b, _ := src.At(1)
	require.NoError(t, b.gain.Set(-9))

	snap := src.Snapshot()
	assert.Equal(t, []any{
		map[string]any{"gain": float32(0)},
		map[string]any{"gain": float32(-9)},
	}, snap)

	_, dst, _, closed := newBandArray(t)
	require.NoError(t, dst.Resize(5))
	require.NoError(t, dst.Restore([]any{
		map[string]any{"gain": float64(1)},
		map[string]any{"gain": float64(-9)},
	}))
	assert.Equal(t, 2, dst.Len())
	assert.Equal(t, 3, *closed)
	got, _ := dst.At(1)
	assert.Equal(t, float32(-9), got.gain.Get())
}

func TestReadOnlyLeafArray(t *testing.T) {
	rec := &recorder{}
	root := NewRoot(rec.sink)
	peaks := NewArray(func(int) *Variable[float32] {
		return NewVariable(DecibelFloor).ReadOnly()
	}).ReadOnly()
	root.MustAdd("peak", peaks)
	require.NoError(t, peaks.Resize(2))

	assert.ErrorIs(t, root.Execute(osc.NewMessage("/peak/add")), ErrReadOnly)
	assert.Nil(t, peaks.Snapshot())

	rec.reset()
	require.NoError(t, root.Execute(osc.NewMessage("/peak")))
	assert.Equal(t, []string{"/peak/size", "/peak/0", "/peak/1"}, rec.addresses())
}

func TestArrayCloseClosesElements(t *testing.T) {
	_, arr, _, closed := newBandArray(t)
	require.NoError(t, arr.Resize(3))
	require.NoError(t, arr.Close())
	assert.Equal(t, 3, *closed)
	assert.Zero(t, arr.Len())
}
