package strip

import (
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/oscmix/backend"
	"github.com/opd-ai/oscmix/clock"
	"github.com/opd-ai/oscmix/graph"
	"github.com/opd-ai/oscmix/osc"
	"github.com/opd-ai/oscmix/tree"
)

type fixture struct {
	graph  *graph.Graph
	root   *tree.Container
	strips *tree.ContainerArray[*Strip]
	sent   []*osc.Message
}

func newFixture(t *testing.T, block int, env Env) *fixture {
	t.Helper()
	g, err := graph.New(48000, block)
	require.NoError(t, err)
	env.Graph = g
	if env.Names == nil {
		env.Names = NewNames()
	}

	f := &fixture{graph: g}
	f.root = tree.NewRoot(func(m *osc.Message) { f.sent = append(f.sent, m) })
	f.strips = tree.NewContainerArray(func(i int) *Strip { return New(i, env) })
	f.root.MustAdd("strip", f.strips)
	t.Cleanup(func() { f.strips.Close() })
	return f
}

func (f *fixture) add(t *testing.T) *Strip {
	t.Helper()
	i, err := f.strips.Append()
	require.NoError(t, err)
	s, _ := f.strips.At(i)
	return s
}

func (f *fixture) send(address string, args ...any) error {
	return f.root.Dispatch(address, args)
}

func (f *fixture) lastSent(address string) (*osc.Message, bool) {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Address == address {
			return f.sent[i], true
		}
	}
	return nil, false
}

// constant opens a client whose outputs hold value.
func constant(t *testing.T, g *graph.Graph, name string, channels int, value float32) {
	t.Helper()
	c, err := g.Open(name, 0, channels)
	require.NoError(t, err)
	require.NoError(t, c.SetProcess(func(_, out [][]float32) {
		for _, ch := range out {
			for i := range ch {
				ch[i] = value
			}
		}
	}))
	require.NoError(t, c.Activate())
}

// recorder keeps a copy of the last block its inputs saw.
type recorder struct {
	last [][]float32
}

func record(t *testing.T, g *graph.Graph, name string, channels int) *recorder {
	t.Helper()
	r := &recorder{}
	c, err := g.Open(name, channels, 0)
	require.NoError(t, err)
	require.NoError(t, c.SetProcess(func(in, _ [][]float32) {
		r.last = r.last[:0]
		for _, ch := range in {
			r.last = append(r.last, append([]float32(nil), ch...))
		}
	}))
	require.NoError(t, c.Activate())
	return r
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{None, Loopback, NetworkOut, NetworkIn, DeviceOut, DeviceIn} {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := ParseType("jack")
	assert.Error(t, err)
	assert.Equal(t, "Type(9)", Type(9).String())
}

func TestTypePorts(t *testing.T) {
	tests := []struct {
		typ     Type
		in, out int
	}{
		{None, 0, 0},
		{Loopback, 2, 2},
		{NetworkOut, 2, 0},
		{NetworkIn, 0, 2},
		{DeviceOut, 2, 0},
		{DeviceIn, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			in, out := tt.typ.ports(2)
			assert.Equal(t, tt.in, in)
			assert.Equal(t, tt.out, out)
		})
	}
}

func TestStripLayout(t *testing.T) {
	f := newFixture(t, 64, Env{})
	f.add(t)

	for _, address := range []string{
		"/strip/0/enable",
		"/strip/0/type",
		"/strip/0/channels",
		"/strip/0/name",
		"/strip/0/status",
		"/strip/0/sampleRate",
		"/strip/0/filterChain/volume",
		"/strip/0/filterChain/mute",
		"/strip/0/filterChain/delay",
		"/strip/0/filterChain/eq/size",
		"/strip/0/filterChain/compressor/threshold",
		"/strip/0/filterChain/expander/ratio",
		"/strip/0/filterChain/reverb/depth",
		"/strip/0/filterChain/dither",
		"/strip/0/meter/peak/1",
		"/strip/0/driftPpm",
		"/strip/0/client",
	} {
		assert.NotNil(t, f.root.Lookup(address), address)
	}
	assert.Nil(t, f.root.Lookup("/strip/0/meter/peak/2"), "two channels by default")
}

func TestEnableWithTypeNoneStaysIdle(t *testing.T) {
	f := newFixture(t, 64, Env{})
	s := f.add(t)

	require.NoError(t, f.send("/strip/0/enable", true))
	assert.True(t, s.enable.Get())
	assert.False(t, s.Running())
	assert.Equal(t, StatusIdle, s.status.Get())

	require.NoError(t, f.send("/strip/0/enable", false))
	assert.Equal(t, StatusDisabled, s.status.Get())
}

func TestLoopbackAppliesVolumeInDecibels(t *testing.T) {
	f := newFixture(t, 8, Env{})
	s := f.add(t)
	constant(t, f.graph, "src", 2, 1)
	out := record(t, f.graph, "sink", 2)

	require.NoError(t, f.send("/strip/0/type", "loopback"))
	require.NoError(t, f.send("/strip/0/enable", true))
	require.True(t, s.Running())
	assert.Equal(t, StatusRunning, s.status.Get())
	assert.Equal(t, "strip0", s.ClientName())

	for _, conn := range []graph.Connection{
		{Source: "src:out_1", Destination: "strip0:in_1"},
		{Source: "src:out_2", Destination: "strip0:in_2"},
		{Source: "strip0:out_1", Destination: "sink:in_1"},
		{Source: "strip0:out_2", Destination: "sink:in_2"},
	} {
		require.NoError(t, f.graph.Connect(conn.Source, conn.Destination))
	}

	require.NoError(t, f.send("/strip/0/filterChain/volume", float32(-6)))
	want := float32(math.Pow(10, -6.0/20))
	assert.InDelta(t, want, s.Gain(), 1e-6)
	assert.InDelta(t, want, s.filters.volume.Get(), 1e-6)

	f.graph.Cycle()
	require.Len(t, out.last, 2)
	for _, ch := range out.last {
		for _, v := range ch {
			assert.InDelta(t, want, v, 1e-6)
		}
	}

	require.NoError(t, f.send("/strip/*/filterChain/mute", true))
	f.graph.Cycle()
	assert.Equal(t, make([]float32, 8), out.last[0])
}

func TestConfigurationIsVetoedWhileRunning(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)
	require.NoError(t, f.send("/strip/0/type", "loopback"))
	require.NoError(t, f.send("/strip/0/enable", true))
	f.sent = nil

	for _, change := range []struct {
		address string
		value   any
	}{
		{"/strip/0/channels", int32(4)},
		{"/strip/0/type", "network-out"},
		{"/strip/0/address", "127.0.0.1:9000"},
	} {
		err := f.send(change.address, change.value)
		assert.ErrorIs(t, err, tree.ErrRejected, change.address)
		_, sent := f.lastSent(change.address)
		assert.False(t, sent, "rejections are silent")
	}
	assert.Equal(t, int32(2), s.channels.Get())
	assert.Equal(t, "loopback", s.kind.Get())

	require.NoError(t, f.send("/strip/0/enable", false))
	assert.Equal(t, StatusStopped, s.status.Get())
	_, open := f.graph.Client("strip0")
	assert.False(t, open)

	require.NoError(t, f.send("/strip/0/channels", int32(4)))
	assert.Equal(t, 4, s.peaks.Len())
	assert.Equal(t, 4, s.chain.Channels())
	assert.ErrorIs(t, f.send("/strip/0/channels", int32(0)), tree.ErrRejected)
}

func TestStartFailureLeavesStripDisabled(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)
	require.NoError(t, f.send("/strip/0/type", "device-out"))

	require.NoError(t, f.send("/strip/0/enable", true))
	assert.False(t, s.enable.Get())
	assert.False(t, s.Running())
	assert.True(t, strings.HasPrefix(s.status.Get(), "error: "), s.status.Get())
	msg, ok := f.lastSent("/strip/0/status")
	require.True(t, ok)
	assert.Equal(t, s.status.Get(), msg.Arguments[0])
	msg, ok = f.lastSent("/strip/0/enable")
	require.True(t, ok)
	assert.Equal(t, false, msg.Arguments[0])
}

func TestEnableValidatorsSeeAStoppedStrip(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)
	require.NoError(t, f.send("/strip/0/type", "loopback"))

	var runningDuringValidation []bool
	s.enable.AddValidator(func(_, _ bool) bool {
		runningDuringValidation = append(runningDuringValidation, s.Running())
		return false
	})
	assert.ErrorIs(t, f.send("/strip/0/enable", true), tree.ErrRejected)
	assert.Equal(t, []bool{false}, runningDuringValidation)
	assert.False(t, s.Running())
	assert.Equal(t, StatusDisabled, s.status.Get())
	_, open := f.graph.Client(s.ClientName())
	assert.False(t, open)
}

func TestClientNamesSurviveRenumbering(t *testing.T) {
	f := newFixture(t, 16, Env{Names: NewNames()})
	first := f.add(t)
	second := f.add(t)
	for _, i := range []string{"0", "1"} {
		require.NoError(t, f.send("/strip/"+i+"/type", "loopback"))
		require.NoError(t, f.send("/strip/"+i+"/enable", true))
	}
	require.Equal(t, "strip0", first.ClientName())
	require.Equal(t, "strip1", second.ClientName())

	require.NoError(t, f.strips.RemoveAt(0))
	assert.Equal(t, "strip1", second.ClientName())
	assert.True(t, second.Running())

	third := f.add(t)
	require.NoError(t, f.send("/strip/1/type", "loopback"))
	require.NoError(t, f.send("/strip/1/enable", true))
	assert.True(t, third.Running(), third.status.Get())
	assert.NotEqual(t, second.ClientName(), third.ClientName())
	assert.Equal(t, "strip0", third.ClientName())

	snap, ok := second.Snapshot().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "strip1", snap["client"])
	assert.Equal(t, "strip0", third.client.Get())
}

func TestRestoreClaimsSavedClientName(t *testing.T) {
	names := NewNames()
	f := newFixture(t, 16, Env{Names: names})
	a := f.add(t)
	b := f.add(t)

	require.NoError(t, a.Restore(map[string]any{"client": "strip1", "type": "loopback"}))
	assert.Equal(t, "strip1", a.ClientName())
	assert.Equal(t, "strip0", b.ClientName())
	assert.Equal(t, "strip1", a.client.Get())
	assert.Equal(t, 2, names.Len())

	require.NoError(t, f.send("/strip/0/enable", true))
	err := b.Restore(map[string]any{"client": "strip1"})
	assert.ErrorIs(t, err, ErrClientNameInUse)
	assert.Equal(t, "strip0", b.ClientName())

	require.NoError(t, f.strips.RemoveAt(0))
	assert.Equal(t, 1, names.Len())
	require.NoError(t, b.Restore(map[string]any{"client": "strip1"}))
	assert.Equal(t, "strip1", b.ClientName())
}

func TestTypeChangeStartsEnabledStrip(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)
	require.NoError(t, f.send("/strip/0/enable", true))
	require.False(t, s.Running())

	require.NoError(t, f.send("/strip/0/type", "loopback"))
	assert.True(t, s.Running())

	require.NoError(t, f.send("/strip/0/enable", false))
	assert.Equal(t, StatusStopped, s.status.Get())
	require.NoError(t, f.send("/strip/0/type", "device-in"))
	assert.False(t, s.Running())
}

func TestMeterDrainsEveryBlock(t *testing.T) {
	f := newFixture(t, 32, Env{})
	s := f.add(t)
	constant(t, f.graph, "src", 1, 0.5)
	require.NoError(t, f.send("/strip/0/type", "loopback"))
	require.NoError(t, f.send("/strip/0/enable", true))
	require.NoError(t, f.graph.Connect("src:out_1", "strip0:in_1"))

	for i := 0; i < 10; i++ {
		f.graph.Cycle()
	}
	s.OnTimer()
	processed, metered := s.Blocks()
	assert.Equal(t, uint64(10), processed)
	assert.Equal(t, processed, metered)

	left, _ := s.peaks.At(0)
	right, _ := s.peaks.At(1)
	assert.InDelta(t, -6.0206, left.Get(), 1e-3)
	assert.Equal(t, PeakFloor, right.Get())
	msg, ok := f.lastSent("/strip/0/meter/peak/0")
	require.True(t, ok)
	assert.InDelta(t, -6.0206, msg.Arguments[0], 1e-3)

	// No blocks, no peak traffic.
	f.sent = nil
	s.OnTimer()
	_, ok = f.lastSent("/strip/0/meter/peak/0")
	assert.False(t, ok)
}

func TestEQBandsFollowArrayChanges(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)

	require.NoError(t, f.send("/strip/0/filterChain/eq/add", int32(2)))
	require.NoError(t, f.send("/strip/0/filterChain/eq/1/gain", float32(6)))
	require.NoError(t, f.send("/strip/0/filterChain/eq/1/type", "lowshelf"))
	assert.ErrorIs(t, f.send("/strip/0/filterChain/eq/1/type", "comb"), tree.ErrRejected)
	assert.ErrorIs(t, f.send("/strip/0/filterChain/eq/1/q", float32(0)), tree.ErrRejected)
	assert.Equal(t, 2, s.chain.BandCount())

	require.NoError(t, f.send("/strip/0/filterChain/eq/remove", int32(0)))
	require.Equal(t, 1, s.chain.BandCount())
	band, ok := s.chain.Band(0)
	require.True(t, ok)
	assert.Equal(t, float32(6), band.Gain)
	assert.Equal(t, "lowshelf", band.Type.String())

	require.NoError(t, f.send("/strip/0/filterChain/eq/0/enable", true))
	band, _ = s.chain.Band(0)
	assert.True(t, band.Enable)
}

func TestDynamicsAndReverbReachTheChain(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)

	require.NoError(t, f.send("/strip/0/filterChain/compressor/ratio", float32(8)))
	require.NoError(t, f.send("/strip/0/filterChain/compressor/enable", true))
	assert.ErrorIs(t, f.send("/strip/0/filterChain/compressor/ratio", float32(0.5)), tree.ErrRejected)
	require.NoError(t, f.send("/strip/0/filterChain/reverb/depth", int32(3)))
	assert.ErrorIs(t, f.send("/strip/0/filterChain/reverb/depth", int32(4)), tree.ErrRejected)

	p := s.filters.compressor.params()
	assert.True(t, p.Enable)
	assert.Equal(t, float32(8), p.Ratio)
	assert.Equal(t, int32(3), s.filters.reverb.params().Depth)
}

func TestRestoreAppliesEnableLast(t *testing.T) {
	f := newFixture(t, 16, Env{})
	s := f.add(t)
	require.NoError(t, f.send("/strip/0/type", "loopback"))
	require.NoError(t, f.send("/strip/0/channels", int32(1)))
	require.NoError(t, f.send("/strip/0/filterChain/volume", float32(-12)))
	require.NoError(t, f.send("/strip/0/enable", true))
	snapshot := s.Snapshot()
	require.NoError(t, f.send("/strip/0/enable", false))

	g := newFixture(t, 16, Env{})
	restored := g.add(t)
	// enable is the first leaf but must be applied after channels and type.
	require.NoError(t, restored.Restore(snapshot))
	assert.True(t, restored.Running())
	assert.Equal(t, int32(1), restored.channels.Get())
	assert.InDelta(t, math.Pow(10, -12.0/20), restored.Gain(), 1e-6)
	_, ok := g.graph.Client("strip0")
	assert.True(t, ok)
}

func TestRemovingStripStopsIt(t *testing.T) {
	f := newFixture(t, 16, Env{})
	f.add(t)
	second := f.add(t)
	require.NoError(t, f.send("/strip/1/type", "loopback"))
	require.NoError(t, f.send("/strip/1/enable", true))
	require.True(t, second.Running())

	require.NoError(t, f.send("/strip/remove", int32(1)))
	assert.False(t, second.Running())
	_, ok := f.graph.Client("strip1")
	assert.False(t, ok)
}

func TestDeviceOutPlaysThroughBridge(t *testing.T) {
	var played atomic.Uint64
	var lastSample atomic.Uint32
	driver := backend.NewSimDriver(backend.SimDevice{
		Device: backend.Device{ID: "card", Outputs: 2, SampleRate: 48000, BlockSize: 64},
		Sink: func(out [][]float32) {
			lastSample.Store(math.Float32bits(out[0][len(out[0])-1]))
			played.Add(1)
		},
	})
	m := clock.NewManual(time.Unix(0, 0))
	driver.SetTimeProvider(m)

	f := newFixture(t, 64, Env{Driver: driver})
	s := f.add(t)
	constant(t, f.graph, "src", 2, 0.25)
	require.NoError(t, f.send("/strip/0/type", "device-out"))
	require.NoError(t, f.send("/strip/0/device", "card"))
	require.NoError(t, f.send("/strip/0/enable", true))
	require.True(t, s.Running(), s.status.Get())
	require.NoError(t, f.graph.Connect("src:out_1", "strip0:in_1"))

	period := time.Duration(64 * int64(time.Second) / 48000)
	for i := 1; i <= 40; i++ {
		f.graph.Cycle()
		m.Advance(period)
		require.Eventually(t, func() bool { return played.Load() >= uint64(i) }, time.Second, time.Millisecond)
	}
	assert.InDelta(t, 0.25, math.Float32frombits(lastSample.Load()), 0.02)

	s.OnTimer()
	assert.Equal(t, float32(48000), s.sampleRate.Get())
	assert.Zero(t, s.overflows.Get())

	require.NoError(t, f.send("/strip/0/enable", false))
	assert.False(t, s.Running())
}

func TestDeviceEndpointsHaveOneDirection(t *testing.T) {
	tests := []struct {
		typ        Type
		wantSource bool
		wantSink   bool
	}{
		{DeviceOut, false, true},
		{DeviceIn, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			ep, err := newEndpoint(endpointConfig{Type: tt.typ, Driver: backend.NewSimDriver()})
			require.NoError(t, err)
			_, isSource := ep.(source)
			_, isSink := ep.(sink)
			assert.Equal(t, tt.wantSource, isSource)
			assert.Equal(t, tt.wantSink, isSink)
		})
	}
}

func TestDeviceInCapturesIntoGraph(t *testing.T) {
	var ticks atomic.Uint64
	driver := backend.NewSimDriver(backend.SimDevice{
		Device: backend.Device{ID: "mic", Inputs: 2, SampleRate: 48000, BlockSize: 64},
		Signal: func(int, uint64) float32 { return 0.5 },
		Sink:   func([][]float32) { ticks.Add(1) },
	})
	m := clock.NewManual(time.Unix(0, 0))
	driver.SetTimeProvider(m)

	f := newFixture(t, 64, Env{Driver: driver})
	s := f.add(t)
	out := record(t, f.graph, "sink", 1)
	require.NoError(t, f.send("/strip/0/type", "device-in"))
	require.NoError(t, f.send("/strip/0/device", "mic"))
	require.NoError(t, f.send("/strip/0/enable", true))
	require.True(t, s.Running(), s.status.Get())
	require.NoError(t, f.graph.Connect("strip0:out_1", "sink:in_1"))

	period := time.Duration(64 * int64(time.Second) / 48000)
	for i := 1; i <= 40; i++ {
		m.Advance(period)
		require.Eventually(t, func() bool { return ticks.Load() >= uint64(i) }, time.Second, time.Millisecond)
		f.graph.Cycle()
	}
	require.Len(t, out.last, 1)
	assert.InDelta(t, 0.5, out.last[0][63], 0.02)

	s.OnTimer()
	assert.Zero(t, s.overflows.Get())
}

func TestNetworkOutFeedsNetworkIn(t *testing.T) {
	f := newFixture(t, 256, Env{})
	sender := f.add(t)
	receiver := f.add(t)
	constant(t, f.graph, "src", 1, 0.5)
	out := record(t, f.graph, "sink", 1)

	for _, i := range []string{"0", "1"} {
		require.NoError(t, f.send("/strip/"+i+"/channels", int32(1)))
		require.NoError(t, f.send("/strip/"+i+"/name", "mix"))
	}
	require.NoError(t, f.send("/strip/1/type", "network-in"))
	require.NoError(t, f.send("/strip/1/address", "127.0.0.1:0"))
	require.NoError(t, f.send("/strip/1/enable", true))
	require.True(t, receiver.Running(), receiver.status.Get())
	listen := receiver.endpoint.(*networkIn).localAddr()

	require.NoError(t, f.send("/strip/0/type", "network-out"))
	require.NoError(t, f.send("/strip/0/address", listen))
	require.NoError(t, f.send("/strip/0/enable", true))
	require.True(t, sender.Running(), sender.status.Get())

	require.NoError(t, f.graph.Connect("src:out_1", "strip0:in_1"))
	require.NoError(t, f.graph.Connect("strip1:out_1", "sink:in_1"))

	require.Eventually(t, func() bool {
		f.graph.Cycle()
		sender.PostProcess()
		if len(out.last) == 0 {
			return false
		}
		v := out.last[0][len(out.last[0])-1]
		return math.Abs(float64(v)-0.5) < 0.01
	}, 3*time.Second, 2*time.Millisecond)

	receiver.OnTimer()
	assert.Equal(t, float32(48000), receiver.sampleRate.Get())
}
