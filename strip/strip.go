package strip

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/backend"
	"github.com/opd-ai/oscmix/dsp"
	"github.com/opd-ai/oscmix/graph"
	"github.com/opd-ai/oscmix/limits"
	"github.com/opd-ai/oscmix/tree"
)

const (
	// MaxStrips bounds the number of strips in one mixer.
	MaxStrips = 256
	// MaxChannels bounds the channel count of one strip.
	MaxChannels = 64
	// DefaultChannels is the channel count of a new strip.
	DefaultChannels = 2
	// PeakFloor is the meter reading for silence, in dB.
	PeakFloor float32 = -120
)

// Status leaf values.
const (
	StatusDisabled = "disabled"
	StatusIdle     = "idle"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
)

// Env is what strips share: the graph they process in, the driver for
// device endpoints and hooks run around client lifetimes.
type Env struct {
	Graph  *graph.Graph
	Driver backend.Driver
	// OnStart runs on the control goroutine after a strip's graph client
	// is active.
	OnStart func(*Strip)
	// OnStop runs on the control goroutine while the client is still open,
	// so its connections can still be read from the graph.
	OnStop func(*Strip)
	// Names allocates graph client names. Strips of one mixer must share
	// it; New falls back to a private allocator when it is nil.
	Names *Names
}

// Strip is one channel strip: a graph client, a filter chain and an
// endpoint, exposed as a sub-tree.
//
// Tree methods, start and stop run on the control goroutine. The graph
// callback runs on the graph goroutine and shares only the chain and the
// meter with it, under mu.
type Strip struct {
	*tree.Container
	env Env

	enable     *tree.Variable[bool]
	kind       *tree.Variable[string]
	channels   *tree.Variable[int32]
	name       *tree.Variable[string]
	address    *tree.Variable[string]
	group      *tree.Variable[string]
	iface      *tree.Variable[string]
	device     *tree.Variable[string]
	status     *tree.Variable[string]
	sampleRate *tree.Variable[float32]
	filters    *filterChain
	peaks      *tree.Array[*tree.Variable[float32]]
	overflows  *tree.Variable[int32]
	underflows *tree.Variable[int32]
	driftPPM   *tree.Variable[float32]
	lostFrames *tree.Variable[int32]
	client     *tree.Variable[string]

	// mu guards chain, meter and processed. The graph callback holds it for
	// one block of DSP and metering; control code holds it to copy a
	// parameter in or swap the meter out. It is never held across I/O.
	mu        sync.Mutex
	chain     *dsp.Chain
	meter     *dsp.Meter
	processed uint64

	// id is the graph client name. It stays with the strip when the strip
	// moves within its array.
	id string

	// Owned by the control goroutine; read by the graph callback only
	// while the client is active.
	graphClient *graph.Client
	endpoint    Endpoint
	src         source
	snk         sink
	scratch     [][]float32
	metered     uint64
}

// New builds a stopped strip. index only seeds the defaults; the strip's
// address follows its position in the owning array.
func New(index int, env Env) *Strip {
	if env.Names == nil {
		env.Names = NewNames()
	}
	s := &Strip{Container: tree.NewContainer(), env: env}
	s.id = env.Names.acquire(s, fmt.Sprintf("strip%d", index))

	notRunning := func() bool { return s.graphClient == nil }
	// A strip that fails to start turns enable back off from inside the
	// callback; the broadcast that follows carries false.
	s.enable = tree.NewVariable(false)
	s.enable.OnChange(func(_, next bool) {
		switch {
		case !next && s.graphClient != nil:
			s.stop()
		case !next:
			if s.status.Get() == StatusIdle {
				s.setStatus(StatusDisabled)
			}
		default:
			if err := s.start(); err != nil {
				s.fail(err)
				_ = s.enable.Set(false)
				return
			}
			if s.graphClient == nil {
				s.setStatus(StatusIdle)
			}
		}
	})
	s.MustAdd("enable", s.enable)

	s.kind = tree.NewVariable(None.String())
	s.kind.AddValidator(func(_, next string) bool {
		_, err := ParseType(next)
		return err == nil && notRunning()
	})
	s.kind.OnChange(func(_, _ string) {
		if !s.enable.Get() {
			return
		}
		if err := s.start(); err != nil {
			s.fail(err)
			_ = s.enable.Set(false)
		}
	})
	s.MustAdd("type", s.kind)

	s.channels = tree.NewVariable[int32](DefaultChannels)
	s.channels.AddValidator(func(_, next int32) bool {
		return next >= 1 && next <= MaxChannels && notRunning()
	})
	s.channels.OnChange(func(_, _ int32) { s.rebuild() })
	s.MustAdd("channels", s.channels)

	s.name = tree.NewVariable(fmt.Sprintf("strip%d", index))
	s.name.AddValidator(func(_, next string) bool { return len(next) <= limits.MaxStreamName })
	s.MustAdd("name", s.name)

	settings := func(leaf string) *tree.Variable[string] {
		v := tree.NewVariable("")
		v.AddValidator(func(_, _ string) bool { return notRunning() })
		s.MustAdd(leaf, v)
		return v
	}
	s.address = settings("address")
	s.group = settings("group")
	s.iface = settings("interface")
	s.device = settings("device")

	s.status = tree.NewVariable(StatusDisabled).ReadOnly()
	s.MustAdd("status", s.status)
	s.sampleRate = tree.NewVariable[float32](0).ReadOnly()
	s.MustAdd("sampleRate", s.sampleRate)

	s.filters = newFilterChain(s)
	s.MustAdd("filterChain", s.filters)

	meter := tree.NewContainer()
	s.peaks = tree.NewArray(func(int) *tree.Variable[float32] {
		return tree.NewVariable(PeakFloor).ReadOnly()
	}).ReadOnly()
	meter.MustAdd("peak", s.peaks)
	s.MustAdd("meter", meter)

	s.overflows = tree.NewVariable[int32](0).ReadOnly()
	s.MustAdd("overflows", s.overflows)
	s.underflows = tree.NewVariable[int32](0).ReadOnly()
	s.MustAdd("underflows", s.underflows)
	s.driftPPM = tree.NewVariable[float32](0).ReadOnly()
	s.MustAdd("driftPpm", s.driftPPM)
	s.lostFrames = tree.NewVariable[int32](0).ReadOnly()
	s.MustAdd("lostFrames", s.lostFrames)
	s.client = tree.NewVariable(s.id).ReadOnly()
	s.MustAdd("client", s.client)

	s.rebuild()
	return s
}

func (s *Strip) graphFormat() (float32, int) {
	if s.env.Graph == nil {
		return 48000, 256
	}
	return float32(s.env.Graph.SampleRate()), s.env.Graph.BlockSize()
}

// rebuild replaces the chain and the meter for the current channel count.
// It only runs while the strip is stopped.
func (s *Strip) rebuild() {
	channels := int(s.channels.Get())
	rate, block := s.graphFormat()
	chain := dsp.NewChain(channels, rate)
	s.filters.apply(chain)
	meter := dsp.NewMeter(channels, block)

	s.mu.Lock()
	if s.meter != nil {
		s.metered += s.meter.Swap().Blocks
	}
	s.chain, s.meter = chain, meter
	s.mu.Unlock()

	if err := s.peaks.Resize(channels); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Strip.rebuild",
			"address":  s.Address(),
			"error":    err.Error(),
		}).Warn("Cannot resize peak meters")
	}
}

// update applies a parameter change to the chain under the strip lock.
func (s *Strip) update(fn func(*dsp.Chain)) {
	s.mu.Lock()
	if s.chain != nil {
		fn(s.chain)
	}
	s.mu.Unlock()
}

// Type returns the configured strip type.
func (s *Strip) Type() Type {
	t, _ := ParseType(s.kind.Get())
	return t
}

// Running reports whether the strip's graph client is active.
func (s *Strip) Running() bool { return s.graphClient != nil }

// ClientName returns the graph client name of the strip. It does not
// change when the strip is renumbered.
func (s *Strip) ClientName() string { return s.id }

func (s *Strip) setID(id string) {
	s.id = id
	setIfChanged(s.client, id)
}

// Gain returns the linear volume the chain is running with.
func (s *Strip) Gain() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain.Volume()
}

// Blocks returns the number of blocks processed and the number of those
// already drained into the meter leaves.
func (s *Strip) Blocks() (processed, metered uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.metered
}

func (s *Strip) setStatus(status string) {
	if s.status.Get() != status {
		_ = s.status.Set(status)
	}
}

func (s *Strip) fail(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Strip.start",
		"address":  s.Address(),
		"type":     s.kind.Get(),
		"error":    err.Error(),
	}).Warn("Channel strip failed to start")
	s.setStatus("error: " + err.Error())
}

// start opens the endpoint and the graph client. A strip of type none
// stays idle.
func (s *Strip) start() error {
	t := s.Type()
	if t == None || s.graphClient != nil {
		return nil
	}
	g := s.env.Graph
	if g == nil {
		return errors.New("strip: no audio graph")
	}

	channels := int(s.channels.Get())
	ep, err := newEndpoint(endpointConfig{
		Type:       t,
		Channels:   channels,
		Name:       s.name.Get(),
		Address:    s.address.Get(),
		Group:      s.group.Get(),
		Interface:  s.iface.Get(),
		Device:     s.device.Get(),
		GraphRate:  g.SampleRate(),
		GraphBlock: g.BlockSize(),
		Driver:     s.env.Driver,
	})
	if err != nil {
		return err
	}
	if err := ep.Start(); err != nil {
		return err
	}

	name := s.id
	nIn, nOut := t.ports(channels)
	client, err := g.Open(name, nIn, nOut)
	if err != nil {
		ep.Stop()
		return err
	}
	s.endpoint = ep
	s.src, _ = ep.(source)
	s.snk, _ = ep.(sink)
	s.scratch = make([][]float32, channels)
	for c := range s.scratch {
		s.scratch[c] = make([]float32, g.BlockSize())
	}
	if err := errors.Join(client.SetProcess(s.process), client.Activate()); err != nil {
		client.Close()
		ep.Stop()
		s.endpoint, s.src, s.snk = nil, nil, nil
		return err
	}
	s.graphClient = client

	logrus.WithFields(logrus.Fields{
		"function": "Strip.start",
		"address":  s.Address(),
		"client":   name,
		"type":     t.String(),
		"channels": channels,
	}).Info("Channel strip started")
	s.setStatus(StatusRunning)
	s.report(ep.OnTimer())
	if s.env.OnStart != nil {
		s.env.OnStart(s)
	}
	return nil
}

// stop deactivates and closes the graph client before the endpoint
// releases its buffers, so no callback can see them afterwards.
func (s *Strip) stop() {
	if s.graphClient == nil {
		return
	}
	if s.env.OnStop != nil {
		s.env.OnStop(s)
	}
	client := s.graphClient
	err := errors.Join(client.Deactivate(), client.Close(), s.endpoint.Stop())
	s.graphClient = nil
	s.endpoint, s.src, s.snk = nil, nil, nil

	entry := logrus.WithFields(logrus.Fields{
		"function": "Strip.stop",
		"address":  s.Address(),
		"client":   s.id,
	})
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Channel strip stopped with errors")
	} else {
		entry.Info("Channel strip stopped")
	}
	s.setStatus(StatusStopped)
}

// process is the graph callback.
func (s *Strip) process(in, out [][]float32) {
	buf := out
	switch {
	case s.src != nil:
		s.src.Pull(out)
	case len(out) > 0:
		for c := range out {
			copy(out[c], in[c])
		}
	default:
		buf = s.scratch
		for c := range buf {
			copy(buf[c], in[c])
		}
	}

	s.mu.Lock()
	s.chain.Process(buf)
	s.meter.Accumulate(buf)
	s.processed++
	s.mu.Unlock()

	if s.snk != nil {
		s.snk.Push(buf)
	}
}

// PostProcess gives the endpoint its turn on the control goroutine after
// graph cycles.
func (s *Strip) PostProcess() {
	if s.endpoint != nil {
		s.endpoint.PostProcess()
	}
}

// OnTimer drains the meter into the peak leaves and refreshes the status
// leaves.
func (s *Strip) OnTimer() {
	s.mu.Lock()
	frame := s.meter.Swap()
	s.metered += frame.Blocks
	s.mu.Unlock()

	// The swapped frame stays ours until the next Swap, which only this
	// goroutine calls.
	if frame.Blocks > 0 {
		for c, peak := range frame.Peaks {
			if leaf, ok := s.peaks.At(c); ok {
				_ = leaf.Set(dsp.PeakDB(peak, PeakFloor))
			}
		}
	}
	if s.endpoint != nil {
		s.report(s.endpoint.OnTimer())
	}
}

func (s *Strip) report(st Status) {
	setIfChanged(s.sampleRate, float32(st.SampleRate))
	setIfChanged(s.overflows, saturate(st.Overflows))
	setIfChanged(s.underflows, saturate(st.Underflows))
	setIfChanged(s.driftPPM, float32(st.DriftPPM))
	setIfChanged(s.lostFrames, saturate(st.LostFrames))
}

func setIfChanged[T tree.Scalar](v *tree.Variable[T], value T) {
	if v.Get() != value {
		_ = v.Set(value)
	}
}

func saturate(n uint64) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

// Snapshot adds the graph client name to the persisted leaves, so saved
// connections find the strip again after a restart.
func (s *Strip) Snapshot() any {
	out, ok := s.Container.Snapshot().(map[string]any)
	if !ok {
		return nil
	}
	out["client"] = s.id
	return out
}

// Restore applies a snapshot with the client name first and enable last,
// so the strip starts under its saved name with its restored
// configuration.
func (s *Strip) Restore(v any) error {
	values, ok := v.(map[string]any)
	if !ok {
		return s.Container.Restore(v)
	}
	rest := maps.Clone(values)
	var err error
	if id, ok := rest["client"].(string); ok && id != "" {
		err = s.env.Names.claim(s, id)
	}
	delete(rest, "client")
	enable, hasEnable := rest["enable"]
	delete(rest, "enable")
	err = errors.Join(err, s.Container.Restore(rest))
	if hasEnable {
		err = errors.Join(err, s.enable.Restore(enable))
	}
	return err
}

// Close stops the strip and frees its client name. Arrays call it when the
// strip is removed.
func (s *Strip) Close() error {
	s.stop()
	s.env.Names.release(s)
	return nil
}
