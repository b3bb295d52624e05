package mixer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/oscmix/backend"
	"github.com/opd-ai/oscmix/clock"
	"github.com/opd-ai/oscmix/graph"
	"github.com/opd-ai/oscmix/osc"
	"github.com/opd-ai/oscmix/state"
	"github.com/opd-ai/oscmix/strip"
	"github.com/opd-ai/oscmix/transport"
	"github.com/opd-ai/oscmix/tree"
)

// inboundQueue is the number of control packets buffered between the
// connectors and the loop.
const inboundQueue = 256

// Config selects the graph format, the strip defaults and the timers.
type Config struct {
	SampleRate float64
	BlockSize  int
	// Strips is the number of strips created when no state is restored.
	Strips        int
	MeterInterval time.Duration
	// SaveInterval is the debounce period of the state writer.
	SaveInterval time.Duration
	// Driver serves device strips and /devices. Nil disables both.
	Driver backend.Driver
	// Store persists the tree and the routing. Nil disables persistence.
	Store *state.Store
	// TimeProvider paces the graph and the timers. Nil uses the default
	// provider.
	TimeProvider clock.TimeProvider
}

// DefaultConfig returns a 48 kHz, 256-frame mixer with two strips.
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		BlockSize:     256,
		Strips:        2,
		MeterInterval: 50 * time.Millisecond,
		SaveInterval:  time.Second,
	}
}

// Mixer owns the parameter tree, the audio graph and the control
// connectors. Everything that touches the tree runs on the loop goroutine
// started by Run.
type Mixer struct {
	cfg    Config
	clock  clock.TimeProvider
	graph  *graph.Graph
	root   *tree.Container
	strips *tree.ContainerArray[*strip.Strip]
	out    *transport.Multi

	routing *routing

	inbound chan []byte
	cycled  chan struct{}
	calls   chan func()
	dirty   bool
}

// New builds a mixer and restores the persisted state, if any.
//
// Parameters:
//   - cfg: graph format, timers and optional driver and store
//   - connectors: control transports; every broadcast goes to all of them
//
// Returns:
//   - *Mixer: the mixer, ready for Run
//   - error: if the graph format or the timers are invalid
func New(cfg Config, connectors ...transport.Connector) (*Mixer, error) {
	if cfg.MeterInterval <= 0 || cfg.SaveInterval <= 0 {
		return nil, errors.New("mixer: meter and save intervals must be positive")
	}
	if cfg.Strips < 0 {
		return nil, fmt.Errorf("mixer: negative strip count %d", cfg.Strips)
	}
	g, err := graph.New(cfg.SampleRate, cfg.BlockSize)
	if err != nil {
		return nil, err
	}
	tp := clock.Or(cfg.TimeProvider)
	g.SetTimeProvider(tp)

	m := &Mixer{
		cfg:     cfg,
		clock:   tp,
		graph:   g,
		out:     transport.NewMulti(connectors...),
		inbound: make(chan []byte, inboundQueue),
		cycled:  make(chan struct{}, 1),
		calls:   make(chan func()),
	}
	m.root = tree.NewRoot(m.send)
	m.routing = newRouting(m)

	env := strip.Env{
		Graph:   g,
		Driver:  cfg.Driver,
		OnStart: m.routing.started,
		OnStop:  m.routing.stopping,
		Names:   strip.NewNames(),
	}
	m.strips = tree.NewContainerArray(func(i int) *strip.Strip { return strip.New(i, env) })
	m.strips.SetLimits(0, strip.MaxStrips)
	m.strips.OnRemove(func(_ int, s *strip.Strip) { m.routing.removing(s) })
	m.root.MustAdd("strip", m.strips)
	m.root.MustAdd("graph", m.routing.node())
	m.root.MustAdd("devices", newDevices(cfg.Driver))

	g.OnCycle(func() {
		select {
		case m.cycled <- struct{}{}:
		default:
		}
	})

	m.restore()
	m.root.Watch(func(tree.Node) { m.dirty = true })

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"sample_rate": cfg.SampleRate,
		"block_size":  cfg.BlockSize,
		"strips":      m.strips.Len(),
		"connectors":  len(connectors),
	}).Info("Mixer created")
	return m, nil
}

// restore loads the state file or creates the default strips.
func (m *Mixer) restore() {
	var doc *state.Document
	if m.cfg.Store != nil {
		var err error
		doc, err = m.cfg.Store.Load()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Mixer.restore",
				"path":     m.cfg.Store.Path(),
				"error":    err.Error(),
			}).Warn("Cannot load state, using defaults")
		}
	}
	if doc == nil || doc.Tree == nil {
		// Write the defaults out on the first save.
		m.dirty = m.cfg.Store != nil
		if err := m.strips.Resize(m.cfg.Strips); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Mixer.restore",
				"strips":   m.cfg.Strips,
				"error":    err.Error(),
			}).Warn("Cannot create default strips")
		}
		return
	}
	if err := m.root.Restore(doc.Tree); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.restore",
			"error":    err.Error(),
		}).Warn("State restored with errors")
	}
	m.routing.restore(doc.Connections)
}

// Graph returns the audio graph the strips run in.
func (m *Mixer) Graph() *graph.Graph { return m.graph }

// Run serves the connectors, clocks the graph and runs the control loop
// until ctx is cancelled or a connector fails. The state is saved and every
// strip stopped before it returns.
func (m *Mixer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.out.Serve(ctx, func(packet []byte, from net.Addr) {
			select {
			case m.inbound <- packet:
			case <-ctx.Done():
			}
		})
	})
	g.Go(func() error {
		if err := m.graph.Run(ctx); ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error { return m.loop(ctx) })

	err := g.Wait()
	return errors.Join(err, m.out.Close())
}

// Do runs fn on the loop goroutine and waits for it. It is the only safe
// way to touch the tree from outside the loop while Run is active.
func (m *Mixer) Do(ctx context.Context, fn func(root *tree.Container)) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn(m.root)
	}
	select {
	case m.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mixer) loop(ctx context.Context) error {
	meter := m.clock.NewTicker(m.cfg.MeterInterval)
	defer meter.Stop()
	save := m.clock.NewTicker(m.cfg.SaveInterval)
	defer save.Stop()

	logrus.WithFields(logrus.Fields{
		"function":       "Mixer.loop",
		"meter_interval": m.cfg.MeterInterval,
		"save_interval":  m.cfg.SaveInterval,
	}).Info("Control loop running")
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case packet := <-m.inbound:
			m.handle(packet)
		case <-m.cycled:
			for _, s := range m.strips.Elements() {
				s.PostProcess()
			}
		case <-meter.C():
			for _, s := range m.strips.Elements() {
				s.OnTimer()
			}
		case <-save.C():
			m.persist()
		case call := <-m.calls:
			call()
		}
	}
}

// handle decodes one control packet and resolves its messages in order.
func (m *Mixer) handle(packet []byte) {
	p, err := osc.ParsePacket(packet)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.handle",
			"size":     len(packet),
			"error":    err.Error(),
		}).Warn("Malformed control packet")
		if p == nil {
			return
		}
	}
	for _, msg := range osc.Messages(p) {
		// Execute logs its own failures.
		_ = m.root.Execute(msg)
	}
}

// send is the root sink.
func (m *Mixer) send(msg *osc.Message) {
	packet, err := msg.MarshalBinary()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.send",
			"address":  msg.Address,
			"error":    err.Error(),
		}).Warn("Cannot encode outgoing message")
		return
	}
	// Multi logs per-connector failures.
	_ = m.out.Send(packet)
}

// document captures the persisted state.
func (m *Mixer) document() *state.Document {
	return &state.Document{
		Tree:        m.root.Snapshot(),
		Connections: m.routing.connections(),
	}
}

// persist writes the state if anything changed since the last write.
func (m *Mixer) persist() {
	if !m.dirty || m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.Save(m.document()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Mixer.persist",
			"path":     m.cfg.Store.Path(),
			"error":    err.Error(),
		}).Warn("Cannot save state")
		return
	}
	m.dirty = false
}

func (m *Mixer) shutdown() {
	m.persist()
	for _, s := range m.strips.Elements() {
		_ = s.Close()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Mixer.shutdown",
		"frames":   m.graph.Frames(),
	}).Info("Control loop stopped")
}
