package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"

	"github.com/opd-ai/oscmix/clock"
)

var (
	// ErrInvalidConfig is returned for a non-positive rate or block size.
	ErrInvalidConfig = errors.New("graph: invalid sample rate or block size")
	// ErrClientExists is returned when a client name is already open.
	ErrClientExists = errors.New("graph: client name in use")
	// ErrNoSuchPort is returned when a port name does not resolve.
	ErrNoSuchPort = errors.New("graph: no such port")
	// ErrPortDirection is returned when a connection does not run from an
	// output port to an input port.
	ErrPortDirection = errors.New("graph: connection must run from an output to an input")
	// ErrAlreadyConnected is returned for a duplicate connection.
	ErrAlreadyConnected = errors.New("graph: ports already connected")
	// ErrNotConnected is returned when disconnecting ports that are not connected.
	ErrNotConnected = errors.New("graph: ports not connected")
	// ErrClosed is returned when using a closed client.
	ErrClosed = errors.New("graph: client closed")
)

// ProcessFunc is called once per cycle with one buffer per input port and
// one per output port, each BlockSize samples long. Output buffers are
// zeroed before the call. It runs on the graph goroutine and must not
// block.
type ProcessFunc func(in, out [][]float32)

// Connection is one routed edge between two ports named "client:port".
type Connection struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// Graph is an in-process audio graph clocked in fixed blocks. Clients
// register input and output ports, ports are connected many-to-many, and
// every cycle each active client runs after the clients feeding it. A
// feedback loop is broken by the order clients were activated; the late
// edge then carries the previous block.
//
// Control calls and Cycle share one lock; Cycle holds it for the whole
// pass so a client never sees a half-applied routing change.
type Graph struct {
	mu          sync.Mutex
	sampleRate  float64
	blockSize   int
	clients     map[string]*Client
	active      []*Client
	order       []*Client
	connections []Connection
	dirty       bool
	frames      atomic.Uint64
	clock       clock.TimeProvider
	post        func()
}

// New creates an empty graph.
//
// Parameters:
//   - sampleRate: the graph rate in Hz
//   - blockSize: samples per cycle
//
// Returns:
//   - *Graph: the graph, not yet running
//   - error: ErrInvalidConfig when either value is not positive
func New(sampleRate float64, blockSize int) (*Graph, error) {
	if !(sampleRate > 0) || blockSize <= 0 {
		return nil, fmt.Errorf("%w: %v Hz, %d frames", ErrInvalidConfig, sampleRate, blockSize)
	}
	logrus.WithFields(logrus.Fields{
		"function":    "graph.New",
		"sample_rate": sampleRate,
		"block_size":  blockSize,
	}).Info("Creating audio graph")
	return &Graph{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		clients:    make(map[string]*Client),
	}, nil
}

// SetTimeProvider replaces the clock that paces Run.
func (g *Graph) SetTimeProvider(tp clock.TimeProvider) {
	g.mu.Lock()
	g.clock = tp
	g.mu.Unlock()
}

// OnCycle installs fn to run after every cycle, outside the graph lock.
// It runs on the goroutine calling Cycle and must not block.
func (g *Graph) OnCycle(fn func()) {
	g.mu.Lock()
	g.post = fn
	g.mu.Unlock()
}

// SampleRate returns the graph rate in Hz.
func (g *Graph) SampleRate() float64 { return g.sampleRate }

// BlockSize returns the samples per cycle.
func (g *Graph) BlockSize() int { return g.blockSize }

// Frames returns the number of frames processed so far.
func (g *Graph) Frames() uint64 { return g.frames.Load() }

// Open registers a client with nIn input ports named in_1..in_N and nOut
// output ports named out_1..out_N. The client does not process until
// Activate.
func (g *Graph) Open(name string, nIn, nOut int) (*Client, error) {
	if name == "" || strings.ContainsRune(name, ':') {
		return nil, fmt.Errorf("graph: invalid client name %q", name)
	}
	if nIn < 0 || nOut < 0 {
		return nil, fmt.Errorf("graph: invalid port counts %d/%d", nIn, nOut)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrClientExists, name)
	}
	c := &Client{graph: g, name: name}
	for i := 0; i < nIn; i++ {
		c.inputs = append(c.inputs, &port{client: c, name: fmt.Sprintf("in_%d", i+1), input: true, buf: make([]float32, g.blockSize)})
	}
	for i := 0; i < nOut; i++ {
		c.outputs = append(c.outputs, &port{client: c, name: fmt.Sprintf("out_%d", i+1), buf: make([]float32, g.blockSize)})
	}
	c.inBufs = make([][]float32, nIn)
	for i, p := range c.inputs {
		c.inBufs[i] = p.buf
	}
	c.outBufs = make([][]float32, nOut)
	for i, p := range c.outputs {
		c.outBufs[i] = p.buf
	}
	g.clients[name] = c

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"client":   name,
		"inputs":   nIn,
		"outputs":  nOut,
	}).Debug("Opened graph client")
	return c, nil
}

// Client returns the open client with the given name.
func (g *Graph) Client(name string) (*Client, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[name]
	return c, ok
}

// Ports returns every port name, outputs first, in client-name order.
func (g *Graph) Ports() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.clients))
	for name := range g.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	var ports []string
	for _, name := range names {
		c := g.clients[name]
		for _, p := range c.outputs {
			ports = append(ports, p.fullName())
		}
		for _, p := range c.inputs {
			ports = append(ports, p.fullName())
		}
	}
	return ports
}

// Connect routes the output port source into the input port destination.
func (g *Graph) Connect(source, destination string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	src, dst, err := g.resolvePair(source, destination)
	if err != nil {
		return err
	}
	if slices.Contains(dst.sources, src) {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyConnected, source, destination)
	}
	dst.sources = append(dst.sources, src)
	g.connections = append(g.connections, Connection{Source: source, Destination: destination})
	g.dirty = true

	logrus.WithFields(logrus.Fields{
		"function":    "Connect",
		"source":      source,
		"destination": destination,
	}).Info("Connected ports")
	return nil
}

// Disconnect removes a connection made by Connect.
func (g *Graph) Disconnect(source, destination string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	src, dst, err := g.resolvePair(source, destination)
	if err != nil {
		return err
	}
	i := slices.Index(dst.sources, src)
	if i < 0 {
		return fmt.Errorf("%w: %s -> %s", ErrNotConnected, source, destination)
	}
	dst.sources = slices.Delete(dst.sources, i, i+1)
	g.removeConnections(func(c Connection) bool {
		return c.Source == source && c.Destination == destination
	})
	g.dirty = true

	logrus.WithFields(logrus.Fields{
		"function":    "Disconnect",
		"source":      source,
		"destination": destination,
	}).Info("Disconnected ports")
	return nil
}

// Connections returns a copy of the current connections in the order they
// were made.
func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.connections)
}

// Cycle processes one block through every active client.
func (g *Graph) Cycle() {
	g.mu.Lock()
	if g.dirty {
		g.sort()
	}
	for _, c := range g.order {
		for _, in := range c.inputs {
			clear(in.buf)
			for _, src := range in.sources {
				if src.client.active {
					vek32.Add_Inplace(in.buf, src.buf)
				}
			}
		}
		for _, out := range c.outBufs {
			clear(out)
		}
		if c.process != nil {
			c.process(c.inBufs, c.outBufs)
		}
	}
	post := g.post
	g.mu.Unlock()
	g.frames.Add(uint64(g.blockSize))
	if post != nil {
		post()
	}
}

// Run calls Cycle once per block period until ctx is cancelled.
func (g *Graph) Run(ctx context.Context) error {
	g.mu.Lock()
	tp := clock.Or(g.clock)
	g.mu.Unlock()

	period := time.Duration(float64(g.blockSize) / g.sampleRate * float64(time.Second))
	ticker := tp.NewTicker(period)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"period":   period,
	}).Info("Audio graph running")
	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"frames":   g.Frames(),
			}).Info("Audio graph stopped")
			return ctx.Err()
		case <-ticker.C():
			g.Cycle()
		}
	}
}

func (g *Graph) resolvePair(source, destination string) (*port, *port, error) {
	src, err := g.lookup(source)
	if err != nil {
		return nil, nil, err
	}
	dst, err := g.lookup(destination)
	if err != nil {
		return nil, nil, err
	}
	if src.input || !dst.input {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrPortDirection, source, destination)
	}
	return src, dst, nil
}

func (g *Graph) lookup(name string) (*port, error) {
	clientName, portName, ok := strings.Cut(name, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPort, name)
	}
	c, ok := g.clients[clientName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPort, name)
	}
	for _, p := range c.inputs {
		if p.name == portName {
			return p, nil
		}
	}
	for _, p := range c.outputs {
		if p.name == portName {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchPort, name)
}

func (g *Graph) removeConnections(drop func(Connection) bool) {
	g.connections = slices.DeleteFunc(g.connections, drop)
}

// sort orders active clients so that every client runs after the clients
// feeding it. Clients left on a cycle keep their activation order.
func (g *Graph) sort() {
	g.dirty = false
	indegree := make(map[*Client]int, len(g.active))
	for _, c := range g.active {
		indegree[c] = 0
	}
	for _, c := range g.active {
		for _, up := range c.upstream() {
			if _, ok := indegree[up]; ok && up != c {
				indegree[c]++
			}
		}
	}

	order := g.order[:0]
	done := make(map[*Client]bool, len(g.active))
	for len(order) < len(g.active) {
		progressed := false
		for _, c := range g.active {
			if done[c] || indegree[c] > 0 {
				continue
			}
			order = append(order, c)
			done[c] = true
			progressed = true
			for _, down := range g.active {
				if done[down] {
					continue
				}
				for _, up := range down.upstream() {
					if up == c {
						indegree[down]--
					}
				}
			}
		}
		if !progressed {
			// Feedback: release the earliest activated client still waiting.
			for _, c := range g.active {
				if !done[c] {
					indegree[c] = 0
					break
				}
			}
		}
	}
	g.order = order
}

// Client is one participant in the graph.
type Client struct {
	graph   *Graph
	name    string
	inputs  []*port
	outputs []*port
	inBufs  [][]float32
	outBufs [][]float32
	process ProcessFunc
	active  bool
	closed  bool
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// Inputs returns the number of input ports.
func (c *Client) Inputs() int { return len(c.inputs) }

// Outputs returns the number of output ports.
func (c *Client) Outputs() int { return len(c.outputs) }

// InputName returns the full name of input port i.
func (c *Client) InputName(i int) string { return c.inputs[i].fullName() }

// OutputName returns the full name of output port i.
func (c *Client) OutputName(i int) string { return c.outputs[i].fullName() }

// SetProcess installs the per-block callback.
func (c *Client) SetProcess(fn ProcessFunc) error {
	g := c.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.process = fn
	return nil
}

// Activate adds the client to the processing order.
func (c *Client) Activate() error {
	g := c.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.active {
		return nil
	}
	c.active = true
	g.active = append(g.active, c)
	g.dirty = true
	logrus.WithFields(logrus.Fields{
		"function": "Activate",
		"client":   c.name,
	}).Debug("Activated graph client")
	return nil
}

// Deactivate removes the client from the processing order. When it returns
// the process callback is not running and will not run again until the
// next Activate.
func (c *Client) Deactivate() error {
	g := c.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.deactivateLocked()
	return nil
}

func (c *Client) deactivateLocked() {
	if !c.active {
		return
	}
	g := c.graph
	c.active = false
	g.active = slices.DeleteFunc(g.active, func(o *Client) bool { return o == c })
	g.dirty = true
}

// Close deactivates the client, drops every connection touching its ports
// and unregisters it. Closing twice is a no-op.
func (c *Client) Close() error {
	g := c.graph
	g.mu.Lock()
	defer g.mu.Unlock()
	if c.closed {
		return nil
	}
	c.deactivateLocked()
	c.closed = true
	c.process = nil
	for _, other := range g.clients {
		for _, in := range other.inputs {
			in.sources = slices.DeleteFunc(in.sources, func(p *port) bool { return p.client == c })
		}
	}
	prefix := c.name + ":"
	g.removeConnections(func(conn Connection) bool {
		return strings.HasPrefix(conn.Source, prefix) || strings.HasPrefix(conn.Destination, prefix)
	})
	delete(g.clients, c.name)
	g.dirty = true

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"client":   c.name,
	}).Debug("Closed graph client")
	return nil
}

func (c *Client) upstream() []*Client {
	var ups []*Client
	for _, in := range c.inputs {
		for _, src := range in.sources {
			if !slices.Contains(ups, src.client) {
				ups = append(ups, src.client)
			}
		}
	}
	return ups
}

type port struct {
	client  *Client
	name    string
	input   bool
	buf     []float32
	sources []*port
}

func (p *port) fullName() string { return p.client.name + ":" + p.name }
