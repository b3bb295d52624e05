package mixer

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/graph"
	"github.com/opd-ai/oscmix/strip"
	"github.com/opd-ai/oscmix/tree"
)

// routing exposes the graph connections under /graph and keeps the
// connections of stopped strips so they come back when the strip starts
// again.
type routing struct {
	m       *Mixer
	pending []graph.Connection
	// removed is the strip being deleted from the array; its connections
	// are dropped instead of kept.
	removed *strip.Strip

	connect    *tree.Endpoint
	disconnect *tree.Endpoint
}

func newRouting(m *Mixer) *routing {
	return &routing{m: m}
}

func (r *routing) node() *tree.Container {
	c := tree.NewContainer()
	r.connect = tree.NewEndpoint(func(args []any) error {
		source, destination, err := portPair(args)
		if err != nil {
			return err
		}
		return r.add(graph.Connection{Source: source, Destination: destination})
	})
	c.MustAdd("connect", r.connect)
	r.disconnect = tree.NewEndpoint(func(args []any) error {
		source, destination, err := portPair(args)
		if err != nil {
			return err
		}
		return r.remove(graph.Connection{Source: source, Destination: destination})
	})
	c.MustAdd("disconnect", r.disconnect)
	c.MustAdd("connections", tree.NewEndpoint(func(args []any) error {
		if len(args) != 0 {
			return fmt.Errorf("%w: /graph/connections takes no arguments", tree.ErrArity)
		}
		for _, conn := range r.m.graph.Connections() {
			r.connect.Notify(conn.Source, conn.Destination)
		}
		return nil
	}))
	c.MustAdd("sampleRate", tree.NewVariable(float32(r.m.graph.SampleRate())).ReadOnly())
	c.MustAdd("blockSize", tree.NewVariable(int32(r.m.graph.BlockSize())).ReadOnly())
	return c
}

func portPair(args []any) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%w: expected source and destination ports, got %d arguments", tree.ErrArity, len(args))
	}
	source, ok1 := args[0].(string)
	destination, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("%w: port names must be strings", tree.ErrTypeMismatch)
	}
	return source, destination, nil
}

// add connects two ports and announces the new connection.
func (r *routing) add(conn graph.Connection) error {
	if err := r.m.graph.Connect(conn.Source, conn.Destination); err != nil {
		return err
	}
	r.forget(conn)
	r.m.dirty = true
	r.connect.Notify(conn.Source, conn.Destination)
	return nil
}

// remove disconnects two ports, or forgets a kept connection of a stopped
// strip.
func (r *routing) remove(conn graph.Connection) error {
	err := r.m.graph.Disconnect(conn.Source, conn.Destination)
	if err != nil && !r.forget(conn) {
		return err
	}
	r.m.dirty = true
	r.disconnect.Notify(conn.Source, conn.Destination)
	return nil
}

// forget drops conn from the pending list and reports whether it was there.
func (r *routing) forget(conn graph.Connection) bool {
	n := len(r.pending)
	r.pending = slices.DeleteFunc(r.pending, func(c graph.Connection) bool { return c == conn })
	return len(r.pending) != n
}

func (r *routing) keep(conn graph.Connection) {
	if !slices.Contains(r.pending, conn) {
		r.pending = append(r.pending, conn)
	}
}

// connections returns the live connections followed by the kept ones.
func (r *routing) connections() []graph.Connection {
	out := r.m.graph.Connections()
	for _, conn := range r.pending {
		if !slices.Contains(out, conn) {
			out = append(out, conn)
		}
	}
	return out
}

// restore makes the persisted connections. Those whose ports do not exist
// yet are kept until their strips start.
func (r *routing) restore(conns []graph.Connection) {
	for _, conn := range conns {
		err := r.m.graph.Connect(conn.Source, conn.Destination)
		switch {
		case err == nil:
		case errors.Is(err, graph.ErrNoSuchPort):
			r.keep(conn)
		default:
			logrus.WithFields(logrus.Fields{
				"function":    "routing.restore",
				"source":      conn.Source,
				"destination": conn.Destination,
				"error":       err.Error(),
			}).Warn("Dropping persisted connection")
		}
	}
}

// started retries the kept connections that touch the strip's client.
func (r *routing) started(s *strip.Strip) {
	client := s.ClientName()
	for _, conn := range slices.Clone(r.pending) {
		if !touches(conn, client) {
			continue
		}
		err := r.m.graph.Connect(conn.Source, conn.Destination)
		switch {
		case err == nil, errors.Is(err, graph.ErrAlreadyConnected):
			r.forget(conn)
		case errors.Is(err, graph.ErrNoSuchPort):
			// The other end is not running yet.
		default:
			r.forget(conn)
			logrus.WithFields(logrus.Fields{
				"function":    "routing.started",
				"source":      conn.Source,
				"destination": conn.Destination,
				"error":       err.Error(),
			}).Warn("Dropping kept connection")
		}
	}
}

// stopping keeps the connections of a strip whose client is about to
// close.
func (r *routing) stopping(s *strip.Strip) {
	client := s.ClientName()
	if s == r.removed {
		r.removed = nil
		r.pending = slices.DeleteFunc(r.pending, func(c graph.Connection) bool { return touches(c, client) })
		r.m.dirty = true
		return
	}
	for _, conn := range r.m.graph.Connections() {
		if touches(conn, client) {
			r.keep(conn)
		}
	}
}

// removing runs before a strip leaves the array, ahead of its Close.
func (r *routing) removing(s *strip.Strip) {
	r.removed = s
	client := s.ClientName()
	r.pending = slices.DeleteFunc(r.pending, func(c graph.Connection) bool { return touches(c, client) })
}

func touches(conn graph.Connection, client string) bool {
	return strings.HasPrefix(conn.Source, client+":") || strings.HasPrefix(conn.Destination, client+":")
}
