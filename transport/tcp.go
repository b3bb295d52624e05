package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/limits"
	"github.com/opd-ai/oscmix/osc"
)

// WriteTimeout bounds one frame write to a stream peer. A peer that cannot
// keep up is disconnected rather than stalling the event loop.
const WriteTimeout = 2 * time.Second

// TCPConnector accepts stream connections and frames every packet with
// SLIP. Each connection has its own decoder.
type TCPConnector struct {
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewTCPConnector starts listening on addr.
func NewTCPConnector(addr string) (*TCPConnector, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewTCPConnector",
		"listen":   listener.Addr().String(),
	}).Info("Created TCP control connector")
	return &TCPConnector{listener: listener, conns: make(map[net.Conn]struct{})}, nil
}

// LocalAddr returns the listening address.
func (t *TCPConnector) LocalAddr() net.Addr { return t.listener.Addr() }

func (t *TCPConnector) String() string { return "tcp:" + t.listener.Addr().String() }

// Connections returns the number of connected peers.
func (t *TCPConnector) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, then waits for every connection reader to finish.
func (t *TCPConnector) Serve(ctx context.Context, handle PacketHandler) error {
	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()
	defer t.wg.Wait()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "TCPConnector.Serve",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}
		if !t.register(conn) {
			conn.Close()
			return nil
		}
		t.wg.Add(1)
		go t.handleConnection(conn, handle)
	}
}

func (t *TCPConnector) register(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.conns[conn] = struct{}{}
	logrus.WithFields(logrus.Fields{
		"function": "TCPConnector.register",
		"peer":     conn.RemoteAddr().String(),
	}).Info("Control client connected")
	return true
}

func (t *TCPConnector) unregister(conn net.Conn) {
	t.mu.Lock()
	_, ok := t.conns[conn]
	delete(t.conns, conn)
	t.mu.Unlock()
	if ok {
		conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "TCPConnector.unregister",
			"peer":     conn.RemoteAddr().String(),
		}).Info("Control client disconnected")
	}
}

// handleConnection decodes SLIP frames from one connection.
func (t *TCPConnector) handleConnection(conn net.Conn, handle PacketHandler) {
	defer t.wg.Done()
	defer t.unregister(conn)

	addr := conn.RemoteAddr()
	decoder := osc.NewSLIPDecoder(limits.MaxFrameSize)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n], func(frame []byte) { handle(frame, addr) })
		}
		if err != nil {
			return
		}
	}
}

// Send writes one SLIP frame to every connection. A connection that fails
// the write is dropped.
func (t *TCPConnector) Send(packet []byte) error {
	if err := limits.ValidatePacket(packet); err != nil {
		return err
	}
	frame := osc.EncodeSLIP(make([]byte, 0, len(packet)+16), packet)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var errs []error
	for _, c := range conns {
		_ = c.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if _, err := c.Write(frame); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.RemoteAddr(), err))
			t.unregister(c)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting and closes every connection.
func (t *TCPConnector) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()
	return t.listener.Close()
}
