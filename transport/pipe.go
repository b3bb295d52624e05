package transport

import (
	"context"
	"net"
	"sync"

	"github.com/opd-ai/oscmix/limits"
)

// PipeConnector is an in-memory connector. Inject hands packets to the
// served handler as if they arrived from the network; Send queues
// outgoing packets on Outbound.
type PipeConnector struct {
	name     string
	inbound  chan []byte
	outbound chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPipeConnector creates a pipe whose outbound queue holds up to
// capacity packets. Send drops packets once the queue is full.
func NewPipeConnector(name string, capacity int) *PipeConnector {
	return &PipeConnector{
		name:     name,
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, capacity),
		done:     make(chan struct{}),
	}
}

func (p *PipeConnector) String() string { return "pipe:" + p.name }

// Inject delivers packet to the handler. It blocks until Serve takes it
// or the pipe closes.
func (p *PipeConnector) Inject(packet []byte) error {
	select {
	case p.inbound <- packet:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Outbound returns the queue of sent packets.
func (p *PipeConnector) Outbound() <-chan []byte { return p.outbound }

// Serve delivers injected packets until ctx is cancelled or the pipe is
// closed.
func (p *PipeConnector) Serve(ctx context.Context, handle PacketHandler) error {
	addr := pipeAddr(p.name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case packet := <-p.inbound:
			handle(packet, addr)
		}
	}
}

// Send queues a copy of packet.
func (p *PipeConnector) Send(packet []byte) error {
	if err := limits.ValidatePacket(packet); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.outbound <- append([]byte(nil), packet...):
	default:
	}
	return nil
}

// Close stops Serve.
func (p *PipeConnector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

var _ net.Addr = pipeAddr("")
