package transport

import (
	"context"
	"errors"
	"net"
)

// ErrClosed is returned by Send on a closed connector.
var ErrClosed = errors.New("transport: connector closed")

// PacketHandler receives one complete control packet. The slice belongs to
// the handler. It is called from the connector's reader goroutines.
type PacketHandler func(packet []byte, from net.Addr)

// Connector binds the control tree to one transport. Incoming packets are
// delivered to the handler passed to Serve; Send delivers an outgoing
// packet to every peer the connector knows.
type Connector interface {
	// Serve reads packets until ctx is cancelled or the connector is
	// closed. It returns nil on a clean shutdown.
	Serve(ctx context.Context, handle PacketHandler) error

	// Send delivers packet to every peer.
	Send(packet []byte) error

	// Close releases the underlying sockets or devices.
	Close() error

	// String names the connector in logs.
	String() string
}
