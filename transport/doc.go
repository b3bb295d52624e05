// Package transport carries control packets between the parameter tree and
// remote peers.
//
// # Connectors
//
// Every transport implements Connector:
//
//	type Connector interface {
//	    Serve(ctx context.Context, handle PacketHandler) error
//	    Send(packet []byte) error
//	    Close() error
//	    String() string
//	}
//
// UDPConnector sends one packet per datagram. It binds a unicast socket,
// optionally joins a multicast group through golang.org/x/net/ipv4, and
// replies to its configured targets plus every address a packet has come
// from.
//
// TCPConnector accepts stream connections. Streams have no message
// boundaries, so every packet is SLIP framed and each connection runs its
// own decoder; a corrupted frame is dropped and the stream resynchronizes
// on the next frame marker.
//
// SerialConnector does the same over a character device. On Linux the line
// is switched to raw 8N1 at the configured baud rate with termios from
// golang.org/x/sys/unix.
//
// PipeConnector is an in-memory connector for tests and for embedding.
//
// # Fan-out
//
// Multi serves every connector with one handler and sends each outgoing
// packet through all of them:
//
//	m := transport.NewMulti(udp, tcp)
//	go m.Serve(ctx, func(p []byte, from net.Addr) { inbound <- p })
//	_ = m.Send(packet)
package transport
