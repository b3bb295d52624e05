package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/opd-ai/oscmix/limits"
)

// MaxUDPPeers bounds the set of remembered reply addresses. The oldest
// peer is forgotten first.
const MaxUDPPeers = 64

// UDPConfig configures a UDPConnector.
type UDPConfig struct {
	// Listen is the local host:port to bind.
	Listen string
	// Targets always receive outgoing packets, whether or not they ever
	// sent anything.
	Targets []string
	// Group is a multicast group to join on the listening socket.
	Group string
	// Interface names the interface for multicast join and egress.
	Interface string
	// TTL is the multicast hop limit. Zero keeps the system default.
	TTL int
	// Loopback delivers own multicast packets back to this host.
	Loopback bool
}

// UDPConnector speaks one control packet per datagram. Every address a
// packet arrives from becomes a peer that receives outgoing packets.
type UDPConnector struct {
	conn    net.PacketConn
	targets []net.Addr

	mu    sync.Mutex
	peers []net.Addr
}

// NewUDPConnector binds the socket, resolves targets and joins the
// multicast group.
//
// Parameters:
//   - cfg: listen address, fixed targets and multicast options
//
// Returns:
//   - *UDPConnector: bound connector; call Serve to start reading
//   - error: bind, resolve or join failure
func NewUDPConnector(cfg UDPConfig) (*UDPConnector, error) {
	conn, err := net.ListenPacket("udp4", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %s: %w", cfg.Listen, err)
	}
	c := &UDPConnector{conn: conn}

	for _, target := range cfg.Targets {
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: resolve target %s: %w", target, err)
		}
		c.targets = append(c.targets, addr)
	}

	if cfg.Group != "" || cfg.TTL > 0 || cfg.Loopback {
		if err := configureMulticast(ipv4.NewPacketConn(conn), cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPConnector",
		"listen":   conn.LocalAddr().String(),
		"targets":  len(c.targets),
		"group":    cfg.Group,
	}).Info("Created UDP control connector")
	return c, nil
}

func configureMulticast(pc *ipv4.PacketConn, cfg UDPConfig) error {
	var ifi *net.Interface
	if cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			return fmt.Errorf("transport: interface %s: %w", cfg.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("transport: set multicast interface: %w", err)
		}
	}
	if cfg.Group != "" {
		group := net.ParseIP(cfg.Group)
		if group == nil || !group.IsMulticast() {
			return fmt.Errorf("transport: %q is not a multicast group", cfg.Group)
		}
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
			return fmt.Errorf("transport: join %s: %w", cfg.Group, err)
		}
	}
	if cfg.TTL > 0 {
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			return fmt.Errorf("transport: set multicast ttl: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		return fmt.Errorf("transport: set multicast loopback: %w", err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (c *UDPConnector) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *UDPConnector) String() string { return "udp:" + c.conn.LocalAddr().String() }

// Peers returns the addresses packets have arrived from, oldest first.
func (c *UDPConnector) Peers() []net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]net.Addr(nil), c.peers...)
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
func (c *UDPConnector) Serve(ctx context.Context, handle PacketHandler) error {
	buffer := make([]byte, limits.MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Short deadline so cancellation is noticed without closing.
		_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := c.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: udp read: %w", err)
		}
		if n == 0 {
			continue
		}
		c.remember(addr)
		packet := make([]byte, n)
		copy(packet, buffer[:n])
		handle(packet, addr)
	}
}

func (c *UDPConnector) remember(addr net.Addr) {
	key := addr.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		if p.String() == key {
			return
		}
	}
	for _, t := range c.targets {
		if t.String() == key {
			return
		}
	}
	if len(c.peers) == MaxUDPPeers {
		c.peers = c.peers[1:]
	}
	c.peers = append(c.peers, addr)
	logrus.WithFields(logrus.Fields{
		"function": "UDPConnector.remember",
		"peer":     key,
	}).Debug("New control peer")
}

// Send writes packet to every target and every remembered peer. A failed
// destination does not stop the others.
func (c *UDPConnector) Send(packet []byte) error {
	if err := limits.ValidatePacket(packet); err != nil {
		return err
	}
	c.mu.Lock()
	dests := make([]net.Addr, 0, len(c.targets)+len(c.peers))
	dests = append(dests, c.targets...)
	dests = append(dests, c.peers...)
	c.mu.Unlock()

	var errs []error
	for _, addr := range dests {
		if _, err := c.conn.WriteTo(packet, addr); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ErrClosed
			}
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

// Close shuts the socket; Serve returns.
func (c *UDPConnector) Close() error {
	return c.conn.Close()
}
