package netaudio

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/opd-ai/oscmix/limits"
)

// SenderConfig describes one outgoing stream.
type SenderConfig struct {
	// Destination is host:port, unicast or multicast.
	Destination string
	// Interface names the multicast egress interface. Empty uses the
	// system default.
	Interface  string
	Name       string
	SampleRate float64
	Channels   int
	// TTL is the multicast hop limit. Zero keeps the system default.
	TTL int
	// Loopback delivers multicast packets to listeners on this host.
	Loopback bool
}

// Sender packs planar blocks into PCM16 packets of at most
// limits.MaxAudioFrames frames and sends each as one datagram. It is not
// safe for concurrent use.
type Sender struct {
	conn *net.UDPConn
	dest *net.UDPAddr
	hdr  Header
	buf  []byte
	sent uint64
}

// NewSender opens a UDP socket for the stream.
//
// Parameters:
//   - cfg: destination, multicast options and stream shape
//
// Returns:
//   - *Sender: ready sender with its counter at zero
//   - error: unsupported rate, bad shape, or socket failure
func NewSender(cfg SenderConfig) (*Sender, error) {
	idx, err := RateIndex(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateAudioBlock(1, cfg.Channels); err != nil {
		return nil, fmt.Errorf("netaudio: channels: %w", err)
	}
	if len(cfg.Name) > limits.MaxStreamName {
		return nil, fmt.Errorf("%w: %q", ErrStreamName, cfg.Name)
	}
	dest, err := net.ResolveUDPAddr("udp4", cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("netaudio: resolve %s: %w", cfg.Destination, err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("netaudio: open sender socket: %w", err)
	}

	if dest.IP.IsMulticast() {
		if err := configureMulticastSender(ipv4.NewPacketConn(conn), cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewSender",
		"destination": dest.String(),
		"stream":      cfg.Name,
		"sample_rate": cfg.SampleRate,
		"channels":    cfg.Channels,
		"multicast":   dest.IP.IsMulticast(),
	}).Info("Created network audio sender")

	return &Sender{
		conn: conn,
		dest: dest,
		hdr:  Header{RateIndex: idx, Channels: cfg.Channels, Codec: CodecPCM16, Name: cfg.Name},
		buf:  make([]byte, 0, HeaderSize+2*cfg.Channels*limits.MaxAudioFrames),
	}, nil
}

func configureMulticastSender(pc *ipv4.PacketConn, cfg SenderConfig) error {
	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return fmt.Errorf("netaudio: interface %s: %w", cfg.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("netaudio: set multicast interface: %w", err)
		}
	}
	if cfg.TTL > 0 {
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			return fmt.Errorf("netaudio: set multicast ttl: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		return fmt.Errorf("netaudio: set multicast loopback: %w", err)
	}
	return nil
}

// Send transmits the first frames samples of every channel of planar.
// Missing channels are sent as silence.
func (s *Sender) Send(planar [][]float32, frames int) error {
	for off := 0; off < frames; off += limits.MaxAudioFrames {
		n := min(frames-off, limits.MaxAudioFrames)
		s.hdr.Samples = n
		buf, err := s.hdr.AppendBinary(s.buf[:0])
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			for c := 0; c < s.hdr.Channels; c++ {
				var v float32
				if c < len(planar) {
					v = planar[c][off+i]
				}
				buf = appendSample(buf, v)
			}
		}
		s.buf = buf
		if _, err := s.conn.WriteToUDP(buf, s.dest); err != nil {
			return fmt.Errorf("netaudio: send: %w", err)
		}
		s.hdr.Counter++
		s.sent++
	}
	return nil
}

// Counter returns the frame counter of the next packet.
func (s *Sender) Counter() uint32 { return s.hdr.Counter }

// Sent returns the number of packets sent.
func (s *Sender) Sent() uint64 { return s.sent }

// LocalAddr returns the sender socket address.
func (s *Sender) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the socket.
func (s *Sender) Close() error { return s.conn.Close() }
