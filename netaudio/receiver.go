package netaudio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/opd-ai/oscmix/limits"
)

// ReceiverConfig describes one incoming stream.
type ReceiverConfig struct {
	// Listen is the local host:port to bind.
	Listen string
	// Group is a multicast group to join. Empty receives unicast only.
	Group string
	// Interface names the interface used to join Group.
	Interface string
	// Name filters packets by stream name. Empty accepts every stream.
	Name string
}

// Frame is one decoded packet. The receiver reuses it between calls to
// the handler.
type Frame struct {
	Header     Header
	SampleRate float64
	Channels   int
	Frames     int
	// Samples holds Channels planar slices of Frames samples each.
	Samples [][]float32
}

// ReceiverStats counts packets since the receiver was created.
type ReceiverStats struct {
	Packets uint64
	// Lost counts frames missing from the counter sequence.
	Lost uint64
	// Errors counts packets that failed to parse or decode.
	Errors uint64
	// Filtered counts packets for a different stream name.
	Filtered uint64
}

// Receiver reads network audio packets from one UDP socket, decodes them
// and hands each frame to a callback on its own goroutine.
type Receiver struct {
	conn net.PacketConn
	cfg  ReceiverConfig
	opus *opusDecoder

	frame   Frame
	planar  [][]float32
	last    uint32
	hasLast bool

	packets  atomic.Uint64
	lost     atomic.Uint64
	errors   atomic.Uint64
	filtered atomic.Uint64
}

// NewReceiver binds the socket and joins the multicast group if one is
// configured.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	conn, err := net.ListenPacket("udp4", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("netaudio: listen %s: %w", cfg.Listen, err)
	}
	if cfg.Group != "" {
		if err := joinGroup(conn, cfg); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewReceiver",
		"listen":   conn.LocalAddr().String(),
		"group":    cfg.Group,
		"stream":   cfg.Name,
	}).Info("Created network audio receiver")
	return newReceiver(conn, cfg), nil
}

func newReceiver(conn net.PacketConn, cfg ReceiverConfig) *Receiver {
	r := &Receiver{conn: conn, cfg: cfg}
	r.planar = make([][]float32, limits.MaxAudioChannels)
	return r
}

func joinGroup(conn net.PacketConn, cfg ReceiverConfig) error {
	group := net.ParseIP(cfg.Group)
	if group == nil || !group.IsMulticast() {
		return fmt.Errorf("netaudio: %q is not a multicast group", cfg.Group)
	}
	var ifi *net.Interface
	if cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			return fmt.Errorf("netaudio: interface %s: %w", cfg.Interface, err)
		}
	}
	if err := ipv4.NewPacketConn(conn).JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("netaudio: join %s: %w", cfg.Group, err)
	}
	return nil
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr { return r.conn.LocalAddr() }

// Stats returns the packet counters.
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Packets:  r.packets.Load(),
		Lost:     r.lost.Load(),
		Errors:   r.errors.Load(),
		Filtered: r.filtered.Load(),
	}
}

// Run reads packets until ctx is cancelled or the socket is closed.
func (r *Receiver) Run(ctx context.Context, handle func(*Frame)) error {
	buf := make([]byte, limits.MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("netaudio: read: %w", err)
		}
		if err := r.handlePacket(buf[:n], handle); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.Run",
				"from":     addr.String(),
				"error":    err.Error(),
			}).Debug("Dropped network audio packet")
		}
	}
}

func (r *Receiver) handlePacket(packet []byte, handle func(*Frame)) error {
	hdr, payload, err := ParseHeader(packet)
	if err != nil {
		r.errors.Add(1)
		return err
	}
	if r.cfg.Name != "" && hdr.Name != r.cfg.Name {
		r.filtered.Add(1)
		return nil
	}

	f := &r.frame
	f.Header = hdr
	switch hdr.Codec {
	case CodecPCM16:
		r.ensure(hdr.Channels, hdr.Samples)
		if err := DecodePCM16(payload, hdr.Channels, hdr.Samples, r.planar); err != nil {
			r.errors.Add(1)
			return err
		}
		f.SampleRate, f.Channels, f.Frames = hdr.SampleRate(), hdr.Channels, hdr.Samples
	case CodecOpus:
		if r.opus == nil {
			r.opus = newOpusDecoder()
		}
		r.ensure(2, maxOpusBytes/4)
		frames, channels, rate, err := r.opus.decode(payload, r.planar[:2])
		if err != nil {
			r.errors.Add(1)
			return err
		}
		f.SampleRate, f.Channels, f.Frames = rate, channels, frames
	}

	r.count(hdr.Counter)
	f.Samples = f.Samples[:0]
	for c := 0; c < f.Channels; c++ {
		f.Samples = append(f.Samples, r.planar[c][:f.Frames])
	}
	r.packets.Add(1)
	if handle != nil {
		handle(f)
	}
	return nil
}

// count tracks the frame counter. A jump forward counts the skipped
// frames as lost; a jump backwards is a restarted sender and only resets
// the sequence.
func (r *Receiver) count(counter uint32) {
	if r.hasLast {
		if gap := counter - r.last; gap != 0 && gap < 1<<31 {
			r.lost.Add(uint64(gap - 1))
		}
	}
	r.last, r.hasLast = counter, true
}

func (r *Receiver) ensure(channels, frames int) {
	for c := 0; c < channels; c++ {
		if cap(r.planar[c]) < frames {
			r.planar[c] = make([]float32, frames)
		}
		r.planar[c] = r.planar[c][:cap(r.planar[c])]
	}
}

// Close releases the socket; Run returns.
func (r *Receiver) Close() error { return r.conn.Close() }
