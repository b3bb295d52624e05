package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/limits"
	"github.com/opd-ai/oscmix/osc"
)

// SerialConfig configures a SerialConnector.
type SerialConfig struct {
	// Device is the character device path, e.g. /dev/ttyUSB0.
	Device string
	// Baud is the line rate. Zero leaves the device setting alone.
	Baud int
}

// SerialConnector speaks SLIP-framed packets over a character device.
type SerialConnector struct {
	name string
	dev  io.ReadWriteCloser

	wmu    sync.Mutex
	mu     sync.Mutex
	closed bool
}

// NewSerialConnector opens the device read/write and, where supported,
// puts it in raw mode at the configured baud rate.
func NewSerialConnector(cfg SerialConfig) (*SerialConnector, error) {
	f, err := openSerial(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Device, err)
	}
	if err := configureSerial(f, cfg.Baud); err != nil {
		f.Close()
		return nil, fmt.Errorf("transport: configure %s: %w", cfg.Device, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "NewSerialConnector",
		"device":   cfg.Device,
		"baud":     cfg.Baud,
	}).Info("Created serial control connector")
	return &SerialConnector{name: cfg.Device, dev: f}, nil
}

// newStreamConnector wraps an already open stream, such as one end of a
// pseudo terminal or a pipe.
func newStreamConnector(name string, rw io.ReadWriteCloser) *SerialConnector {
	return &SerialConnector{name: name, dev: rw}
}

func (s *SerialConnector) String() string { return "serial:" + s.name }

// Serve decodes frames until ctx is cancelled or the device is closed.
func (s *SerialConnector) Serve(ctx context.Context, handle PacketHandler) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	addr := serialAddr(s.name)
	decoder := osc.NewSLIPDecoder(limits.MaxFrameSize)
	buf := make([]byte, 1024)
	for {
		n, err := s.dev.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n], func(frame []byte) { handle(frame, addr) })
		}
		if err != nil {
			if s.isClosed() || errors.Is(err, os.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("transport: serial read: %w", err)
		}
	}
}

// Send writes one SLIP frame.
func (s *SerialConnector) Send(packet []byte) error {
	if err := limits.ValidatePacket(packet); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}
	frame := osc.EncodeSLIP(make([]byte, 0, len(packet)+16), packet)
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.dev.Write(frame); err != nil {
		return fmt.Errorf("transport: serial write: %w", err)
	}
	return nil
}

func (s *SerialConnector) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes the device.
func (s *SerialConnector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.dev.Close()
}

// serialAddr names a serial peer for handlers that expect a net.Addr.
type serialAddr string

func (a serialAddr) Network() string { return "serial" }
func (a serialAddr) String() string  { return string(a) }
