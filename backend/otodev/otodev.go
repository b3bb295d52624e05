// Package otodev plays mixer output through the system sound device using
// github.com/ebitengine/oto/v3. It is output only.
//
// Importing the package registers the "oto" driver with package backend.
package otodev

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/backend"
)

// DeviceID is the only device the driver exposes: the system default output.
const DeviceID = "default"

const (
	defaultRate  = 48000
	defaultBlock = 512
	maxChannels  = 2
)

func init() {
	backend.Register(&Driver{})
}

// Driver opens oto players. oto allows one context per process, so the
// first Open fixes the rate and channel count for every later stream.
type Driver struct {
	mu       sync.Mutex
	ctx      *oto.Context
	rate     int
	channels int
}

// Name returns "oto".
func (d *Driver) Name() string { return "oto" }

// Devices returns the system default output.
func (d *Driver) Devices() ([]backend.Device, error) {
	return []backend.Device{{
		ID:         DeviceID,
		Name:       "System default output",
		Outputs:    maxChannels,
		SampleRate: defaultRate,
		BlockSize:  defaultBlock,
	}}, nil
}

// Open creates a player pulling blocks from process.
func (d *Driver) Open(cfg backend.StreamConfig, process backend.ProcessFunc) (backend.Stream, error) {
	if cfg.Device != "" && cfg.Device != DeviceID {
		return nil, fmt.Errorf("%w: %q", backend.ErrNoDevice, cfg.Device)
	}
	if cfg.Inputs > 0 {
		return nil, fmt.Errorf("%w: oto has no capture", backend.ErrUnsupported)
	}
	if cfg.Outputs < 1 || cfg.Outputs > maxChannels {
		return nil, fmt.Errorf("%w: %d output channels", backend.ErrUnsupported, cfg.Outputs)
	}
	rate := int(cfg.SampleRate)
	if rate <= 0 {
		rate = defaultRate
	}
	block := cfg.BlockSize
	if block <= 0 {
		block = defaultBlock
	}

	ctx, err := d.context(rate, cfg.Outputs)
	if err != nil {
		return nil, err
	}

	s := &stream{rate: rate, block: block, channels: cfg.Outputs, process: process}
	s.out = make([][]float32, cfg.Outputs)
	for i := range s.out {
		s.out[i] = make([]float32, block)
	}
	s.pcm = make([]byte, 0, block*cfg.Outputs*4)
	s.player = ctx.NewPlayer(s)
	s.player.SetBufferSize(block * cfg.Outputs * 4 * 2)

	logrus.WithFields(logrus.Fields{
		"function":    "otodev.Open",
		"sample_rate": rate,
		"channels":    cfg.Outputs,
		"block_size":  block,
	}).Info("Opened oto output stream")
	return s, nil
}

func (d *Driver) context(rate, channels int) (*oto.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		if rate != d.rate || channels != d.channels {
			return nil, fmt.Errorf("%w: oto context fixed at %d Hz, %d channels",
				backend.ErrUnsupported, d.rate, d.channels)
		}
		return d.ctx, nil
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   20 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	d.ctx, d.rate, d.channels = ctx, rate, channels
	return ctx, nil
}

type stream struct {
	rate     int
	block    int
	channels int
	process  backend.ProcessFunc
	player   *oto.Player

	// Owned by the oto reader goroutine.
	out [][]float32
	pcm []byte
	off int

	mu     sync.Mutex
	closed bool
}

func (s *stream) SampleRate() float64 { return float64(s.rate) }
func (s *stream) BlockSize() int      { return s.block }

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrStreamClosed
	}
	s.player.Play()
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.player.Pause()
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

// Read is called by the oto player goroutine. Every block the process
// callback renders is interleaved into float32 little-endian frames.
func (s *stream) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if s.off == len(s.pcm) {
			s.render()
		}
		c := copy(p[n:], s.pcm[s.off:])
		s.off += c
		n += c
	}
	return n, nil
}

func (s *stream) render() {
	for _, ch := range s.out {
		clear(ch)
	}
	if s.process != nil {
		s.process(nil, s.out)
	}
	s.pcm = interleave(s.pcm[:0], s.out)
	s.off = 0
}

// interleave appends the planar block as float32 little-endian frames.
func interleave(dst []byte, planar [][]float32) []byte {
	if len(planar) == 0 {
		return dst
	}
	for i := range planar[0] {
		for _, ch := range planar {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(ch[i]))
		}
	}
	return dst
}
