package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/clock"
)

// SimDevice is a simulated sound card. Its clock runs SkewPPM parts per
// million away from the nominal rate, like a real crystal would.
type SimDevice struct {
	Device
	SkewPPM float64
	// Signal produces captured samples. Nil captures silence.
	Signal func(ch int, frame uint64) float32
	// Sink observes every played block after the callback ran. It runs on
	// the stream goroutine.
	Sink func(out [][]float32)
}

// SimDriver is a Driver backed by simulated devices. Streams are paced by
// a clock.TimeProvider, or stepped by hand with SimStream.Tick.
type SimDriver struct {
	mu      sync.Mutex
	devices []SimDevice
	clock   clock.TimeProvider
}

// NewSimDriver creates a driver exposing the given devices.
func NewSimDriver(devices ...SimDevice) *SimDriver {
	return &SimDriver{devices: devices}
}

// Name returns "sim".
func (d *SimDriver) Name() string { return "sim" }

// SetTimeProvider replaces the clock that paces started streams.
func (d *SimDriver) SetTimeProvider(tp clock.TimeProvider) {
	d.mu.Lock()
	d.clock = tp
	d.mu.Unlock()
}

// AddDevice appends a device to the list.
func (d *SimDriver) AddDevice(dev SimDevice) {
	d.mu.Lock()
	d.devices = append(d.devices, dev)
	d.mu.Unlock()
}

// Devices lists the simulated devices.
func (d *SimDriver) Devices() ([]Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Device, len(d.devices))
	for i, dev := range d.devices {
		out[i] = dev.Device
	}
	return out, nil
}

// Open creates a stopped stream on the configured device.
func (d *SimDriver) Open(cfg StreamConfig, process ProcessFunc) (Stream, error) {
	d.mu.Lock()
	var dev *SimDevice
	for i := range d.devices {
		if cfg.Device == "" || d.devices[i].ID == cfg.Device {
			dev = &d.devices[i]
			break
		}
	}
	var sim SimDevice
	if dev != nil {
		sim = *dev
	}
	tp := d.clock
	d.mu.Unlock()

	if dev == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoDevice, cfg.Device)
	}
	if cfg.Inputs > sim.Inputs || cfg.Outputs > sim.Outputs {
		return nil, fmt.Errorf("%w: %d/%d channels on %s (%d/%d)",
			ErrUnsupported, cfg.Inputs, cfg.Outputs, sim.ID, sim.Inputs, sim.Outputs)
	}

	s := &SimStream{
		dev:        sim,
		process:    process,
		clock:      tp,
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
	}
	if s.sampleRate <= 0 {
		s.sampleRate = sim.SampleRate
	}
	if s.blockSize <= 0 {
		s.blockSize = sim.BlockSize
	}
	if s.sampleRate <= 0 || s.blockSize <= 0 {
		return nil, fmt.Errorf("%w: rate %v block %d", ErrUnsupported, s.sampleRate, s.blockSize)
	}
	s.in = make([][]float32, cfg.Inputs)
	for i := range s.in {
		s.in[i] = make([]float32, s.blockSize)
	}
	s.out = make([][]float32, cfg.Outputs)
	for i := range s.out {
		s.out[i] = make([]float32, s.blockSize)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SimDriver.Open",
		"device":      sim.ID,
		"inputs":      cfg.Inputs,
		"outputs":     cfg.Outputs,
		"sample_rate": s.sampleRate,
		"block_size":  s.blockSize,
		"skew_ppm":    sim.SkewPPM,
	}).Debug("Opened simulated stream")
	return s, nil
}

// SimStream is a stream on a simulated device.
type SimStream struct {
	dev        SimDevice
	process    ProcessFunc
	clock      clock.TimeProvider
	sampleRate float64
	blockSize  int
	in, out    [][]float32
	frame      uint64

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// SampleRate returns the nominal stream rate.
func (s *SimStream) SampleRate() float64 { return s.sampleRate }

// BlockSize returns the samples per callback.
func (s *SimStream) BlockSize() int { return s.blockSize }

// Period returns the real time between callbacks, including the skew.
func (s *SimStream) Period() time.Duration {
	rate := s.sampleRate * (1 + s.dev.SkewPPM*1e-6)
	return time.Duration(float64(s.blockSize) / rate * float64(time.Second))
}

// Start begins calling the process callback once per period.
func (s *SimStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := clock.Or(s.clock).NewTicker(s.Period())
	go s.run(ticker, s.stop, s.done)
	return nil
}

func (s *SimStream) run(ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			s.Tick()
		}
	}
}

// Tick runs one callback synchronously. It must not be called while the
// stream is started.
func (s *SimStream) Tick() {
	for ch, buf := range s.in {
		if s.dev.Signal == nil {
			clear(buf)
			continue
		}
		for i := range buf {
			buf[i] = s.dev.Signal(ch, s.frame+uint64(i))
		}
	}
	for _, buf := range s.out {
		clear(buf)
	}
	if s.process != nil {
		s.process(s.in, s.out)
	}
	if s.dev.Sink != nil {
		s.dev.Sink(s.out)
	}
	s.frame += uint64(s.blockSize)
}

// Stop halts the callback goroutine and waits for it to exit.
func (s *SimStream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// Close stops the stream; it cannot be started again.
func (s *SimStream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
