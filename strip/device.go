package strip

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/audio"
	"github.com/opd-ai/oscmix/backend"
)

// device bridges the graph to a sound device stream. The device callback
// and the graph callback are the two ends of one audio.Bridge. Strips use
// it through deviceOut or deviceIn, which give the graph side exactly one
// end of the bridge.
type device struct {
	cfg    endpointConfig
	stream backend.Stream
	bridge *audio.Bridge
}

func (d *device) Start() error {
	sc := backend.StreamConfig{Device: d.cfg.Device}
	if d.cfg.Type == DeviceOut {
		sc.Outputs = d.cfg.Channels
	} else {
		sc.Inputs = d.cfg.Channels
	}
	stream, err := d.cfg.Driver.Open(sc, d.process)
	if err != nil {
		return fmt.Errorf("strip: open %s device %q: %w", d.cfg.Driver.Name(), d.cfg.Device, err)
	}

	direction := audio.Output
	if d.cfg.Type == DeviceIn {
		direction = audio.Input
	}
	bridge, err := audio.NewBridge(audio.BridgeConfig{
		Direction:    direction,
		Channels:     d.cfg.Channels,
		GraphRate:    d.cfg.GraphRate,
		GraphBlock:   d.cfg.GraphBlock,
		BackendRate:  stream.SampleRate(),
		BackendBlock: stream.BlockSize(),
		Window:       audio.DefaultDriftWindow,
	})
	if err != nil {
		stream.Close()
		return err
	}
	// The callback reads d.bridge; it is set before the stream starts.
	d.bridge = bridge
	d.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		d.stream = nil
		return fmt.Errorf("strip: start stream: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "device.Start",
		"driver":      d.cfg.Driver.Name(),
		"device":      d.cfg.Device,
		"direction":   direction.String(),
		"sample_rate": stream.SampleRate(),
		"block_size":  stream.BlockSize(),
	}).Info("Sound device stream started")
	return nil
}

// process is the device callback.
func (d *device) process(in, out [][]float32) {
	if d.cfg.Type == DeviceOut {
		d.bridge.Pull(out)
		return
	}
	d.bridge.Push(in)
}

func (d *device) PostProcess() {}

func (d *device) Stop() error {
	if d.stream == nil {
		return nil
	}
	err := errors.Join(d.stream.Stop(), d.stream.Close())
	d.stream = nil
	return err
}

func (d *device) OnTimer() Status {
	if d.bridge == nil {
		return Status{}
	}
	bs := d.bridge.Stats()
	return Status{
		SampleRate: d.bridge.Config().BackendRate,
		Overflows:  bs.Overflows,
		Underflows: bs.Underflows,
		DriftPPM:   bs.DriftPPM,
	}
}

// deviceOut plays processed graph blocks on a device. The graph is the
// producer of its bridge.
type deviceOut struct {
	device
}

// Push runs on the graph goroutine.
func (d *deviceOut) Push(block [][]float32) { d.bridge.Push(block) }

// deviceIn captures a device into the graph. The graph is the consumer of
// its bridge.
type deviceIn struct {
	device
}

// Pull runs on the graph goroutine.
func (d *deviceIn) Pull(out [][]float32) { d.bridge.Pull(out) }
