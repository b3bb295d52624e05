package strip

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/audio"
	"github.com/opd-ai/oscmix/limits"
	"github.com/opd-ai/oscmix/netaudio"
)

// networkOutBlocks is the send queue depth in graph blocks.
const networkOutBlocks = 16

// networkOut queues processed graph blocks in per-channel rings and sends
// them from the control goroutine, so the graph callback never touches a
// socket. Both ends run at the graph rate; no resampling is needed.
type networkOut struct {
	cfg    endpointConfig
	sender *netaudio.Sender
	rings  audio.Frames
	drain  [][]float32

	overflows atomic.Uint64
	sendErrs  uint64
}

func (n *networkOut) Start() error {
	sender, err := netaudio.NewSender(netaudio.SenderConfig{
		Destination: n.cfg.Address,
		Interface:   n.cfg.Interface,
		Name:        n.cfg.Name,
		SampleRate:  n.cfg.GraphRate,
		Channels:    n.cfg.Channels,
	})
	if err != nil {
		return err
	}
	n.sender = sender
	capacity := networkOutBlocks * max(n.cfg.GraphBlock, limits.MaxAudioFrames)
	n.rings = audio.NewFrames(n.cfg.Channels, capacity)
	n.drain = make([][]float32, n.cfg.Channels)
	for c := range n.drain {
		n.drain[c] = make([]float32, n.rings[c].Cap())
	}
	return nil
}

// Push runs on the graph goroutine. A block that does not fit is dropped
// whole and counted.
func (n *networkOut) Push(block [][]float32) {
	if len(block) == 0 {
		return
	}
	if !n.rings.Write(block, len(block[0])) {
		n.overflows.Add(1)
	}
}

// PostProcess sends everything queued so far.
func (n *networkOut) PostProcess() {
	frames := n.rings.Len()
	if frames == 0 {
		return
	}
	for c, ring := range n.rings {
		ring.Read(n.drain[c][:frames])
	}
	if err := n.sender.Send(n.drain, frames); err != nil {
		n.sendErrs++
		// Only the first failure of a run is logged.
		if n.sendErrs == 1 {
			logrus.WithFields(logrus.Fields{
				"function":    "networkOut.PostProcess",
				"destination": n.cfg.Address,
				"error":       err.Error(),
			}).Warn("Network audio send failed")
		}
	}
}

func (n *networkOut) Stop() error {
	if n.sender == nil {
		return nil
	}
	err := n.sender.Close()
	n.sender = nil
	return err
}

func (n *networkOut) OnTimer() Status {
	return Status{SampleRate: n.cfg.GraphRate, Overflows: n.overflows.Load()}
}

// networkIn receives a stream on its own goroutine, which is the producer
// side of an input bridge. The bridge is built when the first packet
// reveals the stream rate and rebuilt if the rate changes.
type networkIn struct {
	cfg      endpointConfig
	receiver *netaudio.Receiver
	bridge   atomic.Pointer[audio.Bridge]
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (n *networkIn) Start() error {
	receiver, err := netaudio.NewReceiver(netaudio.ReceiverConfig{
		Listen:    n.cfg.Address,
		Group:     n.cfg.Group,
		Interface: n.cfg.Interface,
		Name:      n.cfg.Name,
	})
	if err != nil {
		return err
	}
	n.receiver = receiver
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := receiver.Run(ctx, n.receive); err != nil && ctx.Err() == nil {
			logrus.WithFields(logrus.Fields{
				"function": "networkIn.Start",
				"listen":   n.cfg.Address,
				"error":    err.Error(),
			}).Warn("Network audio receiver stopped")
		}
	}()
	return nil
}

// receive runs on the receiver goroutine.
func (n *networkIn) receive(f *netaudio.Frame) {
	b := n.bridge.Load()
	if b == nil || b.Config().BackendRate != f.SampleRate {
		var err error
		b, err = audio.NewBridge(audio.BridgeConfig{
			Direction:    audio.Input,
			Channels:     n.cfg.Channels,
			GraphRate:    n.cfg.GraphRate,
			GraphBlock:   n.cfg.GraphBlock,
			BackendRate:  f.SampleRate,
			BackendBlock: max(f.Frames, limits.MaxAudioFrames),
			Window:       audio.DefaultDriftWindow,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "networkIn.receive",
				"sample_rate": f.SampleRate,
				"error":       err.Error(),
			}).Warn("Cannot bridge network stream")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":    "networkIn.receive",
			"stream":      f.Header.Name,
			"sample_rate": f.SampleRate,
			"channels":    f.Channels,
		}).Info("Network audio stream locked")
		n.bridge.Store(b)
	}
	b.Push(f.Samples)
}

// Pull runs on the graph goroutine. Until a stream arrives it plays
// silence.
func (n *networkIn) Pull(out [][]float32) {
	b := n.bridge.Load()
	if b == nil {
		for _, ch := range out {
			clear(ch)
		}
		return
	}
	b.Pull(out)
}

func (n *networkIn) PostProcess() {}

func (n *networkIn) Stop() error {
	if n.receiver == nil {
		return nil
	}
	n.cancel()
	err := n.receiver.Close()
	n.wg.Wait()
	n.receiver = nil
	n.bridge.Store(nil)
	if err != nil {
		return fmt.Errorf("strip: close receiver: %w", err)
	}
	return nil
}

// localAddr returns the bound receive address, or "" when stopped.
func (n *networkIn) localAddr() string {
	if n.receiver == nil {
		return ""
	}
	return n.receiver.LocalAddr().String()
}

func (n *networkIn) OnTimer() Status {
	var st Status
	if n.receiver != nil {
		st.LostFrames = n.receiver.Stats().Lost
	}
	if b := n.bridge.Load(); b != nil {
		bs := b.Stats()
		st.SampleRate = b.Config().BackendRate
		st.Overflows = bs.Overflows
		st.Underflows = bs.Underflows
		st.DriftPPM = bs.DriftPPM
	}
	return st
}
