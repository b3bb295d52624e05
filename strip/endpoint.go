package strip

import (
	"fmt"

	"github.com/opd-ai/oscmix/backend"
)

// Status is what an endpoint reports to the status timer.
type Status struct {
	SampleRate float64
	Overflows  uint64
	Underflows uint64
	DriftPPM   float64
	LostFrames uint64
}

// Endpoint connects a strip to the world outside the graph. Strips pick
// one implementation per type when they start.
type Endpoint interface {
	// Start acquires sockets, devices and buffers. It runs on the control
	// goroutine before the graph client is activated.
	Start() error
	// Stop releases them. The graph client is already deactivated, so no
	// callback can touch the endpoint any more.
	Stop() error
	// PostProcess runs on the control goroutine after graph cycles.
	PostProcess()
	// OnTimer reports the counters behind the status leaves.
	OnTimer() Status
}

// source is an endpoint feeding the graph. Pull runs on the graph
// goroutine and fills every channel of out.
type source interface {
	Pull(out [][]float32)
}

// sink is an endpoint fed by the graph. Push runs on the graph goroutine
// with the processed block.
type sink interface {
	Push(block [][]float32)
}

// endpointConfig is the strip state an endpoint is built from, copied when
// the strip starts.
type endpointConfig struct {
	Type       Type
	Channels   int
	Name       string
	Address    string
	Group      string
	Interface  string
	Device     string
	GraphRate  float64
	GraphBlock int
	Driver     backend.Driver
}

func newEndpoint(cfg endpointConfig) (Endpoint, error) {
	switch cfg.Type {
	case Loopback:
		return &loopback{rate: cfg.GraphRate}, nil
	case NetworkOut:
		return &networkOut{cfg: cfg}, nil
	case NetworkIn:
		return &networkIn{cfg: cfg}, nil
	case DeviceOut, DeviceIn:
		if cfg.Driver == nil {
			return nil, fmt.Errorf("strip: %s needs an audio driver", cfg.Type)
		}
		if cfg.Type == DeviceOut {
			return &deviceOut{device{cfg: cfg}}, nil
		}
		return &deviceIn{device{cfg: cfg}}, nil
	}
	return nil, fmt.Errorf("strip: type %s has no endpoint", cfg.Type)
}

// loopback has nothing outside the graph.
type loopback struct {
	rate float64
}

func (l *loopback) Start() error    { return nil }
func (l *loopback) Stop() error     { return nil }
func (l *loopback) PostProcess()    {}
func (l *loopback) OnTimer() Status { return Status{SampleRate: l.rate} }
