package strip

import (
	"fmt"
)

// Type selects where a strip's audio comes from or goes to.
type Type int32

const (
	// None keeps the strip idle even when enabled.
	None Type = iota
	// Loopback runs graph inputs through the chain to graph outputs.
	Loopback
	// NetworkOut sends the processed graph inputs as a network stream.
	NetworkOut
	// NetworkIn plays a received network stream into the graph.
	NetworkIn
	// DeviceOut plays the processed graph inputs on a sound device.
	DeviceOut
	// DeviceIn captures a sound device into the graph.
	DeviceIn
)

var typeNames = [...]string{"none", "loopback", "network-out", "network-in", "device-out", "device-in"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int32(t))
	}
	return typeNames[t]
}

// ParseType returns the type with the given wire name.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), nil
		}
	}
	return None, fmt.Errorf("strip: unknown type %q", name)
}

// ports returns the graph input and output port counts of a strip of this
// type.
func (t Type) ports(channels int) (inputs, outputs int) {
	switch t {
	case Loopback:
		return channels, channels
	case NetworkOut, DeviceOut:
		return channels, 0
	case NetworkIn, DeviceIn:
		return 0, channels
	}
	return 0, 0
}

// network reports whether the type uses the network audio transport.
func (t Type) network() bool { return t == NetworkOut || t == NetworkIn }

// device reports whether the type uses a sound device.
func (t Type) device() bool { return t == DeviceOut || t == DeviceIn }
