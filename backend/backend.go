package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoDevice is returned when a configured device does not exist.
	ErrNoDevice = errors.New("backend: no such device")
	// ErrUnsupported is returned when a driver cannot provide the requested
	// direction, rate or channel count.
	ErrUnsupported = errors.New("backend: unsupported stream configuration")
	// ErrStreamClosed is returned when using a closed stream.
	ErrStreamClosed = errors.New("backend: stream closed")
	// ErrUnknownDriver is returned by Lookup for an unregistered name.
	ErrUnknownDriver = errors.New("backend: unknown driver")
)

// Device describes one piece of sound hardware as reported by a driver.
type Device struct {
	ID         string
	Name       string
	Inputs     int
	Outputs    int
	SampleRate float64
	BlockSize  int
}

// StreamConfig selects a device and the stream shape. Zero SampleRate and
// BlockSize leave the choice to the driver.
type StreamConfig struct {
	Device     string
	Inputs     int
	Outputs    int
	SampleRate float64
	BlockSize  int
}

// ProcessFunc is the backend's per-block callback, called on the driver's
// own goroutine with one buffer per captured and per played channel. It
// must not block, allocate or log.
type ProcessFunc func(in, out [][]float32)

// Stream is an open device stream. SampleRate and BlockSize are the values
// the driver settled on, which may differ from the request.
type Stream interface {
	Start() error
	Stop() error
	Close() error
	SampleRate() float64
	BlockSize() int
}

// Driver opens streams on one kind of audio backend.
type Driver interface {
	Name() string
	Devices() ([]Device, error)
	Open(cfg StreamConfig, process ProcessFunc) (Stream, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name. Registering a name twice
// replaces the earlier driver.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"driver":   d.Name(),
	}).Debug("Registered audio driver")
}

// Lookup returns the registered driver with the given name.
func Lookup(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, name)
	}
	return d, nil
}

// Drivers returns the registered driver names in sorted order.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FindDevice returns the device with the given id, or the first device
// when id is empty.
func FindDevice(devices []Device, id string) (Device, error) {
	for _, d := range devices {
		if id == "" || d.ID == id {
			return d, nil
		}
	}
	if id == "" {
		return Device{}, ErrNoDevice
	}
	return Device{}, fmt.Errorf("%w: %s", ErrNoDevice, id)
}
