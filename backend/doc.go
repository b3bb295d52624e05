// Package backend is the boundary between the mixer and sound hardware.
//
// A Driver enumerates Devices and opens a Stream with a per-block
// ProcessFunc that runs on the driver's own goroutine at the device's own
// clock. Drivers register themselves by name, the way database/sql drivers
// do, so the entry point can pick one from configuration:
//
//	import _ "github.com/opd-ai/oscmix/backend/otodev"
//
//	drv, err := backend.Lookup("oto")
//
// SimDriver provides clocked fake devices with configurable crystal skew
// for tests and for running the mixer without hardware.
package backend
