package mixer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/oscmix/backend"
	"github.com/opd-ai/oscmix/tree"
)

// newDevices builds /devices. A message to /devices/list is answered with
// one /devices/entry message per device:
//
//	/devices/entry id name inputs outputs sampleRate
func newDevices(driver backend.Driver) *tree.Container {
	c := tree.NewContainer()
	entry := tree.NewEndpoint(nil)
	c.MustAdd("list", tree.NewEndpoint(func(args []any) error {
		if len(args) != 0 {
			return fmt.Errorf("%w: /devices/list takes no arguments", tree.ErrArity)
		}
		if driver == nil {
			return fmt.Errorf("%w: no audio driver configured", tree.ErrNotFound)
		}
		devices, err := driver.Devices()
		if err != nil {
			return fmt.Errorf("mixer: list %s devices: %w", driver.Name(), err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "devices.list",
			"driver":   driver.Name(),
			"devices":  len(devices),
		}).Debug("Listing audio devices")
		for _, d := range devices {
			entry.Notify(d.ID, d.Name, d.Inputs, d.Outputs, d.SampleRate)
		}
		return nil
	}))
	c.MustAdd("entry", entry)
	return c
}
