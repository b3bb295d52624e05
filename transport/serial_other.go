//go:build !linux

package transport

import (
	"os"

	"github.com/sirupsen/logrus"
)

func openSerial(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

// configureSerial leaves the line settings alone; configure the device
// with the platform tools before starting.
func configureSerial(_ *os.File, baud int) error {
	if baud > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "configureSerial",
			"baud":     baud,
		}).Warn("Baud rate is only applied on Linux")
	}
	return nil
}
