// Command oscmixd runs the oscmix real-time mixer with OSC remote control.
//
//	oscmixd --config /etc/oscmix.yaml
//	oscmixd --strips 8 --log-level debug
package main

import (
	"os"

	_ "github.com/opd-ai/oscmix/backend/otodev"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
