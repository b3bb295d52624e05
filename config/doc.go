// Package config loads the oscmixd configuration.
//
// Settings come from, in increasing precedence: Default, a YAML file, a
// .env file in the working directory and OSCMIX_* environment variables.
//
//	graph:
//	  sample_rate: 48000
//	  block_size: 256
//	control:
//	  udp:
//	    - listen: ":7000"
//	      group: "239.0.0.1"
//	  tcp: [":7001"]
//	  serial:
//	    - device: /dev/ttyACM0
//	      baud: 115200
//	state:
//	  file: oscmix.json
//	  interval: 1s
//	meter_interval: 50ms
//	strips: 2
//	driver: sim
//	log:
//	  level: info
//	  format: text
package config
