// Package mixer runs an oscmix instance: the parameter tree, the audio
// graph, the channel strips and the control connectors.
//
// The root tree looks like this:
//
//	/strip/<n>/...              channel strips, see package strip
//	/strip/add, /strip/remove   strip array endpoints
//	/graph/connect s d          route output port s into input port d
//	/graph/disconnect s d
//	/graph/connections          replies with /graph/connect for every route
//	/graph/sampleRate           read-only
//	/graph/blockSize            read-only
//	/devices/list               replies with one /devices/entry per device
//
// Run starts one loop goroutine that owns the tree. Connector goroutines
// hand it raw packets; the graph signals it after every cycle so strips can
// flush network output; two tickers drive the meters and the debounced
// state writer. Code outside the loop reaches the tree through Do.
//
//	m, err := mixer.New(mixer.DefaultConfig(), udp, tcp)
//	if err != nil {
//		return err
//	}
//	return m.Run(ctx)
//
// Routing of a stopped strip is kept and remade when the strip starts
// again, so disabling a strip does not lose its connections.
package mixer
