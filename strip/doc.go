// Package strip implements oscmix channel strips.
//
// A Strip is a sub-tree that owns one graph client, one dsp.Chain and one
// endpoint chosen by its type leaf:
//
//	none         no client
//	loopback     graph in, graph out
//	network-out  graph in, sent as a netaudio stream
//	network-in   netaudio stream, graph out
//	device-out   graph in, played on a backend device
//	device-in    captured from a backend device, graph out
//
// The graph client is opened after enable becomes true and the type is not
// none. If it cannot be opened enable is set back to false and the status
// leaf carries the error. Type, channels and the endpoint settings are
// vetoed while the client is open.
//
// Each strip keeps one client name from a shared Names allocator for its
// whole life, so removing a strip never renames the clients of the strips
// after it. The read-only client leaf shows the name and snapshots persist
// it.
//
// Strips are held in a tree.ContainerArray:
//
//	env := strip.Env{Graph: g, Driver: driver, Names: strip.NewNames()}
//	strips := tree.NewContainerArray(func(i int) *strip.Strip {
//		return strip.New(i, env)
//	})
//	root.MustAdd("strip", strips)
//
// Every Strip method runs on the goroutine that owns the tree, except the
// graph callback. Call PostProcess after graph cycles and OnTimer at the
// meter interval.
package strip
