// Package graph is the primary audio callback of the mixer: an in-process
// block-clocked graph of clients and ports.
//
// Each channel strip opens one client. Ports are named "client:port", with
// inputs in_1..in_N and outputs out_1..out_N, and connections route any
// output into any input, summing when several sources feed one input.
// Run paces Cycle from a ticker; tests call Cycle directly to step the graph
// deterministically.
//
//	g, _ := graph.New(48000, 256)
//	src, _ := g.Open("a", 0, 2)
//	dst, _ := g.Open("b", 2, 0)
//	_ = g.Connect("a:out_1", "b:in_1")
//	_ = src.Activate()
//	_ = dst.Activate()
//	g.Cycle()
package graph
