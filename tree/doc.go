// Package tree implements the addressable parameter tree behind the oscmix
// control protocol.
//
// Every tunable value is a Variable leaf and every dynamic collection is an
// Array. Containers group nodes under names, and an address is the
// slash-separated path of names from the root:
//
//	/strip/0/filterChain/volume
//
// The root container resolves decoded messages with Execute. A segment equal
// to "*" fans the rest of the address out to every child, so
//
//	/strip/*/mute T
//
// mutes every channel strip. A message with no arguments reads: a Variable
// broadcasts its value and a Container dumps every variable below it.
//
// # Variables
//
//	volume := tree.NewVariable[float32](1).SetConversion(tree.Decibels())
//	volume.OnChange(func(old, new float32) { chain.SetVolume(new) })
//	strip.MustAdd("volume", volume)
//
// Arguments are coerced to the variable type. Booleans, integers and floats
// convert between each other; strings only come from strings. Validators
// may veto a change. A vetoed change mutates nothing and broadcasts nothing.
//
// # Arrays
//
// An Array registers its elements under their decimal index next to the
// "add" and "remove" endpoints and the read-only "size" leaf. Structural
// changes are announced on the add/remove address with the affected index,
// followed by the new size, so observers can mirror the array without
// re-reading the whole tree.
//
// # Concurrency
//
// The tree is not safe for concurrent use. One goroutine owns the root and
// performs every dispatch, mutation and dump. Outgoing messages are passed
// synchronously to the sink given to NewRoot.
package tree
