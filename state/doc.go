// Package state persists the mixer between runs.
//
// The state file is one JSON object:
//
//	{
//	  "connections": [{"destination": "strip1:in_1", "source": "strip0:out_1"}],
//	  "tree": {"strip": [{"enable": true, "type": "loopback"}]}
//	}
//
// "tree" holds the root snapshot and "connections" the graph routing.
// Save replaces the file atomically; Load tolerates a missing or corrupt
// file so the mixer can always start.
package state
