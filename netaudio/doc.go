// Package netaudio implements the raw network audio transport: fixed
// 28-byte headers followed by interleaved big-endian 16-bit PCM, one UDP
// datagram per packet, unicast or multicast.
//
// A Sender splits blocks into packets of at most 256 frames and numbers
// them with a monotonically increasing counter. A Receiver decodes PCM16
// and, for interoperability with senders that compress, Opus payloads
// through github.com/pion/opus. Gaps in the counter are counted as lost
// frames.
package netaudio
