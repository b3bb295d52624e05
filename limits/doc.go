// Package limits provides centralized size constants and validation functions
// for the oscmix control protocol and network audio transport.
//
// # Size Hierarchy
//
//   - MaxPacketSize (65507 bytes): the largest control packet, matching the
//     maximum IPv4 UDP payload. Stream and serial connectors apply the same
//     limit to a decoded frame.
//
//   - MaxAddressLength (255 bytes): the longest address the parameter tree
//     resolves. Longer addresses are dropped before dispatch.
//
//   - MaxFrameSize (64 KiB): the SLIP decoder discards frames that grow past
//     this size and resynchronizes on the next frame marker.
//
//   - MaxAudioFrames / MaxAudioChannels (256): the network audio header stores
//     both counts minus one in a single byte.
//
// # Validation Functions
//
//	if err := limits.ValidatePacket(data); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// Errors wrap ErrMessageEmpty and ErrMessageTooLarge so callers can test
// them with errors.Is.
package limits
