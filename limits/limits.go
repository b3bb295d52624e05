// Package limits provides centralized size limits for the control protocol and
// the network audio transport. This ensures consistent validation across the
// codec, the connectors and the audio receivers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPacketSize is the largest control packet accepted on any connector.
	// This matches the maximum UDP payload over IPv4 (65535 - 8 - 20).
	MaxPacketSize = 65507

	// MaxAddressLength is the longest control address the tree will resolve.
	MaxAddressLength = 255

	// MaxFrameSize is the largest SLIP frame a stream decoder buffers before
	// discarding the frame and waiting for the next frame marker.
	MaxFrameSize = 65536

	// MaxAudioFrames is the maximum number of sample frames carried by one
	// network audio packet (the header stores count-1 in one byte).
	MaxAudioFrames = 256

	// MaxAudioChannels is the maximum channel count of one network audio
	// stream (the header stores count-1 in one byte).
	MaxAudioChannels = 256

	// MaxStreamName is the fixed width of the stream name field in the
	// network audio header.
	MaxStreamName = 16
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePacket validates a control packet against MaxPacketSize.
func ValidatePacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrMessageEmpty
	}
	if len(packet) > MaxPacketSize {
		return fmt.Errorf("%w: packet size %d exceeds limit %d", ErrMessageTooLarge, len(packet), MaxPacketSize)
	}
	return nil
}

// ValidateAddress validates a control address length against MaxAddressLength.
func ValidateAddress(address string) error {
	if len(address) == 0 {
		return ErrMessageEmpty
	}
	if len(address) > MaxAddressLength {
		return fmt.Errorf("%w: address length %d exceeds limit %d", ErrMessageTooLarge, len(address), MaxAddressLength)
	}
	return nil
}

// ValidateAudioBlock validates the shape of one network audio packet payload.
// Both frames and channels must be in [1, MaxAudioFrames] and
// [1, MaxAudioChannels] respectively.
func ValidateAudioBlock(frames, channels int) error {
	if frames <= 0 || channels <= 0 {
		return ErrMessageEmpty
	}
	if frames > MaxAudioFrames {
		return fmt.Errorf("%w: %d frames exceeds limit %d", ErrMessageTooLarge, frames, MaxAudioFrames)
	}
	if channels > MaxAudioChannels {
		return fmt.Errorf("%w: %d channels exceeds limit %d", ErrMessageTooLarge, channels, MaxAudioChannels)
	}
	return nil
}
