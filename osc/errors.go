package osc

import "errors"

var (
	// ErrMalformed indicates a packet that does not follow the wire format.
	ErrMalformed = errors.New("osc: malformed packet")

	// ErrUnsupportedType indicates an argument type outside i, f, s, T and F.
	ErrUnsupportedType = errors.New("osc: unsupported argument type")

	// ErrInvalidAddress indicates an address that does not start with '/'.
	ErrInvalidAddress = errors.New("osc: invalid address")
)
