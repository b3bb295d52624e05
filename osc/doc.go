// Package osc implements the oscmix control wire format.
//
// The format is a strict subset of Open Sound Control 1.0:
//
//	message = address string, type tag string, arguments
//	bundle  = "#bundle\0", 8-byte time tag, { int32 size, element }
//
// Strings are NUL terminated and padded with NULs to a multiple of four
// bytes. The type tag string starts with ',' and carries one character per
// argument:
//
//	i  int32, big-endian
//	f  float32, big-endian IEEE 754
//	s  string
//	T  boolean true, no payload
//	F  boolean false, no payload
//
// Bundle elements may be messages or nested bundles. ParsePacket decodes a
// bundle leniently: a malformed element is logged and skipped so that the
// remaining elements can still be resolved.
//
// # Framing
//
// Datagram transports carry exactly one packet per datagram. Stream and
// character-device transports have no message boundary, so packets are
// framed with SLIP (RFC 1055) byte stuffing:
//
//	frame := osc.EncodeSLIP(nil, packet)
//	dec := osc.NewSLIPDecoder(limits.MaxFrameSize)
//	dec.Feed(received, func(packet []byte) { ... })
//
// Every frame is bracketed by the END marker (0xC0). END and ESC (0xDB)
// bytes inside the payload are replaced by ESC ESC_END and ESC ESC_ESC. A
// decoder that sees an invalid escape discards the frame and resynchronizes
// on the next END.
package osc
