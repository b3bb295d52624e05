package osc

// SLIP special bytes (RFC 1055).
const (
	SLIPEnd    byte = 0xC0
	SLIPEsc    byte = 0xDB
	SLIPEscEnd byte = 0xDC
	SLIPEscEsc byte = 0xDD
)

// EncodeSLIP appends the framed form of payload to dst and returns it.
// The frame starts and ends with SLIPEnd so a receiver that joined mid-stream
// resynchronizes at the first marker.
func EncodeSLIP(dst, payload []byte) []byte {
	dst = append(dst, SLIPEnd)
	for _, b := range payload {
		switch b {
		case SLIPEnd:
			dst = append(dst, SLIPEsc, SLIPEscEnd)
		case SLIPEsc:
			dst = append(dst, SLIPEsc, SLIPEscEsc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, SLIPEnd)
}

// SLIPDecoder reassembles frames from an unframed byte stream.
// A decoder holds per-stream state; use one per connection.
type SLIPDecoder struct {
	buf      []byte
	maxFrame int
	escaped  bool
	discard  bool
	dropped  uint64
}

// NewSLIPDecoder creates a decoder that discards frames larger than maxFrame.
func NewSLIPDecoder(maxFrame int) *SLIPDecoder {
	return &SLIPDecoder{maxFrame: maxFrame}
}

// Feed consumes stream bytes and calls emit for every complete frame.
// The slice passed to emit is owned by the callee.
func (d *SLIPDecoder) Feed(data []byte, emit func(frame []byte)) {
	for _, b := range data {
		if b == SLIPEnd {
			if !d.discard && !d.escaped && len(d.buf) > 0 {
				frame := make([]byte, len(d.buf))
				copy(frame, d.buf)
				emit(frame)
			} else if d.escaped {
				d.dropped++
			}
			d.buf = d.buf[:0]
			d.escaped = false
			d.discard = false
			continue
		}
		if d.discard {
			continue
		}

		if d.escaped {
			d.escaped = false
			switch b {
			case SLIPEscEnd:
				b = SLIPEnd
			case SLIPEscEsc:
				b = SLIPEsc
			default:
				d.dropFrame()
				continue
			}
		} else if b == SLIPEsc {
			d.escaped = true
			continue
		}

		if len(d.buf) >= d.maxFrame {
			d.dropFrame()
			continue
		}
		d.buf = append(d.buf, b)
	}
}

func (d *SLIPDecoder) dropFrame() {
	d.discard = true
	d.dropped++
	d.buf = d.buf[:0]
}

// Dropped returns the number of frames discarded because of an invalid
// escape sequence or an oversized payload.
func (d *SLIPDecoder) Dropped() uint64 {
	return d.dropped
}
