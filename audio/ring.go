package audio

import (
	"sync/atomic"
)

// RingBuffer is a lock-free single-producer single-consumer queue of
// samples. One goroutine may call Write and Free while another calls Read
// and Len; neither blocks.
type RingBuffer struct {
	buf  []float32
	mask uint64
	// Monotonic counters; their difference is the occupancy.
	write atomic.Uint64
	read  atomic.Uint64
}

// NewRingBuffer creates a ring holding at least capacity samples. The
// capacity is rounded up to a power of two.
func NewRingBuffer(capacity int) *RingBuffer {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &RingBuffer{buf: make([]float32, size), mask: uint64(size - 1)}
}

// Cap returns the capacity in samples.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Len returns the number of samples ready to read.
func (r *RingBuffer) Len() int {
	return int(r.write.Load() - r.read.Load())
}

// Free returns the number of samples that can be written.
func (r *RingBuffer) Free() int {
	return len(r.buf) - r.Len()
}

// Write appends all of p, or nothing when it does not fit. It reports
// whether the samples were written.
func (r *RingBuffer) Write(p []float32) bool {
	w := r.write.Load()
	if len(p) > len(r.buf)-int(w-r.read.Load()) {
		return false
	}
	start := int(w & r.mask)
	n := copy(r.buf[start:], p)
	copy(r.buf, p[n:])
	r.write.Store(w + uint64(len(p)))
	return true
}

// Read moves up to len(p) samples into p and returns how many were read.
func (r *RingBuffer) Read(p []float32) int {
	rd := r.read.Load()
	avail := int(r.write.Load() - rd)
	if avail < len(p) {
		p = p[:avail]
	}
	start := int(rd & r.mask)
	n := copy(p, r.buf[start:])
	copy(p[n:], r.buf)
	r.read.Store(rd + uint64(len(p)))
	return len(p)
}

// Discard drops up to n samples from the read side.
func (r *RingBuffer) Discard(n int) int {
	rd := r.read.Load()
	avail := int(r.write.Load() - rd)
	if n > avail {
		n = avail
	}
	r.read.Store(rd + uint64(n))
	return n
}

// WriteSilence appends n zero samples, or nothing when they do not fit.
func (r *RingBuffer) WriteSilence(n int) bool {
	w := r.write.Load()
	if n > len(r.buf)-int(w-r.read.Load()) {
		return false
	}
	start := int(w & r.mask)
	if end := start + n; end <= len(r.buf) {
		clear(r.buf[start:end])
	} else {
		clear(r.buf[start:])
		clear(r.buf[:end-len(r.buf)])
	}
	r.write.Store(w + uint64(n))
	return true
}

// Frames is one ring per channel of a multi-channel stream. Write
// publishes channel 0 last and Len is the shortest ring, so a reader that
// sizes its reads by Len never sees a frame on some channels only.
type Frames []*RingBuffer

// NewFrames creates channels rings of at least capacity samples each.
func NewFrames(channels, capacity int) Frames {
	f := make(Frames, channels)
	for c := range f {
		f[c] = NewRingBuffer(capacity)
	}
	return f
}

// Len returns the number of whole frames ready on every channel.
func (f Frames) Len() int {
	n := 0
	for c, r := range f {
		if l := r.Len(); c == 0 || l < n {
			n = l
		}
	}
	return n
}

// Free returns the number of frames every channel can take.
func (f Frames) Free() int {
	n := 0
	for c, r := range f {
		if l := r.Free(); c == 0 || l < n {
			n = l
		}
	}
	return n
}

// Write appends the first frames samples of every channel of block, with
// silence for channels block does not have. Nothing is written when the
// frames do not fit on every channel.
func (f Frames) Write(block [][]float32, frames int) bool {
	if frames > f.Free() {
		return false
	}
	for c := len(f) - 1; c >= 0; c-- {
		if c < len(block) {
			f[c].Write(block[c][:frames])
		} else {
			f[c].WriteSilence(frames)
		}
	}
	return true
}
