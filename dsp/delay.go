package dsp

// MaxDelaySeconds bounds the input delay of a strip.
const MaxDelaySeconds = 2

// DelayLine delays every channel by a whole number of samples.
type DelayLine struct {
	lines [][]float32
	pos   int
	delay int
}

// NewDelayLine allocates MaxDelaySeconds of memory per channel.
func NewDelayLine(channels int, sampleRate float32) *DelayLine {
	size := int(MaxDelaySeconds*sampleRate) + 1
	if size < 1 {
		size = 1
	}
	d := &DelayLine{lines: make([][]float32, channels)}
	for i := range d.lines {
		d.lines[i] = make([]float32, size)
	}
	return d
}

// SetDelay sets the delay in samples, clamped to the allocated memory.
func (d *DelayLine) SetDelay(samples int) {
	if samples < 0 {
		samples = 0
	}
	if len(d.lines) > 0 && samples >= len(d.lines[0]) {
		samples = len(d.lines[0]) - 1
	}
	d.delay = samples
}

// Delay returns the delay in samples.
func (d *DelayLine) Delay() int { return d.delay }

// Process delays every channel in place.
func (d *DelayLine) Process(channels [][]float32) {
	if d.delay == 0 || len(d.lines) == 0 {
		return
	}
	size := len(d.lines[0])
	pos := d.pos
	for c, ch := range channels {
		if c >= len(d.lines) {
			break
		}
		line := d.lines[c]
		pos = d.pos
		for i, x := range ch {
			line[pos] = x
			read := pos - d.delay
			if read < 0 {
				read += size
			}
			ch[i] = line[read]
			pos++
			if pos == size {
				pos = 0
			}
		}
	}
	d.pos = pos
}

// Reset clears the delay memory.
func (d *DelayLine) Reset() {
	for _, l := range d.lines {
		clear(l)
	}
	d.pos = 0
}
