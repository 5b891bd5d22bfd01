package feedback

import "math"

// rampedParam moves linearly toward its target over a fixed number of samples
// and lands on the target exactly.
type rampedParam struct {
	current   float64
	target    float64
	step      float64
	remaining int
	window    int
}

func newRampedParam(value float64, window int) rampedParam {
	return rampedParam{current: value, target: value, window: window}
}

func (p *rampedParam) setTarget(v float64) {
	p.target = v
	if p.window <= 0 {
		p.current = v
		p.remaining = 0
		return
	}
	p.remaining = p.window
	p.step = (v - p.current) / float64(p.window)
}

func (p *rampedParam) next() float64 {
	if p.remaining > 0 {
		p.remaining--
		if p.remaining == 0 {
			p.current = p.target
		} else {
			p.current += p.step
		}
	}
	return p.current
}

// delayLine is a circular buffer read with linear interpolation at a fractional delay.
type delayLine struct {
	buf   []float64
	write int
}

func newDelayLine(maxDelaySamples int) *delayLine {
	return &delayLine{buf: make([]float64, maxDelaySamples+2)}
}

func (d *delayLine) process(in float64, delaySamples float64) float64 {
	size := len(d.buf)
	d.buf[d.write] = in

	maxDelay := float64(size - 2)
	if delaySamples < 0 {
		delaySamples = 0
	} else if delaySamples > maxDelay {
		delaySamples = maxDelay
	}

	pos := float64(d.write) - delaySamples
	if pos < 0 {
		pos += float64(size)
	}
	i0 := int(pos)
	frac := pos - float64(i0)
	i1 := (i0 + 1) % size
	out := d.buf[i0]*(1-frac) + d.buf[i1]*frac

	d.write = (d.write + 1) % size
	return out
}

// metronome generates decaying sine ticks positioned on the sample clock.
type metronome struct {
	sampleRate float64
	toneHz     float64
	gain       float64
	decay      float64
	toneLen    int

	enabled        bool
	samplesPerBeat float64
	nextTick       float64
	tonePos        int
}

func newMetronome(sampleRate int, toneHz, gain float64, decaySeconds float64) metronome {
	toneLen := int(decaySeconds * float64(sampleRate))
	if toneLen < 1 {
		toneLen = 1
	}
	return metronome{
		sampleRate: float64(sampleRate),
		toneHz:     toneHz,
		gain:       gain,
		// amplitude reaches 1e-3 at the end of the decay window
		decay:   math.Pow(1e-3, 1/float64(toneLen)),
		toneLen: toneLen,
		tonePos: -1,
	}
}

// configure (re)starts the tick generator; the first tick lands on clock.
func (m *metronome) configure(enabled bool, bpm int, clock uint64) {
	m.enabled = enabled
	m.samplesPerBeat = m.sampleRate * 60 / float64(bpm)
	m.nextTick = float64(clock)
}

func (m *metronome) next(clock uint64) float64 {
	if m.enabled && float64(clock) >= m.nextTick {
		m.tonePos = 0
		m.nextTick += m.samplesPerBeat
	}
	if m.tonePos < 0 {
		return 0
	}
	t := float64(m.tonePos) / m.sampleRate
	v := math.Sin(2*math.Pi*m.toneHz*t) * m.gain * math.Pow(m.decay, float64(m.tonePos))
	m.tonePos++
	if m.tonePos >= m.toneLen {
		m.tonePos = -1
	}
	return v
}

// PitchShiftStage is the FAF extension point. Process transforms a buffer in
// place. The FAF branch is mixed in only while Active reports true.
type PitchShiftStage interface {
	SetSemitones(n int)
	Process(samples []float64)
	Reset()
	Active() bool
}

// PassthroughPitch stands in until a real shifter is plugged in. It is never
// active, so enabling FAF leaves the output unchanged.
type PassthroughPitch struct{}

func (PassthroughPitch) SetSemitones(int) {}

func (PassthroughPitch) Process([]float64) {}

func (PassthroughPitch) Reset() {}

func (PassthroughPitch) Active() bool { return false }
