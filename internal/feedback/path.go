package feedback

import (
	"math"
	"sync"

	"github.com/RamCali/stutterlab-sub000/internal/audio"
	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

// signalPath mixes the dry, delayed, pitch-shifted, metronome and cue branches.
// Parameter changes and processing are serialized by mu.
type signalPath struct {
	mu sync.Mutex

	samplesPerMs float64
	clock        uint64

	dryLevel float64
	wetLevel float64
	fafLevel float64

	dry     rampedParam
	dafWet  rampedParam
	delayMs rampedParam
	fafWet  rampedParam

	delay     *delayLine
	pitch     PitchShiftStage
	pitched   []float64
	metronome metronome

	cue      []float64
	cueLimit int
}

func newSignalPath(cfg Config, pitch PitchShiftStage, state domain.FeedbackGraphState) *signalPath {
	window := cfg.smoothingSamples()
	if pitch == nil {
		pitch = PassthroughPitch{}
	}
	pitch.Reset()

	p := &signalPath{
		samplesPerMs: float64(cfg.SampleRate) / 1000,
		dryLevel:     cfg.DryLevel,
		wetLevel:     cfg.WetLevel,
		fafLevel:     cfg.FAFLevel,
		dry:          newRampedParam(cfg.DryLevel, window),
		dafWet:       newRampedParam(0, window),
		delayMs:      newRampedParam(0, window),
		fafWet:       newRampedParam(0, window),
		delay:        newDelayLine(maxDelayMs * cfg.SampleRate / 1000),
		pitch:        pitch,
		metronome: newMetronome(cfg.SampleRate, cfg.MetronomeToneHz, cfg.MetronomeGain,
			cfg.MetronomeDecay.Seconds()),
		cueLimit: cfg.CueBufferLimit,
	}
	if state.DAF.Enabled {
		p.dafWet = newRampedParam(p.wetLevel, window)
		p.delayMs = newRampedParam(float64(state.DAF.DelayMs), window)
	}
	if state.FAF.Enabled {
		p.fafWet = newRampedParam(p.fafLevel, window)
	}
	p.pitch.SetSemitones(state.FAF.Semitones)
	p.metronome.configure(state.Metronome.Enabled, state.Metronome.BPM, 0)
	return p
}

// setDAF ramps the wet gain and the delay time together; disabled drives both to 0.
func (p *signalPath) setDAF(settings domain.DAFSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if settings.Enabled {
		p.dafWet.setTarget(p.wetLevel)
		p.delayMs.setTarget(float64(settings.DelayMs))
		return
	}
	p.dafWet.setTarget(0)
	p.delayMs.setTarget(0)
}

func (p *signalPath) setFAF(settings domain.FAFSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pitch.SetSemitones(settings.Semitones)
	if settings.Enabled {
		p.fafWet.setTarget(p.fafLevel)
		return
	}
	p.fafWet.setTarget(0)
}

func (p *signalPath) setMetronome(settings domain.MetronomeSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metronome.configure(settings.Enabled, settings.BPM, p.clock)
}

// queueCue overlays samples onto the pending cue audio.
func (p *signalPath) queueCue(samples []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(samples) > p.cueLimit {
		samples = samples[:p.cueLimit]
	}
	for i, s := range samples {
		if i < len(p.cue) {
			p.cue[i] += s
			continue
		}
		p.cue = append(p.cue, s)
	}
}

func (p *signalPath) process(in, out []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	shifting := p.pitch.Active()
	var pitched []float64
	if shifting {
		if cap(p.pitched) < len(in) {
			p.pitched = make([]float64, len(in))
		}
		pitched = p.pitched[:len(in)]
		copy(pitched, in)
		p.pitch.Process(pitched)
	}

	for i, x := range in {
		mix := p.dry.next() * x
		delayed := p.delay.process(x, p.delayMs.next()*p.samplesPerMs)
		mix += p.dafWet.next() * delayed
		fafGain := p.fafWet.next()
		if shifting {
			mix += fafGain * pitched[i]
		}
		mix += p.metronome.next(p.clock)
		if len(p.cue) > 0 {
			mix += p.cue[0]
			p.cue = p.cue[1:]
		}
		out[i] = mix
		p.clock++
	}
	if len(p.cue) == 0 {
		p.cue = nil
	}
}

func (p *signalPath) wetGain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dafWet.current
}

// meter keeps the latest analysis buffer for level and energy reads.
type meter struct {
	mu   sync.Mutex
	last []float64
	gain float64
}

func newMeter(gain float64) *meter {
	return &meter{gain: gain}
}

func (m *meter) observe(samples []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = append(m.last[:0], samples...)
}

func (m *meter) level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Min(1, audio.RMS(m.last)*m.gain)
}

func (m *meter) energy() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.last))
	for i, s := range m.last {
		out[i] = math.Abs(s)
	}
	return out
}

func (m *meter) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = m.last[:0]
}
