package feedback

import (
	"time"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

const (
	minDelayMs   = 0
	maxDelayMs   = 500
	minSemitones = -24
	maxSemitones = 24
	minBPM       = 40
	maxBPM       = 200
	minChoral    = 0.5
	maxChoral    = 2.0
)

// Config holds the signal-path constants and the defaults a stopped graph resets to.
type Config struct {
	Audio  ports.AudioConfig
	Output ports.OutputConfig

	SampleRate   int
	ChunkSamples int

	SmoothingWindow time.Duration
	MonitorInterval time.Duration

	DryLevel  float64
	WetLevel  float64
	FAFLevel  float64
	MeterGain float64

	MetronomeToneHz float64
	MetronomeGain   float64
	MetronomeDecay  time.Duration

	// CueBufferLimit bounds queued cue audio, in samples.
	CueBufferLimit int

	DefaultDelayMs    int
	DefaultSemitones  int
	DefaultBPM        int
	DefaultChoralRate float64
}

// DefaultConfig returns the graph tuning used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Audio:             ports.AudioConfig{SampleRate: 16000, Channels: 1},
		Output:            ports.OutputConfig{SampleRate: 16000, Channels: 1},
		SampleRate:        16000,
		ChunkSamples:      256,
		SmoothingWindow:   10 * time.Millisecond,
		MonitorInterval:   16 * time.Millisecond,
		DryLevel:          0,
		WetLevel:          1,
		FAFLevel:          1,
		MeterGain:         5,
		MetronomeToneHz:   1000,
		MetronomeGain:     0.3,
		MetronomeDecay:    50 * time.Millisecond,
		CueBufferLimit:    16000 * 2,
		DefaultDelayMs:    75,
		DefaultSemitones:  -6,
		DefaultBPM:        60,
		DefaultChoralRate: 1.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = d.ChunkSamples
	}
	if c.SmoothingWindow < 0 {
		c.SmoothingWindow = 0
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.MeterGain <= 0 {
		c.MeterGain = d.MeterGain
	}
	if c.MetronomeToneHz <= 0 {
		c.MetronomeToneHz = d.MetronomeToneHz
	}
	if c.MetronomeDecay <= 0 {
		c.MetronomeDecay = d.MetronomeDecay
	}
	if c.CueBufferLimit <= 0 {
		c.CueBufferLimit = c.SampleRate * 2
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = c.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = 1
	}
	if c.Output.SampleRate <= 0 {
		c.Output.SampleRate = c.SampleRate
	}
	if c.Output.Channels <= 0 {
		c.Output.Channels = 1
	}
	if c.DefaultBPM == 0 {
		c.DefaultBPM = d.DefaultBPM
	}
	if c.DefaultChoralRate == 0 {
		c.DefaultChoralRate = d.DefaultChoralRate
	}
	c.DefaultDelayMs = clampDelayMs(c.DefaultDelayMs)
	c.DefaultSemitones = clampSemitones(c.DefaultSemitones)
	c.DefaultBPM = clampBPM(c.DefaultBPM)
	c.DefaultChoralRate = clampChoralRate(c.DefaultChoralRate)
	return c
}

func (c Config) defaultState() domain.FeedbackGraphState {
	return domain.FeedbackGraphState{
		DAF:       domain.DAFSettings{DelayMs: c.DefaultDelayMs},
		FAF:       domain.FAFSettings{Semitones: c.DefaultSemitones},
		Metronome: domain.MetronomeSettings{BPM: c.DefaultBPM},
		Choral:    domain.ChoralSettings{Rate: c.DefaultChoralRate},
	}
}

// smoothingSamples converts the smoothing window to a sample count.
func (c Config) smoothingSamples() int {
	return int(c.SmoothingWindow.Seconds() * float64(c.SampleRate))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDelayMs(ms int) int { return clampInt(ms, minDelayMs, maxDelayMs) }

func clampSemitones(n int) int { return clampInt(n, minSemitones, maxSemitones) }

func clampBPM(bpm int) int { return clampInt(bpm, minBPM, maxBPM) }

func clampChoralRate(rate float64) float64 {
	if rate != rate || rate < minChoral {
		return minChoral
	}
	if rate > maxChoral {
		return maxChoral
	}
	return rate
}
