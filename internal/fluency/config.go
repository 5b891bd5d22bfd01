package fluency

import (
	"time"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

// Config holds the engine's thresholds and score weights. None of these are
// clinically validated; they are tuning knobs.
type Config struct {
	Streaming ports.StreamingConfig

	// SilenceGap is the minimum pause between segments that is recorded as a gap.
	SilenceGap time.Duration
	// BlockGap is the pause length counted as a block in the fluency score.
	BlockGap time.Duration
	// MinElapsed suppresses the speaking rate early in a session.
	MinElapsed time.Duration

	SnapshotInterval time.Duration
	RestartDelay     time.Duration
	DrainTimeout     time.Duration
	AudioQueue       int

	DisfluencyWeight  float64
	DisfluencyPenalty float64
	BlockWeight       float64
	BlockPenalty      float64

	// EffortReference is the RMS energy that maps to full vocal effort.
	EffortReference float64

	// Fillers lists interjections; entries may be one or two words.
	Fillers []string
}

func DefaultConfig() Config {
	return Config{
		Streaming: ports.StreamingConfig{
			SampleRate:     16000,
			Channels:       1,
			Encoding:       "linear16",
			InterimResults: true,
		},
		SilenceGap:        800 * time.Millisecond,
		BlockGap:          1500 * time.Millisecond,
		MinElapsed:        3 * time.Second,
		SnapshotInterval:  2 * time.Second,
		RestartDelay:      250 * time.Millisecond,
		DrainTimeout:      2 * time.Second,
		AudioQueue:        128,
		DisfluencyWeight:  5,
		DisfluencyPenalty: 60,
		BlockWeight:       8,
		BlockPenalty:      20,
		EffortReference:   0.25,
		Fillers:           DefaultFillers(),
	}
}

// DefaultFillers is the built-in interjection lexicon.
func DefaultFillers() []string {
	return []string{
		"um", "uh", "er", "ah", "hmm", "mm",
		"like", "basically", "actually", "literally",
		"you know", "i mean", "kind of", "sort of",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SilenceGap <= 0 {
		c.SilenceGap = d.SilenceGap
	}
	if c.BlockGap <= 0 {
		c.BlockGap = d.BlockGap
	}
	if c.MinElapsed <= 0 {
		c.MinElapsed = d.MinElapsed
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.AudioQueue <= 0 {
		c.AudioQueue = d.AudioQueue
	}
	if c.DisfluencyWeight <= 0 {
		c.DisfluencyWeight = d.DisfluencyWeight
	}
	if c.DisfluencyPenalty <= 0 {
		c.DisfluencyPenalty = d.DisfluencyPenalty
	}
	if c.BlockWeight <= 0 {
		c.BlockWeight = d.BlockWeight
	}
	if c.BlockPenalty <= 0 {
		c.BlockPenalty = d.BlockPenalty
	}
	if c.EffortReference <= 0 {
		c.EffortReference = d.EffortReference
	}
	if len(c.Fillers) == 0 {
		c.Fillers = d.Fillers
	}
	if c.Streaming.SampleRate <= 0 {
		c.Streaming = d.Streaming
	}
	return c
}
