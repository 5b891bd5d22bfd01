// Package cues renders short non-verbal coaching tones.
package cues

import (
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/metrics"
)

// Sink receives rendered cue audio; the feedback graph's cue bus in production.
type Sink interface {
	PlayCue(samples []float64) error
}

type Config struct {
	SampleRate int
	Volume     float64
	Cooldown   time.Duration
	// Attack is the linear fade-in applied to every tone.
	Attack time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		Volume:     0.15,
		Cooldown:   3 * time.Second,
		Attack:     5 * time.Millisecond,
	}
}

// trailingSlack keeps a trailing limiter clear of float rounding at the
// upstream cooldown boundary.
const trailingSlack = 50 * time.Millisecond

// TrailingCooldown returns the limiter interval for a synthesizer fed by a
// caller that already enforces upstream. It stays just under upstream so a cue
// the caller admitted at the boundary is not refused here.
func TrailingCooldown(upstream time.Duration) time.Duration {
	if upstream <= 2*trailingSlack {
		return upstream / 2
	}
	return upstream - trailingSlack
}

// Synthesizer renders cue tones and enforces its own cooldown.
type Synthesizer struct {
	cfg     Config
	sink    Sink
	limiter *rate.Limiter
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

type Option func(*Synthesizer)

func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

func NewSynthesizer(cfg Config, sink Sink, opts ...Option) *Synthesizer {
	d := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.Volume <= 0 {
		cfg.Volume = d.Volume
	}
	if cfg.Volume > 1 {
		cfg.Volume = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Attack <= 0 {
		cfg.Attack = d.Attack
	}

	s := &Synthesizer{
		cfg:     cfg,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "cues"))
	return s
}

// Play renders kind and sends it to the sink unless a cue played within the
// cooldown. It reports whether the cue was rendered.
func (s *Synthesizer) Play(kind domain.CueKind) bool {
	return s.PlayAt(kind, s.now())
}

// PlayAt is Play with the caller's clock reading, so a caller that made its own
// cooldown decision at the same instant sees the same time here.
func (s *Synthesizer) PlayAt(kind domain.CueKind, at time.Time) bool {
	if !s.limiter.AllowN(at, 1) {
		s.metrics.CueSuppressed(kind)
		return false
	}
	samples := s.Render(kind)
	if len(samples) == 0 {
		return false
	}
	if s.sink != nil {
		if err := s.sink.PlayCue(samples); err != nil {
			s.logger.Debug("cue not played", zap.String("kind", string(kind)), zap.Error(err))
			return false
		}
	}
	s.metrics.CueFired(kind)
	return true
}

// Render returns the tone for kind at the configured sample rate and volume.
func (s *Synthesizer) Render(kind domain.CueKind) []float64 {
	switch kind {
	case domain.CuePositive:
		out := make([]float64, s.samples(250*time.Millisecond))
		s.addTone(out, 0, 523, 523, 130*time.Millisecond, 1, s.cfg.Attack)
		s.addTone(out, s.samples(120*time.Millisecond), 659, 659, 130*time.Millisecond, 1, s.cfg.Attack)
		return out
	case domain.CueWarning:
		out := make([]float64, s.samples(250*time.Millisecond))
		s.addTone(out, 0, 440, 349, 250*time.Millisecond, 1, s.cfg.Attack)
		return out
	case domain.CueBreathe:
		out := make([]float64, s.samples(700*time.Millisecond))
		s.addTone(out, 0, 392, 330, 700*time.Millisecond, 1, 50*time.Millisecond)
		return out
	case domain.CueKeepGoing:
		out := make([]float64, s.samples(150*time.Millisecond))
		s.addTone(out, 0, 587, 587, 150*time.Millisecond, 0.6, s.cfg.Attack)
		return out
	}
	return nil
}

func (s *Synthesizer) samples(d time.Duration) int {
	return int(math.Round(d.Seconds() * float64(s.cfg.SampleRate)))
}

// addTone mixes a linearly swept sine into out starting at offset. The envelope
// rises over attack and falls linearly to silence over the rest of the tone.
func (s *Synthesizer) addTone(out []float64, offset int, fromHz, toHz float64, d time.Duration, gain float64, attack time.Duration) {
	n := s.samples(d)
	attackN := s.samples(attack)
	if attackN < 1 {
		attackN = 1
	}
	if attackN > n/2 {
		attackN = n / 2
	}
	releaseN := n - attackN
	sr := float64(s.cfg.SampleRate)
	amp := s.cfg.Volume * gain

	phase := 0.0
	for i := 0; i < n && offset+i < len(out); i++ {
		progress := float64(i) / float64(n)
		freq := fromHz + (toHz-fromHz)*progress
		phase += 2 * math.Pi * freq / sr

		var env float64
		if i < attackN {
			env = float64(i) / float64(attackN)
		} else {
			env = float64(n-i) / float64(releaseN)
		}
		out[offset+i] += amp * env * math.Sin(phase)
	}
}
