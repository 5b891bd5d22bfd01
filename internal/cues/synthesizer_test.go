package cues

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

type recordingSink struct {
	played [][]float64
	err    error
}

func (r *recordingSink) PlayCue(samples []float64) error {
	if r.err != nil {
		return r.err
	}
	r.played = append(r.played, samples)
	return nil
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func TestRenderLengthsAndPeaks(t *testing.T) {
	t.Parallel()

	s := NewSynthesizer(DefaultConfig(), nil)

	tests := []struct {
		kind    domain.CueKind
		samples int
		maxPeak float64
	}{
		{kind: domain.CuePositive, samples: 4000, maxPeak: 0.16},
		{kind: domain.CueWarning, samples: 4000, maxPeak: 0.15},
		{kind: domain.CueBreathe, samples: 11200, maxPeak: 0.15},
		{kind: domain.CueKeepGoing, samples: 2400, maxPeak: 0.09},
	}
	for _, tt := range tests {
		out := s.Render(tt.kind)
		require.Len(t, out, tt.samples, tt.kind)
		peak := 0.0
		for _, v := range out {
			peak = math.Max(peak, math.Abs(v))
		}
		assert.Greater(t, peak, 0.0, tt.kind)
		assert.LessOrEqual(t, peak, tt.maxPeak+1e-9, tt.kind)
		assert.InDelta(t, 0, out[0], 1e-9, "tones start silent: %s", tt.kind)
	}

	assert.Nil(t, s.Render(domain.CueKind("fanfare")))
}

func TestPositiveCueHasTwoTones(t *testing.T) {
	t.Parallel()

	s := NewSynthesizer(DefaultConfig(), nil)
	out := s.Render(domain.CuePositive)

	// 120 ms into the cue the second tone starts while the first is still releasing
	firstOnly := out[:1920]
	overlap := out[1920:2080]
	assert.Greater(t, rms(firstOnly), 0.0)
	assert.Greater(t, rms(overlap), 0.0)
	assert.Greater(t, rms(out[2080:]), 0.0)
}

func TestPlayRespectsCooldown(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Unix(1000, 0)}
	sink := &recordingSink{}
	s := NewSynthesizer(DefaultConfig(), sink, WithClock(clock.Now))

	assert.True(t, s.Play(domain.CuePositive))
	clock.now = clock.now.Add(time.Second)
	assert.False(t, s.Play(domain.CueWarning))
	clock.now = clock.now.Add(2 * time.Second)
	assert.True(t, s.Play(domain.CueBreathe))
	assert.Len(t, sink.played, 2)
}

func TestCooldownInvariant(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		cooldown := 3 * time.Second
		clock := &manualClock{now: time.Unix(0, 0)}
		sink := &recordingSink{}
		s := NewSynthesizer(Config{Cooldown: cooldown}, sink, WithClock(clock.Now))

		var fired []time.Time
		n := rapid.IntRange(1, 40).Draw(rt, "requests")
		for i := 0; i < n; i++ {
			clock.now = clock.now.Add(time.Duration(rapid.Int64Range(0, int64(5*time.Second)).Draw(rt, "gap")))
			if s.Play(domain.CueKeepGoing) {
				fired = append(fired, clock.now)
			}
		}
		for i := 1; i < len(fired); i++ {
			if fired[i].Sub(fired[i-1]) < cooldown {
				rt.Fatalf("cues %v apart, cooldown %v", fired[i].Sub(fired[i-1]), cooldown)
			}
		}
		if len(sink.played) != len(fired) {
			rt.Fatalf("sink saw %d cues, fired %d", len(sink.played), len(fired))
		}
	})
}

func TestPlaySinkFailure(t *testing.T) {
	t.Parallel()

	s := NewSynthesizer(DefaultConfig(), &recordingSink{err: errors.New("not running")})
	assert.False(t, s.Play(domain.CuePositive))
}

func TestVolumeIsConfigurable(t *testing.T) {
	t.Parallel()

	quiet := NewSynthesizer(Config{Volume: 0.05}, nil).Render(domain.CueWarning)
	loud := NewSynthesizer(Config{Volume: 0.3}, nil).Render(domain.CueWarning)
	assert.InDelta(t, 6.0, rms(loud)/rms(quiet), 1e-6)
}

func rms(samples []float64) float64 {
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestTrailingCooldown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2950*time.Millisecond, TrailingCooldown(3*time.Second))
	assert.Equal(t, 40*time.Millisecond, TrailingCooldown(80*time.Millisecond))
}

func TestPlayAtUsesCallerClock(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Unix(0, 0)}
	s := NewSynthesizer(DefaultConfig(), &recordingSink{}, WithClock(clock.Now))

	at := time.Unix(500, 0)
	assert.True(t, s.PlayAt(domain.CuePositive, at))
	assert.False(t, s.PlayAt(domain.CueWarning, at.Add(time.Second)))
	assert.True(t, s.PlayAt(domain.CueWarning, at.Add(4*time.Second)))
}
