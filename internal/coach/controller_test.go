package coach

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/RamCali/stutterlab-sub000/internal/cues"
	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingPlayer struct {
	played []domain.CueKind
	mute   bool
}

func (p *recordingPlayer) PlayAt(kind domain.CueKind, _ time.Time) bool {
	if p.mute {
		return false
	}
	p.played = append(p.played, kind)
	return true
}

func newTestController(cfg Config) (*Controller, *recordingPlayer, *manualClock, *[]domain.CueKind) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	player := &recordingPlayer{}
	c := NewController(cfg, player, WithClock(clock.Now))
	var notified []domain.CueKind
	c.OnCue(func(kind domain.CueKind) { notified = append(notified, kind) })
	return c, player, clock, &notified
}

func snapshot(rate, effort float64) domain.SpeechMetricsSnapshot {
	return domain.SpeechMetricsSnapshot{SpeakingRateSylPerMin: rate, VocalEffort: effort}
}

func TestSustainedRelaxedPaceEarnsPositive(t *testing.T) {
	t.Parallel()

	c, player, clock, notified := newTestController(DefaultConfig())

	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)
		c.MetricsSnapshot(snapshot(130, 0.2))
	}
	assert.Equal(t, []domain.CueKind{domain.CuePositive}, player.played)
	assert.Equal(t, player.played, *notified)
	assert.Equal(t, 3, c.TechniqueCounts()[domain.TechniquePacing])
}

func TestTensionAndFastRateWarn(t *testing.T) {
	t.Parallel()

	c, player, clock, _ := newTestController(DefaultConfig())

	c.MetricsSnapshot(snapshot(130, 0.9))
	clock.Advance(4 * time.Second)
	c.MetricsSnapshot(snapshot(210, 0.2))
	assert.Equal(t, []domain.CueKind{domain.CueWarning, domain.CueWarning}, player.played)
}

func TestBlockGapPromptsBreathe(t *testing.T) {
	t.Parallel()

	c, player, _, _ := newTestController(DefaultConfig())

	c.SilenceGap(time.Second, 0)
	assert.Empty(t, player.played)
	assert.Equal(t, 1, c.TechniqueCounts()[domain.TechniquePausing])

	c.SilenceGap(2*time.Second, 0)
	assert.Equal(t, []domain.CueKind{domain.CueBreathe}, player.played)
}

func TestCooldownDropsRequests(t *testing.T) {
	t.Parallel()

	c, player, clock, notified := newTestController(DefaultConfig())

	c.SilenceGap(2*time.Second, 0)
	clock.Advance(time.Second)
	c.MetricsSnapshot(snapshot(130, 0.95))
	clock.Advance(1500 * time.Millisecond)
	c.SilenceGap(3*time.Second, 0)
	assert.Equal(t, []domain.CueKind{domain.CueBreathe}, player.played)

	clock.Advance(500 * time.Millisecond)
	c.MetricsSnapshot(snapshot(130, 0.95))
	assert.Equal(t, []domain.CueKind{domain.CueBreathe, domain.CueWarning}, player.played)
	assert.Equal(t, player.played, *notified)
}

func TestKeepGoingAfterDisfluencyFreeStretch(t *testing.T) {
	t.Parallel()

	c, player, clock, _ := newTestController(DefaultConfig())

	clock.Advance(20 * time.Second)
	c.SegmentProcessed(domain.TranscriptSegment{IsFinal: true, Disfluencies: []domain.Disfluency{{Type: domain.DisfluencyRepetition}}})
	clock.Advance(20 * time.Second)
	c.MetricsSnapshot(snapshot(80, 0.5))
	assert.Empty(t, player.played)

	clock.Advance(11 * time.Second)
	c.MetricsSnapshot(snapshot(80, 0.5))
	assert.Equal(t, []domain.CueKind{domain.CueKeepGoing}, player.played)

	clock.Advance(10 * time.Second)
	c.MetricsSnapshot(snapshot(80, 0.5))
	assert.Len(t, player.played, 1, "encouragement is periodic, not every snapshot")
}

func TestInterimDisfluenciesDoNotResetEncouragement(t *testing.T) {
	t.Parallel()

	c, player, clock, _ := newTestController(DefaultConfig())

	clock.Advance(29 * time.Second)
	c.SegmentProcessed(domain.TranscriptSegment{IsFinal: false, Disfluencies: []domain.Disfluency{{Type: domain.DisfluencyInterjection}}})
	clock.Advance(2 * time.Second)
	c.MetricsSnapshot(snapshot(0, 0))
	assert.Equal(t, []domain.CueKind{domain.CueKeepGoing}, player.played)
}

func TestGentleOnsetCountedAfterPause(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestController(DefaultConfig())

	c.MetricsSnapshot(snapshot(120, 0.2))
	assert.Zero(t, c.TechniqueCounts()[domain.TechniqueGentleOnset])

	c.SilenceGap(900*time.Millisecond, 0)
	c.MetricsSnapshot(snapshot(120, 0.2))
	c.MetricsSnapshot(snapshot(120, 0.2))
	assert.Equal(t, 1, c.TechniqueCounts()[domain.TechniqueGentleOnset])

	c.SilenceGap(900*time.Millisecond, 0)
	c.MetricsSnapshot(snapshot(120, 0.6))
	assert.Equal(t, 1, c.TechniqueCounts()[domain.TechniqueGentleOnset])
}

func TestTechniqueCountsAreCopiesAndReset(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestController(DefaultConfig())
	c.SilenceGap(time.Second, 0)

	counts := c.TechniqueCounts()
	counts[domain.TechniquePausing] = 99
	assert.Equal(t, 1, c.TechniqueCounts()[domain.TechniquePausing])

	c.Reset()
	assert.Empty(t, c.TechniqueCounts())
}

func TestMutedPlayerDoesNotNotify(t *testing.T) {
	t.Parallel()

	c, player, _, notified := newTestController(DefaultConfig())
	player.mute = true

	c.SilenceGap(5*time.Second, 0)
	assert.Empty(t, *notified)

	// the refused cue did not start a cooldown
	player.mute = false
	c.SilenceGap(5*time.Second, 0)
	assert.Equal(t, []domain.CueKind{domain.CueBreathe}, *notified)
}

type countingSink struct{ played int }

func (s *countingSink) PlayCue([]float64) error {
	s.played++
	return nil
}

func TestSynthesizerAcceptsCueAtCooldownBoundary(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	clock := &manualClock{now: time.Unix(1000, 0)}
	sink := &countingSink{}
	synth := cues.NewSynthesizer(cues.Config{Cooldown: cues.TrailingCooldown(cfg.Cooldown)}, sink,
		cues.WithClock(clock.Now))
	c := NewController(cfg, synth, WithClock(clock.Now))
	var notified []domain.CueKind
	c.OnCue(func(kind domain.CueKind) { notified = append(notified, kind) })

	for i := 0; i < 5; i++ {
		c.SilenceGap(5*time.Second, 0)
		clock.Advance(cfg.Cooldown)
	}

	assert.Len(t, notified, 5)
	assert.Equal(t, 5, sink.played)
}

func TestCooldownInvariant(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		clock := &manualClock{now: time.Unix(0, 0)}
		var fired []time.Time
		c := NewController(cfg, nil, WithClock(clock.Now))
		c.OnCue(func(domain.CueKind) { fired = append(fired, clock.now) })

		n := rapid.IntRange(1, 50).Draw(rt, "events")
		for i := 0; i < n; i++ {
			clock.Advance(time.Duration(rapid.Int64Range(0, int64(4*time.Second)).Draw(rt, "advance")))
			switch rapid.IntRange(0, 2).Draw(rt, "kind") {
			case 0:
				c.SilenceGap(time.Duration(rapid.Int64Range(0, int64(3*time.Second)).Draw(rt, "gap")), 0)
			default:
				c.MetricsSnapshot(snapshot(
					rapid.Float64Range(0, 250).Draw(rt, "rate"),
					rapid.Float64Range(0, 1).Draw(rt, "effort"),
				))
			}
		}
		for i := 1; i < len(fired); i++ {
			require.GreaterOrEqual(rt, fired[i].Sub(fired[i-1]), cfg.Cooldown)
		}
	})
}
