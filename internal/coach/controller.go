// Package coach turns engine metrics and events into sparse coaching cues.
package coach

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/metrics"
)

// Config enumerates the zone boundaries the cue policy works from.
type Config struct {
	// RateMin and RateMax bound the target speaking rate in syllables per minute.
	RateMin float64
	RateMax float64
	// LowEffortMax is the highest vocal effort that still counts as relaxed.
	LowEffortMax float64
	// TensionSpike is the vocal effort treated as tension.
	TensionSpike float64
	// PauseMin is the shortest gap counted as a deliberate pause.
	PauseMin time.Duration
	// BlockGap is the gap length that prompts a breathe cue.
	BlockGap time.Duration
	// SustainSnapshots is how many consecutive relaxed, on-pace snapshots earn a positive cue.
	SustainSnapshots int
	// EncourageAfter is the disfluency-free interval before a keep-going cue.
	EncourageAfter time.Duration
	Cooldown       time.Duration
}

func DefaultConfig() Config {
	return Config{
		RateMin:          100,
		RateMax:          170,
		LowEffortMax:     0.35,
		TensionSpike:     0.75,
		PauseMin:         800 * time.Millisecond,
		BlockGap:         1500 * time.Millisecond,
		SustainSnapshots: 3,
		EncourageAfter:   30 * time.Second,
		Cooldown:         3 * time.Second,
	}
}

// Player renders a cue and reports whether it was audible. at is the clock
// reading the controller used for its own cooldown decision.
type Player interface {
	PlayAt(kind domain.CueKind, at time.Time) bool
}

// Controller is the Coaching Cue Controller. It never touches the graph or the
// engine; it only owns its cooldown timestamp and technique counters.
type Controller struct {
	cfg     Config
	player  Player
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector

	mu               sync.Mutex
	lastFired        time.Time
	hasFired         bool
	sustained        int
	afterPause       bool
	lastDisfluencyAt time.Time
	lastEncouraged   time.Time
	counts           map[domain.Technique]int
	onCue            func(domain.CueKind)
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

func NewController(cfg Config, player Player, opts ...Option) *Controller {
	d := DefaultConfig()
	if cfg.RateMax <= 0 {
		cfg.RateMin, cfg.RateMax = d.RateMin, d.RateMax
	}
	if cfg.LowEffortMax <= 0 {
		cfg.LowEffortMax = d.LowEffortMax
	}
	if cfg.TensionSpike <= 0 {
		cfg.TensionSpike = d.TensionSpike
	}
	if cfg.PauseMin <= 0 {
		cfg.PauseMin = d.PauseMin
	}
	if cfg.BlockGap <= 0 {
		cfg.BlockGap = d.BlockGap
	}
	if cfg.SustainSnapshots <= 0 {
		cfg.SustainSnapshots = d.SustainSnapshots
	}
	if cfg.EncourageAfter <= 0 {
		cfg.EncourageAfter = d.EncourageAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}

	c := &Controller{
		cfg:    cfg,
		player: player,
		now:    time.Now,
		logger: zap.NewNop(),
		counts: make(map[domain.Technique]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "coach"))
	c.Reset()
	return c
}

// Reset clears counters and timers for a new session.
func (c *Controller) Reset() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasFired = false
	c.lastFired = time.Time{}
	c.sustained = 0
	c.afterPause = false
	c.lastDisfluencyAt = now
	c.lastEncouraged = now
	c.counts = make(map[domain.Technique]int)
}

// OnCue registers the cue subscriber; the last registration wins.
func (c *Controller) OnCue(fn func(domain.CueKind)) {
	c.mu.Lock()
	c.onCue = fn
	c.mu.Unlock()
}

// TechniqueCounts returns a copy of the session's technique counters.
func (c *Controller) TechniqueCounts() map[domain.Technique]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.Technique]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func (c *Controller) SegmentProcessed(segment domain.TranscriptSegment) {
	if !segment.IsFinal || len(segment.Disfluencies) == 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	c.lastDisfluencyAt = now
	c.sustained = 0
	c.mu.Unlock()
}

func (c *Controller) SilenceGap(gap time.Duration, _ int64) {
	c.mu.Lock()
	c.afterPause = true
	if gap >= c.cfg.PauseMin && gap <= c.cfg.BlockGap {
		c.counts[domain.TechniquePausing]++
	}
	c.mu.Unlock()

	if gap > c.cfg.BlockGap {
		c.request(domain.CueBreathe)
	}
}

func (c *Controller) MetricsSnapshot(snapshot domain.SpeechMetricsSnapshot) {
	now := c.now()
	rate := snapshot.SpeakingRateSylPerMin
	effort := snapshot.VocalEffort
	onPace := rate >= c.cfg.RateMin && rate <= c.cfg.RateMax
	relaxed := effort > 0 && effort <= c.cfg.LowEffortMax

	var cue domain.CueKind
	c.mu.Lock()
	if onPace {
		c.counts[domain.TechniquePacing]++
	}
	if c.afterPause && rate > 0 {
		if relaxed {
			c.counts[domain.TechniqueGentleOnset]++
		}
		c.afterPause = false
	}

	switch {
	case effort >= c.cfg.TensionSpike || rate > c.cfg.RateMax:
		c.sustained = 0
		cue = domain.CueWarning
	case onPace && relaxed:
		c.sustained++
		if c.sustained >= c.cfg.SustainSnapshots {
			c.sustained = 0
			cue = domain.CuePositive
		}
	default:
		c.sustained = 0
	}
	if cue == "" && now.Sub(c.lastDisfluencyAt) >= c.cfg.EncourageAfter && now.Sub(c.lastEncouraged) >= c.cfg.EncourageAfter {
		c.lastEncouraged = now
		cue = domain.CueKeepGoing
	}
	c.mu.Unlock()

	if cue != "" {
		c.request(cue)
	}
}

// request fires kind unless another cue fired within the cooldown.
func (c *Controller) request(kind domain.CueKind) bool {
	now := c.now()
	c.mu.Lock()
	if c.hasFired && now.Sub(c.lastFired) < c.cfg.Cooldown {
		c.mu.Unlock()
		c.metrics.CueSuppressed(kind)
		c.logger.Debug("cue suppressed by cooldown", zap.String("kind", string(kind)))
		return false
	}
	prevFired, prevHasFired := c.lastFired, c.hasFired
	c.hasFired = true
	c.lastFired = now
	onCue := c.onCue
	c.mu.Unlock()

	if c.player != nil && !c.player.PlayAt(kind, now) {
		// an inaudible cue does not hold the cooldown
		c.mu.Lock()
		if c.lastFired.Equal(now) {
			c.lastFired, c.hasFired = prevFired, prevHasFired
		}
		c.mu.Unlock()
		return false
	}
	if onCue != nil {
		onCue(kind)
	}
	return true
}
