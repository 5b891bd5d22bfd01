// Package fluency turns live transcripts and the audio energy tap into
// disfluency events and speech metrics.
package fluency

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/metrics"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

var (
	// ErrTranscriptionUnsupported means no speech recognizer is available for this session.
	ErrTranscriptionUnsupported = errors.New("speech transcription unsupported")
	// ErrInvalidState is returned for lifecycle calls that do not fit the current state.
	ErrInvalidState = errors.New("invalid engine state")
	// ErrMalformedSegment is returned by Ingest for segments that are dropped.
	ErrMalformedSegment = errors.New("malformed transcript segment")
)

type engineState int

const (
	stateIdle engineState = iota
	stateRunning
	stateStopped
)

// EnergySource supplies the most recent analysis buffer magnitudes.
type EnergySource interface {
	RecentEnergy() []float64
}

// Observer receives engine events. Callbacks run on engine goroutines and must not block.
type Observer interface {
	SegmentProcessed(segment domain.TranscriptSegment)
	SilenceGap(gap time.Duration, timestampMs int64)
	MetricsSnapshot(snapshot domain.SpeechMetricsSnapshot)
}

// Dependencies are the engine's collaborators. Recognizer may be nil, in which
// case Start reports ErrTranscriptionUnsupported.
type Dependencies struct {
	Recognizer ports.TranscriptionProvider
	Normalizer ports.TranscriptNormalizer
	Classifier Classifier
	Energy     EnergySource
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	Now        func() time.Time
}

// Engine is the Disfluency & Metrics Engine. Its lifecycle is Idle, Running,
// then Stopped; a stopped engine cannot be restarted.
type Engine struct {
	cfg        Config
	recognizer ports.TranscriptionProvider
	normalizer ports.TranscriptNormalizer
	classifier Classifier
	energy     EnergySource
	logger     *zap.Logger
	metrics    *metrics.Collector
	now        func() time.Time

	lifeMu sync.Mutex

	mu            sync.Mutex
	state         engineState
	startedAt     time.Time
	stoppedAt     time.Time
	transcripts   []string
	disfluencies  []domain.Disfluency
	gaps          []domain.Disfluency
	syllableTimes []int64
	lastTimestamp int64
	hasLast       bool
	observer      Observer

	accepting      atomic.Bool
	audio          chan []byte
	cancel         context.CancelFunc
	cadenceDone    chan struct{}
	recognizerDone chan struct{}
}

func NewEngine(cfg Config, deps Dependencies) *Engine {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewTextClassifier(cfg.Fillers)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:        cfg,
		recognizer: deps.Recognizer,
		normalizer: deps.Normalizer,
		classifier: classifier,
		energy:     deps.Energy,
		logger:     logger.With(zap.String("component", "fluency")),
		metrics:    deps.Metrics,
		now:        now,
		audio:      make(chan []byte, cfg.AudioQueue),
	}
}

// SetObserver registers the event observer; the last registration wins.
func (e *Engine) SetObserver(observer Observer) {
	e.mu.Lock()
	e.observer = observer
	e.mu.Unlock()
}

// Start opens the recognizer and begins the metrics cadence.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != stateIdle {
		return ErrInvalidState
	}

	if e.recognizer == nil {
		return fmt.Errorf("%w: no recognizer configured", ErrTranscriptionUnsupported)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, streamCancel, err := e.openStream(runCtx)
	if err != nil {
		if errors.Is(err, ports.ErrUnsupported) {
			cancel()
			return fmt.Errorf("%w: %v", ErrTranscriptionUnsupported, err)
		}
		e.logger.Warn("recognizer unavailable at start, retrying in background", zap.Error(err))
	}

	e.mu.Lock()
	e.state = stateRunning
	e.startedAt = e.now()
	e.stoppedAt = time.Time{}
	e.transcripts = nil
	e.disfluencies = nil
	e.gaps = nil
	e.syllableTimes = nil
	e.lastTimestamp = 0
	e.hasLast = false
	e.cancel = cancel
	e.cadenceDone = make(chan struct{})
	e.recognizerDone = make(chan struct{})
	cadenceDone, recognizerDone := e.cadenceDone, e.recognizerDone
	e.mu.Unlock()

	e.drainAudio()
	e.accepting.Store(true)

	go e.runCadence(runCtx, cadenceDone)
	go e.runRecognizer(runCtx, stream, streamCancel, recognizerDone)

	e.logger.Info("fluency engine started")
	return nil
}

// Stop cancels the cadence and recognizer loops and returns the final snapshot.
// It is a no-op before Start and idempotent afterwards.
func (e *Engine) Stop() domain.SpeechMetricsSnapshot {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	state := e.state
	cancel := e.cancel
	cadenceDone, recognizerDone := e.cadenceDone, e.recognizerDone
	e.mu.Unlock()

	if state != stateRunning {
		return e.Snapshot()
	}

	e.accepting.Store(false)
	cancel()
	<-cadenceDone
	<-recognizerDone

	e.mu.Lock()
	e.state = stateStopped
	e.stoppedAt = e.now()
	observer := e.observer
	e.mu.Unlock()

	final := e.Snapshot()
	e.metrics.Snapshot(final)
	if observer != nil {
		observer.MetricsSnapshot(final)
	}
	e.logger.Info("fluency engine stopped",
		zap.Int("syllables", final.TotalSyllables),
		zap.Int("disfluencies", final.TotalDisfluencies),
		zap.Float64("fluencyScore", final.FluencyScore),
	)
	return final
}

// OnPCM queues raw tap audio for the recognizer without blocking.
func (e *Engine) OnPCM(chunk []byte) {
	if len(chunk) == 0 || !e.accepting.Load() {
		return
	}
	select {
	case e.audio <- chunk:
	default:
		e.metrics.TapChunkDropped()
	}
}

// Ingest processes one recognition result. Interim segments are classified for
// display but never accumulated.
func (e *Engine) Ingest(segment domain.TranscriptSegment) (domain.TranscriptSegment, error) {
	if !utf8.ValidString(segment.Text) {
		e.metrics.SegmentDropped("invalid_utf8")
		return segment, fmt.Errorf("%w: invalid utf-8", ErrMalformedSegment)
	}

	text := segment.Text
	if e.normalizer != nil {
		normalized, err := e.normalizer.Normalize(text)
		if err != nil {
			e.logger.Debug("normalization failed, using raw text", zap.Error(err))
		} else {
			text = normalized
		}
	}
	found, err := e.classifier.Classify(text, segment.TimestampMs)
	if err != nil {
		e.metrics.SegmentDropped("classifier")
		return segment, fmt.Errorf("%w: %v", ErrMalformedSegment, err)
	}

	processed := domain.TranscriptSegment{
		Text:         text,
		IsFinal:      segment.IsFinal,
		TimestampMs:  segment.TimestampMs,
		Disfluencies: found,
	}

	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return segment, ErrInvalidState
	}
	if e.hasLast && segment.TimestampMs < e.lastTimestamp {
		e.mu.Unlock()
		e.metrics.SegmentDropped("out_of_order")
		return segment, fmt.Errorf("%w: timestamp %d precedes %d", ErrMalformedSegment, segment.TimestampMs, e.lastTimestamp)
	}

	var gap time.Duration
	if e.hasLast {
		gap = time.Duration(segment.TimestampMs-e.lastTimestamp) * time.Millisecond
	}
	e.lastTimestamp = segment.TimestampMs
	e.hasLast = true
	isGap := gap > e.cfg.SilenceGap
	if isGap && gap > e.cfg.BlockGap {
		e.gaps = append(e.gaps, domain.Disfluency{
			Type:        domain.DisfluencyBlock,
			MatchedText: gap.String(),
			TimestampMs: segment.TimestampMs,
		})
	}

	if segment.IsFinal {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			e.transcripts = append(e.transcripts, trimmed)
		}
		e.disfluencies = append(e.disfluencies, found...)
		for i := CountSyllables(text); i > 0; i-- {
			e.syllableTimes = append(e.syllableTimes, segment.TimestampMs)
		}
	}
	observer := e.observer
	e.mu.Unlock()

	if isGap {
		e.metrics.SilenceGap()
	}
	if segment.IsFinal {
		for _, d := range found {
			e.metrics.DisfluencyDetected(d.Type)
		}
	}
	if observer != nil {
		if isGap {
			observer.SilenceGap(gap, segment.TimestampMs)
		}
		observer.SegmentProcessed(processed)
	}
	return processed, nil
}

// Snapshot computes the current metrics. Safe to call in any state.
func (e *Engine) Snapshot() domain.SpeechMetricsSnapshot {
	var energy []float64
	if e.energy != nil {
		energy = e.energy.RecentEnergy()
	}

	e.mu.Lock()
	syllables := len(e.syllableTimes)
	disfluencies := len(e.disfluencies)
	blocks := len(e.gaps)
	var elapsed time.Duration
	switch e.state {
	case stateRunning:
		elapsed = e.now().Sub(e.startedAt)
	case stateStopped:
		elapsed = e.stoppedAt.Sub(e.startedAt)
	}
	e.mu.Unlock()

	snapshot := domain.SpeechMetricsSnapshot{
		TotalSyllables:    syllables,
		TotalDisfluencies: disfluencies,
		VocalEffort:       e.vocalEffort(energy),
		FluencyScore:      e.fluencyScore(disfluencies, blocks),
	}
	if elapsed >= e.cfg.MinElapsed {
		snapshot.SpeakingRateSylPerMin = float64(syllables) / elapsed.Minutes()
	}
	return snapshot
}

func (e *Engine) vocalEffort(energy []float64) float64 {
	if len(energy) == 0 {
		return 0
	}
	var sum float64
	for _, v := range energy {
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(energy)))
	return math.Max(0, math.Min(1, rms/e.cfg.EffortReference))
}

func (e *Engine) fluencyScore(disfluencies, blocks int) float64 {
	penalty := math.Min(e.cfg.DisfluencyWeight*float64(disfluencies), e.cfg.DisfluencyPenalty)
	penalty += math.Min(e.cfg.BlockWeight*float64(blocks), e.cfg.BlockPenalty)
	return math.Max(0, math.Min(100, 100-penalty))
}

// Disfluencies returns a copy of the accumulated session list.
func (e *Engine) Disfluencies() []domain.Disfluency {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Disfluency(nil), e.disfluencies...)
}

// SilenceGaps returns the pauses long enough to count as blocks, as block disfluencies.
func (e *Engine) SilenceGaps() []domain.Disfluency {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Disfluency(nil), e.gaps...)
}

// Transcripts returns the accumulated final segment texts in arrival order.
func (e *Engine) Transcripts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.transcripts...)
}

func (e *Engine) runCadence(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snapshot := e.Snapshot()
		e.metrics.Snapshot(snapshot)
		e.mu.Lock()
		observer := e.observer
		e.mu.Unlock()
		if observer != nil {
			observer.MetricsSnapshot(snapshot)
		}
	}
}

func (e *Engine) drainAudio() {
	for {
		select {
		case <-e.audio:
		default:
			return
		}
	}
}
