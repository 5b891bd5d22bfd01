package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/fluency"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

// FeedbackGraph is the live audio path a practice session runs on.
type FeedbackGraph interface {
	Start(ctx context.Context, deviceID string) error
	Stop()
	Active() bool
	OnStateChange(fn func(domain.FeedbackGraphState))
	OnFailure(fn func(error))
	SetAnalysisTap(tap ports.PCMTap)
}

// FluencyEngine analyses one session's speech. Engines are single-use.
type FluencyEngine interface {
	ports.PCMTap
	SetObserver(observer fluency.Observer)
	Start(ctx context.Context) error
	Stop() domain.SpeechMetricsSnapshot
	Disfluencies() []domain.Disfluency
	SilenceGaps() []domain.Disfluency
	Transcripts() []string
}

// EngineFactory builds a fresh engine for each session.
type EngineFactory func() FluencyEngine

// Coach consumes engine events and keeps per-session technique counters.
type Coach interface {
	fluency.Observer
	Reset()
	TechniqueCounts() map[domain.Technique]int
}

type activeSession struct {
	ctx       context.Context
	cancel    func()
	startedAt time.Time
	engine    FluencyEngine
	// analysing is false when the session runs without voice analysis.
	analysing bool

	stateMu        sync.Mutex
	state          domain.SessionState
	graphRestarted bool

	aggregator *transcriptAggregator
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// claimGraphRestart reports whether the single automatic graph restart is still available.
func (s *activeSession) claimGraphRestart() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.graphRestarted {
		return false
	}
	s.graphRestarted = true
	return true
}
