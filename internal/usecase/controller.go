package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/feedback"
	"github.com/RamCali/stutterlab-sub000/internal/fluency"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

var ErrNoActiveSession = errors.New("no active practice session")

// Config controls practice-session behavior.
type Config struct {
	// DeviceID selects the capture device; empty means the platform default.
	DeviceID string
}

// SessionController orchestrates a practice session: the feedback graph, one
// fluency engine per session and the coach that listens to it.
type SessionController struct {
	graph     FeedbackGraph
	engines   EngineFactory
	coach     Coach
	events    ports.EventSink
	finalizer reportFinalizer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	// lifeMu serializes Start, Stop, Abort and graph-failure recovery.
	lifeMu sync.Mutex

	mu             sync.Mutex
	current        *activeSession
	lastGraphError string
}

type Option func(*SessionController)

func WithLogger(logger *zap.Logger) Option {
	return func(c *SessionController) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *SessionController) { c.now = now }
}

func NewSessionController(
	graph FeedbackGraph,
	engines EngineFactory,
	coach Coach,
	events ports.EventSink,
	cfg Config,
	opts ...Option,
) *SessionController {
	c := &SessionController{
		graph:   graph,
		engines: engines,
		coach:   coach,
		events:  events,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "session"))
	c.finalizer = newReportFinalizer(coach, c.now)

	graph.OnStateChange(c.forwardGraphState)
	graph.OnFailure(c.handleGraphFailure)
	return c
}

// forwardGraphState relays graph state to the UI. An error that appears while
// the graph keeps running came from the choral overlay.
func (c *SessionController) forwardGraphState(state domain.FeedbackGraphState) {
	c.events.FeedbackGraphStateChanged(state)

	c.mu.Lock()
	fresh := state.Error != "" && state.Error != c.lastGraphError
	c.lastGraphError = state.Error
	c.mu.Unlock()

	if fresh && state.Active {
		c.events.SessionError(domain.ErrorCodeChoral, state.Error)
	}
}

// Start begins a new practice session, discarding any session already running.
func (c *SessionController) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	previous := c.current
	c.current = nil
	c.mu.Unlock()

	if previous != nil {
		c.stopSession(previous)
		c.logger.Info("previous practice session discarded")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	if err := c.startGraph(sessionCtx); err != nil {
		cancel()
		c.reportGraphError(err)
		return err
	}

	active := &activeSession{
		ctx:        sessionCtx,
		cancel:     cancel,
		startedAt:  c.now(),
		state:      domain.SessionStateRunning,
		aggregator: newTranscriptAggregator(),
	}
	if c.coach != nil {
		c.coach.Reset()
	}
	c.startAnalysis(sessionCtx, active)

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	reason := domain.SessionReasonPracticeStarted
	if previous != nil {
		reason = domain.SessionReasonPracticeRestarted
	}
	if !active.analysing {
		reason = domain.SessionReasonVoiceAnalysisOffline
	}
	c.events.SessionStateChanged(domain.SessionStateRunning, reason)
	return nil
}

// startGraph opens the feedback graph, retrying once when capture is unavailable.
func (c *SessionController) startGraph(ctx context.Context) error {
	err := c.graph.Start(ctx, c.cfg.DeviceID)
	if err == nil || !errors.Is(err, feedback.ErrCaptureUnavailable) {
		return err
	}
	c.logger.Warn("feedback graph failed to start, retrying", zap.Error(err))
	return c.graph.Start(ctx, c.cfg.DeviceID)
}

// startAnalysis attaches a fresh engine to the graph tap. A missing recognizer
// leaves the session running with feedback only.
func (c *SessionController) startAnalysis(ctx context.Context, active *activeSession) {
	if c.engines == nil {
		c.events.SessionError(domain.ErrorCodeTranscriptionUnsupported, "voice analysis is not configured")
		return
	}
	engine := c.engines()
	engine.SetObserver(sessionObserver{coach: c.coach, events: c.events, aggregator: active.aggregator})
	active.engine = engine

	if err := engine.Start(ctx); err != nil {
		code := domain.ErrorCodeTranscription
		if errors.Is(err, fluency.ErrTranscriptionUnsupported) {
			code = domain.ErrorCodeTranscriptionUnsupported
		}
		c.logger.Warn("voice analysis unavailable", zap.Error(err))
		c.events.SessionError(code, err.Error())
		return
	}
	active.analysing = true
	c.graph.SetAnalysisTap(engine)
}

// Stop ends the active session and returns its report. Trailing recognizer
// results are flushed into the report before it is built.
func (c *SessionController) Stop(_ context.Context) (domain.SessionReport, error) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	active, err := c.getCurrent()
	if err != nil {
		return domain.SessionReport{}, err
	}

	active.setState(domain.SessionStateStopping)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonFinalizing)

	final := c.stopSession(active)
	report := c.finalizer.Finalize(active, final)

	c.logger.Info("practice session finished",
		zap.String("sessionId", report.SessionID),
		zap.Duration("duration", report.StoppedAt.Sub(report.StartedAt)),
		zap.Int("disfluencies", len(report.Disfluencies)),
		zap.Int("blocks", len(report.Blocks)),
	)
	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonReportReady)
	return report, nil
}

// Abort discards the active session without building a report.
func (c *SessionController) Abort() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	active, err := c.getCurrent()
	if err != nil {
		return err
	}

	c.stopSession(active)
	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonPracticeDiscarded)
	return nil
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	state := c.current.getState()
	status := domain.Status{State: state, Active: state != domain.SessionStateIdle}
	if !c.current.analysing {
		status.Message = "voice analysis offline"
	}
	return status
}

// handleGraphFailure restarts the graph once per session after a mid-session
// failure; a second failure ends the session.
func (c *SessionController) handleGraphFailure(cause error) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil || c.graph.Active() {
		return
	}

	c.logger.Warn("feedback graph failed mid-session", zap.Error(cause))
	if active.claimGraphRestart() {
		err := c.graph.Start(active.ctx, c.cfg.DeviceID)
		if err == nil {
			if active.analysing {
				c.graph.SetAnalysisTap(active.engine)
			}
			c.events.SessionStateChanged(domain.SessionStateRunning, domain.SessionReasonFeedbackRecovered)
			return
		}
		cause = err
	}

	c.events.SessionError(domain.ErrorCodeCapture, cause.Error())
	c.stopSession(active)
	c.finishSession(active, domain.SessionStateIdle, domain.SessionReasonCaptureFailed)
}

func (c *SessionController) reportGraphError(err error) {
	code := domain.ErrorCodeCapture
	reason := domain.SessionReasonCaptureFailed
	if errors.Is(err, feedback.ErrPermissionDenied) || errors.Is(err, feedback.ErrMicDenied) {
		code = domain.ErrorCodePermission
		reason = domain.SessionReasonPermissionDenied
	}
	c.logger.Warn("practice session could not start", zap.Error(err))
	c.events.SessionError(code, err.Error())
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

// stopSession releases the graph before the engine so no tap audio arrives
// while trailing results flush.
func (c *SessionController) stopSession(active *activeSession) domain.SpeechMetricsSnapshot {
	c.graph.SetAnalysisTap(nil)
	c.graph.Stop()

	var final domain.SpeechMetricsSnapshot
	if active.engine != nil {
		final = active.engine.Stop()
	}
	active.cancel()
	return final
}

func (c *SessionController) finishSession(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.cancel()
	active.setState(state)

	c.mu.Lock()
	if c.current == active {
		c.current = nil
	}
	c.mu.Unlock()

	c.events.SessionStateChanged(state, reason)
}
