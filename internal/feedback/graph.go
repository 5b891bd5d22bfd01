// Package feedback owns the live microphone stream and the altered-feedback signal path.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/audio"
	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/metrics"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

var (
	// ErrPermissionDenied means microphone permission is recorded as denied; capture was not attempted.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrMicDenied means the OS refused the capture device.
	ErrMicDenied = errors.New("microphone access refused")
	// ErrCaptureUnavailable means capture or output could not be opened or failed mid-session.
	ErrCaptureUnavailable = errors.New("audio capture unavailable")
	// ErrNotRunning is returned by operations that need a live signal path.
	ErrNotRunning = errors.New("feedback graph not running")
)

const levelEpsilon = 0.01

// Dependencies are the hardware and collaborator ports the graph drives.
type Dependencies struct {
	Capture     ports.AudioCapture
	Output      ports.AudioOutput
	Permission  ports.PermissionChecker
	Synthesizer ports.SpeechSynthesizer
	Pitch       PitchShiftStage
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

type graphRun struct {
	ctx         context.Context
	cancel      context.CancelFunc
	capture     ports.AudioSession
	output      ports.OutputSession
	path        *signalPath
	audioDone   chan struct{}
	monitorDone chan struct{}
}

// Graph is the Audio Feedback Graph. Start/Stop are serialized; setters may be
// called from any goroutine and before Start.
type Graph struct {
	cfg         Config
	capture     ports.AudioCapture
	output      ports.AudioOutput
	permission  ports.PermissionChecker
	synthesizer ports.SpeechSynthesizer
	pitch       PitchShiftStage
	logger      *zap.Logger
	metrics     *metrics.Collector
	meter       *meter

	lifeMu sync.Mutex

	mu        sync.Mutex
	state     domain.FeedbackGraphState
	run       *graphRun
	observer  func(domain.FeedbackGraphState)
	onFailure func(error)
	tap       ports.PCMTap
	choral    ports.Playback
	choralGen uint64
}

func NewGraph(cfg Config, deps Dependencies) *Graph {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pitch := deps.Pitch
	if pitch == nil {
		pitch = PassthroughPitch{}
	}
	return &Graph{
		cfg:         cfg,
		capture:     deps.Capture,
		output:      deps.Output,
		permission:  deps.Permission,
		synthesizer: deps.Synthesizer,
		pitch:       pitch,
		logger:      logger.With(zap.String("component", "feedback")),
		metrics:     deps.Metrics,
		meter:       newMeter(cfg.MeterGain),
		state:       cfg.defaultState(),
	}
}

// Start acquires the microphone and output and begins processing. Starting an
// active graph is a no-op. Every failure leaves nothing acquired.
func (g *Graph) Start(ctx context.Context, deviceID string) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()

	g.mu.Lock()
	active := g.run != nil
	g.mu.Unlock()
	if active {
		return nil
	}

	if g.capture == nil || g.output == nil {
		return g.startFailed("config", fmt.Errorf("%w: audio devices are not configured", ErrCaptureUnavailable))
	}

	if g.permission != nil {
		permission, err := g.permission.MicrophonePermission(ctx)
		if err != nil {
			g.logger.Debug("permission query failed, attempting capture", zap.Error(err))
		} else if permission == ports.PermissionDenied {
			return g.startFailed("permission", ErrPermissionDenied)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	audioCfg := g.cfg.Audio
	if id := strings.TrimSpace(deviceID); id != "" {
		audioCfg.InputDevice = id
	}

	capture, err := g.capture.Start(runCtx, audioCfg)
	if err != nil {
		cancel()
		if errors.Is(err, ports.ErrAccessDenied) {
			return g.startFailed("capture", fmt.Errorf("%w: %v", ErrMicDenied, err))
		}
		return g.startFailed("capture", fmt.Errorf("%w: %v", ErrCaptureUnavailable, err))
	}

	output, err := g.output.Start(runCtx, g.cfg.Output)
	if err != nil {
		_ = capture.Stop()
		cancel()
		return g.startFailed("output", fmt.Errorf("%w: output: %v", ErrCaptureUnavailable, err))
	}

	g.mu.Lock()
	g.state.Active = true
	g.state.Error = ""
	g.state.InputLevel = 0
	run := &graphRun{
		ctx:         runCtx,
		cancel:      cancel,
		capture:     capture,
		output:      output,
		path:        newSignalPath(g.cfg, g.pitch, g.state),
		audioDone:   make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	g.run = run
	state := g.state
	g.mu.Unlock()

	go g.processAudio(run)
	go g.monitor(run)

	if state.Choral.Enabled {
		g.startChoral(run, state.Choral)
	}

	g.logger.Info("feedback graph started",
		zap.String("device", audioCfg.InputDevice),
		zap.Bool("daf", state.DAF.Enabled),
		zap.Bool("faf", state.FAF.Enabled),
		zap.Bool("metronome", state.Metronome.Enabled),
	)
	g.notify(state)
	return nil
}

func (g *Graph) startFailed(stage string, err error) error {
	g.metrics.GraphFailure(stage)
	g.logger.Warn("feedback graph start failed", zap.String("stage", stage), zap.Error(err))

	g.mu.Lock()
	g.state.Active = false
	g.state.Error = err.Error()
	state := g.state
	g.mu.Unlock()

	g.notify(state)
	return err
}

// Stop releases every resource and resets state to defaults. It is idempotent.
func (g *Graph) Stop() {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	g.teardown(nil)
}

func (g *Graph) teardown(cause error) {
	g.mu.Lock()
	run := g.run
	choral := g.choral
	g.run = nil
	g.choral = nil
	g.choralGen++
	g.mu.Unlock()

	if run == nil {
		return
	}

	if choral != nil {
		_ = choral.Cancel()
	}
	run.cancel()
	if err := run.capture.Stop(); err != nil {
		g.logger.Debug("capture stop failed", zap.Error(err))
	}
	if err := run.output.Stop(); err != nil {
		g.logger.Debug("output stop failed", zap.Error(err))
	}
	<-run.audioDone
	<-run.monitorDone
	g.meter.reset()

	g.mu.Lock()
	g.state = g.cfg.defaultState()
	if cause != nil {
		g.state.Error = cause.Error()
	}
	state := g.state
	g.mu.Unlock()

	g.metrics.InputLevel(0)
	if cause != nil {
		g.logger.Warn("feedback graph stopped after failure", zap.Error(cause))
	} else {
		g.logger.Info("feedback graph stopped")
	}
	g.notify(state)
}

// fail tears down run after a mid-session error unless it was already replaced or stopped.
func (g *Graph) fail(run *graphRun, cause error) {
	g.lifeMu.Lock()
	g.mu.Lock()
	current := g.run
	onFailure := g.onFailure
	g.mu.Unlock()
	if current != run {
		g.lifeMu.Unlock()
		return
	}
	g.metrics.GraphFailure("runtime")
	err := fmt.Errorf("%w: %v", ErrCaptureUnavailable, cause)
	g.teardown(err)
	g.lifeMu.Unlock()

	if onFailure != nil {
		onFailure(err)
	}
}

func (g *Graph) processAudio(run *graphRun) {
	defer close(run.audioDone)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	chunk := make([]byte, g.cfg.ChunkSamples*2)
	var (
		in       []float64
		out      []float64
		outBytes []byte
	)
	for {
		n, readErr := io.ReadFull(run.capture, chunk)
		if n >= 2 {
			raw := chunk[:n&^1]
			in = audio.BytesToSamples(raw, in)
			g.meter.observe(in)
			if tap := g.currentTap(); tap != nil {
				tap.OnPCM(append([]byte(nil), raw...))
			}

			if cap(out) < len(in) {
				out = make([]float64, len(in))
			}
			out = out[:len(in)]
			run.path.process(in, out)
			outBytes = audio.SamplesToBytes(out, outBytes)
			if _, err := run.output.Write(outBytes); err != nil {
				if run.ctx.Err() == nil {
					go g.fail(run, fmt.Errorf("output write: %w", err))
				}
				return
			}
			g.metrics.AudioProcessed(len(in))
		}
		if readErr != nil {
			if run.ctx.Err() == nil {
				go g.fail(run, fmt.Errorf("capture ended: %w", readErr))
			}
			return
		}
	}
}

func (g *Graph) monitor(run *graphRun) {
	defer close(run.monitorDone)
	ticker := time.NewTicker(g.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-run.ctx.Done():
			return
		case <-ticker.C:
		}

		level := g.meter.level()
		g.mu.Lock()
		if g.run != run || math.Abs(level-g.state.InputLevel) < levelEpsilon {
			g.mu.Unlock()
			continue
		}
		g.state.InputLevel = level
		state := g.state
		g.mu.Unlock()

		g.metrics.InputLevel(level)
		g.notify(state)
	}
}

// SetDelayedFeedback toggles DAF. Disabling ramps the wet gain to exactly 0.
func (g *Graph) SetDelayedFeedback(enabled bool) {
	g.updateDAF(func(s *domain.DAFSettings) { s.Enabled = enabled })
}

// SetDelayMs sets the DAF delay, clamped to [0,500] ms.
func (g *Graph) SetDelayMs(ms int) {
	g.updateDAF(func(s *domain.DAFSettings) { s.DelayMs = clampDelayMs(ms) })
}

func (g *Graph) updateDAF(mutate func(*domain.DAFSettings)) {
	g.mu.Lock()
	mutate(&g.state.DAF)
	if g.run != nil {
		g.run.path.setDAF(g.state.DAF)
	}
	state := g.state
	g.mu.Unlock()

	g.notify(state)
}

// SetFrequencyShift toggles FAF.
func (g *Graph) SetFrequencyShift(enabled bool) {
	g.updateFAF(func(s *domain.FAFSettings) { s.Enabled = enabled })
}

// SetSemitones sets the FAF shift, clamped to [-24,24].
func (g *Graph) SetSemitones(n int) {
	g.updateFAF(func(s *domain.FAFSettings) { s.Semitones = clampSemitones(n) })
}

func (g *Graph) updateFAF(mutate func(*domain.FAFSettings)) {
	g.mu.Lock()
	mutate(&g.state.FAF)
	if g.run != nil {
		g.run.path.setFAF(g.state.FAF)
	}
	state := g.state
	g.mu.Unlock()

	g.notify(state)
}

// SetMetronome toggles the pacing metronome; enabling restarts the beat.
func (g *Graph) SetMetronome(enabled bool) {
	g.updateMetronome(func(s *domain.MetronomeSettings) { s.Enabled = enabled })
}

// SetBPM sets the metronome tempo, clamped to [40,200].
func (g *Graph) SetBPM(bpm int) {
	g.updateMetronome(func(s *domain.MetronomeSettings) { s.BPM = clampBPM(bpm) })
}

func (g *Graph) updateMetronome(mutate func(*domain.MetronomeSettings)) {
	g.mu.Lock()
	mutate(&g.state.Metronome)
	if g.run != nil {
		g.run.path.setMetronome(g.state.Metronome)
	}
	state := g.state
	g.mu.Unlock()

	g.notify(state)
}

// SetChoral configures the synthesized choral overlay. Any in-flight utterance
// is cancelled first, so at most one plays. The overlay stays disabled without
// text or a synthesizer.
func (g *Graph) SetChoral(enabled bool, text string, rate float64) {
	text = strings.TrimSpace(text)
	g.mu.Lock()
	g.state.Choral = domain.ChoralSettings{
		Enabled: enabled && text != "" && g.synthesizer != nil,
		Text:    text,
		Rate:    clampChoralRate(rate),
	}
	settings := g.state.Choral
	previous := g.choral
	g.choral = nil
	g.choralGen++
	run := g.run
	state := g.state
	g.mu.Unlock()

	if previous != nil {
		_ = previous.Cancel()
	}
	if run != nil && settings.Enabled {
		g.startChoral(run, settings)
	}
	g.notify(state)
}

func (g *Graph) startChoral(run *graphRun, settings domain.ChoralSettings) {
	if g.synthesizer == nil || settings.Text == "" {
		return
	}
	g.mu.Lock()
	gen := g.choralGen
	g.mu.Unlock()

	go func() {
		playback, err := g.synthesizer.Synthesize(run.ctx, settings.Text, settings.Rate)
		if err != nil {
			if run.ctx.Err() != nil {
				return
			}
			g.logger.Warn("choral overlay failed", zap.Error(err))
			g.mu.Lock()
			if g.run != run || g.choralGen != gen {
				g.mu.Unlock()
				return
			}
			g.state.Choral.Enabled = false
			g.state.Error = fmt.Sprintf("choral overlay: %v", err)
			state := g.state
			g.mu.Unlock()
			g.notify(state)
			return
		}

		g.mu.Lock()
		if g.run != run || g.choralGen != gen {
			g.mu.Unlock()
			_ = playback.Cancel()
			return
		}
		g.choral = playback
		g.mu.Unlock()

		select {
		case <-playback.Done():
		case <-run.ctx.Done():
			return
		}

		g.mu.Lock()
		if g.choral != playback {
			g.mu.Unlock()
			return
		}
		g.choral = nil
		g.state.Choral.Enabled = false
		state := g.state
		g.mu.Unlock()
		g.notify(state)
	}()
}

// PlayCue mixes samples into the output through the cue bus.
func (g *Graph) PlayCue(samples []float64) error {
	g.mu.Lock()
	run := g.run
	g.mu.Unlock()
	if run == nil {
		return ErrNotRunning
	}
	run.path.queueCue(samples)
	return nil
}

// Level returns the latest input level in [0,1].
func (g *Graph) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.InputLevel
}

// RecentEnergy returns magnitudes of the latest analysis buffer.
func (g *Graph) RecentEnergy() []float64 {
	return g.meter.energy()
}

// State returns a copy of the graph state.
func (g *Graph) State() domain.FeedbackGraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Active reports whether the graph holds the microphone.
func (g *Graph) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.run != nil
}

// OnStateChange registers the state observer; the last registration wins.
func (g *Graph) OnStateChange(fn func(domain.FeedbackGraphState)) {
	g.mu.Lock()
	g.observer = fn
	g.mu.Unlock()
}

// OnFailure registers a callback for mid-session failures, invoked after teardown.
func (g *Graph) OnFailure(fn func(error)) {
	g.mu.Lock()
	g.onFailure = fn
	g.mu.Unlock()
}

// SetAnalysisTap routes raw source PCM to tap. Pass nil to detach.
func (g *Graph) SetAnalysisTap(tap ports.PCMTap) {
	g.mu.Lock()
	g.tap = tap
	g.mu.Unlock()
}

func (g *Graph) currentTap() ports.PCMTap {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tap
}

func (g *Graph) notify(state domain.FeedbackGraphState) {
	g.mu.Lock()
	observer := g.observer
	g.mu.Unlock()
	if observer != nil {
		observer(state)
	}
}
