package feedback

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RamCali/stutterlab-sub000/internal/audio"
	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

type fakeCapture struct {
	startErr error
	level    float64
	failWith error

	acquired atomic.Int32
	released atomic.Int32
	lastCfg  atomic.Value
}

func (f *fakeCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.acquired.Add(1)
	f.lastCfg.Store(cfg)
	return &fakeCaptureSession{owner: f, stopped: make(chan struct{})}, nil
}

type fakeCaptureSession struct {
	owner    *fakeCapture
	stopped  chan struct{}
	stopOnce sync.Once
	reads    int
}

func (s *fakeCaptureSession) Read(p []byte) (int, error) {
	select {
	case <-s.stopped:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
	}
	s.reads++
	if s.owner.failWith != nil && s.reads > 3 {
		return 0, s.owner.failWith
	}
	samples := make([]float64, len(p)/2)
	for i := range samples {
		samples[i] = s.owner.level
		if i%2 == 1 {
			samples[i] = -s.owner.level
		}
	}
	return copy(p, audio.SamplesToBytes(samples, nil)), nil
}

func (s *fakeCaptureSession) Close() error { return s.Stop() }

func (s *fakeCaptureSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.owner.released.Add(1)
	})
	return nil
}

type fakeOutput struct {
	startErr error

	acquired atomic.Int32
	released atomic.Int32
	written  atomic.Int64
}

func (f *fakeOutput) Start(context.Context, ports.OutputConfig) (ports.OutputSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.acquired.Add(1)
	return &fakeOutputSession{owner: f}, nil
}

type fakeOutputSession struct {
	owner    *fakeOutput
	stopOnce sync.Once
}

func (s *fakeOutputSession) Write(p []byte) (int, error) {
	s.owner.written.Add(int64(len(p)))
	return len(p), nil
}

func (s *fakeOutputSession) Close() error { return s.Stop() }

func (s *fakeOutputSession) Stop() error {
	s.stopOnce.Do(func() { s.owner.released.Add(1) })
	return nil
}

func (s *fakeOutputSession) Wait() error { return nil }

type fakePermission struct {
	state ports.PermissionState
}

func (f fakePermission) MicrophonePermission(context.Context) (ports.PermissionState, error) {
	return f.state, nil
}

type fakeSynth struct {
	mu       sync.Mutex
	texts    []string
	rates    []float64
	handles  []*fakePlayback
	finishes bool
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, rate float64) (ports.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePlayback{done: make(chan struct{})}
	if f.finishes {
		close(p.done)
	}
	f.texts = append(f.texts, text)
	f.rates = append(f.rates, rate)
	f.handles = append(f.handles, p)
	return p, nil
}

func (f *fakeSynth) calls() []*fakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePlayback(nil), f.handles...)
}

type fakePlayback struct {
	done     chan struct{}
	once     sync.Once
	canceled atomic.Bool
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }

func (p *fakePlayback) Cancel() error {
	p.canceled.Store(true)
	p.once.Do(func() {
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	})
	return nil
}

type recordingTap struct {
	chunks atomic.Int32
}

func (r *recordingTap) OnPCM(chunk []byte) {
	if len(chunk) > 0 {
		r.chunks.Add(1)
	}
}

func newTestGraph(t *testing.T, capture *fakeCapture, output *fakeOutput, mutate func(*Dependencies)) *Graph {
	t.Helper()
	deps := Dependencies{
		Capture: capture,
		Output:  output,
		Logger:  zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&deps)
	}
	cfg := DefaultConfig()
	cfg.MonitorInterval = 2 * time.Millisecond
	return NewGraph(cfg, deps)
}

func TestSettersBeforeStartOnlyStoreClampedConfig(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, &fakeCapture{}, &fakeOutput{}, nil)

	g.SetDelayedFeedback(true)
	g.SetDelayMs(700)
	g.SetSemitones(30)
	g.SetBPM(10)
	g.SetChoral(true, "  the rainbow passage ", 5)

	state := g.State()
	assert.False(t, state.Active)
	assert.True(t, state.DAF.Enabled)
	assert.Equal(t, 500, state.DAF.DelayMs)
	assert.Equal(t, 24, state.FAF.Semitones)
	assert.Equal(t, 40, state.Metronome.BPM)
	assert.Equal(t, 2.0, state.Choral.Rate)
	assert.Equal(t, "the rainbow passage", state.Choral.Text)

	g.SetSemitones(-99)
	g.SetChoral(false, "", 0.1)
	assert.Equal(t, -24, g.State().FAF.Semitones)
	assert.Equal(t, 0.5, g.State().Choral.Rate)
	assert.ErrorIs(t, g.PlayCue([]float64{0.1}), ErrNotRunning)
}

func TestStartStopReleasesEveryAcquisition(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{level: 0.1}
	output := &fakeOutput{}
	g := newTestGraph(t, capture, output, nil)

	var states []domain.FeedbackGraphState
	var mu sync.Mutex
	g.OnStateChange(func(s domain.FeedbackGraphState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	g.SetDelayedFeedback(true)
	require.NoError(t, g.Start(context.Background(), "hw:1"))
	require.NoError(t, g.Start(context.Background(), "hw:1"))
	assert.True(t, g.Active())
	assert.Equal(t, "hw:1", capture.lastCfg.Load().(ports.AudioConfig).InputDevice)

	require.Eventually(t, func() bool { return g.Level() > 0.4 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return output.written.Load() > 0 }, time.Second, 2*time.Millisecond)
	require.NoError(t, g.PlayCue([]float64{0.1, 0.1}))

	g.Stop()
	g.Stop()

	assert.Equal(t, int32(1), capture.acquired.Load())
	assert.Equal(t, capture.acquired.Load(), capture.released.Load())
	assert.Equal(t, output.acquired.Load(), output.released.Load())

	state := g.State()
	assert.False(t, state.Active)
	assert.False(t, state.DAF.Enabled, "stop resets to defaults")
	assert.Equal(t, 0.0, state.InputLevel)
	assert.Empty(t, state.Error)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.False(t, states[len(states)-1].Active)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{}
	g := newTestGraph(t, capture, &fakeOutput{}, nil)
	g.SetBPM(90)

	g.Stop()
	g.Stop()

	assert.Equal(t, 90, g.State().Metronome.BPM)
	assert.Equal(t, int32(0), capture.released.Load())
}

func TestStartPermissionDeniedSkipsCapture(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{}
	g := newTestGraph(t, capture, &fakeOutput{}, func(d *Dependencies) {
		d.Permission = fakePermission{state: ports.PermissionDenied}
	})

	err := g.Start(context.Background(), "")
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, int32(0), capture.acquired.Load())
	assert.False(t, g.Active())
	assert.NotEmpty(t, g.State().Error)
}

func TestStartMapsCaptureErrors(t *testing.T) {
	t.Parallel()

	denied := newTestGraph(t, &fakeCapture{startErr: ports.ErrAccessDenied}, &fakeOutput{}, nil)
	assert.ErrorIs(t, denied.Start(context.Background(), ""), ErrMicDenied)

	busy := newTestGraph(t, &fakeCapture{startErr: errors.New("device busy")}, &fakeOutput{}, nil)
	assert.ErrorIs(t, busy.Start(context.Background(), ""), ErrCaptureUnavailable)
}

func TestStartOutputFailureReleasesCapture(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{}
	g := newTestGraph(t, capture, &fakeOutput{startErr: errors.New("no sink")}, nil)

	err := g.Start(context.Background(), "")
	require.ErrorIs(t, err, ErrCaptureUnavailable)
	assert.Equal(t, capture.acquired.Load(), capture.released.Load())
	assert.False(t, g.Active())
}

func TestMidSessionCaptureFailureTearsDown(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{level: 0.05, failWith: errors.New("device unplugged")}
	output := &fakeOutput{}
	g := newTestGraph(t, capture, output, nil)

	failed := make(chan error, 1)
	g.OnFailure(func(err error) { failed <- err })

	require.NoError(t, g.Start(context.Background(), ""))

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, ErrCaptureUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("expected failure callback")
	}
	assert.False(t, g.Active())
	assert.Contains(t, g.State().Error, "device unplugged")
	assert.Equal(t, capture.acquired.Load(), capture.released.Load())
	assert.Equal(t, output.acquired.Load(), output.released.Load())

	g.Stop()
	require.NoError(t, g.Start(context.Background(), ""))
	g.Stop()
}

func TestAnalysisTapReceivesRawPCM(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, &fakeCapture{level: 0.2}, &fakeOutput{}, nil)
	tap := &recordingTap{}
	g.SetAnalysisTap(tap)

	require.NoError(t, g.Start(context.Background(), ""))
	defer g.Stop()

	require.Eventually(t, func() bool { return tap.chunks.Load() > 2 }, time.Second, 2*time.Millisecond)
	energy := g.RecentEnergy()
	require.NotEmpty(t, energy)
	assert.InDelta(t, 0.2, energy[0], 1e-3)
}

func TestChoralCancelsPreviousUtterance(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	g := newTestGraph(t, &fakeCapture{}, &fakeOutput{}, func(d *Dependencies) {
		d.Synthesizer = synth
	})

	require.NoError(t, g.Start(context.Background(), ""))
	defer g.Stop()

	g.SetChoral(true, "first passage", 1.2)
	require.Eventually(t, func() bool { return len(synth.calls()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.choral != nil
	}, time.Second, time.Millisecond)

	g.SetChoral(true, "second passage", 0.8)
	require.Eventually(t, func() bool { return len(synth.calls()) == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.choral != nil
	}, time.Second, time.Millisecond)

	calls := synth.calls()
	assert.True(t, calls[0].canceled.Load())
	assert.False(t, calls[1].canceled.Load())
	synth.mu.Lock()
	assert.Equal(t, []float64{1.2, 0.8}, synth.rates)
	synth.mu.Unlock()

	g.Stop()
	assert.True(t, calls[1].canceled.Load())
}

func TestChoralCompletionClearsEnabled(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{finishes: true}
	g := newTestGraph(t, &fakeCapture{}, &fakeOutput{}, func(d *Dependencies) {
		d.Synthesizer = synth
	})
	g.SetChoral(true, "passage", 1)

	require.NoError(t, g.Start(context.Background(), ""))
	defer g.Stop()

	require.Eventually(t, func() bool { return !g.State().Choral.Enabled }, time.Second, time.Millisecond)
	assert.Len(t, synth.calls(), 1)
}

func TestChoralWithoutTextStaysDisabled(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{}
	g := newTestGraph(t, &fakeCapture{}, &fakeOutput{}, func(d *Dependencies) {
		d.Synthesizer = synth
	})
	require.NoError(t, g.Start(context.Background(), ""))
	defer g.Stop()

	g.SetChoral(true, "   ", 1.5)

	state := g.State()
	assert.False(t, state.Choral.Enabled)
	assert.Equal(t, 1.5, state.Choral.Rate)
	assert.Empty(t, synth.calls())
}

func TestChoralWithoutSynthesizerStaysDisabled(t *testing.T) {
	t.Parallel()

	g := newTestGraph(t, &fakeCapture{}, &fakeOutput{}, nil)
	g.SetChoral(true, "passage", 1)
	assert.False(t, g.State().Choral.Enabled)
	assert.Equal(t, "passage", g.State().Choral.Text)
}
