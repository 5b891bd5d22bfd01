package ports

import (
	"context"
	"errors"
	"io"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

var (
	// ErrAccessDenied is wrapped by capture implementations when the OS refuses microphone access.
	ErrAccessDenied = errors.New("microphone access denied")
	// ErrUnsupported is wrapped by providers when the capability is absent on this platform.
	ErrUnsupported = errors.New("capability not supported")
	// ErrNoSpeech is wrapped by recognizers that end a session because nothing was said.
	ErrNoSpeech = errors.New("no speech detected")
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing signed 16-bit little-endian PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// OutputConfig describes how processed audio should be played.
type OutputConfig struct {
	SampleRate   int
	Channels     int
	OutputFormat string
	OutputDevice string
	// Tempo is a playback-rate multiplier; zero means 1.
	Tempo float64
}

// OutputSession accepts signed 16-bit little-endian PCM for playback.
// Close ends the input and lets queued audio drain; Wait returns once playback has finished.
type OutputSession interface {
	io.WriteCloser
	Stop() error
	Wait() error
}

// AudioOutput opens playback sessions.
type AudioOutput interface {
	Start(ctx context.Context, cfg OutputConfig) (OutputSession, error)
}

// PermissionState is the platform's recorded answer for microphone access.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// PermissionChecker reports microphone permission without opening the device.
type PermissionChecker interface {
	MicrophonePermission(ctx context.Context) (PermissionState, error)
}

// PCMTap receives raw source audio (before any feedback processing).
type PCMTap interface {
	OnPCM(chunk []byte)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// TextToSpeech renders text into mono 16-bit PCM.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) (pcm []byte, sampleRate int, err error)
}

// Playback is a handle on an in-flight synthesized utterance.
type Playback interface {
	Done() <-chan struct{}
	Cancel() error
}

// SpeechSynthesizer speaks text aloud at a playback rate.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, rate float64) (Playback, error)
}

// TranscriptNormalizer canonicalizes recognizer output before classification.
type TranscriptNormalizer interface {
	Normalize(text string) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	FeedbackGraphStateChanged(state domain.FeedbackGraphState)
	TranscriptUpdated(segment domain.TranscriptSegment)
	MetricsSnapshot(snapshot domain.SpeechMetricsSnapshot)
	CueFired(kind domain.CueKind)
	SessionError(code domain.ErrorCode, detail string)
}
