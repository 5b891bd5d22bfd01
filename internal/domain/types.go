package domain

import "time"

// SessionState models the practice-session lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateRunning  SessionState = "running"
	SessionStateStopping SessionState = "stopping"
	SessionStateError    SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold              SessionStateReason = "mic_cold"
	SessionReasonPracticeStarted      SessionStateReason = "practice_started"
	SessionReasonPracticeRestarted    SessionStateReason = "practice_restarted"
	SessionReasonFeedbackRecovered    SessionStateReason = "feedback_recovered"
	SessionReasonFinalizing           SessionStateReason = "finalizing"
	SessionReasonReportReady          SessionStateReason = "report_ready"
	SessionReasonPracticeDiscarded    SessionStateReason = "practice_discarded"
	SessionReasonPermissionDenied     SessionStateReason = "permission_denied"
	SessionReasonCaptureFailed        SessionStateReason = "capture_failed"
	SessionReasonVoiceAnalysisOffline SessionStateReason = "voice_analysis_offline"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup                  ErrorCode = "startup"
	ErrorCodePermission               ErrorCode = "permission"
	ErrorCodeCapture                  ErrorCode = "capture"
	ErrorCodeTranscription            ErrorCode = "transcription"
	ErrorCodeTranscriptionUnsupported ErrorCode = "transcription_unsupported"
	ErrorCodeChoral                   ErrorCode = "choral"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// DAFSettings configures delayed auditory feedback.
type DAFSettings struct {
	Enabled bool `json:"enabled"`
	DelayMs int  `json:"delayMs"`
}

// FAFSettings configures frequency altered feedback.
type FAFSettings struct {
	Enabled   bool `json:"enabled"`
	Semitones int  `json:"semitones"`
}

// MetronomeSettings configures the pacing metronome.
type MetronomeSettings struct {
	Enabled bool `json:"enabled"`
	BPM     int  `json:"bpm"`
}

// ChoralSettings configures the synthesized choral overlay.
type ChoralSettings struct {
	Enabled bool    `json:"enabled"`
	Rate    float64 `json:"rate"`
	Text    string  `json:"text"`
}

// FeedbackGraphState is the observable state of the audio feedback graph.
type FeedbackGraphState struct {
	Active     bool              `json:"active"`
	DAF        DAFSettings       `json:"daf"`
	FAF        FAFSettings       `json:"faf"`
	Metronome  MetronomeSettings `json:"metronome"`
	Choral     ChoralSettings    `json:"choral"`
	InputLevel float64           `json:"inputLevel"`
	Error      string            `json:"error,omitempty"`
}

// DisfluencyType classifies a detected speech interruption.
type DisfluencyType string

const (
	DisfluencyRepetition   DisfluencyType = "repetition"
	DisfluencyProlongation DisfluencyType = "prolongation"
	DisfluencyInterjection DisfluencyType = "interjection"
	DisfluencyBlock        DisfluencyType = "block"
)

// Disfluency is one detected event. Values are never mutated after creation.
type Disfluency struct {
	Type        DisfluencyType `json:"type"`
	MatchedText string         `json:"matchedText"`
	TimestampMs int64          `json:"timestampMs"`
}

// TranscriptSegment is one recognition result, interim or final.
type TranscriptSegment struct {
	Text         string       `json:"text"`
	IsFinal      bool         `json:"isFinal"`
	TimestampMs  int64        `json:"timestampMs"`
	Disfluencies []Disfluency `json:"disfluencies"`
}

// SpeechMetricsSnapshot is a derived view of the session metrics at one instant.
type SpeechMetricsSnapshot struct {
	SpeakingRateSylPerMin float64 `json:"speakingRateSylPerMin"`
	VocalEffort           float64 `json:"vocalEffort"`
	FluencyScore          float64 `json:"fluencyScore"`
	TotalSyllables        int     `json:"totalSyllables"`
	TotalDisfluencies     int     `json:"totalDisfluencies"`
}

// CueKind identifies a non-verbal coaching cue.
type CueKind string

const (
	CuePositive  CueKind = "positive"
	CueWarning   CueKind = "warning"
	CueBreathe   CueKind = "breathe"
	CueKeepGoing CueKind = "keepGoing"
)

// Technique identifies a fluency technique whose usage is counted per session.
type Technique string

const (
	TechniquePacing      Technique = "pacing"
	TechniqueGentleOnset Technique = "gentleOnset"
	TechniquePausing     Technique = "pausing"
)

// SessionReport is what the report layer reads once a practice session ends.
type SessionReport struct {
	SessionID       string                `json:"sessionId"`
	StartedAt       time.Time             `json:"startedAt"`
	StoppedAt       time.Time             `json:"stoppedAt"`
	Metrics         SpeechMetricsSnapshot `json:"metrics"`
	Disfluencies    []Disfluency          `json:"disfluencies"`
	Blocks          []Disfluency          `json:"blocks"`
	TechniqueCounts map[Technique]int     `json:"techniqueCounts"`
	Transcript      string                `json:"transcript"`
}

// Status summarizes the current runtime status.
type Status struct {
	State   SessionState `json:"state"`
	Active  bool         `json:"active"`
	Message string       `json:"message,omitempty"`
}
