package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/RamCali/stutterlab-sub000/internal/bootstrap"
	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/usecase"
)

const (
	eventSession    = "stutterlab:session"
	eventFeedback   = "stutterlab:feedback"
	eventTranscript = "stutterlab:transcript"
	eventMetrics    = "stutterlab:metrics"
	eventCue        = "stutterlab:cue"
	eventError      = "stutterlab:error"
)

// App is the Wails application root and the UI event sink.
type App struct {
	ctx context.Context

	services bootstrap.Services
	ready    bool
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.ready = true
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

func (a *App) shutdown(_ context.Context) {
	if !a.ready {
		return
	}
	if err := a.services.Controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		a.services.Logger.Sugar().Warnw("abort on shutdown failed", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.services.Close(ctx)
}

// StartPractice opens the microphone and starts live feedback and analysis.
func (a *App) StartPractice() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Start(a.ctx); err != nil {
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// StopPractice ends the session and returns its report.
func (a *App) StopPractice() (domain.SessionReport, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionReport{}, err
	}
	report, err := a.services.Controller.Stop(a.ctx)
	if err != nil {
		if !errors.Is(err, usecase.ErrNoActiveSession) {
			a.SessionError(domain.ErrorCodeTranscription, err.Error())
		}
		return domain.SessionReport{}, err
	}
	return report, nil
}

// AbortPractice discards an in-progress session.
func (a *App) AbortPractice() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Controller.Abort(); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) {
			return nil
		}
		return err
	}
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if !a.ready {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

// GetFeedbackState returns the feedback graph settings and input level.
func (a *App) GetFeedbackState() domain.FeedbackGraphState {
	if !a.ready {
		return domain.FeedbackGraphState{}
	}
	return a.services.Graph.State()
}

func (a *App) SetDelayedFeedback(enabled bool) {
	if a.ready {
		a.services.Graph.SetDelayedFeedback(enabled)
	}
}

func (a *App) SetDelayMs(ms int) {
	if a.ready {
		a.services.Graph.SetDelayMs(ms)
	}
}

func (a *App) SetFrequencyShift(enabled bool) {
	if a.ready {
		a.services.Graph.SetFrequencyShift(enabled)
	}
}

func (a *App) SetSemitones(semitones int) {
	if a.ready {
		a.services.Graph.SetSemitones(semitones)
	}
}

func (a *App) SetMetronome(enabled bool) {
	if a.ready {
		a.services.Graph.SetMetronome(enabled)
	}
}

func (a *App) SetBPM(bpm int) {
	if a.ready {
		a.services.Graph.SetBPM(bpm)
	}
}

// SetChoral starts or stops the synthesized reference voice.
func (a *App) SetChoral(enabled bool, text string, rate float64) {
	if a.ready {
		a.services.Graph.SetChoral(enabled, text, rate)
	}
}

// GetTechniqueCounts returns how often each technique was used this session.
func (a *App) GetTechniqueCounts() map[domain.Technique]int {
	if !a.ready {
		return map[domain.Technique]int{}
	}
	return a.services.Coach.TechniqueCounts()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if !a.ready {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"recognizer":       "Deepgram",
		"model":            cfg.Deepgram.Model,
		"language":         cfg.Deepgram.Language,
		"voiceAnalysis":    fmt.Sprintf("%t", cfg.Deepgram.APIKey != ""),
		"choralVoice":      fmt.Sprintf("%t", cfg.ElevenLabs.APIKey != ""),
		"rulesFile":        cfg.Rules.Path,
		"configFile":       cfg.File,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"audioOutput":      cfg.Audio.OutputDevice,
		"metricsAddr":      cfg.Metrics.Addr,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// FeedbackGraphStateChanged emits feedback settings and the input level meter.
func (a *App) FeedbackGraphStateChanged(state domain.FeedbackGraphState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFeedback, state)
}

// TranscriptUpdated emits interim and final segments with their disfluencies.
func (a *App) TranscriptUpdated(segment domain.TranscriptSegment) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranscript, segment)
}

// MetricsSnapshot emits the periodic speech metrics.
func (a *App) MetricsSnapshot(snapshot domain.SpeechMetricsSnapshot) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventMetrics, snapshot)
}

// CueFired emits the coaching cue that was just played.
func (a *App) CueFired(kind domain.CueKind) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventCue, map[string]string{"kind": string(kind)})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonPracticeStarted:
		return "Practice started"
	case domain.SessionReasonPracticeRestarted:
		return "Practice restarted; previous session discarded"
	case domain.SessionReasonFeedbackRecovered:
		return "Audio feedback recovered"
	case domain.SessionReasonFinalizing:
		return "Practice stopped. Preparing report..."
	case domain.SessionReasonReportReady:
		return "Session report ready"
	case domain.SessionReasonPracticeDiscarded:
		return "Practice discarded"
	case domain.SessionReasonPermissionDenied:
		return "Microphone permission denied"
	case domain.SessionReasonCaptureFailed:
		return "Microphone unavailable"
	case domain.SessionReasonVoiceAnalysisOffline:
		return "Practice started without voice analysis"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeCapture:
		return "Microphone unavailable"
	case domain.ErrorCodeTranscription:
		return "Voice analysis error"
	case domain.ErrorCodeTranscriptionUnsupported:
		return "Voice analysis unavailable"
	case domain.ErrorCodeChoral:
		return "Choral voice failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
