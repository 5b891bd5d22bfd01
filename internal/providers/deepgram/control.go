package deepgram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

// noAudioCloseReason is the close text Deepgram sends when a session heard nothing.
const noAudioCloseReason = "NET-0001"

var (
	keepAliveMessage   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMessage = []byte(`{"type":"CloseStream"}`)
)

func (s *streamingSession) sendControl(message []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, message)
}

// idleTicker reports ticks with no audio sent since the previous tick. The
// analysis tap stops feeding audio while the graph is idle, and Deepgram closes
// sockets that go quiet for about ten seconds.
type idleTicker struct {
	ticker *time.Ticker
	sent   bool
}

func newIdleTicker(interval time.Duration) *idleTicker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &idleTicker{ticker: time.NewTicker(interval)}
}

func (t *idleTicker) C() <-chan time.Time { return t.ticker.C }

func (t *idleTicker) markSent() { t.sent = true }

// idle reports whether nothing was sent since the last call and starts a new period.
func (t *idleTicker) idle() bool {
	quiet := !t.sent
	t.sent = false
	return quiet
}

func (t *idleTicker) stop() { t.ticker.Stop() }

// classifyStreamErr drops ordinary close codes and maps the no-audio close to
// ports.ErrNoSpeech so the engine treats it as transient.
func classifyStreamErr(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && strings.Contains(closeErr.Text, noAudioCloseReason) {
		return fmt.Errorf("%s: %w", closeErr.Text, ports.ErrNoSpeech)
	}
	return err
}

type controlResult struct {
	// flush closes out the current utterance with an empty speech-final event.
	flush bool
	err   error
}

// controlMessage handles the non-transcript message types. ok is false for
// anything that should be parsed as a transcript.
func controlMessage(response deepgramResponse) (controlResult, bool) {
	switch {
	case strings.EqualFold(response.Type, "Error"):
		message := strings.TrimSpace(response.Message)
		if message == "" {
			message = "deepgram returned an unknown error"
		}
		return controlResult{flush: true, err: errors.New(message)}, true
	case strings.EqualFold(response.Type, "UtteranceEnd"):
		return controlResult{flush: true}, true
	case strings.EqualFold(response.Type, "SpeechStarted"), strings.EqualFold(response.Type, "Metadata"):
		return controlResult{}, true
	default:
		return controlResult{}, false
	}
}
