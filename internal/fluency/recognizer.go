package fluency

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

// openStream starts a recognizer session whose lifetime is decoupled from ctx
// cancellation, so Stop can flush trailing results before closing it.
func (e *Engine) openStream(ctx context.Context) (ports.StreamingSession, context.CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := e.recognizer.StartStreaming(streamCtx, e.cfg.Streaming)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return stream, cancel, nil
}

// runRecognizer drives recognizer sessions until ctx is cancelled, restarting
// after every session end.
func (e *Engine) runRecognizer(ctx context.Context, stream ports.StreamingSession, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)

	for {
		if stream != nil {
			err := e.drive(ctx, stream)
			cancel()
			if ctx.Err() != nil {
				return
			}
			switch {
			case err == nil:
				e.logger.Debug("recognizer session closed, restarting")
			case errors.Is(err, ports.ErrNoSpeech):
				e.logger.Debug("recognizer heard no speech, restarting", zap.Error(err))
			default:
				e.logger.Warn("recognizer session failed, restarting", zap.Error(err))
			}
		}

		timer := time.NewTimer(e.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		var err error
		stream, cancel, err = e.openStream(ctx)
		if err != nil {
			e.logger.Warn("recognizer restart failed", zap.Error(err))
			stream = nil
			continue
		}
		e.metrics.RecognizerRestarted()
	}
}

// drive pumps tap audio into stream and ingests its events until the session
// ends or ctx is cancelled; on cancellation trailing results are flushed.
func (e *Engine) drive(ctx context.Context, stream ports.StreamingSession) error {
	pumpStop := make(chan struct{})
	pumpDone := make(chan struct{})
	go pumpTapAudio(e.audio, stream, pumpStop, pumpDone, e.logger)

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			close(pumpStop)
			<-pumpDone
			return e.flush(stream, events)
		case event, ok := <-events:
			if !ok {
				close(pumpStop)
				<-pumpDone
				err := stream.Wait()
				_ = stream.Close()
				return err
			}
			e.handleEvent(event)
		}
	}
}

func (e *Engine) flush(stream ports.StreamingSession, events <-chan domain.TranscriptEvent) error {
	_ = stream.CloseSend()
	timer := time.NewTimer(e.cfg.DrainTimeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return waitForStream(stream, e.cfg.DrainTimeout)
			}
			e.handleEvent(event)
		case <-timer.C:
			return stream.Close()
		}
	}
}

func (e *Engine) handleEvent(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	if text == "" {
		return
	}
	segment := domain.TranscriptSegment{
		Text:        text,
		IsFinal:     event.Kind == domain.TranscriptKindFinal,
		TimestampMs: e.now().UnixMilli(),
	}
	if _, err := e.Ingest(segment); err != nil {
		e.logger.Debug("segment dropped", zap.Error(err))
	}
}

func pumpTapAudio(
	chunks <-chan []byte,
	stream ports.StreamingSession,
	stop <-chan struct{},
	done chan struct{},
	logger *zap.Logger,
) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case chunk := <-chunks:
			if err := stream.SendAudio(chunk); err != nil {
				logger.Debug("failed to stream tap audio", zap.Error(err))
				return
			}
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		_ = session.Close()
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
