package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

const ttsWriteChunk = 4096

// TTSPlayer speaks text by fetching PCM from a TextToSpeech provider and
// playing it on its own output session, independent of the feedback path.
type TTSPlayer struct {
	tts    ports.TextToSpeech
	output ports.AudioOutput
	cfg    ports.OutputConfig
}

func NewTTSPlayer(tts ports.TextToSpeech, output ports.AudioOutput, cfg ports.OutputConfig) *TTSPlayer {
	return &TTSPlayer{tts: tts, output: output, cfg: cfg}
}

func (p *TTSPlayer) Synthesize(ctx context.Context, text string, rate float64) (ports.Playback, error) {
	if p.tts == nil {
		return nil, fmt.Errorf("speech synthesis: %w", ports.ErrUnsupported)
	}

	pcm, sampleRate, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("speech synthesis returned no audio")
	}

	cfg := p.cfg
	cfg.SampleRate = sampleRate
	cfg.Channels = 1
	cfg.Tempo = rate

	playCtx, cancel := context.WithCancel(ctx)
	session, err := p.output.Start(playCtx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open choral output: %w", err)
	}

	handle := &ttsPlayback{
		session: session,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go handle.run(playCtx, pcm)
	return handle, nil
}

type ttsPlayback struct {
	session ports.OutputSession
	cancel  context.CancelFunc
	done    chan struct{}

	cancelOnce sync.Once
	stopErr    error
}

func (h *ttsPlayback) run(ctx context.Context, pcm []byte) {
	defer close(h.done)

	for start := 0; start < len(pcm); start += ttsWriteChunk {
		if ctx.Err() != nil {
			return
		}
		end := min(start+ttsWriteChunk, len(pcm))
		if _, err := h.session.Write(pcm[start:end]); err != nil {
			return
		}
	}
	_ = h.session.Close()
	_ = h.session.Wait()
}

func (h *ttsPlayback) Done() <-chan struct{} {
	return h.done
}

// Cancel stops playback immediately and waits for the writer to exit.
func (h *ttsPlayback) Cancel() error {
	h.cancelOnce.Do(func() {
		h.cancel()
		h.stopErr = h.session.Stop()
		<-h.done
	})
	return h.stopErr
}
