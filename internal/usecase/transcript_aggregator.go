package usecase

import (
	"strings"
	"sync"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

// transcriptAggregator tracks the interim tail the recognizer never finalized.
// Final text is accumulated by the engine; Join appends the tail to it.
type transcriptAggregator struct {
	mu      sync.Mutex
	pending string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(segment domain.TranscriptSegment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if segment.IsFinal {
		a.pending = ""
		return
	}
	if text := strings.TrimSpace(segment.Text); text != "" {
		a.pending = text
	}
}

// Join builds the session transcript from the engine's finals and the pending tail.
func (a *transcriptAggregator) Join(finals []string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, 0, len(finals)+1)
	for _, text := range finals {
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	joined := strings.Join(parts, " ")
	if a.pending == "" || strings.HasSuffix(joined, a.pending) {
		return joined
	}
	if joined == "" {
		return a.pending
	}
	return joined + " " + a.pending
}
