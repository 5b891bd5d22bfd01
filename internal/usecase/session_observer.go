package usecase

import (
	"time"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

// sessionObserver fans engine events out to the coach, the UI and the transcript.
type sessionObserver struct {
	coach      Coach
	events     ports.EventSink
	aggregator *transcriptAggregator
}

func (o sessionObserver) SegmentProcessed(segment domain.TranscriptSegment) {
	o.aggregator.Add(segment)
	o.events.TranscriptUpdated(segment)
	if o.coach != nil {
		o.coach.SegmentProcessed(segment)
	}
}

func (o sessionObserver) SilenceGap(gap time.Duration, timestampMs int64) {
	if o.coach != nil {
		o.coach.SilenceGap(gap, timestampMs)
	}
}

func (o sessionObserver) MetricsSnapshot(snapshot domain.SpeechMetricsSnapshot) {
	o.events.MetricsSnapshot(snapshot)
	if o.coach != nil {
		o.coach.MetricsSnapshot(snapshot)
	}
}
