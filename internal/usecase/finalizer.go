package usecase

import (
	"time"

	"github.com/google/uuid"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

type reportFinalizer struct {
	coach Coach
	now   func() time.Time
}

func newReportFinalizer(coach Coach, now func() time.Time) reportFinalizer {
	return reportFinalizer{coach: coach, now: now}
}

// Finalize assembles the session report after the engine has stopped.
func (f reportFinalizer) Finalize(active *activeSession, final domain.SpeechMetricsSnapshot) domain.SessionReport {
	report := domain.SessionReport{
		SessionID:       uuid.NewString(),
		StartedAt:       active.startedAt,
		StoppedAt:       f.now(),
		Metrics:         final,
		Disfluencies:    []domain.Disfluency{},
		Blocks:          []domain.Disfluency{},
		TechniqueCounts: map[domain.Technique]int{},
	}
	var finals []string
	if active.analysing {
		finals = active.engine.Transcripts()
		if found := active.engine.Disfluencies(); len(found) > 0 {
			report.Disfluencies = found
		}
		if blocks := active.engine.SilenceGaps(); len(blocks) > 0 {
			report.Blocks = blocks
		}
	}
	report.Transcript = active.aggregator.Join(finals)
	if f.coach != nil {
		report.TechniqueCounts = f.coach.TechniqueCounts()
	}
	return report
}
