package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("stutterlab", zaptest.NewLogger(t))

	c.DisfluencyDetected(domain.DisfluencyRepetition)
	c.DisfluencyDetected(domain.DisfluencyRepetition)
	c.CueFired(domain.CuePositive)
	c.CueSuppressed(domain.CueWarning)
	c.Snapshot(domain.SpeechMetricsSnapshot{FluencyScore: 87, SpeakingRateSylPerMin: 120})
	c.AudioProcessed(256)
	c.AudioProcessed(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.disfluencies.WithLabelValues("repetition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cuesFired.WithLabelValues("positive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cuesSuppressed.WithLabelValues("warning")))
	assert.Equal(t, 87.0, testutil.ToFloat64(c.fluencyScore))
	assert.Equal(t, 256.0, testutil.ToFloat64(c.audioSamples))
}

func TestCollectorHandlerServesMetrics(t *testing.T) {
	c := NewCollector("stutterlab", nil)
	c.RecognizerRestarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "stutterlab_fluency_recognizer_restarts_total 1"))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.AudioProcessed(10)
		c.GraphFailure("start")
		c.TapChunkDropped()
		c.InputLevel(0.5)
		c.DisfluencyDetected(domain.DisfluencyBlock)
		c.SilenceGap()
		c.SegmentDropped("utf8")
		c.RecognizerRestarted()
		c.Snapshot(domain.SpeechMetricsSnapshot{})
		c.CueFired(domain.CueBreathe)
		c.CueSuppressed(domain.CueBreathe)
	})
	assert.Nil(t, c.Registry())
}
