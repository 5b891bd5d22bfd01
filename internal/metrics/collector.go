// Package metrics exposes prometheus instrumentation for the coaching core.
// A nil *Collector is valid and records nothing, so components can run uninstrumented in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/domain"
)

// Collector holds the core's counters and gauges on a private registry.
type Collector struct {
	registry *prometheus.Registry

	audioSamples     prometheus.Counter
	graphFailures    *prometheus.CounterVec
	tapDrops         prometheus.Counter
	inputLevel       prometheus.Gauge
	disfluencies     *prometheus.CounterVec
	silenceGaps      prometheus.Counter
	segmentsDropped  *prometheus.CounterVec
	recognizerResets prometheus.Counter
	speakingRate     prometheus.Gauge
	fluencyScore     prometheus.Gauge
	vocalEffort      prometheus.Gauge
	cuesFired        *prometheus.CounterVec
	cuesSuppressed   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers all metrics under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),

		audioSamples: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "samples_processed_total",
			Help:      "Microphone samples processed by the feedback graph",
		}),
		graphFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "failures_total",
			Help:      "Feedback graph failures by stage",
		}, []string{"stage"}),
		tapDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "tap_chunks_dropped_total",
			Help:      "Analysis tap chunks dropped because the recognizer queue was full",
		}),
		inputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "input_level",
			Help:      "Latest microphone level in [0,1]",
		}),
		disfluencies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "disfluencies_total",
			Help:      "Accumulated disfluencies by type",
		}, []string{"type"}),
		silenceGaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "silence_gaps_total",
			Help:      "Silence gaps between transcript segments",
		}),
		segmentsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "segments_dropped_total",
			Help:      "Transcript segments dropped as malformed",
		}, []string{"reason"}),
		recognizerResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "recognizer_restarts_total",
			Help:      "Automatic speech recognizer restarts",
		}),
		speakingRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "speaking_rate_syllables_per_minute",
			Help:      "Latest speaking rate",
		}),
		fluencyScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "score",
			Help:      "Latest fluency score",
		}),
		vocalEffort: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fluency",
			Name:      "vocal_effort",
			Help:      "Latest vocal effort estimate",
		}),
		cuesFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coach",
			Name:      "cues_fired_total",
			Help:      "Coaching cues rendered",
		}, []string{"kind"}),
		cuesSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coach",
			Name:      "cues_suppressed_total",
			Help:      "Coaching cue requests dropped by the cooldown",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorLog: zap.NewStdLog(c.logger)})
}

// Registry exposes the underlying registry for tests and custom exporters.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) AudioProcessed(samples int) {
	if c == nil || samples <= 0 {
		return
	}
	c.audioSamples.Add(float64(samples))
}

func (c *Collector) GraphFailure(stage string) {
	if c == nil {
		return
	}
	c.graphFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) TapChunkDropped() {
	if c == nil {
		return
	}
	c.tapDrops.Inc()
}

func (c *Collector) InputLevel(level float64) {
	if c == nil {
		return
	}
	c.inputLevel.Set(level)
}

func (c *Collector) DisfluencyDetected(kind domain.DisfluencyType) {
	if c == nil {
		return
	}
	c.disfluencies.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) SilenceGap() {
	if c == nil {
		return
	}
	c.silenceGaps.Inc()
}

func (c *Collector) SegmentDropped(reason string) {
	if c == nil {
		return
	}
	c.segmentsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecognizerRestarted() {
	if c == nil {
		return
	}
	c.recognizerResets.Inc()
}

func (c *Collector) Snapshot(snapshot domain.SpeechMetricsSnapshot) {
	if c == nil {
		return
	}
	c.speakingRate.Set(snapshot.SpeakingRateSylPerMin)
	c.fluencyScore.Set(snapshot.FluencyScore)
	c.vocalEffort.Set(snapshot.VocalEffort)
}

func (c *Collector) CueFired(kind domain.CueKind) {
	if c == nil {
		return
	}
	c.cuesFired.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) CueSuppressed(kind domain.CueKind) {
	if c == nil {
		return
	}
	c.cuesSuppressed.WithLabelValues(string(kind)).Inc()
}
