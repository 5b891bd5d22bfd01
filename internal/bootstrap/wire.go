package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/RamCali/stutterlab-sub000/internal/audio"
	"github.com/RamCali/stutterlab-sub000/internal/coach"
	"github.com/RamCali/stutterlab-sub000/internal/config"
	"github.com/RamCali/stutterlab-sub000/internal/cues"
	"github.com/RamCali/stutterlab-sub000/internal/feedback"
	"github.com/RamCali/stutterlab-sub000/internal/fluency"
	"github.com/RamCali/stutterlab-sub000/internal/metrics"
	"github.com/RamCali/stutterlab-sub000/internal/ports"
	"github.com/RamCali/stutterlab-sub000/internal/providers/deepgram"
	"github.com/RamCali/stutterlab-sub000/internal/providers/elevenlabs"
	"github.com/RamCali/stutterlab-sub000/internal/rules"
	"github.com/RamCali/stutterlab-sub000/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Graph      *feedback.Graph
	Coach      *coach.Controller
	Metrics    *metrics.Collector
	Logger     *zap.Logger
	Config     config.Config

	metricsServer *http.Server
}

// Close stops background servers and flushes the logger.
func (s Services) Close(ctx context.Context) error {
	var err error
	if s.metricsServer != nil {
		err = s.metricsServer.Shutdown(ctx)
	}
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
	return err
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return Services{}, err
	}

	services, err := Assemble(cfg, eventSink, logger)
	if err != nil {
		_ = logger.Sync()
		return Services{}, err
	}

	if cfg.Metrics.Addr != "" {
		server, err := serveMetrics(cfg.Metrics.Addr, services.Metrics, logger)
		if err != nil {
			_ = logger.Sync()
			return Services{}, err
		}
		services.metricsServer = server
	}
	return services, nil
}

// Assemble builds the component graph from an already loaded config.
func Assemble(cfg config.Config, eventSink ports.EventSink, logger *zap.Logger) (Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("starting stutterlab core",
		zap.String("configFile", cfg.File),
		zap.Bool("transcription", cfg.Deepgram.APIKey != ""),
		zap.Bool("choralVoice", cfg.ElevenLabs.APIKey != ""),
	)

	normalizer, err := rules.NewNormalizer(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)

	playback := audio.NewFFMPEGPlayback(cfg.Audio.FFmpegCommand)
	outputCfg := ports.OutputConfig{
		SampleRate:   cfg.Audio.SampleRate,
		Channels:     1,
		OutputFormat: cfg.Audio.OutputFormat,
		OutputDevice: cfg.Audio.OutputDevice,
	}
	voice := audio.NewTTSPlayer(
		elevenlabs.NewClient(elevenlabs.Config{
			APIKey:     cfg.ElevenLabs.APIKey,
			APIBaseURL: cfg.ElevenLabs.APIBaseURL,
			VoiceID:    cfg.ElevenLabs.VoiceID,
			Model:      cfg.ElevenLabs.Model,
		}),
		playback,
		outputCfg,
	)

	graphCfg := feedback.DefaultConfig()
	graphCfg.SampleRate = cfg.Audio.SampleRate
	graphCfg.ChunkSamples = cfg.Audio.ChunkSamples
	graphCfg.Audio = ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    1,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	graphCfg.Output = outputCfg
	graphCfg.CueBufferLimit = cfg.Audio.SampleRate * 2
	graphCfg.DefaultDelayMs = cfg.Feedback.DelayMs
	graphCfg.DefaultSemitones = cfg.Feedback.Semitones
	graphCfg.DefaultBPM = cfg.Feedback.BPM
	graphCfg.DefaultChoralRate = cfg.Feedback.ChoralRate

	graph := feedback.NewGraph(graphCfg, feedback.Dependencies{
		Capture:     audio.NewFFMPEGCapture(cfg.Audio.FFmpegCommand),
		Output:      playback,
		Permission:  audio.NewStaticPermission(cfg.Audio.Permission),
		Synthesizer: voice,
		Logger:      logger,
		Metrics:     collector,
	})

	recognizer := deepgram.NewProvider(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
		Endpointing: cfg.Deepgram.Endpointing,
	})

	engineCfg := fluency.DefaultConfig()
	engineCfg.Streaming.SampleRate = cfg.Audio.SampleRate
	engineCfg.SilenceGap = cfg.Engine.SilenceGap
	engineCfg.BlockGap = cfg.Engine.BlockGap
	engineCfg.SnapshotInterval = cfg.Engine.SnapshotInterval
	if len(cfg.Engine.Fillers) > 0 {
		engineCfg.Fillers = cfg.Engine.Fillers
	}
	classifier := fluency.NewTextClassifier(engineCfg.Fillers)
	engines := func() usecase.FluencyEngine {
		return fluency.NewEngine(engineCfg, fluency.Dependencies{
			Recognizer: recognizer,
			Normalizer: normalizer,
			Classifier: classifier,
			Energy:     graph,
			Logger:     logger,
			Metrics:    collector,
		})
	}

	synth := cues.NewSynthesizer(cues.Config{
		SampleRate: cfg.Audio.SampleRate,
		Volume:     cfg.Cues.Volume,
		Cooldown:   cues.TrailingCooldown(cfg.Coach.Cooldown),
	}, graph, cues.WithLogger(logger), cues.WithMetrics(collector))

	coachCfg := coach.DefaultConfig()
	coachCfg.RateMin = cfg.Coach.RateMin
	coachCfg.RateMax = cfg.Coach.RateMax
	coachCfg.LowEffortMax = cfg.Coach.LowEffortMax
	coachCfg.TensionSpike = cfg.Coach.TensionSpike
	coachCfg.PauseMin = cfg.Engine.SilenceGap
	coachCfg.BlockGap = cfg.Engine.BlockGap
	coachCfg.EncourageAfter = cfg.Coach.EncourageAfter
	coachCfg.Cooldown = cfg.Coach.Cooldown
	coachCtl := coach.NewController(coachCfg, synth, coach.WithLogger(logger), coach.WithMetrics(collector))
	coachCtl.OnCue(eventSink.CueFired)

	controller := usecase.NewSessionController(
		graph,
		engines,
		coachCtl,
		eventSink,
		usecase.Config{DeviceID: cfg.Audio.InputDevice},
		usecase.WithLogger(logger),
	)

	return Services{
		Controller: controller,
		Graph:      graph,
		Coach:      coachCtl,
		Metrics:    collector,
		Logger:     logger,
		Config:     cfg,
	}, nil
}

func serveMetrics(addr string, collector *metrics.Collector, logger *zap.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("metrics endpoint listening", zap.String("addr", listener.Addr().String()))
	return server, nil
}
