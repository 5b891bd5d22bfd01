package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration. Values resolve as defaults, then the
// optional YAML file, then environment variables.
type Config struct {
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Audio      AudioConfig      `yaml:"audio"`
	Rules      RulesConfig      `yaml:"rules"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	Engine     EngineConfig     `yaml:"engine"`
	Coach      CoachConfig      `yaml:"coach"`
	Cues       CuesConfig       `yaml:"cues"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// File is the config file that was read, empty when none existed.
	File string `yaml:"-"`
}

type DeepgramConfig struct {
	APIKey      string        `yaml:"apiKey"`
	APIBaseURL  string        `yaml:"apiBaseUrl"`
	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	SmartFormat bool          `yaml:"smartFormat"`
	Endpointing time.Duration `yaml:"endpointing"`
}

type ElevenLabsConfig struct {
	APIKey     string `yaml:"apiKey"`
	APIBaseURL string `yaml:"apiBaseUrl"`
	VoiceID    string `yaml:"voiceId"`
	Model      string `yaml:"model"`
}

type AudioConfig struct {
	FFmpegCommand string `yaml:"ffmpegCommand"`
	InputFormat   string `yaml:"inputFormat"`
	InputDevice   string `yaml:"inputDevice"`
	OutputFormat  string `yaml:"outputFormat"`
	OutputDevice  string `yaml:"outputDevice"`
	SampleRate    int    `yaml:"sampleRate"`
	ChunkSamples  int    `yaml:"chunkSamples"`
	// Permission is the recorded microphone answer: granted, denied or prompt.
	Permission string `yaml:"permission"`
}

type RulesConfig struct {
	Path           string `yaml:"path"`
	IterationLimit int    `yaml:"iterationLimit"`
}

// FeedbackConfig holds the values a stopped graph resets to.
type FeedbackConfig struct {
	DelayMs    int     `yaml:"delayMs"`
	Semitones  int     `yaml:"semitones"`
	BPM        int     `yaml:"bpm"`
	ChoralRate float64 `yaml:"choralRate"`
}

type EngineConfig struct {
	SilenceGap       time.Duration `yaml:"silenceGap"`
	BlockGap         time.Duration `yaml:"blockGap"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	Fillers          []string      `yaml:"fillers"`
}

type CoachConfig struct {
	RateMin        float64       `yaml:"rateMin"`
	RateMax        float64       `yaml:"rateMax"`
	LowEffortMax   float64       `yaml:"lowEffortMax"`
	TensionSpike   float64       `yaml:"tensionSpike"`
	EncourageAfter time.Duration `yaml:"encourageAfter"`
	Cooldown       time.Duration `yaml:"cooldown"`
}

type CuesConfig struct {
	Volume float64 `yaml:"volume"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus endpoint when non-empty, e.g. "127.0.0.1:9464".
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	return Config{
		Deepgram: DeepgramConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			Endpointing: 300 * time.Millisecond,
		},
		ElevenLabs: ElevenLabsConfig{
			APIBaseURL: "https://api.elevenlabs.io/v1",
		},
		Audio: AudioConfig{
			FFmpegCommand: "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
			OutputFormat:  "pulse",
			OutputDevice:  "default",
			SampleRate:    16000,
			ChunkSamples:  256,
			Permission:    "granted",
		},
		Rules: RulesConfig{
			Path:           filepath.Join(home, ".config", "stutterlab", "normalize.rules"),
			IterationLimit: 30,
		},
		Feedback: FeedbackConfig{
			DelayMs:    75,
			Semitones:  -6,
			BPM:        60,
			ChoralRate: 1.0,
		},
		Engine: EngineConfig{
			SilenceGap:       800 * time.Millisecond,
			BlockGap:         1500 * time.Millisecond,
			SnapshotInterval: 2 * time.Second,
		},
		Coach: CoachConfig{
			RateMin:        100,
			RateMax:        170,
			LowEffortMax:   0.35,
			TensionSpike:   0.75,
			EncourageAfter: 30 * time.Second,
			Cooldown:       3 * time.Second,
		},
		Cues: CuesConfig{Volume: 0.15},
		Log:  LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{
			Namespace: "stutterlab",
		},
	}
}

// Load resolves configuration from defaults, the config file and environment variables.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Default(home)

	path := strings.TrimSpace(os.Getenv("STUTTERLAB_CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = filepath.Join(home, ".config", "stutterlab", "config.yaml")
	}
	if err := mergeFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg. A missing default file is
// not an error; a missing explicit file is.
func mergeFile(cfg *Config, path string, explicit bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to open config file %q: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	cfg.File = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)
	cfg.Deepgram.Endpointing = envOrDefaultMillis("DEEPGRAM_ENDPOINTING_MS", cfg.Deepgram.Endpointing)

	cfg.ElevenLabs.APIKey = envOrDefault("ELEVENLABS_API_KEY", cfg.ElevenLabs.APIKey)
	cfg.ElevenLabs.APIBaseURL = envOrDefault("ELEVENLABS_API_BASE", cfg.ElevenLabs.APIBaseURL)
	cfg.ElevenLabs.VoiceID = envOrDefault("ELEVENLABS_VOICE_ID", cfg.ElevenLabs.VoiceID)
	cfg.ElevenLabs.Model = envOrDefault("ELEVENLABS_MODEL", cfg.ElevenLabs.Model)

	cfg.Audio.FFmpegCommand = envOrDefault("STUTTERLAB_FFMPEG_COMMAND", cfg.Audio.FFmpegCommand)
	cfg.Audio.InputFormat = envOrDefault("STUTTERLAB_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(os.Getenv("STUTTERLAB_AUDIO_INPUT_DEVICE"), cfg.Audio.InputDevice)
	cfg.Audio.OutputFormat = envOrDefault("STUTTERLAB_AUDIO_OUTPUT_FORMAT", cfg.Audio.OutputFormat)
	cfg.Audio.OutputDevice = firstNonEmpty(os.Getenv("STUTTERLAB_AUDIO_OUTPUT_DEVICE"), cfg.Audio.OutputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("STUTTERLAB_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.ChunkSamples = envOrDefaultInt("STUTTERLAB_CHUNK_SAMPLES", cfg.Audio.ChunkSamples)
	cfg.Audio.Permission = envOrDefault("STUTTERLAB_MIC_PERMISSION", cfg.Audio.Permission)

	cfg.Rules.Path = envOrDefault("STUTTERLAB_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("STUTTERLAB_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Feedback.DelayMs = envOrDefaultInt("STUTTERLAB_DAF_DELAY_MS", cfg.Feedback.DelayMs)
	cfg.Feedback.Semitones = envOrDefaultInt("STUTTERLAB_FAF_SEMITONES", cfg.Feedback.Semitones)
	cfg.Feedback.BPM = envOrDefaultInt("STUTTERLAB_METRONOME_BPM", cfg.Feedback.BPM)
	cfg.Feedback.ChoralRate = envOrDefaultFloat("STUTTERLAB_CHORAL_RATE", cfg.Feedback.ChoralRate)

	cfg.Engine.SilenceGap = envOrDefaultMillis("STUTTERLAB_SILENCE_GAP_MS", cfg.Engine.SilenceGap)
	cfg.Engine.BlockGap = envOrDefaultMillis("STUTTERLAB_BLOCK_GAP_MS", cfg.Engine.BlockGap)

	cfg.Coach.Cooldown = envOrDefaultMillis("STUTTERLAB_CUE_COOLDOWN_MS", cfg.Coach.Cooldown)
	cfg.Cues.Volume = envOrDefaultFloat("STUTTERLAB_CUE_VOLUME", cfg.Cues.Volume)

	cfg.Log.Level = envOrDefault("STUTTERLAB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOrDefault("STUTTERLAB_LOG_FORMAT", cfg.Log.Format)

	cfg.Metrics.Addr = envOrDefault("STUTTERLAB_METRICS_ADDR", cfg.Metrics.Addr)
}

func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.ChunkSamples < 64 {
		cfg.Audio.ChunkSamples = 256
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Cues.Volume < 0 || cfg.Cues.Volume > 1 {
		cfg.Cues.Volume = 0.15
	}
	if cfg.Engine.BlockGap < cfg.Engine.SilenceGap {
		cfg.Engine.BlockGap = cfg.Engine.SilenceGap
	}
	if cfg.Coach.RateMax < cfg.Coach.RateMin {
		cfg.Coach.RateMin, cfg.Coach.RateMax = cfg.Coach.RateMax, cfg.Coach.RateMin
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Audio.Permission = strings.ToLower(strings.TrimSpace(cfg.Audio.Permission))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}
