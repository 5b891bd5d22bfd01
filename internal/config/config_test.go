package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("STUTTERLAB_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.File != "" {
		t.Fatalf("expected no config file, got %q", cfg.File)
	}
	if cfg.Deepgram.Model != "nova-2" || cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram defaults: %+v", cfg.Deepgram)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.ChunkSamples != 256 || cfg.Audio.Permission != "granted" {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Feedback != (FeedbackConfig{DelayMs: 75, Semitones: -6, BPM: 60, ChoralRate: 1.0}) {
		t.Fatalf("unexpected feedback defaults: %+v", cfg.Feedback)
	}
	if cfg.Rules.Path != filepath.Join(home, ".config", "stutterlab", "normalize.rules") {
		t.Fatalf("unexpected rules path: %q", cfg.Rules.Path)
	}
	if cfg.Coach.Cooldown != 3*time.Second || cfg.Cues.Volume != 0.15 {
		t.Fatalf("unexpected cue defaults: %+v %+v", cfg.Coach, cfg.Cues)
	}
	if cfg.Metrics.Addr != "" || cfg.Metrics.Namespace != "stutterlab" {
		t.Fatalf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
}

func TestLoadReadsDefaultConfigFile(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, ".config", "stutterlab")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	path := writeConfig(t, dir, strings.Join([]string{
		"deepgram:",
		"  model: nova-3",
		"  endpointing: 500ms",
		"feedback:",
		"  delayMs: 120",
		"  bpm: 90",
		"engine:",
		"  blockGap: 2s",
		"  fillers: [um, uh]",
		"coach:",
		"  rateMax: 150",
		"log:",
		"  level: DEBUG",
		"  format: json",
	}, "\n"))

	t.Setenv("HOME", home)
	t.Setenv("STUTTERLAB_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.File != path {
		t.Fatalf("expected config file %q, got %q", path, cfg.File)
	}
	if cfg.Deepgram.Model != "nova-3" || cfg.Deepgram.Endpointing != 500*time.Millisecond {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Deepgram.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("file must not clear unset fields, got %q", cfg.Deepgram.APIBaseURL)
	}
	if cfg.Feedback.DelayMs != 120 || cfg.Feedback.BPM != 90 || cfg.Feedback.Semitones != -6 {
		t.Fatalf("unexpected feedback config: %+v", cfg.Feedback)
	}
	if cfg.Engine.BlockGap != 2*time.Second || len(cfg.Engine.Fillers) != 2 {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Coach.RateMax != 150 || cfg.Coach.RateMin != 100 {
		t.Fatalf("unexpected coach config: %+v", cfg.Coach)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	path := writeConfig(t, home, "deepgram:\n  model: file-model\naudio:\n  inputDevice: file-mic\n")

	t.Setenv("HOME", home)
	t.Setenv("STUTTERLAB_CONFIG_FILE", path)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")
	t.Setenv("DEEPGRAM_MODEL", "env-model")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "true")
	t.Setenv("ELEVENLABS_API_KEY", "tts-key")
	t.Setenv("ELEVENLABS_VOICE_ID", "voice")
	t.Setenv("STUTTERLAB_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("STUTTERLAB_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("STUTTERLAB_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("STUTTERLAB_SAMPLE_RATE", "48000")
	t.Setenv("STUTTERLAB_MIC_PERMISSION", "Denied")
	t.Setenv("STUTTERLAB_RULES_FILE", "/tmp/custom.rules")
	t.Setenv("STUTTERLAB_RULE_ITERATION_LIMIT", "42")
	t.Setenv("STUTTERLAB_DAF_DELAY_MS", "200")
	t.Setenv("STUTTERLAB_CHORAL_RATE", "0.8")
	t.Setenv("STUTTERLAB_BLOCK_GAP_MS", "1800")
	t.Setenv("STUTTERLAB_CUE_COOLDOWN_MS", "5000")
	t.Setenv("STUTTERLAB_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Deepgram.APIKey != "test-key" || cfg.Deepgram.Model != "env-model" || !cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.ElevenLabs.APIKey != "tts-key" || cfg.ElevenLabs.VoiceID != "voice" {
		t.Fatalf("unexpected elevenlabs config: %+v", cfg.ElevenLabs)
	}
	if cfg.Audio.FFmpegCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Permission != "denied" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Rules.Path != "/tmp/custom.rules" || cfg.Rules.IterationLimit != 42 {
		t.Fatalf("unexpected rules config: %+v", cfg.Rules)
	}
	if cfg.Feedback.DelayMs != 200 || cfg.Feedback.ChoralRate != 0.8 {
		t.Fatalf("unexpected feedback config: %+v", cfg.Feedback)
	}
	if cfg.Engine.BlockGap != 1800*time.Millisecond || cfg.Coach.Cooldown != 5*time.Second {
		t.Fatalf("unexpected timing config: %+v %+v", cfg.Engine, cfg.Coach)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Fatalf("unexpected metrics addr: %q", cfg.Metrics.Addr)
	}
}

func TestLoadInvalidValuesFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STUTTERLAB_CONFIG_FILE", "")
	t.Setenv("STUTTERLAB_SAMPLE_RATE", "bad")
	t.Setenv("STUTTERLAB_CHUNK_SAMPLES", "5")
	t.Setenv("STUTTERLAB_RULE_ITERATION_LIMIT", "0")
	t.Setenv("STUTTERLAB_CUE_VOLUME", "3")
	t.Setenv("STUTTERLAB_SILENCE_GAP_MS", "-4")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "not-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ChunkSamples != 256 {
		t.Fatalf("expected chunk fallback, got %d", cfg.Audio.ChunkSamples)
	}
	if cfg.Rules.IterationLimit != 30 {
		t.Fatalf("expected default iteration limit, got %d", cfg.Rules.IterationLimit)
	}
	if cfg.Cues.Volume != 0.15 {
		t.Fatalf("expected volume fallback, got %v", cfg.Cues.Volume)
	}
	if cfg.Engine.SilenceGap != 800*time.Millisecond {
		t.Fatalf("expected default silence gap, got %s", cfg.Engine.SilenceGap)
	}
	if cfg.Deepgram.SmartFormat {
		t.Fatalf("expected default smart format false")
	}
}

func TestLoadRejectsBadConfigFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	t.Setenv("STUTTERLAB_CONFIG_FILE", filepath.Join(home, "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}

	t.Setenv("STUTTERLAB_CONFIG_FILE", writeConfig(t, home, "feedback:\n  delayMS: 10\n"))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected unknown-field error, got %v", err)
	}
}

func TestLoadEmptyConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("STUTTERLAB_CONFIG_FILE", writeConfig(t, home, ""))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("empty file should load, got %v", err)
	}
	if cfg.Feedback.DelayMs != 75 {
		t.Fatalf("expected defaults preserved, got %+v", cfg.Feedback)
	}
}
