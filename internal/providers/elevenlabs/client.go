// Package elevenlabs renders choral-speech reference audio with the ElevenLabs TTS API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RamCali/stutterlab-sub000/internal/ports"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultModel   = "eleven_turbo_v2_5"
	sampleRate     = 22050
)

// Config holds ElevenLabs client configuration.
type Config struct {
	APIKey     string
	APIBaseURL string
	VoiceID    string
	Model      string
	// Stability near 1 keeps the reference voice flat and evenly paced.
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
}

// Client implements ports.TextToSpeech.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 0.75
	}
	if cfg.SimilarityBoost <= 0 {
		cfg.SimilarityBoost = 0.75
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

// Synthesize returns signed 16-bit little-endian mono PCM at 22050 Hz.
// Playback rate is applied by the player, so the voice is always rendered at speed 1.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, 0, fmt.Errorf("ELEVENLABS_API_KEY is not configured: %w", ports.ErrUnsupported)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, fmt.Errorf("choral text is empty")
	}

	endpoint, err := buildSpeechURL(c.cfg)
	if err != nil {
		return nil, 0, err
	}

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: c.cfg.Model,
		VoiceSettings: voiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.SimilarityBoost,
			Speed:           1.0,
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, fmt.Errorf("elevenlabs API error %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read elevenlabs audio: %w", err)
	}
	// drop a trailing odd byte so every sample is whole
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, sampleRate, nil
}

func buildSpeechURL(cfg Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	u, err := url.Parse(base + "/text-to-speech/" + url.PathEscape(cfg.VoiceID))
	if err != nil {
		return "", fmt.Errorf("invalid ElevenLabs API base URL: %w", err)
	}
	q := u.Query()
	q.Set("output_format", fmt.Sprintf("pcm_%d", sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
