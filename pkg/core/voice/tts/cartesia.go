package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/echomind-ai/voiced/pkg/core/voice"
)

const (
	defaultCartesiaBaseURL = "https://api.cartesia.ai"
	defaultCartesiaModel   = "sonic-3"
	defaultCartesiaRate    = 24000
	cartesiaVersion        = "2025-04-16"
	cartesiaTimeout        = 30 * time.Second
)

// CartesiaConfig configures the hosted Cartesia synthesizer.
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string        // Cartesia voice UUID, required
	Model      string        // defaults to sonic-3
	Language   string        // optional language hint
	Speed      float64       // optional speed in [-1, 1]
	SampleRate int           // output rate, defaults to 24000
	BaseURL    string        // defaults to the public API
	Timeout    time.Duration // per-request bound, defaults to 30s
	HTTPClient *http.Client
}

// Cartesia synthesizes speech through the Cartesia bytes API. It requests
// raw little-endian 16-bit PCM so the reply needs no container parsing.
type Cartesia struct {
	cfg CartesiaConfig
}

// NewCartesia builds a hosted synthesizer, usually wired as a chain
// fallback behind a local engine.
func NewCartesia(cfg CartesiaConfig) *Cartesia {
	if cfg.Model == "" {
		cfg.Model = defaultCartesiaModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultCartesiaRate
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCartesiaBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = cartesiaTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Cartesia{cfg: cfg}
}

type cartesiaRequest struct {
	ModelID      string              `json:"model_id"`
	Transcript   string              `json:"transcript"`
	Voice        cartesiaVoice       `json:"voice"`
	OutputFormat cartesiaFormat      `json:"output_format"`
	Language     string              `json:"language,omitempty"`
	Generation   *cartesiaGeneration `json:"generation_config,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGeneration struct {
	Speed float64 `json:"speed,omitempty"`
}

// Synthesize implements Synthesizer.
func (c *Cartesia) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}

	reqBody := cartesiaRequest{
		ModelID:    c.cfg.Model,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.cfg.VoiceID},
		OutputFormat: cartesiaFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
		},
		Language: c.cfg.Language,
	}
	if c.cfg.Speed != 0 {
		reqBody.Generation = &cartesiaGeneration{Speed: c.cfg.Speed}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, c.cfg.SampleRate, nil
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return voice.PCM16ToFloat32(pcm), c.cfg.SampleRate, nil
}

var _ Synthesizer = (*Cartesia)(nil)
