package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/echomind-ai/voiced/pkg/core/voice"
)

const (
	defaultCartesiaBaseURL = "https://api.cartesia.ai"
	defaultCartesiaModel   = "ink-whisper"
	cartesiaVersion        = "2025-04-16"
	cartesiaTimeout        = 30 * time.Second
)

// CartesiaConfig configures the hosted Cartesia transcriber.
type CartesiaConfig struct {
	APIKey     string
	Model      string        // defaults to ink-whisper
	Language   string        // optional language hint
	BaseURL    string        // defaults to the public API
	Timeout    time.Duration // per-request bound, defaults to 30s
	HTTPClient *http.Client
}

// Cartesia transcribes utterances through the Cartesia batch STT API by
// uploading WAV-wrapped audio as a multipart form.
type Cartesia struct {
	cfg CartesiaConfig
}

// NewCartesia builds a hosted transcriber.
func NewCartesia(cfg CartesiaConfig) *Cartesia {
	if cfg.Model == "" {
		cfg.Model = defaultCartesiaModel
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

// Transcribe implements Transcriber.
func (c *Cartesia) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	f := voice.Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
	wav := voice.BuildWAV(voice.Float32ToPCM16(samples), f)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := mw.WriteField("model", c.cfg.Model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if c.cfg.Language != "" {
		if err := mw.WriteField("language", c.cfg.Language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/stt", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

var _ Transcriber = (*Cartesia)(nil)
