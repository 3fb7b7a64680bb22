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

const defaultPiperTimeout = 30 * time.Second

// Piper posts text to a piper HTTP server and decodes the WAV reply into
// float samples.
type Piper struct {
	url         string
	voice       string
	speakerID   int
	noiseScale  float64
	lengthScale float64
	timeout     time.Duration
	httpClient  *http.Client
}

// PiperOption configures the adapter.
type PiperOption func(*Piper)

// WithVoice selects a voice model by id, e.g. "en_US-lessac-medium".
// Servers that load a single model ignore it.
func WithVoice(id string) PiperOption {
	return func(p *Piper) { p.voice = id }
}

// WithSpeaker selects a speaker in multi-speaker models.
func WithSpeaker(id int) PiperOption {
	return func(p *Piper) { p.speakerID = id }
}

// WithNoiseScale adjusts synthesis variability.
func WithNoiseScale(v float64) PiperOption {
	return func(p *Piper) { p.noiseScale = v }
}

// WithLengthScale adjusts phoneme duration; >1 slows speech down.
func WithLengthScale(v float64) PiperOption {
	return func(p *Piper) { p.lengthScale = v }
}

// WithTimeout bounds each synthesis request.
func WithTimeout(d time.Duration) PiperOption {
	return func(p *Piper) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) PiperOption {
	return func(p *Piper) { p.httpClient = client }
}

// NewPiper builds an adapter for the given synthesis endpoint.
func NewPiper(endpoint string, opts ...PiperOption) *Piper {
	p := &Piper{
		url:        endpoint,
		timeout:    defaultPiperTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type piperRequest struct {
	Text        string  `json:"text"`
	Voice       string  `json:"voice,omitempty"`
	SpeakerID   int     `json:"speaker_id,omitempty"`
	NoiseScale  float64 `json:"noise_scale,omitempty"`
	LengthScale float64 `json:"length_scale,omitempty"`
}

// Synthesize implements Synthesizer.
func (p *Piper) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, 0, nil
	}

	body, err := json.Marshal(piperRequest{
		Text:        text,
		Voice:       p.voice,
		SpeakerID:   p.speakerID,
		NoiseScale:  p.noiseScale,
		LengthScale: p.lengthScale,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	pcm, format, err := voice.ParseWAV(wav)
	if err != nil {
		return nil, 0, err
	}
	return voice.PCM16ToFloat32(pcm), format.SampleRate, nil
}
