package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/echomind-ai/voiced/pkg/core/voice"
)

const defaultWhisperTimeout = 30 * time.Second

// Whisper posts WAV-wrapped utterances to a whisper HTTP server and reads
// back {"text": "..."}.
type Whisper struct {
	url        string
	language   string
	beamSize   int
	translate  bool
	timeout    time.Duration
	httpClient *http.Client
}

// WhisperOption configures the adapter.
type WhisperOption func(*Whisper)

// WithLanguage pins the transcription language instead of auto-detection.
func WithLanguage(lang string) WhisperOption {
	return func(w *Whisper) { w.language = lang }
}

// WithBeamSize sets the decoder beam size.
func WithBeamSize(n int) WhisperOption {
	return func(w *Whisper) {
		if n > 0 {
			w.beamSize = n
		}
	}
}

// WithTranslate asks the server to translate to English.
func WithTranslate(v bool) WhisperOption {
	return func(w *Whisper) { w.translate = v }
}

// WithTimeout bounds each transcription request.
func WithTimeout(d time.Duration) WhisperOption {
	return func(w *Whisper) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WhisperOption {
	return func(w *Whisper) { w.httpClient = client }
}

// NewWhisper builds an adapter for the given transcription endpoint.
func NewWhisper(endpoint string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		url:        endpoint,
		timeout:    defaultWhisperTimeout,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// requestURL appends the configured decoding knobs as query parameters.
func (w *Whisper) requestURL() string {
	u, err := url.Parse(w.url)
	if err != nil {
		return w.url
	}
	q := u.Query()
	if w.language != "" {
		q.Set("language", w.language)
	}
	if w.beamSize > 0 {
		q.Set("beam_size", strconv.Itoa(w.beamSize))
	}
	if w.translate {
		q.Set("task", "translate")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Transcribe implements Transcriber.
func (w *Whisper) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}

	f := voice.Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
	wav := voice.BuildWAV(voice.Float32ToPCM16(samples), f)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.requestURL(), bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := w.httpClient.Do(req)
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
