package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/echomind-ai/voiced/pkg/core/voice"
)

func TestPiperSynthesize(t *testing.T) {
	var gotReq piperRequest
	samples := []float32{0.0, 0.5, -0.5, 0.25}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		f := voice.Format{SampleRate: 22050, Channels: 1, BitsPerSample: 16}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(voice.BuildWAV(voice.Float32ToPCM16(samples), f))
	}))
	defer server.Close()

	p := NewPiper(server.URL,
		WithHTTPClient(server.Client()),
		WithLengthScale(1.1),
	)
	got, rate, err := p.Synthesize(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("rate = %d, want 22050", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("samples = %d, want %d", len(got), len(samples))
	}
	if gotReq.Text != "hello" || gotReq.LengthScale != 1.1 {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestPiperSynthesizeEmptyText(t *testing.T) {
	p := NewPiper("http://unused.invalid")
	samples, rate, err := p.Synthesize(t.Context(), "   ")
	if err != nil || samples != nil || rate != 0 {
		t.Fatalf("Synthesize(blank) = %v, %d, %v; want nil, 0, nil", samples, rate, err)
	}
}

func TestPiperSynthesizeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice missing", http.StatusNotFound)
	}))
	defer server.Close()

	p := NewPiper(server.URL, WithHTTPClient(server.Client()))
	if _, _, err := p.Synthesize(t.Context(), "hello"); err == nil {
		t.Fatalf("Synthesize() err = nil, want status error")
	}
}

func TestChainFallsBack(t *testing.T) {
	bad := &Mock{SynthesizeFunc: func(ctx context.Context, text string) ([]float32, int, error) {
		return nil, 0, errors.New("synth down")
	}}
	good := &Mock{}

	chain, err := NewChain(nil, bad, good)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	samples, rate, err := chain.Synthesize(t.Context(), "hi there")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != MockSampleRate || len(samples) == 0 {
		t.Fatalf("rate=%d samples=%d", rate, len(samples))
	}
	if got := good.Texts(); len(got) != 1 || got[0] != "hi there" {
		t.Fatalf("fallback texts = %v", got)
	}
}

func TestChainAllFail(t *testing.T) {
	bad := &Mock{SynthesizeFunc: func(ctx context.Context, text string) ([]float32, int, error) {
		return nil, 0, errors.New("synth down")
	}}
	chain, err := NewChain(nil, bad, bad)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	if _, _, err := chain.Synthesize(t.Context(), "hi"); err == nil {
		t.Fatalf("Synthesize() err = nil, want aggregate error")
	}
}

func TestNewChainRequiresSynthesizer(t *testing.T) {
	if _, err := NewChain(nil); !errors.Is(err, ErrNoSynthesizers) {
		t.Fatalf("NewChain() err = %v, want ErrNoSynthesizers", err)
	}
}

func TestCacheServesRepeats(t *testing.T) {
	inner := &Mock{}
	cache := NewCache(inner, 8, time.Minute)

	first, rate1, err := cache.Synthesize(t.Context(), "Memory cleared.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	second, rate2, err := cache.Synthesize(t.Context(), "Memory cleared.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got := len(inner.Texts()); got != 1 {
		t.Fatalf("inner calls = %d, want 1", got)
	}
	if rate1 != rate2 || len(first) != len(second) {
		t.Fatalf("cached reply differs: %d/%d samples, %d/%d rate", len(first), len(second), rate1, rate2)
	}

	// Hits return copies, so callers mutating fades cannot poison the cache.
	if len(second) > 0 {
		second[0] = 0.99
		third, _, err := cache.Synthesize(t.Context(), "Memory cleared.")
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if third[0] == 0.99 {
			t.Fatalf("cache returned aliased slice")
		}
	}
}

func TestCacheMissOnError(t *testing.T) {
	inner := &Mock{SynthesizeFunc: func(ctx context.Context, text string) ([]float32, int, error) {
		return nil, 0, errors.New("synth down")
	}}
	cache := NewCache(inner, 8, time.Minute)
	if _, _, err := cache.Synthesize(t.Context(), "hello"); err == nil {
		t.Fatalf("Synthesize() err = nil, want error")
	}
	if cache.Len() != 0 {
		t.Fatalf("cache len = %d, want 0 after error", cache.Len())
	}
}
