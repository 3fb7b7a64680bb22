package tts

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheSize bounds the number of cached phrases.
const DefaultCacheSize = 256

type cachedAudio struct {
	samples []float32
	rate    int
}

// Cache wraps a Synthesizer with an expiring LRU keyed by phrase text.
// Canned command replies and greeting lines repeat constantly; skipping
// synthesis for them keeps time-to-first-audio low.
type Cache struct {
	inner Synthesizer
	lru   *expirable.LRU[string, cachedAudio]
}

// NewCache builds a cache of at most size phrases, each kept for ttl.
func NewCache(inner Synthesizer, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		inner: inner,
		lru:   expirable.NewLRU[string, cachedAudio](size, nil, ttl),
	}
}

// Synthesize implements Synthesizer. Hits return a copy so callers may
// apply fades in place.
func (c *Cache) Synthesize(ctx context.Context, text string) ([]float32, int, error) {
	if hit, ok := c.lru.Get(text); ok {
		out := make([]float32, len(hit.samples))
		copy(out, hit.samples)
		return out, hit.rate, nil
	}

	samples, rate, err := c.inner.Synthesize(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	stored := make([]float32, len(samples))
	copy(stored, samples)
	c.lru.Add(text, cachedAudio{samples: stored, rate: rate})
	return samples, rate, nil
}

// Len reports the number of cached phrases.
func (c *Cache) Len() int {
	return c.lru.Len()
}

var _ Synthesizer = (*Cache)(nil)
