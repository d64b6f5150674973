package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
)

// Embedder produces an embedding for one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder wraps an Embedder with a bounded content-hash cache.
// Repeated search queries skip the round trip to Ollama.
type CachedEmbedder struct {
	next Embedder

	mu  sync.Mutex
	lru *cache.LRU[string, []float32]
}

func NewCachedEmbedder(next Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = 512
	}
	return &CachedEmbedder{next: next, lru: cache.NewLRU[string, []float32](size)}
}

// Embed returns the embedding for text, using cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	e.mu.Lock()
	vec, ok := e.lru.Get(hash)
	e.mu.Unlock()
	if ok {
		return vec, nil
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lru.Put(hash, vec)
	e.mu.Unlock()
	return vec, nil
}

// Func adapts the embedder to a plain function value.
func (e *CachedEmbedder) Func() func(context.Context, string) ([]float32, error) {
	return e.Embed
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
