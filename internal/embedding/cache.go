package embedding

import (
	"context"
	"fmt"
	"image"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text. Safe for concurrent use.
type EmbeddingCache struct {
	cache *lru.Cache[string, []float32]
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) (*EmbeddingCache, error) {
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &EmbeddingCache{cache: c}, nil
}

// Get returns a copy of the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

// Set stores a copy of the embedding for key, evicting the least recently used entry at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.cache.Add(key, append([]float32(nil), value...))
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	return c.cache.Len()
}

// CachedEncoder memoizes text encodings of an inner Encoder. Query aggregation encodes the
// same template phrasings repeatedly, so hits are common. Images are not cached.
type CachedEncoder struct {
	Encoder
	cache *EmbeddingCache
}

// NewCachedEncoder wraps inner with a text embedding cache of the given size.
func NewCachedEncoder(inner Encoder, size int) (*CachedEncoder, error) {
	cache, err := NewEmbeddingCache(size)
	if err != nil {
		return nil, err
	}
	return &CachedEncoder{Encoder: inner, cache: cache}, nil
}

// EncodeText returns the cached embedding for text or encodes and caches it.
func (c *CachedEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Encoder.EncodeText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// EncodeImages passes through to the inner encoder.
func (c *CachedEncoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	return c.Encoder.EncodeImages(ctx, images)
}
