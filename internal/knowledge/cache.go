package knowledge

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedEmbedder memoizes query embeddings. Repeated questions within a session
// skip the embedding call entirely.
type CachedEmbedder struct {
	next  Embedder
	cache *gocache.Cache
}

func NewCachedEmbedder(next Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return cached.([]float32), nil
	}
	embedding, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(text, embedding)
	return embedding, nil
}

func (c *CachedEmbedder) Len() int {
	return c.cache.ItemCount()
}
