package app

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/index"
)

// CachedEmbedder serves repeated texts from the embeddings namespace and only
// sends the misses to the wrapped embedder.
type CachedEmbedder struct {
	inner  index.Embedder
	cache  *cache.Cache
	model  string
	ttl    time.Duration
	logger *slog.Logger
}

var _ index.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner index.Embedder, c *cache.Cache, model string, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: c, model: model, ttl: ttl, logger: logger}
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cache == nil || !e.cache.Available() || len(texts) == 0 {
		return e.inner.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = e.key(t)
	}
	hits := e.cache.GetMultiple(ctx, cache.Embeddings, keys)

	out := make([][]float32, len(texts))
	var missTexts []string
	var missPos []int
	for i, k := range keys {
		if entry, ok := hits[k]; ok {
			var v []float32
			if err := entry.Decode(&v); err == nil && len(v) > 0 {
				out[i] = v
				continue
			}
		}
		missTexts = append(missTexts, texts[i])
		missPos = append(missPos, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	store := make(map[string]any, len(fresh))
	for j, v := range fresh {
		if j >= len(missPos) {
			break
		}
		out[missPos[j]] = v
		if v != nil {
			store[keys[missPos[j]]] = v
		}
	}
	if len(store) > 0 {
		e.cache.SetMultiple(ctx, cache.Embeddings, store, e.ttl)
	}
	e.logger.Debug("embedded texts", "cached", len(texts)-len(missTexts), "computed", len(missTexts))
	return out, nil
}

func (e *CachedEmbedder) key(text string) string {
	sum := blake2b.Sum256([]byte(e.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
