package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Tiered checks memos in order and backfills faster tiers from slower ones.
type Tiered struct {
	tiers  []Memo
	logger *zap.Logger
}

// NewTiered chains memos, fastest first. Nil memos are skipped.
func NewTiered(logger *zap.Logger, memos ...Memo) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tiered{logger: logger}
	for _, m := range memos {
		if m != nil {
			t.tiers = append(t.tiers, m)
		}
	}
	return t
}

// Get resolves each key from the first tier that has it.
func (t *Tiered) Get(ctx context.Context, keys []string) ([][]float32, error) {
	out := make([][]float32, len(keys))
	missing := make([]int, len(keys))
	for i := range missing {
		missing[i] = i
	}

	for level, tier := range t.tiers {
		if len(missing) == 0 {
			break
		}
		lookup := make([]string, len(missing))
		for j, idx := range missing {
			lookup[j] = keys[idx]
		}
		found, err := tier.Get(ctx, lookup)
		if err != nil {
			return nil, err
		}

		var still []int
		var fillKeys []string
		var fillVecs [][]float32
		for j, idx := range missing {
			if found[j] == nil {
				still = append(still, idx)
				continue
			}
			out[idx] = found[j]
			fillKeys = append(fillKeys, keys[idx])
			fillVecs = append(fillVecs, found[j])
		}
		if len(fillKeys) > 0 {
			for faster, tier := range t.tiers[:level] {
				if err := tier.Set(ctx, fillKeys, fillVecs); err != nil {
					t.logger.Debug("Memo backfill failed",
						zap.Int("tier", faster),
						zap.Int("keys", len(fillKeys)),
						zap.Error(err))
				}
			}
		}
		missing = still
	}
	return out, nil
}

// Set writes to every tier and returns the first error.
func (t *Tiered) Set(ctx context.Context, keys []string, vectors [][]float32) error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Set(ctx, keys, vectors); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every tier and returns the first error.
func (t *Tiered) Close() error {
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CachedEmbedder memoizes an Embedder. Only texts missing from the memo reach
// the wrapped embedder; result order always matches the input.
type CachedEmbedder struct {
	inner  Embedder
	memo   Memo
	family string
	prefix string
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps inner with memo. family and prefix namespace the keys.
func NewCachedEmbedder(inner Embedder, memo Memo, family, prefix string, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:  inner,
		memo:   memo,
		family: family,
		prefix: prefix,
		logger: logger,
	}
}

// Embed returns one vector per text. Memo failures are logged and treated as
// misses.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = Key(c.prefix, c.family, text)
	}

	out, err := c.memo.Get(ctx, keys)
	if err != nil || len(out) != len(keys) {
		c.logger.Warn("Memo lookup failed, embedding every text", zap.Error(err))
		out = make([][]float32, len(keys))
	}

	// Duplicate texts within one call are embedded once.
	firstByKey := make(map[string]int)
	var missTexts, missKeys []string
	var owners [][]int
	for i, v := range out {
		if v != nil {
			continue
		}
		if j, ok := firstByKey[keys[i]]; ok {
			owners[j] = append(owners[j], i)
			continue
		}
		firstByKey[keys[i]] = len(missTexts)
		missTexts = append(missTexts, texts[i])
		missKeys = append(missKeys, keys[i])
		owners = append(owners, []int{i})
	}

	hits := int64(len(texts))
	for _, o := range owners {
		hits -= int64(len(o))
	}
	c.hits.Add(hits)
	c.misses.Add(int64(len(texts)) - hits)

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missTexts))
	}

	for j, v := range vectors {
		for _, i := range owners[j] {
			out[i] = v
		}
	}

	if err := c.memo.Set(ctx, missKeys, vectors); err != nil {
		c.logger.Warn("Memo write failed", zap.Error(err))
	}

	c.logger.Debug("Memo lookup",
		zap.Int("texts", len(texts)),
		zap.Int64("hits", hits),
		zap.Int("embedded", len(missTexts)))

	return out, nil
}

// GetStats returns hit and miss counters.
func (c *CachedEmbedder) GetStats() *CacheStats {
	stats := &CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}
