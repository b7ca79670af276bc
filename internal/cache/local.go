package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// LocalMemo is an in-process TTL memo.
type LocalMemo struct {
	cache *ttlcache.Cache[string, []float32]
}

// NewLocalMemo creates a memo whose entries expire after ttl. A capacity of 0
// means unbounded.
func NewLocalMemo(ttl time.Duration, capacity uint64) *LocalMemo {
	opts := []ttlcache.Option[string, []float32]{
		ttlcache.WithTTL[string, []float32](ttl),
		ttlcache.WithDisableTouchOnHit[string, []float32](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []float32](capacity))
	}
	c := ttlcache.New[string, []float32](opts...)
	go c.Start()
	return &LocalMemo{cache: c}
}

// Get returns a copy of each cached vector, nil for misses.
func (m *LocalMemo) Get(ctx context.Context, keys []string) ([][]float32, error) {
	out := make([][]float32, len(keys))
	for i, k := range keys {
		if item := m.cache.Get(k); item != nil {
			out[i] = append([]float32{}, item.Value()...)
		}
	}
	return out, nil
}

// Set stores a copy of each vector.
func (m *LocalMemo) Set(ctx context.Context, keys []string, vectors [][]float32) error {
	if len(keys) != len(vectors) {
		return fmt.Errorf("keys and vectors length mismatch: %d vs %d", len(keys), len(vectors))
	}
	for i, k := range keys {
		m.cache.Set(k, append([]float32{}, vectors[i]...), ttlcache.DefaultTTL)
	}
	return nil
}

// Len returns the number of live entries.
func (m *LocalMemo) Len() int {
	return m.cache.Len()
}

// Close stops the expiration loop.
func (m *LocalMemo) Close() error {
	m.cache.Stop()
	return nil
}
