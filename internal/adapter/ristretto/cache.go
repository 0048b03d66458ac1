// Package ristretto implements the cache port with dgraph-io/ristretto as
// an in-process snapshot cache.
package ristretto

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/fkorte/agentpod/internal/port/cache"
)

// Cache wraps a ristretto cache behind the cache port.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached values in bytes.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value; cache.ErrMiss when absent.
func (c *Cache) Get(key string) ([]byte, error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, cache.ErrMiss
	}
	return val, nil
}

// Set stores a value, costed by its size. Admission may reject entries
// under memory pressure.
func (c *Cache) Set(key string, value []byte) error {
	c.c.Set(key, value, int64(len(value)))
	return nil
}

// Delete removes a value.
func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
