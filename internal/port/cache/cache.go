// Package cache defines the byte-oriented cache port used for snapshot
// and fleet-metric caching.
package cache

import "errors"

// ErrMiss is returned when a key is not present.
var ErrMiss = errors.New("cache: miss")

// Cache is a best-effort key/value store. Set may drop entries under
// memory pressure; callers must tolerate misses.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string)
	Close()
}
