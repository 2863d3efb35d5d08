/*
Copyright 2024 The nightly.link authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"fmt"
	"sync"
	"time"
)

// defaultInterval is the default interval for the janitor to run.
const defaultInterval = time.Minute

// entry is a value stored in the cache together with its expiration time.
// It is replaced wholesale on refresh, never mutated in place.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Expiring is a thread-safe in-memory key/value store where every entry
// carries a time-to-live. A read past an entry's expiration treats the
// entry as absent. A janitor goroutine periodically evicts expired
// entries so key spaces with unbounded cardinality do not retain memory
// for keys that are never read again.
//
// Use the NewExpiring function to create a cache that is ready to use.
type Expiring[V any] struct {
	index   map[string]entry[V]
	metrics *cacheMetrics
	janitor *janitor[V]
	closed  bool

	mu sync.RWMutex
}

// NewExpiring creates a new expiring cache with the given options.
// Unless disabled with WithCleanupInterval(0), a janitor goroutine is
// started that sweeps expired entries; call Close to stop it.
func NewExpiring[V any](opts ...Options) (*Expiring[V], error) {
	opt, err := makeOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to apply options: %w", err)
	}

	c := &Expiring[V]{
		index: make(map[string]entry[V]),
	}

	if opt.registerer != nil {
		c.metrics = newCacheMetrics(opt.metricsPrefix, opt.registerer)
	}

	if opt.interval > 0 {
		c.janitor = &janitor[V]{
			interval: opt.interval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}

	return c, nil
}

// Close closes the cache and stops the expiration eviction process.
func (c *Expiring[V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCacheClosed
	}
	if c.janitor != nil {
		// Closing the channel never blocks, so a sweep waiting on the
		// mutex cannot wedge Close against the janitor.
		close(c.janitor.stop)
	}
	c.closed = true
	return nil
}

// Fetch returns the live value stored for key, if any. Otherwise it
// invokes compute, stores the result with the given ttl and returns it.
// A failed compute stores nothing and its error is returned unchanged.
//
// The lock is only held around map access, never around compute.
// Concurrent callers that miss on the same key may therefore each invoke
// compute, with the last writer winning. This is a deliberate relaxation:
// the computations backing this cache are idempotent remote reads and
// token mints, so duplicate in-flight work is harmless.
func (c *Expiring[V]) Fetch(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	var zero V

	value, found, err := c.get(key)
	if err != nil {
		return zero, err
	}
	if found {
		recordEvent(c.metrics, CacheEventTypeHit)
		return value, nil
	}
	recordEvent(c.metrics, CacheEventTypeMiss)

	value, err = compute()
	if err != nil {
		recordRequest(c.metrics, StatusFailure)
		return zero, err
	}
	return c.Write(key, value, ttl)
}

// Write unconditionally stores value for key with the given ttl,
// overwriting any existing entry. It is the forced refresh path: callers
// use it to replace a credential that the remote authority rejected even
// though the cache still considered it live.
func (c *Expiring[V]) Write(key string, value V, ttl time.Duration) (V, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		recordRequest(c.metrics, StatusFailure)
		return value, ErrCacheClosed
	}
	_, found := c.index[key]
	c.index[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	recordRequest(c.metrics, StatusSuccess)
	if !found {
		recordItemIncrement(c.metrics)
	}
	return value, nil
}

// Get returns the live value stored for key and whether it was found.
// Expired entries are reported as absent.
func (c *Expiring[V]) Get(key string) (V, bool, error) {
	value, found, err := c.get(key)
	if err != nil {
		return value, false, err
	}
	if !found {
		recordEvent(c.metrics, CacheEventTypeMiss)
		return value, false, nil
	}
	recordEvent(c.metrics, CacheEventTypeHit)
	return value, true, nil
}

func (c *Expiring[V]) get(key string) (V, bool, error) {
	var zero V
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		recordRequest(c.metrics, StatusFailure)
		return zero, false, ErrCacheClosed
	}
	item, found := c.index[key]
	c.mu.RUnlock()
	recordRequest(c.metrics, StatusSuccess)
	if !found || item.expiresAt.Compare(time.Now()) <= 0 {
		return zero, false, nil
	}
	return item.value, true, nil
}

// Delete removes the entry for key. Does nothing if the key is absent.
func (c *Expiring[V]) Delete(key string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		recordRequest(c.metrics, StatusFailure)
		return ErrCacheClosed
	}
	if _, found := c.index[key]; found {
		delete(c.index, key)
		recordDecrement(c.metrics)
	}
	c.mu.Unlock()
	recordRequest(c.metrics, StatusSuccess)
	return nil
}

// ListKeys returns a slice of the keys of all entries, including entries
// that have expired but have not been swept yet.
func (c *Expiring[V]) ListKeys() ([]string, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		recordRequest(c.metrics, StatusFailure)
		return nil, ErrCacheClosed
	}
	keys := make([]string, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	recordRequest(c.metrics, StatusSuccess)
	return keys, nil
}

// deleteExpired deletes all expired entries from the cache.
// It is called by the janitor.
func (c *Expiring[V]) deleteExpired() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	for key, item := range c.index {
		if item.expiresAt.Compare(now) <= 0 {
			delete(c.index, key)
			recordEviction(c.metrics)
			recordDecrement(c.metrics)
		}
	}
	c.mu.Unlock()
}

type janitor[V any] struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor[V]) run(c *Expiring[V]) {
	ticker := time.NewTicker(j.interval)
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			ticker.Stop()
			return
		}
	}
}
