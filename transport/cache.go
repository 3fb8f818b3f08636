package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
	"golang.org/x/sync/singleflight"
)

// Cache lazily creates one value per key. Concurrent Get calls for a missing key share a
// single creation; failed creations are not cached. Close tears every value down exactly once.
type Cache[V any] struct {
	mu     sync.RWMutex
	items  map[string]V
	closed bool
	group  singleflight.Group
	close  func(ctx context.Context, v V) error
}

// NewCache returns a cache that releases values with closeFn. closeFn may be nil.
func NewCache[V any](closeFn func(ctx context.Context, v V) error) *Cache[V] {
	return &Cache[V]{items: make(map[string]V), close: closeFn}
}

// Get returns the value for key, creating it with create on first use.
func (c *Cache[V]) Get(key string, create func() (V, error)) (V, error) {
	var zero V

	c.mu.RLock()
	v, ok := c.items[key]
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return zero, fmt.Errorf("cache get %q: %w", key, berr.ErrClosed)
	}

	if ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		v, ok := c.items[key]
		c.mu.RUnlock()

		if ok {
			return v, nil
		}

		v, err := create()
		if err != nil {
			return zero, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.release(context.Background(), v)

			return zero, fmt.Errorf("cache get %q: %w", key, berr.ErrClosed)
		}

		c.items[key] = v
		c.mu.Unlock()

		return v, nil
	})
	if err != nil {
		return zero, err
	}

	return res.(V), nil //nolint:forcetypeassert // singleflight only ever stores V
}

// Len returns the number of cached values.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Close releases every cached value in parallel. One failing release does not prevent the others;
// all failures are joined. Later calls are no-ops.
func (c *Cache[V]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	items := c.items
	c.items = map[string]V{}
	c.mu.Unlock()

	if c.close == nil {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for key, v := range items {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := c.close(ctx, v); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("close %q: %w", key, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return errors.Join(errs...)
}

func (c *Cache[V]) release(ctx context.Context, v V) {
	if c.close != nil {
		_ = c.close(ctx, v) //nolint:errcheck // value was never handed out
	}
}
