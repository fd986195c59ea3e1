package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc looks up, and on the reconciler path also creates, the provider
// resource behind a cache key. It returns the resource handle (ARN or URL),
// or an error wrapping [ErrNotFound] when the resource does not exist.
type FetchFunc func(ctx context.Context) (string, error)

// defaultFetchTimeout bounds a shared fetch once it no longer follows the
// context of the caller that started it.
const defaultFetchTimeout = 2 * time.Minute

// Cache memoizes resolved provider handles for the lifetime of the process.
//
// Concurrent resolutions of the same unresolved key share a single call to
// the fetch function; every caller observes the same handle or the same
// failure. Failures are never cached, so the next Resolve retries from
// scratch. Entries never expire; restart the process to force re-resolution.
//
// Construct one Cache per process and share it between the [Reconciler],
// [Publisher] and [Consumer] with [WithCache]. A Cache is safe for concurrent
// use.
type Cache struct {
	mu           sync.RWMutex
	handles      map[string]string
	group        singleflight.Group
	fetchTimeout time.Duration
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		handles:      make(map[string]string),
		fetchTimeout: defaultFetchTimeout,
	}
}

// Resolve returns the cached handle for key, calling fetch on a miss.
//
// The shared fetch keeps the values of the context of the caller that
// started it but not its cancellation, and is bounded by a fixed timeout. A
// caller whose own context is cancelled while waiting returns immediately;
// the shared fetch carries on for the remaining callers.
func (c *Cache) Resolve(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	if handle, ok := c.lookup(key); ok {
		return handle, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have stored the handle between our lookup and
		// joining the flight.
		if handle, ok := c.lookup(key); ok {
			return handle, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		handle, err := fetch(fetchCtx)
		if err != nil {
			return "", err
		}

		if handle == "" {
			return "", errors.New("provider returned an empty handle")
		}

		c.mu.Lock()
		c.handles[key] = handle
		c.mu.Unlock()

		return handle, nil
	})

	select {
	case <-ctx.Done():
		return "", &ResolutionError{Key: key, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", &ResolutionError{Key: key, Err: res.Err}
		}

		handle, _ := res.Val.(string)

		return handle, nil
	}
}

// Peek returns the cached handle for key without fetching.
func (c *Cache) Peek(key string) (string, bool) {
	return c.lookup(key)
}

// Forget drops the cached handle for key. Use it after detecting that a
// resource was deleted out of band; nothing in this package calls it
// implicitly.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handles, key)
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.handles)
}

func (c *Cache) lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handle, ok := c.handles[key]

	return handle, ok
}

func topicKey(name string) string {
	return "topic:" + name
}

func queueKey(name string) string {
	return "queue:" + name
}
