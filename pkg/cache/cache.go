// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package cache

import (
	"context"
	"sync"

	"github.com/kacheio/prerender/pkg/filter"
	"github.com/kacheio/prerender/pkg/refresh"
)

// FillFunc fetches the artifact for key when it is missing from the
// cache. It is invoked at most once concurrently per key.
type FillFunc func(ctx context.Context, key Key) (*Artifact, error)

// Cache is a concurrent key to artifact map with single-flight fill
// coalescing. The zero value is not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*slot

	sub    *refresh.Subscription
	closed chan struct{}
	wg     sync.WaitGroup

	onCommand func(refresh.Command)
}

// New creates a Cache subscribed to trig for invalidation commands. The
// subscription runs for the lifetime of the cache; call Close to release
// it.
func New(trig *refresh.Trigger) *Cache {
	c := &Cache{
		entries: make(map[Key]*slot),
		closed:  make(chan struct{}),
	}
	if trig != nil {
		c.sub = trig.Subscribe()
		c.wg.Add(1)
		go c.watch()
	}
	return c
}

func (c *Cache) watch() {
	defer c.wg.Done()
	for {
		select {
		case cmd := <-c.sub.C():
			if c.onCommand != nil {
				c.onCommand(cmd)
			}
			switch cmd.Kind {
			case refresh.ClearAll:
				c.Clear()
			case refresh.ClearMatching:
				c.ClearMatching(cmd.Pattern)
			}
		case <-c.closed:
			return
		}
	}
}

// SetCommandObserver registers fn to be called for every refresh bus
// command this cache observes, before it acts on the command. Intended
// for metrics; fn must not block.
func (c *Cache) SetCommandObserver(fn func(refresh.Command)) {
	c.onCommand = fn
}

// Close stops the cache's subscription goroutine. It does not clear the
// cache's contents.
func (c *Cache) Close() {
	close(c.closed)
	if c.sub != nil {
		c.sub.Close()
	}
	c.wg.Wait()
}

// GetOrFill implements the cache's single-flight lookup-or-populate
// operation. hit reports whether key already had a ready artifact at the
// moment of lookup, for callers that want to report cache status (e.g.
// an X-Cache header) without changing caching semantics.
func (c *Cache) GetOrFill(ctx context.Context, key Key, fill FillFunc) (artifact *Artifact, hit bool, err error) {
	c.mu.Lock()
	if s, ok := c.entries[key]; ok {
		hit = s.ready()
		c.mu.Unlock()
		artifact, err = s.wait(ctx)
		return artifact, hit, err
	}

	s := newSlot()
	c.entries[key] = s
	c.mu.Unlock()

	artifact, err = fill(ctx, key)

	if err != nil {
		c.mu.Lock()
		// Only remove the slot we installed; a concurrent invalidation
		// or a brand new fill may already have replaced it.
		if cur, ok := c.entries[key]; ok && cur == s {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	s.complete(artifact, err)
	return artifact, false, err
}

// Clear removes every ready entry. Pending fills are left untouched;
// their eventual Ready result is subject to the next invalidation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.entries {
		if s.ready() {
			delete(c.entries, k)
		}
	}
}

// ClearMatching removes every ready entry whose key matches pattern
// under the package filter's wildcard grammar.
func (c *Cache) ClearMatching(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.entries {
		if s.ready() && filter.Match(pattern, string(k)) {
			delete(c.entries, k)
		}
	}
}

// Keys returns the keys of every currently ready entry. Intended for
// operator introspection; the returned slice is a snapshot.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for k, s := range c.entries {
		if s.ready() {
			keys = append(keys, k)
		}
	}
	return keys
}

// Size returns the number of currently ready entries.
func (c *Cache) Size() int {
	return len(c.Keys())
}
